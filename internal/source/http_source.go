package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sleepdebt/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// StatusInvalidCursor envelope status for a rejected cursor.
const StatusInvalidCursor = 40001

const changesPath = "/sleep/changes"

type changesRequest struct {
	Cursor string `json:"cursor"`
}

// envelope {status, msg, data}; status 0 is success.
type envelope struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// HTTPSource IntervalSource over the source's JSON API.
type HTTPSource struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

var _ IntervalSource = (*HTTPSource)(nil)

func NewHTTPSource(baseURL string, timeout time.Duration, retryCount int, logger *zap.Logger) *HTTPSource {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HTTPSource{
		httpClient: client,
		logger:     logger,
	}
}

func (s *HTTPSource) FetchChanges(ctx context.Context, cursor string) (*domain.ChangeSet, error) {
	var response envelope
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(changesRequest{Cursor: cursor}).
		SetResult(&response).
		ForceContentType("application/json").
		Post(changesPath)
	if err != nil {
		s.logger.Error("Interval source call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	if resp.IsError() {
		s.logger.Error("Interval source returned HTTP error", zap.Int("status_code", resp.StatusCode()))
		return nil, fmt.Errorf("%w: http status %d", domain.ErrSourceUnavailable, resp.StatusCode())
	}

	switch response.Status {
	case 0:
	case StatusInvalidCursor:
		s.logger.Warn("Interval source rejected cursor", zap.String("msg", response.Msg))
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidCursor, response.Msg)
	default:
		s.logger.Error("Interval source returned error",
			zap.Int("status", response.Status),
			zap.String("msg", response.Msg),
		)
		return nil, fmt.Errorf("%w: %s (status: %d)", domain.ErrSourceUnavailable, response.Msg, response.Status)
	}

	var cs domain.ChangeSet
	if err := json.Unmarshal(response.Data, &cs); err != nil {
		return nil, fmt.Errorf("%w: failed to decode change set: %v", domain.ErrSourceUnavailable, err)
	}
	if cursor == "" {
		cs.Full = true
	}

	s.logger.Debug("Fetched interval changes",
		zap.Int("added", len(cs.Added)),
		zap.Int("deleted", len(cs.Deleted)),
		zap.Bool("full", cs.Full),
	)
	return &cs, nil
}
