package mqtt

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubRefresher struct {
	calls int
	err   error
}

func (s *stubRefresher) Refresh(ctx context.Context) ([]string, error) {
	s.calls++
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("no deadline")
	}
	return []string{"2024-05-10@anchor4"}, s.err
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		refreshErr error
		wantCalls  int
		wantErr    bool
	}{
		{name: "empty payload", payload: nil, wantCalls: 1},
		{name: "notice", payload: []byte(`{"source":"watch","timestamp":1715342400}`), wantCalls: 1},
		{name: "malformed", payload: []byte(`{`), wantCalls: 0, wantErr: true},
		{name: "refresh fails", payload: nil, refreshErr: errors.New("boom"), wantCalls: 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubRefresher{err: tt.refreshErr}
			b := NewRefreshBroker(r, 0, zap.NewNop())
			err := b.HandleMessage("sleepdebt/refresh", tt.payload)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, r.calls)
		})
	}
}
