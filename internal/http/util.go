package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"sleepdebt/internal/domain"
	"sleepdebt/internal/query"
)

const maxBodyBytes = 4096

var errEmptyBody = errors.New("request body is empty")

// writeJSON every envelope goes out as 200; failures are signalled by Code.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

// windowParam reads ?window=. Absent or 0 selects the configured default.
func windowParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: window must be a whole number of days, got %q", domain.ErrInvalidSettings, raw)
	}
	if err := query.ValidateWindow(n); err != nil {
		return 0, err
	}
	return n, nil
}

// limitParam reads ?limit=; anything unparsable or non-positive yields def.
func limitParam(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// decodeBody strictly decodes a small JSON body into out.
func decodeBody(r *http.Request, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return err
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errEmptyBody
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
