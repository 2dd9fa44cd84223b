package httpprovider

import (
	"errors"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/jonwraymond/provmux/provider"
)

// ErrUnhealthy is returned by Probe for a non-2xx health response.
var ErrUnhealthy = errors.New("httpprovider: provider unhealthy")

// StatusError is a non-2xx provider response.
type StatusError struct {
	ProviderID string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpprovider: %s: status %d: %s", e.ProviderID, e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

// MapStatus classifies a non-2xx response. The message is taken from an
// {"error":{"message":...}} or {"error":"..."} body when present.
func MapStatus(providerID string, status int, body []byte) error {
	se := &StatusError{ProviderID: providerID, StatusCode: status, Message: errorMessage(status, body)}
	if se.Retryable() {
		return provider.Transient(se)
	}
	return provider.Permanent(se)
}

func errorMessage(status int, body []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}
	return http.StatusText(status)
}
