package completion

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned for blank messages. No request is sent.
	ErrEmptyInput = errors.New("message cannot be empty")
	// ErrMalformedResponse means the body could not be parsed as a JSON object.
	ErrMalformedResponse = errors.New("invalid response format from completion endpoint")
	// ErrEmptyChoices means the endpoint answered without any candidate reply.
	ErrEmptyChoices = errors.New("no response choices received from completion endpoint")
)

// NetworkError wraps transport level failures: DNS, refused connections,
// transport timeouts and truncated bodies.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("completion network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is returned for any non-2xx status. Body holds the raw response
// text for diagnostics and must not be shown to end users.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("completion request failed with status %d: %s", e.StatusCode, truncate(e.Body, 400))
}

// ProviderError is an explicit error object inside an otherwise valid response.
type ProviderError struct {
	Message string
	Type    string
}

func (e *ProviderError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("completion provider error: %s", e.Message)
	}
	return fmt.Sprintf("completion provider error (%s): %s", e.Type, e.Message)
}

// Kind classifies err into a stable label used in logs.
func Kind(err error) string {
	var (
		netErr      *NetworkError
		httpErr     *HTTPError
		providerErr *ProviderError
	)

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &httpErr):
		return "http"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.As(err, &providerErr):
		return "provider"
	case errors.Is(err, ErrEmptyChoices):
		return "empty_choices"
	default:
		return "unknown"
	}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
