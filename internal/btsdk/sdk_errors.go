package btsdk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/imroc/req/v3"
)

var (
	// sdk common
	ErrNoAPIKey       = errors.New("sdk: api key missing")
	ErrNoBaseURL      = errors.New("sdk: base url missing")
	ErrInvalidBaseURL = errors.New("sdk: base url must be an absolute http(s) url")

	// responses that parsed as HTTP success but not as the expected payload
	ErrInvalidResponse = errors.New("sdk: invalid response")
)

// APIError is a non-2xx response from the remote service. Query is set for
// query calls so a failure can be replayed by hand.
type APIError struct {
	Operation  string
	StatusCode int
	Body       string
	Query      string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api error: %s failed with HTTP %d", e.Operation, e.StatusCode)
	if body := strings.TrimSpace(e.Body); body != "" {
		fmt.Fprintf(&b, ": %s", body)
	}
	if e.Query != "" {
		fmt.Fprintf(&b, "\nquery: %s", e.Query)
	}
	return b.String()
}

// Retryable reports whether the service may accept the same request after a pause.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 413
}

// handleAPIError is a helper function that handles the common error pattern
func handleAPIError(resp *req.Response, requestErr error, operation, query string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       resp.String(),
			Query:      query,
		}
	}

	return nil
}
