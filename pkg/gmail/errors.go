package gmail

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// APIError is any non-2xx response from the Gmail API. The client never
// retries; Retryable tells callers whether a later attempt may succeed.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gmail api error: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports true for rate limiting and server-side failures.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// wrapAPIError converts googleapi errors to *APIError and passes anything
// else (auth, refresh, transport) through unchanged.
func wrapAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		body := gErr.Body
		if body == "" {
			body = gErr.Message
		}
		return fmt.Errorf("%s: %w", op, &APIError{StatusCode: gErr.Code, Body: body})
	}
	return fmt.Errorf("%s: %w", op, err)
}
