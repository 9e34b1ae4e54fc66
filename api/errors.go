package api

import (
	"errors"
	"fmt"
	"net/http"
)

// FetchError is returned for every failed call against the stories API:
// transport failures, non-success statuses and payloads that cannot be decoded.
type FetchError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %v (status %d)", e.Op, e.URL, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same request may succeed.
func (e *FetchError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		// decode failures carry errMalformed and are final
		return !errors.Is(e.Err, errMalformed)
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

var errMalformed = errors.New("malformed payload")

// IsNotFound reports whether err is a FetchError for a 404 response.
func IsNotFound(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.StatusCode == http.StatusNotFound
}

func statusError(statusCode int) error {
	switch statusCode {
	case http.StatusNotFound:
		return errors.New("resource not found")
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.New("access to the stories API was denied")
	case http.StatusTooManyRequests:
		return errors.New("stories API rate limit exceeded")
	case http.StatusServiceUnavailable:
		return errors.New("stories API temporarily unavailable")
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		return errors.New("stories API server error")
	default:
		return fmt.Errorf("unexpected response from stories API")
	}
}
