package apimo

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when a response decodes but lacks the
// expected shape (e.g. no "properties" field).
var ErrMalformedResponse = errors.New("malformed response")

// FetchError reports a failed remote call or a non-success status.
type FetchError struct {
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d: %s", e.URL, e.Status, e.Body)
}

func (e *FetchError) Unwrap() error { return e.Err }
