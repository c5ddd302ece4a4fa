package streaming

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidContentLength is returned when the origin does not report a
	// usable total length in its Content-Range header.
	ErrInvalidContentLength = errors.New("invalid content length")

	// ErrUnexpectedStatus is wrapped by FetchError when the origin answers a
	// range request with something other than 206 (or 200 from offset 0).
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// FetchError is a failed network fetch of a byte range.
type FetchError struct {
	Range      ByteRange
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch bytes %s: %v (status %d)", e.Range, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("fetch bytes %s: %v", e.Range, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
