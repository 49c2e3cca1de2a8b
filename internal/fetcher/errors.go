package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
)

// ErrCapabilityUnavailable is returned for video URLs when no frame decoder
// was found at startup. Nothing is attempted; the result will not change
// until the process is restarted with a decoder installed.
var ErrCapabilityUnavailable = errors.New("decoder unavailable")

// ErrDenylisted is returned for URLs Classify rejects. It is a deliberate
// skip, not a failure.
var ErrDenylisted = errors.New("url is denylisted")

// NetworkError covers timeouts, connection failures and non-2xx responses.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request ran out of time.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// Class is "timeout" or "http".
func (e *NetworkError) Class() string {
	if e.Timeout() {
		return "timeout"
	}
	return "http"
}

// DecodeError means the response was not a usable image.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrorClass returns a short label for err suitable for activity logs and
// metrics: timeout, http, decode, decoder unavailable, denylisted or error.
func ErrorClass(err error) string {
	var netErr *NetworkError
	var decErr *DecodeError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCapabilityUnavailable):
		return "decoder unavailable"
	case errors.Is(err, ErrDenylisted):
		return "denylisted"
	case errors.As(err, &netErr):
		return netErr.Class()
	case errors.As(err, &decErr):
		return "decode"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, fs.ErrNotExist):
		return "file missing"
	default:
		return "error"
	}
}
