package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors classifying server responses.  Every error returned by
// Client wraps exactly one of them, so callers branch with errors.Is.
var (
	// ErrSeatUnavailable means the seat is already booked or locked by
	// another shopper.
	ErrSeatUnavailable = errors.New("seat unavailable")
	// ErrRejected means the server refused the request on policy grounds:
	// cart capacity, a trip that can no longer be booked, bad input.
	ErrRejected = errors.New("request rejected")
	// ErrRateLimited means the server answered 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthorized means the access token is missing, expired or refused.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the addressed resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrServer covers 5xx and unexpected responses.
	ErrServer = errors.New("server error")
	// ErrTransport covers failures before a response was received.
	ErrTransport = errors.New("transport error")
)

// Error describes a failed call to the booking server.
type Error struct {
	Op         string        // client operation, e.g. "add seat"
	Status     int           // HTTP status, 0 when no response was received
	Message    string        // server supplied message, if any
	RetryAfter time.Duration // parsed Retry-After, 0 when absent
	Err        error         // one of the sentinel errors above
	Cause      error         // underlying transport or decode error, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("api: ")
	b.WriteString(e.Op)
	b.WriteString(": ")
	if e.Status != 0 {
		b.WriteString(strconv.Itoa(e.Status))
		b.WriteString(" ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
	case e.Cause != nil:
		b.WriteString(e.Cause.Error())
	default:
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the classification and the cause.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// IsRateLimited reports whether err is a 429 from the server.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// RetryAfter returns the server's Retry-After hint carried by err.
func RetryAfter(err error) (time.Duration, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return 0, false
}

// classify maps an HTTP status and message to a sentinel error.
func classify(status int, message string) error {
	switch {
	case status == http.StatusConflict:
		return ErrSeatUnavailable
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	case status >= 400:
		// Some deployments answer 400 for seats taken by someone else.
		if mentionsUnavailable(message) {
			return ErrSeatUnavailable
		}
		return ErrRejected
	}
	return ErrServer
}

func mentionsUnavailable(message string) bool {
	m := strings.ToLower(message)
	for _, w := range []string{"unavailable", "already locked", "already booked", "taken"} {
		if strings.Contains(m, w) {
			return true
		}
	}
	return false
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func newError(op string, status int, message string, retryAfter time.Duration) *Error {
	return &Error{
		Op:         op,
		Status:     status,
		Message:    message,
		RetryAfter: retryAfter,
		Err:        classify(status, message),
	}
}

func transportError(op string, err error) *Error {
	return &Error{Op: op, Err: ErrTransport, Cause: err}
}

func decodeError(op string, status int, err error) *Error {
	return &Error{Op: op, Status: status, Err: ErrServer, Cause: fmt.Errorf("decode response: %w", err)}
}
