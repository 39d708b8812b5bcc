package transport

import (
	"errors"
	"fmt"
)

// ErrCancelled reports that the caller cancelled the request. It is never
// retried and never conflated with a network failure.
var ErrCancelled = errors.New("request cancelled")

// Kind classifies the terminal outcome of a request.
type Kind int

// Result kinds.
const (
	KindOK Kind = iota
	KindHTTPStatus
	KindCancelled
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindHTTPStatus:
		return "http_status"
	case KindCancelled:
		return "cancelled"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// StatusError is a non-2xx response that survived every retry.
type StatusError struct {
	Body []byte
	Code int
}

func (e *StatusError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("unexpected HTTP status %d", e.Code)
	}
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.Code, body)
}

// Result is the outcome of Client.Do.
type Result struct {
	Err        error
	Body       []byte
	Kind       Kind
	StatusCode int
	Attempts   int
}

// OK reports whether the request succeeded with a 2xx status.
func (r Result) OK() bool {
	return r.Kind == KindOK
}

// Error returns nil for a successful result and a typed error otherwise:
// *StatusError, ErrCancelled, or the wrapped network error.
func (r Result) Error() error {
	switch r.Kind {
	case KindOK:
		return nil
	case KindHTTPStatus:
		return &StatusError{Code: r.StatusCode, Body: r.Body}
	case KindCancelled:
		return ErrCancelled
	default:
		if r.Err == nil {
			return errors.New("request failed")
		}
		return r.Err
	}
}
