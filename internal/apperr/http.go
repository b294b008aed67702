package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError carries the status and code a handler should answer with.
type HTTPError struct {
	Status int
	Code   string
	Err    error
}

func (e *HTTPError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// NewHTTP builds an HTTPError.
func NewHTTP(status int, code string, err error) *HTTPError {
	return &HTTPError{Status: status, Code: code, Err: err}
}

// ToHTTP maps domain errors onto an HTTPError.
func ToHTTP(err error) *HTTPError {
	var he *HTTPError
	if errors.As(err, &he) {
		return he
	}
	var de *DataError
	switch {
	case errors.As(err, &de):
		return NewHTTP(http.StatusServiceUnavailable, "ledger_unavailable", err)
	case errors.Is(err, ErrInvalidArgument):
		return NewHTTP(http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, ErrNotConfigured):
		return NewHTTP(http.StatusNotImplemented, "not_configured", err)
	default:
		return NewHTTP(http.StatusInternalServerError, "internal", err)
	}
}
