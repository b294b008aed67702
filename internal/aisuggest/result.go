package aisuggest

import (
	"errors"

	"github.com/yishak-cs/cartrecs/internal/apperr"
)

// Status tells the merge engine whether AI output exists at all.
type Status int

const (
	// StatusOK means the provider answered; ItemIDs may still be empty.
	StatusOK Status = iota
	// StatusUnavailable means the provider could not be used and callers should fall back.
	StatusUnavailable
)

func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "unavailable"
}

// Result is either Ok{ItemIDs, Rationale} or Unavailable{Err}.
type Result struct {
	Status    Status
	ItemIDs   []string
	Rationale string
	Err       error
}

// OK builds an available result. ids are already validated against the catalog.
func OK(ids []string, rationale string) Result {
	return Result{Status: StatusOK, ItemIDs: ids, Rationale: rationale}
}

// Unavailable builds a fallback result.
func Unavailable(err error) Result {
	return Result{Status: StatusUnavailable, Err: err}
}

// Available reports whether the provider produced a usable answer.
func (r Result) Available() bool {
	return r.Status == StatusOK
}

// Outcome is a short label for logs and metrics.
func (r Result) Outcome() string {
	if r.Available() {
		if len(r.ItemIDs) == 0 {
			return "empty"
		}
		return "ok"
	}
	var pe *apperr.AIProviderError
	if errors.As(r.Err, &pe) {
		return string(pe.Kind)
	}
	if errors.Is(r.Err, apperr.ErrNotConfigured) {
		return "not_configured"
	}
	return "error"
}
