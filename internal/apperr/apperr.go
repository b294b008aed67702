package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrEmptyEdgeSet is returned when something tries to publish zero edges.
	ErrEmptyEdgeSet = errors.New("empty edge set")
	// ErrNotConfigured marks an optional collaborator that was not set up.
	ErrNotConfigured = errors.New("not configured")
)

// DataError means the order ledger could not be read. A mining run that hits
// one makes no changes to the store.
type DataError struct {
	Op  string
	Err error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// ComputeError describes a malformed ledger record that was skipped.
type ComputeError struct {
	OrderID string
	ItemID  string
	Reason  string
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("skipped record order=%q item=%q: %s", e.OrderID, e.ItemID, e.Reason)
}

// AIKind classifies provider failures.
type AIKind string

const (
	AIKindTimeout     AIKind = "timeout"
	AIKindAuth        AIKind = "auth"
	AIKindStatus      AIKind = "status"
	AIKindMalformed   AIKind = "malformed"
	AIKindTransport   AIKind = "transport"
	AIKindBreakerOpen AIKind = "breaker_open"
	AIKindCatalog     AIKind = "catalog"
)

// AIProviderError is a recoverable failure of the AI suggester.
type AIProviderError struct {
	Kind   AIKind
	Status int
	Err    error
}

func (e *AIProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ai provider %s (%d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("ai provider %s: %v", e.Kind, e.Err)
}

func (e *AIProviderError) Unwrap() error { return e.Err }

// NewAIError wraps err as an AIProviderError of the given kind.
func NewAIError(kind AIKind, err error) *AIProviderError {
	return &AIProviderError{Kind: kind, Err: err}
}
