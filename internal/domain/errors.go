package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ValidationError rejects malformed input before any state change.
// Never retriable: the same input will fail the same way.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return "validation [" + e.Field + "]: " + e.Err.Error()
}

func (e *ValidationError) IsRetriable() bool { return false }

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a ValidationError for a named field.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

// Validationf creates a ValidationError with a formatted message.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// StateConflictError reports an illegal lifecycle transition. It is always
// caller-visible and never retried automatically.
type StateConflictError struct {
	Op   string
	From OrderStatus
}

func (e *StateConflictError) Error() string {
	return "state conflict: cannot " + e.Op + " from " + string(e.From)
}

func (e *StateConflictError) IsRetriable() bool { return false }

// NewStateConflict creates a StateConflictError for an operation attempted
// from the given status.
func NewStateConflict(op string, from OrderStatus) *StateConflictError {
	return &StateConflictError{Op: op, From: from}
}

// UpstreamError wraps a failed or timed-out collaborator call (ledger,
// payment gateway, clearing service). Retriable by the caller with backoff.
type UpstreamError struct {
	Op        string // e.g. "ledger.accept", "payment.verify"
	Err       error
	Retriable bool
}

func (e *UpstreamError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) IsRetriable() bool { return e.Retriable }

func (e *UpstreamError) Unwrap() error { return e.Err }

// NewUpstreamError creates a retriable upstream error
func NewUpstreamError(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err, Retriable: true}
}

// NewFatalUpstreamError creates a non-retriable upstream error
func NewFatalUpstreamError(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err, Retriable: false}
}

var (
	// ErrAuctionAlreadyActive is returned when starting an auction for an
	// order that already has one.
	ErrAuctionAlreadyActive = errors.New("auction already active")

	// ErrAuctionNotActive is returned when accepting or stopping an auction
	// that does not exist or already ended.
	ErrAuctionNotActive = errors.New("auction not active")

	// ErrAlreadyAccepted is returned when a concurrent acceptance won the race.
	ErrAlreadyAccepted = errors.New("order already accepted")

	// ErrOrderNotFound is returned for lookups of unknown order ids.
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicateOrder is returned when an order id or tx reference is reused.
	ErrDuplicateOrder = errors.New("duplicate order")

	// ErrNotAuthenticated is returned for requests issued before the clearing
	// handshake completed.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrAuthenticationFailed is fatal for the current connection attempt and
	// triggers reconnection with a fresh handshake.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRequestTimeout is returned when no matching response arrived in time.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrConnectionClosed rejects pending requests when the client shuts down.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrReconnectExhausted is raised after the reconnect budget is spent.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrNoActiveSession is returned when closing a session that was never
	// opened or is already closed.
	ErrNoActiveSession = errors.New("no active session")
)
