package ordering

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrMenuUnavailable = errors.New("legacy menu unavailable")
	ErrOrderNotFound   = errors.New("order not found")
	// ErrOrderNotVisible means a saga outcome references an order this
	// service cannot see yet; the message must be redelivered.
	ErrOrderNotVisible = errors.New("order not visible yet")
	// ErrConcurrentUpdate means the optimistic version check kept losing.
	ErrConcurrentUpdate = errors.New("concurrent order update")
)

// TransitionConflictError is returned when an order already sits in a
// different terminal state than the one requested.
type TransitionConflictError struct {
	OrderID string
	From    State
	To      State
}

func (e *TransitionConflictError) Error() string {
	return fmt.Sprintf("order %s: cannot transition %s -> %s", e.OrderID, e.From, e.To)
}

type RejectionKind int

const (
	RejectClient RejectionKind = iota + 1
	RejectUnavailable
)

func (k RejectionKind) String() string {
	switch k {
	case RejectClient:
		return "client-error"
	case RejectUnavailable:
		return "service-unavailable"
	}
	return "unknown"
}

// Rejection is the classified outcome of a refused order. No order is
// stored when one is returned.
type Rejection struct {
	Kind    RejectionKind
	Message string
	Err     error
}

func (r *Rejection) Error() string { return r.Kind.String() + ": " + r.Message }
func (r *Rejection) Unwrap() error { return r.Err }

func clientRejection(format string, args ...any) *Rejection {
	return &Rejection{Kind: RejectClient, Message: fmt.Sprintf(format, args...)}
}

func unavailable(msg string, err error) *Rejection {
	return &Rejection{Kind: RejectUnavailable, Message: msg, Err: err}
}
