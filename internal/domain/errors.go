package domain

import "errors"

var (
	// ErrGraphInconsistency is returned when an operation would leave the
	// graph with dangling edges, duplicate ids, or out-of-range confidences.
	ErrGraphInconsistency = errors.New("graph inconsistency")

	// ErrQueryTimeout is returned when a traversal exceeds its hop or time
	// budget. Callers degrade to an epistemic-uncertain score.
	ErrQueryTimeout = errors.New("query budget exceeded")

	ErrAdapterFault = errors.New("generation adapter fault")

	// ErrConsolidationReplay marks a session that was already consolidated.
	ErrConsolidationReplay = errors.New("session already consolidated")

	ErrInvalidLayer     = errors.New("invalid layer")
	ErrInvalidReference = errors.New("invalid entity reference")
	ErrInvalidRelation  = errors.New("invalid relation type")
	ErrNotFound         = errors.New("not found")
	ErrSessionClosed    = errors.New("session closed")
	ErrTerminalState    = errors.New("controller in terminal state")
)
