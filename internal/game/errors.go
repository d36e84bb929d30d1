package game

import "errors"

// ErrNotFound is returned by stores when a point lookup misses.
var ErrNotFound = errors.New("record not found")

// ValidationError rejects input before any mutation.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string { return e.Reason }
func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

func invalidErr(err error) error {
	return &ValidationError{Reason: err.Error(), Err: err}
}

// StateError rejects an action the match cannot take right now.
type StateError struct {
	Reason   string
	NotFound bool
}

func (e *StateError) Error() string { return e.Reason }

var (
	ErrMatchNotFound  = &StateError{Reason: "match not found", NotFound: true}
	ErrLegNotFound    = &StateError{Reason: "leg not found", NotFound: true}
	ErrMatchNotActive = &StateError{Reason: "match not active"}
	ErrNoTurnsToUndo  = &StateError{Reason: "no turns to undo"}
)

// ConsistencyError means History holds something the rules never write,
// usually a serialization violation upstream. The request fails and
// nothing is written.
type ConsistencyError struct {
	Reason string
}

func (e *ConsistencyError) Error() string { return "consistency: " + e.Reason }

// AccessError rejects a request whose token does not grant the action.
type AccessError struct {
	Reason string
}

func (e *AccessError) Error() string { return e.Reason }

var (
	ErrUnauthorized      = &AccessError{Reason: "invalid or missing admin token"}
	ErrMainAdminRequired = &AccessError{Reason: "main admin token required"}
)
