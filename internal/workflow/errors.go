package workflow

import (
	"errors"
	"fmt"
	"strings"

	"constructlink/internal/models"
)

// Error kinds. Match with errors.Is; use errors.As with *Error for details.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrUnauthorized = errors.New("unauthorized")
	ErrGuardFailed  = errors.New("guard failed")
	ErrConsistency  = errors.New("consistency error")
)

// Error describes a rejected workflow action.
type Error struct {
	Kind       error
	BatchID    int64
	Transition models.Transition
	// Current is the aggregate status that blocked an InvalidState transition.
	Current models.Status
	Role    models.Role
	// Field names the missing or invalid precondition of a GuardFailed error.
	Field   string
	Message string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Transition != "" {
		fmt.Fprintf(&b, ": %s", e.Transition)
	}
	if e.BatchID != 0 {
		fmt.Fprintf(&b, " batch %d", e.BatchID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " [%s]", e.Field)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

func notFound(batchID int64) *Error {
	return &Error{Kind: ErrNotFound, BatchID: batchID, Message: "batch does not exist"}
}

func invalidState(batchID int64, t models.Transition, current models.Status) *Error {
	return &Error{
		Kind:       ErrInvalidState,
		BatchID:    batchID,
		Transition: t,
		Current:    current,
		Message:    fmt.Sprintf("cannot %s a batch that is %s", t, current),
	}
}

func unauthorized(batchID int64, t models.Transition, role models.Role) *Error {
	return &Error{
		Kind:       ErrUnauthorized,
		BatchID:    batchID,
		Transition: t,
		Role:       role,
		Message:    fmt.Sprintf("role %q may not %s this batch", role, t),
	}
}

func guardFailed(batchID int64, t models.Transition, field, msg string) *Error {
	return &Error{Kind: ErrGuardFailed, BatchID: batchID, Transition: t, Field: field, Message: msg}
}

func consistency(batchID int64, msg string) *Error {
	return &Error{Kind: ErrConsistency, BatchID: batchID, Message: msg}
}

// AsError extracts the workflow error from err, if any.
func AsError(err error) (*Error, bool) {
	var we *Error
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}
