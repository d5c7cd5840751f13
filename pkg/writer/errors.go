package writer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBranchConflict is returned when the branch guard is enabled and the
// reference version already has a child.
var ErrBranchConflict = errors.New("reference version already has a newer version")

// FieldError is one failed content check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every violation found in the caller's content.
// No writes are attempted when it is returned.
type ValidationError struct {
	FieldErrors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.FieldErrors))
	for i, fe := range e.FieldErrors {
		parts[i] = fe.Field + " " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NotFoundError reports a referenced document that does not resolve.
type NotFoundError struct {
	Role string // reference, old, current_latest, document
	ID   string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s document %s not found", e.Role, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Stage names the write call that failed.
type Stage string

const (
	StageParent   Stage = "parent"
	StageChildren Stage = "children"
	StageFetch    Stage = "fetch"
	StageDelete   Stage = "delete"
	StageLineage  Stage = "lineage"
)

// WriteError wraps the original failure of a storage call. When children
// fail after the parent was created, Err is still the children failure;
// the outcome of the compensating delete is reflected only in State.
type WriteError struct {
	Stage Stage
	State State
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s write failed (%s): %v", e.Stage, e.State, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
