package rbac

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the service for a caller mistake
// unwraps to exactly one of these.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
)

// ErrRoleVanished means a role was deleted between the read and the write
// of a mutation. It is an infrastructure failure, not a caller error.
var ErrRoleVanished = errors.New("role vanished during update")

// Error messages
const (
	errRoleNotFound     = "role %s not found"
	errResourceNotFound = "resource %s not found"
	errGrantNotFound    = "role %s has no grant for resource %s"
	errDuplicateGrant   = "grants contain more than one entry for resource %s"
	errInvalidStatus    = "status must be one of: active inactive"
)

// Error is a classified error carrying a caller-facing message
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// NewValidationError returns an error that unwraps to ErrValidation
func NewValidationError(format string, args ...interface{}) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError returns an error that unwraps to ErrNotFound
func NewNotFoundError(format string, args ...interface{}) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError returns an error that unwraps to ErrConflict
func NewConflictError(format string, args ...interface{}) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf(format, args...)}
}

// RoleNotFound is the not-found error for a role id
func RoleNotFound(id string) error {
	return NewNotFoundError(errRoleNotFound, id)
}

// ResourceNotFound is the not-found error for a resource id
func ResourceNotFound(id string) error {
	return NewNotFoundError(errResourceNotFound, id)
}

// IsClientError reports whether err is one of the caller-facing kinds
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict)
}
