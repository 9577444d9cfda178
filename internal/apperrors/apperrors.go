// Package apperrors defines the error taxonomy shared across the catalog and
// alerting packages. Validation and plan-policy errors live with their owners
// (validation.ValidationError, policy.DeniedError).
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks an unknown product, favorite, notification or user.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a uniqueness violation on write. The reconciler retries
	// it; it never reaches callers of the catalog.
	ErrConflict = errors.New("conflict")
	// ErrDuplicate marks a user-facing duplicate, such as favoriting the same
	// product twice.
	ErrDuplicate = errors.New("already exists")
	// ErrDependencyUnavailable marks a failed collaborator or exhausted retries.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound builds a NotFoundError.
func NotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}
