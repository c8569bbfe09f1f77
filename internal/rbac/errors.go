package rbac

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("resource conflict")
	ErrBadRequest = errors.New("bad request")
)

// InUseError reports a delete blocked by records that still reference the target.
type InUseError struct {
	Kind     string // "permission" or "role"
	ID       string
	Count    int
	Referrer string // "role" or "active assignment"
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("%s: %s %s is still referenced by %d %s(s)", ErrBadRequest, e.Kind, e.ID, e.Count, e.Referrer)
}

func (e *InUseError) Unwrap() error { return ErrBadRequest }

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// SystemRoleImmutable builds the error returned for writes to system roles.
func SystemRoleImmutable(id string) error {
	return fmt.Errorf("%w: role %s is a system role and cannot be modified", ErrBadRequest, id)
}

// ForeignPermission builds the error returned when a role references a
// permission of another organization.
func ForeignPermission(permissionID, organizationID string) error {
	return fmt.Errorf("%w: permission %s does not belong to organization %s", ErrBadRequest, permissionID, organizationID)
}

// DuplicateCode builds the error returned for a role code already in use.
func DuplicateCode(organizationID, code string) error {
	return fmt.Errorf("%w: role code %q already exists in organization %s", ErrConflict, code, organizationID)
}

// MissingPermission builds the error returned for an unresolved permission id.
func MissingPermission(id string) error { return notFound("permission", id) }

// MissingRole builds the error returned for an unresolved role id.
func MissingRole(id string) error { return notFound("role", id) }

// MissingAssignment builds the error returned for an unresolved assignment id.
func MissingAssignment(id string) error { return notFound("assignment", id) }

// AlreadyRevoked builds the error returned for a second revoke.
func AlreadyRevoked(id string) error {
	return fmt.Errorf("%w: assignment %s is already revoked", ErrBadRequest, id)
}

// DuplicateAssignment builds the error returned when the tuple already has an active grant.
func DuplicateAssignment(userID, roleID, organizationID string) error {
	return fmt.Errorf("%w: user %s already holds role %s in organization %s", ErrConflict, userID, roleID, organizationID)
}

// ForeignRole builds the error returned when the role belongs to another organization.
func ForeignRole(roleID, organizationID string) error {
	return fmt.Errorf("%w: role %s does not belong to organization %s", ErrBadRequest, roleID, organizationID)
}
