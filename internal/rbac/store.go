package rbac

import (
	"context"
	"time"
)

// Repository exposes the three record tables. Implementations must make each
// method atomic: uniqueness, reference counts and the system-role guard are
// checked and applied without interleaving from concurrent callers.
type Repository interface {
	Permissions() PermissionRepository
	Roles() RoleRepository
	Assignments() AssignmentRepository
}

type PermissionRepository interface {
	Insert(ctx context.Context, p Permission) error
	Get(ctx context.Context, id string) (Permission, error)
	List(ctx context.Context, f PermissionFilter) ([]Permission, error)
	Update(ctx context.Context, id string, upd PermissionUpdate, now time.Time) (Permission, error)
	// Delete fails with *InUseError when any role references the permission.
	Delete(ctx context.Context, id string) (Permission, error)
}

type RoleRepository interface {
	// Insert fails with ErrConflict on a duplicate (organization_id, code) and
	// with ErrNotFound on the first permission id that does not resolve.
	Insert(ctx context.Context, r Role) error
	Get(ctx context.Context, id string) (Role, error)
	GetByCode(ctx context.Context, organizationID, code string) (Role, bool, error)
	List(ctx context.Context, f RoleFilter) ([]Role, error)
	Update(ctx context.Context, id string, upd RoleUpdate, now time.Time) (Role, error)
	// Delete fails with ErrBadRequest for system roles and *InUseError while
	// active assignments reference the role.
	Delete(ctx context.Context, id string) (Role, error)
}

type AssignmentRepository interface {
	// Insert fails with ErrNotFound when the role is missing and ErrConflict
	// when an active assignment exists for the same user, role and organization.
	Insert(ctx context.Context, a UserRole) error
	Get(ctx context.Context, id string) (UserRole, error)
	// List returns assignments ordered by id.
	List(ctx context.Context, f AssignmentFilter) ([]UserRole, error)
	Revoke(ctx context.Context, id, revokedBy string, now time.Time) (UserRole, error)
}

type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

type PermissionFilter struct {
	OrganizationID string
	Resource       Resource
	Action         Action
	Search         string
	SortBy         string
	Order          SortOrder
}

type RoleFilter struct {
	OrganizationID string
	SystemRole     SystemRole
	Search         string
	SortBy         string
	Order          SortOrder
}

type AssignmentFilter struct {
	UserID         string
	RoleID         string
	OrganizationID string
	LocationID     string
	IncludeRevoked bool
}

// PermissionUpdate carries the fields to change; nil means unchanged.
type PermissionUpdate struct {
	Resource    *Resource
	Action      *Action
	Effect      *Effect
	Name        *string
	Description *string
}

// Apply copies the set fields onto p.
func (u PermissionUpdate) Apply(p *Permission) {
	if u.Resource != nil {
		p.Resource = *u.Resource
	}
	if u.Action != nil {
		p.Action = *u.Action
	}
	if u.Effect != nil {
		p.Effect = *u.Effect
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
}

// RoleUpdate carries the fields to change; nil means unchanged. The system
// flags are fixed at creation.
type RoleUpdate struct {
	Name          *string
	Code          *string
	Description   *string
	Color         *string
	Icon          *string
	PermissionIDs *[]string
}

// Apply copies the set fields onto r.
func (u RoleUpdate) Apply(r *Role) {
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Code != nil {
		r.Code = *u.Code
	}
	if u.Description != nil {
		r.Description = *u.Description
	}
	if u.Color != nil {
		r.Color = *u.Color
	}
	if u.Icon != nil {
		r.Icon = *u.Icon
	}
	if u.PermissionIDs != nil {
		r.PermissionIDs = append([]string{}, (*u.PermissionIDs)...)
	}
}

var (
	permissionSortFields = []string{"name", "resource", "action", "effect", "created_at", "updated_at"}
	roleSortFields       = []string{"name", "code", "created_at", "updated_at"}
)
