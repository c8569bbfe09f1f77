package rbac

import (
	"context"
	"fmt"
	"strings"

	"brewline.io/internal/ids"
)

// RoleStore owns roles and validates their permission references.
type RoleStore struct {
	*shared
}

type CreateRoleInput struct {
	OrganizationID string
	Name           string
	Code           string
	Description    string
	Color          string
	Icon           string
	PermissionIDs  []string
	IsSystem       bool
	SystemRole     SystemRole
}

// Create adds a role. The code must be unused in the organization and every
// permission id must resolve to a permission of the same organization.
func (s *RoleStore) Create(ctx context.Context, in CreateRoleInput) (Role, error) {
	orgID, err := required("organization_id", in.OrganizationID)
	if err != nil {
		return Role{}, err
	}
	name, err := required("name", in.Name)
	if err != nil {
		return Role{}, err
	}
	code, err := required("code", in.Code)
	if err != nil {
		return Role{}, err
	}
	if in.SystemRole != "" && !in.SystemRole.Valid() {
		return Role{}, fmt.Errorf("%w: unknown system role %q", ErrBadRequest, in.SystemRole)
	}

	now := s.now()
	r := Role{
		ID:             ids.New(),
		OrganizationID: orgID,
		Name:           name,
		Code:           code,
		Description:    strings.TrimSpace(in.Description),
		Color:          strings.TrimSpace(in.Color),
		Icon:           strings.TrimSpace(in.Icon),
		PermissionIDs:  dedupeIDs(in.PermissionIDs),
		IsSystem:       in.IsSystem,
		SystemRole:     in.SystemRole,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Roles().Insert(ctx, r); err != nil {
		return Role{}, err
	}
	s.mutated(ctx, "role", "create", r.OrganizationID)
	return r, nil
}

// FindAll lists roles matching f, sorted by name ascending unless told otherwise.
func (s *RoleStore) FindAll(ctx context.Context, f RoleFilter) ([]Role, error) {
	if f.SystemRole != "" && !f.SystemRole.Valid() {
		return nil, fmt.Errorf("%w: unknown system role %q", ErrBadRequest, f.SystemRole)
	}
	sortBy, order, err := normalizeSort(f.SortBy, f.Order, roleSortFields)
	if err != nil {
		return nil, err
	}
	f.SortBy, f.Order = sortBy, order
	f.OrganizationID = strings.TrimSpace(f.OrganizationID)
	f.Search = strings.TrimSpace(f.Search)
	return s.repo.Roles().List(ctx, f)
}

func (s *RoleStore) FindByID(ctx context.Context, id string) (Role, error) {
	id, err := required("role id", id)
	if err != nil {
		return Role{}, err
	}
	return s.repo.Roles().Get(ctx, id)
}

// FindByCode reports ok=false rather than an error when no role carries code.
func (s *RoleStore) FindByCode(ctx context.Context, organizationID, code string) (Role, bool, error) {
	organizationID, err := required("organization_id", organizationID)
	if err != nil {
		return Role{}, false, err
	}
	code, err = required("code", code)
	if err != nil {
		return Role{}, false, err
	}
	return s.repo.Roles().GetByCode(ctx, organizationID, code)
}

// Update changes the supplied fields. System roles are rejected whatever the
// payload; nothing is written when any check fails.
func (s *RoleStore) Update(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	id, err := required("role id", id)
	if err != nil {
		return Role{}, err
	}
	if err := requiredPtr("name", upd.Name); err != nil {
		return Role{}, err
	}
	if err := requiredPtr("code", upd.Code); err != nil {
		return Role{}, err
	}
	trimPtr(upd.Description)
	trimPtr(upd.Color)
	trimPtr(upd.Icon)
	if upd.PermissionIDs != nil {
		cleaned := dedupeIDs(*upd.PermissionIDs)
		upd.PermissionIDs = &cleaned
	}
	r, err := s.repo.Roles().Update(ctx, id, upd, s.now())
	if err != nil {
		return Role{}, err
	}
	s.mutated(ctx, "role", "update", r.OrganizationID)
	return r, nil
}

// Delete removes a non-system role without active assignments.
func (s *RoleStore) Delete(ctx context.Context, id string) error {
	id, err := required("role id", id)
	if err != nil {
		return err
	}
	r, err := s.repo.Roles().Delete(ctx, id)
	if err != nil {
		return err
	}
	s.mutated(ctx, "role", "delete", r.OrganizationID)
	return nil
}
