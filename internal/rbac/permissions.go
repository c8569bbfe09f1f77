package rbac

import (
	"context"
	"fmt"
	"strings"

	"brewline.io/internal/ids"
)

// PermissionStore owns the per-organization permission catalog.
type PermissionStore struct {
	*shared
}

type CreatePermissionInput struct {
	OrganizationID string
	Resource       Resource
	Action         Action
	Effect         Effect
	Name           string
	Description    string
}

// Create adds a permission. Several permissions may share resource, action and
// effect, so no uniqueness check is made.
func (s *PermissionStore) Create(ctx context.Context, in CreatePermissionInput) (Permission, error) {
	orgID, err := required("organization_id", in.OrganizationID)
	if err != nil {
		return Permission{}, err
	}
	name, err := required("name", in.Name)
	if err != nil {
		return Permission{}, err
	}
	if !in.Resource.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown resource %q", ErrBadRequest, in.Resource)
	}
	if !in.Action.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown action %q", ErrBadRequest, in.Action)
	}
	if in.Effect == "" {
		in.Effect = EffectAllow
	}
	if !in.Effect.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown effect %q", ErrBadRequest, in.Effect)
	}

	now := s.now()
	p := Permission{
		ID:             ids.New(),
		OrganizationID: orgID,
		Resource:       in.Resource,
		Action:         in.Action,
		Effect:         in.Effect,
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Permissions().Insert(ctx, p); err != nil {
		return Permission{}, err
	}
	s.mutated(ctx, "permission", "create", p.OrganizationID)
	return p, nil
}

// FindAll lists permissions matching f, sorted by name ascending unless told otherwise.
func (s *PermissionStore) FindAll(ctx context.Context, f PermissionFilter) ([]Permission, error) {
	if f.Resource != "" && !f.Resource.Valid() {
		return nil, fmt.Errorf("%w: unknown resource %q", ErrBadRequest, f.Resource)
	}
	if f.Action != "" && !f.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrBadRequest, f.Action)
	}
	sortBy, order, err := normalizeSort(f.SortBy, f.Order, permissionSortFields)
	if err != nil {
		return nil, err
	}
	f.SortBy, f.Order = sortBy, order
	f.OrganizationID = strings.TrimSpace(f.OrganizationID)
	f.Search = strings.TrimSpace(f.Search)
	return s.repo.Permissions().List(ctx, f)
}

func (s *PermissionStore) FindByID(ctx context.Context, id string) (Permission, error) {
	id, err := required("permission id", id)
	if err != nil {
		return Permission{}, err
	}
	return s.repo.Permissions().Get(ctx, id)
}

// Update changes the supplied fields and touches updated_at.
func (s *PermissionStore) Update(ctx context.Context, id string, upd PermissionUpdate) (Permission, error) {
	id, err := required("permission id", id)
	if err != nil {
		return Permission{}, err
	}
	if err := requiredPtr("name", upd.Name); err != nil {
		return Permission{}, err
	}
	trimPtr(upd.Description)
	if upd.Resource != nil && !upd.Resource.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown resource %q", ErrBadRequest, *upd.Resource)
	}
	if upd.Action != nil && !upd.Action.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown action %q", ErrBadRequest, *upd.Action)
	}
	if upd.Effect != nil && !upd.Effect.Valid() {
		return Permission{}, fmt.Errorf("%w: unknown effect %q", ErrBadRequest, *upd.Effect)
	}
	p, err := s.repo.Permissions().Update(ctx, id, upd, s.now())
	if err != nil {
		return Permission{}, err
	}
	s.mutated(ctx, "permission", "update", p.OrganizationID)
	return p, nil
}

// Delete removes a permission no role references.
func (s *PermissionStore) Delete(ctx context.Context, id string) error {
	id, err := required("permission id", id)
	if err != nil {
		return err
	}
	p, err := s.repo.Permissions().Delete(ctx, id)
	if err != nil {
		return err
	}
	s.mutated(ctx, "permission", "delete", p.OrganizationID)
	return nil
}
