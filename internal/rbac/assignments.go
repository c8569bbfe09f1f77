package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brewline.io/internal/ids"
)

// AssignmentLedger owns user role grants. Records are revoked, never deleted.
type AssignmentLedger struct {
	*shared
}

type AssignInput struct {
	UserID         string
	RoleID         string
	OrganizationID string
	LocationIDs    []string
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	AssignedBy     string
}

// Assign grants a role. The validity window is stored but not consulted by
// the resolver.
func (l *AssignmentLedger) Assign(ctx context.Context, in AssignInput) (UserRole, error) {
	userID, err := required("user_id", in.UserID)
	if err != nil {
		return UserRole{}, err
	}
	roleID, err := required("role_id", in.RoleID)
	if err != nil {
		return UserRole{}, err
	}
	orgID, err := required("organization_id", in.OrganizationID)
	if err != nil {
		return UserRole{}, err
	}
	assignedBy, err := required("assigned_by", in.AssignedBy)
	if err != nil {
		return UserRole{}, err
	}
	if in.ValidFrom != nil && in.ValidUntil != nil && in.ValidUntil.Before(*in.ValidFrom) {
		return UserRole{}, fmt.Errorf("%w: valid_until precedes valid_from", ErrBadRequest)
	}

	a := UserRole{
		ID:             ids.New(),
		UserID:         userID,
		RoleID:         roleID,
		OrganizationID: orgID,
		LocationIDs:    dedupeIDs(in.LocationIDs),
		ValidFrom:      utcPtr(in.ValidFrom),
		ValidUntil:     utcPtr(in.ValidUntil),
		AssignedBy:     assignedBy,
		AssignedAt:     l.now(),
	}
	if err := l.repo.Assignments().Insert(ctx, a); err != nil {
		return UserRole{}, err
	}
	l.mutated(ctx, "assignment", "assign", a.OrganizationID)
	return a, nil
}

// Revoke ends an active assignment. A second revoke fails with ErrBadRequest.
func (l *AssignmentLedger) Revoke(ctx context.Context, id, revokedBy string) (UserRole, error) {
	id, err := required("assignment id", id)
	if err != nil {
		return UserRole{}, err
	}
	revokedBy, err = required("revoked_by", revokedBy)
	if err != nil {
		return UserRole{}, err
	}
	a, err := l.repo.Assignments().Revoke(ctx, id, revokedBy, l.now())
	if err != nil {
		return UserRole{}, err
	}
	l.mutated(ctx, "assignment", "revoke", a.OrganizationID)
	return a, nil
}

// FindActive lists non-revoked assignments matching f.
func (l *AssignmentLedger) FindActive(ctx context.Context, f AssignmentFilter) ([]UserRole, error) {
	f.IncludeRevoked = false
	return l.FindAll(ctx, f)
}

// FindAll lists assignments matching f, revoked ones too when f.IncludeRevoked is set.
func (l *AssignmentLedger) FindAll(ctx context.Context, f AssignmentFilter) ([]UserRole, error) {
	f.UserID = strings.TrimSpace(f.UserID)
	f.RoleID = strings.TrimSpace(f.RoleID)
	f.OrganizationID = strings.TrimSpace(f.OrganizationID)
	f.LocationID = strings.TrimSpace(f.LocationID)
	return l.repo.Assignments().List(ctx, f)
}

func (l *AssignmentLedger) FindByID(ctx context.Context, id string) (UserRole, error) {
	id, err := required("assignment id", id)
	if err != nil {
		return UserRole{}, err
	}
	return l.repo.Assignments().Get(ctx, id)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
