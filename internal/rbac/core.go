package rbac

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"brewline.io/internal/obs"
)

// Core bundles the stores and the resolver. Build it once and hand the same
// pointer to every transport.
type Core struct {
	Permissions *PermissionStore
	Roles       *RoleStore
	Assignments *AssignmentLedger
	Resolver    *Resolver

	shared *shared
}

// Option configures Core.
type Option func(*shared)

// WithClock overrides the time source used for created/updated/assigned/revoked stamps.
func WithClock(now func() time.Time) Option {
	return func(s *shared) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDecisionCache enables caching of check results.
func WithDecisionCache(c DecisionCache) Option {
	return func(s *shared) {
		s.cache = c
	}
}

// NewCore wires the stores and resolver on top of repo.
func NewCore(repo Repository, opts ...Option) (*Core, error) {
	if repo == nil {
		return nil, errors.New("rbac repository is required")
	}
	sh := &shared{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(sh)
	}
	return &Core{
		Permissions: &PermissionStore{shared: sh},
		Roles:       &RoleStore{shared: sh},
		Assignments: &AssignmentLedger{shared: sh},
		Resolver:    &Resolver{shared: sh},
		shared:      sh,
	}, nil
}

// shared is the state every component of a Core reads.
type shared struct {
	repo  Repository
	now   func() time.Time
	cache DecisionCache
}

// mutated records a successful write and drops cached decisions of the organization.
func (s *shared) mutated(ctx context.Context, entity, op, organizationID string) {
	obs.RecordMutation(entity, op)
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateOrganization(ctx, organizationID); err != nil {
		obs.Logger().WithError(err).WithField("organization_id", organizationID).
			Warn("rbac: decision cache invalidation failed")
	}
}

func required(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: %s is required", ErrBadRequest, field)
	}
	return value, nil
}

func requiredPtr(field string, value *string) error {
	if value == nil {
		return nil
	}
	trimmed, err := required(field, *value)
	if err != nil {
		return err
	}
	*value = trimmed
	return nil
}

func trimPtr(value *string) {
	if value != nil {
		*value = strings.TrimSpace(*value)
	}
}

// dedupeIDs trims ids, drops empties and keeps the first occurrence of each.
func dedupeIDs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func normalizeSort(sortBy string, order SortOrder, allowed []string) (string, SortOrder, error) {
	sortBy = strings.ToLower(strings.TrimSpace(sortBy))
	if sortBy == "" {
		sortBy = "name"
	}
	if !slices.Contains(allowed, sortBy) {
		return "", "", fmt.Errorf("%w: cannot sort by %q", ErrBadRequest, sortBy)
	}
	switch SortOrder(strings.ToLower(strings.TrimSpace(string(order)))) {
	case "", OrderAsc:
		order = OrderAsc
	case OrderDesc:
		order = OrderDesc
	default:
		return "", "", fmt.Errorf("%w: unknown sort order %q", ErrBadRequest, order)
	}
	return sortBy, order, nil
}
