package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"brewline.io/internal/obs"
)

// Resolver answers authorization questions from the user's active assignments.
// It only reads.
type Resolver struct {
	*shared
}

// Check walks active assignments (ordered by id), their roles and the roles'
// permissions. The first matching DENY ends the walk; ALLOW matches accumulate.
func (r *Resolver) Check(ctx context.Context, userID, organizationID string, resource Resource, action Action) (CheckResult, error) {
	userID, err := required("user_id", userID)
	if err != nil {
		return CheckResult{}, err
	}
	organizationID, err = required("organization_id", organizationID)
	if err != nil {
		return CheckResult{}, err
	}
	if !resource.Valid() {
		return CheckResult{}, fmt.Errorf("%w: unknown resource %q", ErrBadRequest, resource)
	}
	if !action.Valid() {
		return CheckResult{}, fmt.Errorf("%w: unknown action %q", ErrBadRequest, action)
	}

	key := DecisionKey{OrganizationID: organizationID, UserID: userID, Resource: resource, Action: action}
	// version is taken before the walk; a write that lands during the walk
	// moves it and the result below is not cached.
	var version uint64
	cacheable := false
	if r.cache != nil {
		version, err = r.cache.Version(ctx, organizationID)
		if err != nil {
			obs.Logger().WithError(err).Warn("rbac: decision cache version read failed")
		} else {
			cacheable = true
			cached, ok, err := r.cache.Get(ctx, key, version)
			if err != nil {
				obs.Logger().WithError(err).Warn("rbac: decision cache read failed")
			} else if ok {
				obs.RecordCheck(string(resource), string(action), cached.Allowed, true)
				return cached, nil
			}
		}
	}

	res := CheckResult{Resource: resource, Action: action, MatchedPermissionIDs: []string{}}
	denied := false
	visited, err := r.walk(ctx, userID, organizationID, func(p Permission) bool {
		if !p.Matches(resource, action) {
			return true
		}
		if p.Effect == EffectDeny {
			res.Allowed = false
			res.Reason = fmt.Sprintf(reasonDenyShape, p.Name)
			res.MatchedPermissionIDs = []string{p.ID}
			denied = true
			return false
		}
		res.MatchedPermissionIDs = append(res.MatchedPermissionIDs, p.ID)
		res.Allowed = true
		return true
	})
	if err != nil {
		return CheckResult{}, err
	}
	switch {
	case visited == 0:
		res.Reason = ReasonNoRoles
	case !denied && !res.Allowed:
		res.Reason = ReasonNoMatch
	}

	if cacheable {
		if err := r.cache.Set(ctx, key, version, res); err != nil {
			obs.Logger().WithError(err).Warn("rbac: decision cache write failed")
		}
	}
	obs.RecordCheck(string(resource), string(action), res.Allowed, false)
	return res, nil
}

// UserPermissions returns every permission reachable from the user's active
// assignments, deduplicated by id in first-seen order.
func (r *Resolver) UserPermissions(ctx context.Context, userID, organizationID string) ([]Permission, error) {
	userID, err := required("user_id", userID)
	if err != nil {
		return nil, err
	}
	organizationID, err = required("organization_id", organizationID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := []Permission{}
	_, err = r.walk(ctx, userID, organizationID, func(p Permission) bool {
		if _, ok := seen[p.ID]; !ok {
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// walk visits the permissions of the user's active roles until visit returns
// false. Roles and permissions that no longer resolve are skipped. It returns
// the number of active assignments found.
func (r *Resolver) walk(ctx context.Context, userID, organizationID string, visit func(Permission) bool) (int, error) {
	assignments, err := r.repo.Assignments().List(ctx, AssignmentFilter{UserID: userID, OrganizationID: organizationID})
	if err != nil {
		return 0, err
	}
	sort.SliceStable(assignments, func(i, j int) bool { return assignments[i].ID < assignments[j].ID })

	for _, a := range assignments {
		role, err := r.repo.Roles().Get(ctx, a.RoleID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		for _, pid := range role.PermissionIDs {
			p, err := r.repo.Permissions().Get(ctx, pid)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return 0, err
			}
			if !visit(p) {
				return len(assignments), nil
			}
		}
	}
	return len(assignments), nil
}
