package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"brewline.io/internal/rbac"
)

var _ rbac.Repository = (*Store)(nil)

// Store keeps permissions, roles and assignments in process memory. One
// mutex guards all three tables so cross-table checks (reference counts,
// permission validation) see a consistent view. Records are copied in and out.
type Store struct {
	mu          sync.RWMutex
	permissions map[string]rbac.Permission
	roles       map[string]rbac.Role
	assignments map[string]rbac.UserRole
}

func New() *Store {
	return &Store{
		permissions: make(map[string]rbac.Permission),
		roles:       make(map[string]rbac.Role),
		assignments: make(map[string]rbac.UserRole),
	}
}

func (s *Store) Permissions() rbac.PermissionRepository { return permissionTable{s} }
func (s *Store) Roles() rbac.RoleRepository             { return roleTable{s} }
func (s *Store) Assignments() rbac.AssignmentRepository { return assignmentTable{s} }

// Permissions -----------------------------------------------------------------

type permissionTable struct{ s *Store }

func (t permissionTable) Insert(_ context.Context, p rbac.Permission) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.permissions[p.ID] = p
	return nil
}

func (t permissionTable) Get(_ context.Context, id string) (rbac.Permission, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	p, ok := t.s.permissions[id]
	if !ok {
		return rbac.Permission{}, rbac.MissingPermission(id)
	}
	return p, nil
}

func (t permissionTable) List(_ context.Context, f rbac.PermissionFilter) ([]rbac.Permission, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := []rbac.Permission{}
	for _, p := range t.s.permissions {
		if f.OrganizationID != "" && p.OrganizationID != f.OrganizationID {
			continue
		}
		if f.Resource != "" && p.Resource != f.Resource {
			continue
		}
		if f.Action != "" && p.Action != f.Action {
			continue
		}
		if !matchesSearch(f.Search, p.Name, p.Description) {
			continue
		}
		out = append(out, p)
	}
	sortRecords(out, f.Order, func(p rbac.Permission) string { return p.ID }, func(a, b rbac.Permission) int {
		switch f.SortBy {
		case "resource":
			return strings.Compare(string(a.Resource), string(b.Resource))
		case "action":
			return strings.Compare(string(a.Action), string(b.Action))
		case "effect":
			return strings.Compare(string(a.Effect), string(b.Effect))
		case "created_at":
			return a.CreatedAt.Compare(b.CreatedAt)
		case "updated_at":
			return a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
	})
	return out, nil
}

func (t permissionTable) Update(_ context.Context, id string, upd rbac.PermissionUpdate, now time.Time) (rbac.Permission, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.permissions[id]
	if !ok {
		return rbac.Permission{}, rbac.MissingPermission(id)
	}
	upd.Apply(&p)
	p.UpdatedAt = now
	t.s.permissions[id] = p
	return p, nil
}

func (t permissionTable) Delete(_ context.Context, id string) (rbac.Permission, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	p, ok := t.s.permissions[id]
	if !ok {
		return rbac.Permission{}, rbac.MissingPermission(id)
	}
	refs := 0
	for _, r := range t.s.roles {
		if slices.Contains(r.PermissionIDs, id) {
			refs++
		}
	}
	if refs > 0 {
		return rbac.Permission{}, &rbac.InUseError{Kind: "permission", ID: id, Count: refs, Referrer: "role"}
	}
	delete(t.s.permissions, id)
	return p, nil
}

// Roles -----------------------------------------------------------------------

type roleTable struct{ s *Store }

// checkPermissions must run with the lock held.
func (t roleTable) checkPermissions(organizationID string, ids []string) error {
	for _, pid := range ids {
		p, ok := t.s.permissions[pid]
		if !ok {
			return rbac.MissingPermission(pid)
		}
		if p.OrganizationID != organizationID {
			return rbac.ForeignPermission(pid, organizationID)
		}
	}
	return nil
}

// codeTaken must run with the lock held.
func (t roleTable) codeTaken(organizationID, code, exceptID string) bool {
	for _, r := range t.s.roles {
		if r.ID != exceptID && r.OrganizationID == organizationID && r.Code == code {
			return true
		}
	}
	return false
}

func (t roleTable) Insert(_ context.Context, r rbac.Role) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.codeTaken(r.OrganizationID, r.Code, "") {
		return rbac.DuplicateCode(r.OrganizationID, r.Code)
	}
	if err := t.checkPermissions(r.OrganizationID, r.PermissionIDs); err != nil {
		return err
	}
	t.s.roles[r.ID] = cloneRole(r)
	return nil
}

func (t roleTable) Get(_ context.Context, id string) (rbac.Role, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.roles[id]
	if !ok {
		return rbac.Role{}, rbac.MissingRole(id)
	}
	return cloneRole(r), nil
}

func (t roleTable) GetByCode(_ context.Context, organizationID, code string) (rbac.Role, bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, r := range t.s.roles {
		if r.OrganizationID == organizationID && r.Code == code {
			return cloneRole(r), true, nil
		}
	}
	return rbac.Role{}, false, nil
}

func (t roleTable) List(_ context.Context, f rbac.RoleFilter) ([]rbac.Role, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := []rbac.Role{}
	for _, r := range t.s.roles {
		if f.OrganizationID != "" && r.OrganizationID != f.OrganizationID {
			continue
		}
		if f.SystemRole != "" && r.SystemRole != f.SystemRole {
			continue
		}
		if !matchesSearch(f.Search, r.Name, r.Code, r.Description) {
			continue
		}
		out = append(out, cloneRole(r))
	}
	sortRecords(out, f.Order, func(r rbac.Role) string { return r.ID }, func(a, b rbac.Role) int {
		switch f.SortBy {
		case "code":
			return strings.Compare(a.Code, b.Code)
		case "created_at":
			return a.CreatedAt.Compare(b.CreatedAt)
		case "updated_at":
			return a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
	})
	return out, nil
}

func (t roleTable) Update(_ context.Context, id string, upd rbac.RoleUpdate, now time.Time) (rbac.Role, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	current, ok := t.s.roles[id]
	if !ok {
		return rbac.Role{}, rbac.MissingRole(id)
	}
	if current.IsSystem {
		return rbac.Role{}, rbac.SystemRoleImmutable(id)
	}
	next := cloneRole(current)
	upd.Apply(&next)
	if upd.Code != nil && next.Code != current.Code && t.codeTaken(next.OrganizationID, next.Code, id) {
		return rbac.Role{}, rbac.DuplicateCode(next.OrganizationID, next.Code)
	}
	if upd.PermissionIDs != nil {
		if err := t.checkPermissions(next.OrganizationID, next.PermissionIDs); err != nil {
			return rbac.Role{}, err
		}
	}
	next.UpdatedAt = now
	t.s.roles[id] = next
	return cloneRole(next), nil
}

func (t roleTable) Delete(_ context.Context, id string) (rbac.Role, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	r, ok := t.s.roles[id]
	if !ok {
		return rbac.Role{}, rbac.MissingRole(id)
	}
	if r.IsSystem {
		return rbac.Role{}, rbac.SystemRoleImmutable(id)
	}
	active := 0
	for _, a := range t.s.assignments {
		if a.RoleID == id && a.Active() {
			active++
		}
	}
	if active > 0 {
		return rbac.Role{}, &rbac.InUseError{Kind: "role", ID: id, Count: active, Referrer: "active assignment"}
	}
	delete(t.s.roles, id)
	return r, nil
}

// Assignments -----------------------------------------------------------------

type assignmentTable struct{ s *Store }

func (t assignmentTable) Insert(_ context.Context, a rbac.UserRole) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	role, ok := t.s.roles[a.RoleID]
	if !ok {
		return rbac.MissingRole(a.RoleID)
	}
	if role.OrganizationID != a.OrganizationID {
		return rbac.ForeignRole(a.RoleID, a.OrganizationID)
	}
	for _, existing := range t.s.assignments {
		if existing.Active() && existing.UserID == a.UserID && existing.RoleID == a.RoleID && existing.OrganizationID == a.OrganizationID {
			return rbac.DuplicateAssignment(a.UserID, a.RoleID, a.OrganizationID)
		}
	}
	t.s.assignments[a.ID] = cloneAssignment(a)
	return nil
}

func (t assignmentTable) Get(_ context.Context, id string) (rbac.UserRole, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.assignments[id]
	if !ok {
		return rbac.UserRole{}, rbac.MissingAssignment(id)
	}
	return cloneAssignment(a), nil
}

func (t assignmentTable) List(_ context.Context, f rbac.AssignmentFilter) ([]rbac.UserRole, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	out := []rbac.UserRole{}
	for _, a := range t.s.assignments {
		if !f.IncludeRevoked && !a.Active() {
			continue
		}
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.RoleID != "" && a.RoleID != f.RoleID {
			continue
		}
		if f.OrganizationID != "" && a.OrganizationID != f.OrganizationID {
			continue
		}
		if f.LocationID != "" && !a.HasLocation(f.LocationID) {
			continue
		}
		out = append(out, cloneAssignment(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t assignmentTable) Revoke(_ context.Context, id, revokedBy string, now time.Time) (rbac.UserRole, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.assignments[id]
	if !ok {
		return rbac.UserRole{}, rbac.MissingAssignment(id)
	}
	if !a.Active() {
		return rbac.UserRole{}, rbac.AlreadyRevoked(id)
	}
	a.RevokedAt = &now
	a.RevokedBy = revokedBy
	t.s.assignments[id] = a
	return cloneAssignment(a), nil
}

// helpers ---------------------------------------------------------------------

func matchesSearch(search string, fields ...string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// sortRecords orders by cmp, breaking ties by id so listings are stable.
func sortRecords[T any](items []T, order rbac.SortOrder, id func(T) string, cmp func(a, b T) int) {
	slices.SortFunc(items, func(a, b T) int {
		c := cmp(a, b)
		if c == 0 {
			c = strings.Compare(id(a), id(b))
		}
		if order == rbac.OrderDesc {
			return -c
		}
		return c
	})
}

func cloneRole(r rbac.Role) rbac.Role {
	r.PermissionIDs = append([]string{}, r.PermissionIDs...)
	return r
}

func cloneAssignment(a rbac.UserRole) rbac.UserRole {
	a.LocationIDs = append([]string{}, a.LocationIDs...)
	if a.ValidFrom != nil {
		v := *a.ValidFrom
		a.ValidFrom = &v
	}
	if a.ValidUntil != nil {
		v := *a.ValidUntil
		a.ValidUntil = &v
	}
	if a.RevokedAt != nil {
		v := *a.RevokedAt
		a.RevokedAt = &v
	}
	return a
}
