package rbac_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewline.io/internal/rbac"
	"brewline.io/internal/store/memory"
)

const (
	orgA = "org-a"
	orgB = "org-b"
)

func newCore(t *testing.T, opts ...rbac.Option) *rbac.Core {
	t.Helper()
	core, err := rbac.NewCore(memory.New(), opts...)
	require.NoError(t, err)
	return core
}

func mustPermission(t *testing.T, core *rbac.Core, org string, res rbac.Resource, act rbac.Action, eff rbac.Effect, name string) rbac.Permission {
	t.Helper()
	p, err := core.Permissions.Create(context.Background(), rbac.CreatePermissionInput{
		OrganizationID: org, Resource: res, Action: act, Effect: eff, Name: name,
	})
	require.NoError(t, err)
	return p
}

func mustRole(t *testing.T, core *rbac.Core, org, code string, permIDs ...string) rbac.Role {
	t.Helper()
	r, err := core.Roles.Create(context.Background(), rbac.CreateRoleInput{
		OrganizationID: org, Name: code + " role", Code: code, PermissionIDs: permIDs,
	})
	require.NoError(t, err)
	return r
}

func mustAssign(t *testing.T, core *rbac.Core, user, roleID, org string) rbac.UserRole {
	t.Helper()
	a, err := core.Assignments.Assign(context.Background(), rbac.AssignInput{
		UserID: user, RoleID: roleID, OrganizationID: org, AssignedBy: "admin",
	})
	require.NoError(t, err)
	return a
}

func TestScenarioAllowMatchingPermission(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	p1 := mustPermission(t, core, orgA, rbac.ResourceProducts, rbac.ActionCreate, "", "Create products")
	assert.Equal(t, rbac.EffectAllow, p1.Effect)
	r1 := mustRole(t, core, orgA, "CATALOG", p1.ID)
	mustAssign(t, core, "u1", r1.ID, orgA)

	res, err := core.Resolver.Check(ctx, "u1", orgA, rbac.ResourceProducts, rbac.ActionCreate)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Reason)
	assert.Equal(t, []string{p1.ID}, res.MatchedPermissionIDs)

	res, err = core.Resolver.Check(ctx, "u1", orgA, rbac.ResourceProducts, rbac.ActionDelete)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, rbac.ReasonNoMatch, res.Reason)
	assert.Empty(t, res.MatchedPermissionIDs)
}

func TestScenarioExplicitDeny(t *testing.T) {
	core := newCore(t)
	p2 := mustPermission(t, core, orgA, rbac.ResourceOrders, rbac.ActionDelete, rbac.EffectDeny, "No order deletes")
	r2 := mustRole(t, core, orgA, "NODELETE", p2.ID)
	mustAssign(t, core, "u2", r2.ID, orgA)

	res, err := core.Resolver.Check(context.Background(), "u2", orgA, rbac.ResourceOrders, rbac.ActionDelete)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, "Explicit DENY: No order deletes", res.Reason)
	assert.Equal(t, []string{p2.ID}, res.MatchedPermissionIDs)
}

func TestDenyWinsRegardlessOfRoleOrder(t *testing.T) {
	for _, denyFirst := range []bool{true, false} {
		core := newCore(t)
		allow := mustPermission(t, core, orgA, rbac.ResourceOrders, rbac.ActionUpdate, rbac.EffectAllow, "edit orders")
		deny := mustPermission(t, core, orgA, rbac.ResourceOrders, rbac.ActionUpdate, rbac.EffectDeny, "freeze orders")
		allowRole := mustRole(t, core, orgA, "EDITOR", allow.ID)
		denyRole := mustRole(t, core, orgA, "FROZEN", deny.ID)
		if denyFirst {
			mustAssign(t, core, "u", denyRole.ID, orgA)
			mustAssign(t, core, "u", allowRole.ID, orgA)
		} else {
			mustAssign(t, core, "u", allowRole.ID, orgA)
			mustAssign(t, core, "u", denyRole.ID, orgA)
		}

		res, err := core.Resolver.Check(context.Background(), "u", orgA, rbac.ResourceOrders, rbac.ActionUpdate)
		require.NoError(t, err)
		assert.False(t, res.Allowed, "denyFirst=%v", denyFirst)
		assert.Contains(t, res.Reason, "DENY")
		assert.Equal(t, []string{deny.ID}, res.MatchedPermissionIDs)
	}
}

func TestDenyInsideSameRoleAfterAllow(t *testing.T) {
	core := newCore(t)
	allow := mustPermission(t, core, orgA, rbac.ResourcePayments, rbac.ActionApprove, rbac.EffectAllow, "approve")
	deny := mustPermission(t, core, orgA, rbac.ResourcePayments, rbac.ActionApprove, rbac.EffectDeny, "never approve")
	role := mustRole(t, core, orgA, "MIXED", allow.ID, deny.ID)
	mustAssign(t, core, "u", role.ID, orgA)

	res, err := core.Resolver.Check(context.Background(), "u", orgA, rbac.ResourcePayments, rbac.ActionApprove)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, []string{deny.ID}, res.MatchedPermissionIDs)
}

func TestAllowMatchesAccumulateAcrossRoles(t *testing.T) {
	core := newCore(t)
	p1 := mustPermission(t, core, orgA, rbac.ResourceReports, rbac.ActionExport, "", "export a")
	p2 := mustPermission(t, core, orgA, rbac.ResourceReports, rbac.ActionExport, "", "export b")
	r1 := mustRole(t, core, orgA, "R1", p1.ID)
	r2 := mustRole(t, core, orgA, "R2", p2.ID)
	mustAssign(t, core, "u", r1.ID, orgA)
	mustAssign(t, core, "u", r2.ID, orgA)

	res, err := core.Resolver.Check(context.Background(), "u", orgA, rbac.ResourceReports, rbac.ActionExport)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, []string{p1.ID, p2.ID}, res.MatchedPermissionIDs)
}

func TestNoRolesMeansDenied(t *testing.T) {
	core := newCore(t)
	p := mustPermission(t, core, orgA, rbac.ResourceProducts, rbac.ActionRead, "", "read")
	r := mustRole(t, core, orgA, "READER", p.ID)
	mustAssign(t, core, "someone-else", r.ID, orgA)
	ctx := context.Background()

	for _, res := range []rbac.Resource{rbac.ResourceProducts, rbac.ResourceOrders} {
		out, err := core.Resolver.Check(ctx, "nobody", orgA, res, rbac.ActionRead)
		require.NoError(t, err)
		assert.False(t, out.Allowed)
		assert.Equal(t, rbac.ReasonNoRoles, out.Reason)
		assert.Empty(t, out.MatchedPermissionIDs)
	}

	// roles in another organization do not count
	out, err := core.Resolver.Check(ctx, "someone-else", orgB, rbac.ResourceProducts, rbac.ActionRead)
	require.NoError(t, err)
	assert.Equal(t, rbac.ReasonNoRoles, out.Reason)
}

func TestCheckRejectsMalformedInput(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	_, err := core.Resolver.Check(ctx, "", orgA, rbac.ResourceOrders, rbac.ActionRead)
	assert.ErrorIs(t, err, rbac.ErrBadRequest)
	_, err = core.Resolver.Check(ctx, "u", orgA, rbac.Resource("COFFEE"), rbac.ActionRead)
	assert.ErrorIs(t, err, rbac.ErrBadRequest)
}

func TestRevocationIsTerminal(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	p := mustPermission(t, core, orgA, rbac.ResourceShifts, rbac.ActionCreate, "", "open shift")
	r := mustRole(t, core, orgA, "SHIFT", p.ID)
	a := mustAssign(t, core, "u", r.ID, orgA)

	revoked, err := core.Assignments.Revoke(ctx, a.ID, "boss")
	require.NoError(t, err)
	require.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, "boss", revoked.RevokedBy)

	_, err = core.Assignments.Revoke(ctx, a.ID, "boss")
	assert.ErrorIs(t, err, rbac.ErrBadRequest)

	active, err := core.Assignments.FindActive(ctx, rbac.AssignmentFilter{UserID: "u"})
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := core.Assignments.FindAll(ctx, rbac.AssignmentFilter{UserID: "u", IncludeRevoked: true})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, a.ID, history[0].ID)

	res, err := core.Resolver.Check(ctx, "u", orgA, rbac.ResourceShifts, rbac.ActionCreate)
	require.NoError(t, err)
	assert.Equal(t, rbac.ReasonNoRoles, res.Reason)

	// a fresh grant is allowed once the old one is revoked
	mustAssign(t, core, "u", r.ID, orgA)

	_, err = core.Assignments.Revoke(ctx, "missing", "boss")
	assert.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestRoleCodeUniquePerOrganization(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	mustRole(t, core, orgA, "MANAGER")

	_, err := core.Roles.Create(ctx, rbac.CreateRoleInput{OrganizationID: orgA, Name: "Other", Code: "MANAGER"})
	assert.ErrorIs(t, err, rbac.ErrConflict)

	_, err = core.Roles.Create(ctx, rbac.CreateRoleInput{OrganizationID: orgB, Name: "Manager", Code: "MANAGER"})
	assert.NoError(t, err)
}

func TestDuplicateActiveAssignmentConflicts(t *testing.T) {
	core := newCore(t)
	r := mustRole(t, core, orgA, "BARISTA")
	mustAssign(t, core, "u1", r.ID, orgA)

	_, err := core.Assignments.Assign(context.Background(), rbac.AssignInput{
		UserID: "u1", RoleID: r.ID, OrganizationID: orgA, AssignedBy: "admin",
	})
	assert.ErrorIs(t, err, rbac.ErrConflict)
}

func TestConcurrentAssignHasOneWinner(t *testing.T) {
	core := newCore(t)
	r := mustRole(t, core, orgA, "CASHIER")

	var (
		wg        sync.WaitGroup
		wins      atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := core.Assignments.Assign(context.Background(), rbac.AssignInput{
				UserID: "u", RoleID: r.ID, OrganizationID: orgA, AssignedBy: "admin",
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, rbac.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), conflicts.Load())
}

func TestReferentialIntegrityOnDelete(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	p := mustPermission(t, core, orgA, rbac.ResourceInventory, rbac.ActionUpdate, "", "count stock")
	r1 := mustRole(t, core, orgA, "STOCK1", p.ID)
	r2 := mustRole(t, core, orgA, "STOCK2", p.ID)

	err := core.Permissions.Delete(ctx, p.ID)
	require.ErrorIs(t, err, rbac.ErrBadRequest)
	var inUse *rbac.InUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, 2, inUse.Count)

	a := mustAssign(t, core, "u", r1.ID, orgA)
	err = core.Roles.Delete(ctx, r1.ID)
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, 1, inUse.Count)
	assert.ErrorIs(t, err, rbac.ErrBadRequest)

	_, err = core.Assignments.Revoke(ctx, a.ID, "admin")
	require.NoError(t, err)
	require.NoError(t, core.Roles.Delete(ctx, r1.ID))
	_, err = core.Roles.Update(ctx, r2.ID, rbac.RoleUpdate{PermissionIDs: &[]string{}})
	require.NoError(t, err)
	require.NoError(t, core.Permissions.Delete(ctx, p.ID))

	_, err = core.Permissions.FindByID(ctx, p.ID)
	assert.ErrorIs(t, err, rbac.ErrNotFound)
	assert.ErrorIs(t, core.Permissions.Delete(ctx, p.ID), rbac.ErrNotFound)
	assert.ErrorIs(t, core.Roles.Delete(ctx, r1.ID), rbac.ErrNotFound)
}

func TestSystemRolesAreImmutable(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	r4, err := core.Roles.Create(ctx, rbac.CreateRoleInput{
		OrganizationID: orgA, Name: "Owner", Code: "OWNER", IsSystem: true, SystemRole: rbac.SystemRoleOwner,
	})
	require.NoError(t, err)

	name := "x"
	_, err = core.Roles.Update(ctx, r4.ID, rbac.RoleUpdate{Name: &name})
	assert.ErrorIs(t, err, rbac.ErrBadRequest)
	_, err = core.Roles.Update(ctx, r4.ID, rbac.RoleUpdate{})
	assert.ErrorIs(t, err, rbac.ErrBadRequest)
	assert.ErrorIs(t, core.Roles.Delete(ctx, r4.ID), rbac.ErrBadRequest)

	got, err := core.Roles.FindByID(ctx, r4.ID)
	require.NoError(t, err)
	assert.Equal(t, "Owner", got.Name)
}

func TestPermissionIDValidationLeavesRoleUntouched(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	p := mustPermission(t, core, orgA, rbac.ResourceDiscounts, rbac.ActionCreate, "", "discounts")

	_, err := core.Roles.Create(ctx, rbac.CreateRoleInput{
		OrganizationID: orgA, Name: "Broken", Code: "BROKEN", PermissionIDs: []string{p.ID, "ghost"},
	})
	assert.ErrorIs(t, err, rbac.ErrNotFound)
	assert.Contains(t, err.Error(), "ghost")
	_, ok, err := core.Roles.FindByCode(ctx, orgA, "BROKEN")
	require.NoError(t, err)
	assert.False(t, ok)

	r := mustRole(t, core, orgA, "PROMO", p.ID)
	name, code := "Renamed", "PROMO2"
	_, err = core.Roles.Update(ctx, r.ID, rbac.RoleUpdate{Name: &name, Code: &code, PermissionIDs: &[]string{"ghost"}})
	assert.ErrorIs(t, err, rbac.ErrNotFound)

	got, err := core.Roles.FindByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "PROMO role", got.Name)
	assert.Equal(t, "PROMO", got.Code)
	assert.Equal(t, []string{p.ID}, got.PermissionIDs)
}

func TestRoleUpdateCodeCollision(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	mustRole(t, core, orgA, "TAKEN")
	r := mustRole(t, core, orgA, "FREE")

	code := "TAKEN"
	_, err := core.Roles.Update(ctx, r.ID, rbac.RoleUpdate{Code: &code})
	assert.ErrorIs(t, err, rbac.ErrConflict)

	same := "FREE"
	color := " #6F4E37 "
	updated, err := core.Roles.Update(ctx, r.ID, rbac.RoleUpdate{Code: &same, Color: &color})
	require.NoError(t, err)
	assert.Equal(t, "#6F4E37", updated.Color)
}

func TestRoleRejectsPermissionFromAnotherOrganization(t *testing.T) {
	core := newCore(t)
	foreign := mustPermission(t, core, orgB, rbac.ResourceProducts, rbac.ActionRead, "", "read")
	_, err := core.Roles.Create(context.Background(), rbac.CreateRoleInput{
		OrganizationID: orgA, Name: "Mixed", Code: "MIXED", PermissionIDs: []string{foreign.ID},
	})
	assert.ErrorIs(t, err, rbac.ErrBadRequest)
}

func TestPermissionUpdateTouchesUpdatedAt(t *testing.T) {
	clock := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	core := newCore(t, rbac.WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	p := mustPermission(t, core, orgA, rbac.ResourceCustomers, rbac.ActionRead, "", "customers")

	clock = clock.Add(time.Hour)
	deny := rbac.EffectDeny
	desc := "  hide customer list  "
	updated, err := core.Permissions.Update(ctx, p.ID, rbac.PermissionUpdate{Effect: &deny, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, rbac.EffectDeny, updated.Effect)
	assert.Equal(t, "hide customer list", updated.Description)
	assert.Equal(t, p.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(p.UpdatedAt))

	blank := " "
	_, err = core.Permissions.Update(ctx, p.ID, rbac.PermissionUpdate{Name: &blank})
	assert.ErrorIs(t, err, rbac.ErrBadRequest)
	_, err = core.Permissions.Update(ctx, "missing", rbac.PermissionUpdate{Effect: &deny})
	assert.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestPermissionFindAllFiltersAndSorts(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	mustPermission(t, core, orgA, rbac.ResourceOrders, rbac.ActionRead, "", "b orders")
	mustPermission(t, core, orgA, rbac.ResourceOrders, rbac.ActionCreate, "", "A orders")
	withDesc, err := core.Permissions.Create(ctx, rbac.CreatePermissionInput{
		OrganizationID: orgA, Resource: rbac.ResourceProducts, Action: rbac.ActionRead,
		Name: "c menu", Description: "Espresso ORDERS board",
	})
	require.NoError(t, err)
	mustPermission(t, core, orgB, rbac.ResourceOrders, rbac.ActionRead, "", "elsewhere")

	all, err := core.Permissions.FindAll(ctx, rbac.PermissionFilter{OrganizationID: orgA})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"A orders", "b orders", "c menu"}, names(all))

	desc, err := core.Permissions.FindAll(ctx, rbac.PermissionFilter{OrganizationID: orgA, Order: rbac.OrderDesc})
	require.NoError(t, err)
	assert.Equal(t, []string{"c menu", "b orders", "A orders"}, names(desc))

	search, err := core.Permissions.FindAll(ctx, rbac.PermissionFilter{OrganizationID: orgA, Search: "orders"})
	require.NoError(t, err)
	assert.Len(t, search, 3, "search covers descriptions too")
	assert.Contains(t, names(search), withDesc.Name)

	filtered, err := core.Permissions.FindAll(ctx, rbac.PermissionFilter{Resource: rbac.ResourceOrders, Action: rbac.ActionRead})
	require.NoError(t, err)
	assert.Equal(t, []string{"b orders", "elsewhere"}, names(filtered))

	_, err = core.Permissions.FindAll(ctx, rbac.PermissionFilter{SortBy: "color"})
	assert.ErrorIs(t, err, rbac.ErrBadRequest)
}

func TestRoleFindAllSearchAndSystemFilter(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	_, err := core.Roles.Create(ctx, rbac.CreateRoleInput{
		OrganizationID: orgA, Name: "Head Barista", Code: "HEAD", Description: "runs the bar",
		IsSystem: true, SystemRole: rbac.SystemRoleBarista,
	})
	require.NoError(t, err)
	mustRole(t, core, orgA, "CASH")

	byCode, err := core.Roles.FindAll(ctx, rbac.RoleFilter{Search: "cash"})
	require.NoError(t, err)
	require.Len(t, byCode, 1)
	assert.Equal(t, "CASH", byCode[0].Code)

	byDesc, err := core.Roles.FindAll(ctx, rbac.RoleFilter{Search: "BAR"})
	require.NoError(t, err)
	require.Len(t, byDesc, 1)

	system, err := core.Roles.FindAll(ctx, rbac.RoleFilter{SystemRole: rbac.SystemRoleBarista})
	require.NoError(t, err)
	require.Len(t, system, 1)
	assert.Equal(t, "HEAD", system[0].Code)

	byCodeSort, err := core.Roles.FindAll(ctx, rbac.RoleFilter{OrganizationID: orgA, SortBy: "code"})
	require.NoError(t, err)
	assert.Equal(t, "CASH", byCodeSort[0].Code)
}

func TestFindByCodeAbsentIsNotAnError(t *testing.T) {
	core := newCore(t)
	_, ok, err := core.Roles.FindByCode(context.Background(), orgA, "NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAssignValidation(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	r := mustRole(t, core, orgA, "WAITER")

	_, err := core.Assignments.Assign(ctx, rbac.AssignInput{UserID: "u", RoleID: "ghost", OrganizationID: orgA, AssignedBy: "a"})
	assert.ErrorIs(t, err, rbac.ErrNotFound)

	_, err = core.Assignments.Assign(ctx, rbac.AssignInput{UserID: "u", RoleID: r.ID, OrganizationID: orgB, AssignedBy: "a"})
	assert.ErrorIs(t, err, rbac.ErrBadRequest)

	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(-time.Hour)
	_, err = core.Assignments.Assign(ctx, rbac.AssignInput{
		UserID: "u", RoleID: r.ID, OrganizationID: orgA, AssignedBy: "a", ValidFrom: &from, ValidUntil: &until,
	})
	assert.ErrorIs(t, err, rbac.ErrBadRequest)

	_, err = core.Assignments.Assign(ctx, rbac.AssignInput{UserID: "u", RoleID: r.ID, OrganizationID: orgA})
	assert.ErrorIs(t, err, rbac.ErrBadRequest)
}

func TestValidityWindowIsStoredNotEnforced(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	p := mustPermission(t, core, orgA, rbac.ResourceLocations, rbac.ActionRead, "", "see locations")
	r := mustRole(t, core, orgA, "TEMP", p.ID)
	past := time.Now().Add(-48 * time.Hour)
	expired := past.Add(time.Hour)

	a, err := core.Assignments.Assign(ctx, rbac.AssignInput{
		UserID: "temp", RoleID: r.ID, OrganizationID: orgA, AssignedBy: "a",
		ValidFrom: &past, ValidUntil: &expired, LocationIDs: []string{"loc-1", " loc-1 ", "loc-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"loc-1", "loc-2"}, a.LocationIDs)
	require.NotNil(t, a.ValidUntil)

	res, err := core.Resolver.Check(ctx, "temp", orgA, rbac.ResourceLocations, rbac.ActionRead)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestFindActiveFilters(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	r1 := mustRole(t, core, orgA, "R1")
	r2 := mustRole(t, core, orgA, "R2")
	a1, err := core.Assignments.Assign(ctx, rbac.AssignInput{
		UserID: "u1", RoleID: r1.ID, OrganizationID: orgA, AssignedBy: "a", LocationIDs: []string{"downtown"},
	})
	require.NoError(t, err)
	a2 := mustAssign(t, core, "u2", r1.ID, orgA)
	mustAssign(t, core, "u1", r2.ID, orgA)

	byLocation, err := core.Assignments.FindActive(ctx, rbac.AssignmentFilter{LocationID: "downtown"})
	require.NoError(t, err)
	require.Len(t, byLocation, 1)
	assert.Equal(t, a1.ID, byLocation[0].ID)

	byRole, err := core.Assignments.FindActive(ctx, rbac.AssignmentFilter{RoleID: r1.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID, a2.ID}, assignmentIDs(byRole))

	_, err = core.Assignments.Revoke(ctx, a1.ID, "a")
	require.NoError(t, err)
	active, err := core.Assignments.FindActive(ctx, rbac.AssignmentFilter{UserID: "u1", IncludeRevoked: true})
	require.NoError(t, err)
	assert.Len(t, active, 1, "FindActive ignores IncludeRevoked")

	got, err := core.Assignments.FindByID(ctx, a1.ID)
	require.NoError(t, err)
	assert.False(t, got.Active())
}

func TestUserPermissionsDeduplicates(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	shared := mustPermission(t, core, orgA, rbac.ResourceProducts, rbac.ActionRead, "", "menu")
	deny := mustPermission(t, core, orgA, rbac.ResourceProducts, rbac.ActionDelete, rbac.EffectDeny, "no delete")
	r1 := mustRole(t, core, orgA, "R1", shared.ID)
	r2 := mustRole(t, core, orgA, "R2", shared.ID, deny.ID)
	mustAssign(t, core, "u", r1.ID, orgA)
	mustAssign(t, core, "u", r2.ID, orgA)

	perms, err := core.Resolver.UserPermissions(ctx, "u", orgA)
	require.NoError(t, err)
	assert.Equal(t, []string{"menu", "no delete"}, names(perms))

	none, err := core.Resolver.UserPermissions(ctx, "ghost", orgA)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEnumParsing(t *testing.T) {
	res, err := rbac.ParseResource(" purchase_orders ")
	require.NoError(t, err)
	assert.Equal(t, rbac.ResourcePurchaseOrders, res)

	_, err = rbac.ParseAction("BREW")
	assert.ErrorIs(t, err, rbac.ErrBadRequest)

	var eff rbac.Effect
	assert.Error(t, eff.UnmarshalText([]byte("MAYBE")))
	require.NoError(t, eff.UnmarshalText([]byte("deny")))
	assert.Equal(t, rbac.EffectDeny, eff)

	var sr rbac.SystemRole
	require.NoError(t, sr.UnmarshalText(nil))
	assert.Equal(t, rbac.SystemRole(""), sr)
}

func names(perms []rbac.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, p.Name)
	}
	return out
}

func assignmentIDs(as []rbac.UserRole) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.ID)
	}
	return out
}

func TestRoleCodeCollisionReportedBeforeForeignPermission(t *testing.T) {
	core := newCore(t)
	ctx := context.Background()
	foreign := mustPermission(t, core, orgB, rbac.ResourceOrders, rbac.ActionRead, "", "other shop orders")
	mustRole(t, core, orgA, "CASHIER")

	_, err := core.Roles.Create(ctx, rbac.CreateRoleInput{
		OrganizationID: orgA, Name: "Runner", Code: "RUNNER", PermissionIDs: []string{foreign.ID},
	})
	assert.ErrorIs(t, err, rbac.ErrBadRequest)

	// code collision is reported before the bad permission
	_, err = core.Roles.Create(ctx, rbac.CreateRoleInput{
		OrganizationID: orgA, Name: "Cashier again", Code: "CASHIER", PermissionIDs: []string{foreign.ID},
	})
	assert.ErrorIs(t, err, rbac.ErrConflict)
}
