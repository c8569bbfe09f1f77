package rbac

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Resource is the domain object type a permission governs.
type Resource string

const (
	ResourceProducts       Resource = "PRODUCTS"
	ResourceCategories     Resource = "CATEGORIES"
	ResourceOrders         Resource = "ORDERS"
	ResourcePayments       Resource = "PAYMENTS"
	ResourceInventory      Resource = "INVENTORY"
	ResourcePurchaseOrders Resource = "PURCHASE_ORDERS"
	ResourceSuppliers      Resource = "SUPPLIERS"
	ResourceShifts         Resource = "SHIFTS"
	ResourceCashRegisters  Resource = "CASH_REGISTERS"
	ResourceDiscounts      Resource = "DISCOUNTS"
	ResourceCustomers      Resource = "CUSTOMERS"
	ResourceEmployees      Resource = "EMPLOYEES"
	ResourceLocations      Resource = "LOCATIONS"
	ResourceReports        Resource = "REPORTS"
	ResourceRoles          Resource = "ROLES"
	ResourcePermissions    Resource = "PERMISSIONS"
	ResourceNotifications  Resource = "NOTIFICATIONS"
	ResourceSettings       Resource = "SETTINGS"
)

// Action is the operation a permission governs.
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionRead    Action = "READ"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	ActionApprove Action = "APPROVE"
	ActionExport  Action = "EXPORT"
)

// Effect decides whether a matching permission grants or forbids access.
type Effect string

const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// SystemRole tags the built-in roles every organization gets.
type SystemRole string

const (
	SystemRoleOwner      SystemRole = "OWNER"
	SystemRoleManager    SystemRole = "MANAGER"
	SystemRoleSupervisor SystemRole = "SUPERVISOR"
	SystemRoleCashier    SystemRole = "CASHIER"
	SystemRoleBarista    SystemRole = "BARISTA"
	SystemRoleWaiter     SystemRole = "WAITER"
)

var (
	resources = []Resource{
		ResourceProducts, ResourceCategories, ResourceOrders, ResourcePayments, ResourceInventory,
		ResourcePurchaseOrders, ResourceSuppliers, ResourceShifts, ResourceCashRegisters,
		ResourceDiscounts, ResourceCustomers, ResourceEmployees, ResourceLocations, ResourceReports,
		ResourceRoles, ResourcePermissions, ResourceNotifications, ResourceSettings,
	}
	actions     = []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove, ActionExport}
	effects     = []Effect{EffectAllow, EffectDeny}
	systemRoles = []SystemRole{
		SystemRoleOwner, SystemRoleManager, SystemRoleSupervisor,
		SystemRoleCashier, SystemRoleBarista, SystemRoleWaiter,
	}
)

// Resources lists every known resource in declaration order.
func Resources() []Resource { return append([]Resource(nil), resources...) }

// Actions lists every known action in declaration order.
func Actions() []Action { return append([]Action(nil), actions...) }

func parseEnum[T ~string](kind, raw string, known []T) (T, error) {
	v := T(strings.ToUpper(strings.TrimSpace(raw)))
	for _, k := range known {
		if k == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: unknown %s %q", ErrBadRequest, kind, raw)
}

func ParseResource(s string) (Resource, error)     { return parseEnum("resource", s, resources) }
func ParseAction(s string) (Action, error)         { return parseEnum("action", s, actions) }
func ParseEffect(s string) (Effect, error)         { return parseEnum("effect", s, effects) }
func ParseSystemRole(s string) (SystemRole, error) { return parseEnum("system role", s, systemRoles) }

func (r Resource) Valid() bool   { return slices.Contains(resources, r) }
func (a Action) Valid() bool     { return slices.Contains(actions, a) }
func (e Effect) Valid() bool     { return slices.Contains(effects, e) }
func (s SystemRole) Valid() bool { return slices.Contains(systemRoles, s) }

func (r *Resource) UnmarshalText(b []byte) error {
	v, err := ParseResource(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func (e *Effect) UnmarshalText(b []byte) error {
	v, err := ParseEffect(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// UnmarshalText accepts an empty value so that system_role stays optional.
func (s *SystemRole) UnmarshalText(b []byte) error {
	if strings.TrimSpace(string(b)) == "" {
		*s = ""
		return nil
	}
	v, err := ParseSystemRole(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Permission is one authorizable (resource, action) pair with an effect.
type Permission struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Resource       Resource  `json:"resource"`
	Action         Action    `json:"action"`
	Effect         Effect    `json:"effect"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Matches reports whether the permission governs resource and action.
func (p Permission) Matches(resource Resource, action Action) bool {
	return p.Resource == resource && p.Action == action
}

// Role is an organization-scoped bundle of permission references.
type Role struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Name           string     `json:"name"`
	Code           string     `json:"code"`
	Description    string     `json:"description,omitempty"`
	Color          string     `json:"color,omitempty"`
	Icon           string     `json:"icon,omitempty"`
	PermissionIDs  []string   `json:"permission_ids"`
	IsSystem       bool       `json:"is_system"`
	SystemRole     SystemRole `json:"system_role,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// UserRole grants a role to a user inside an organization.
type UserRole struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	RoleID         string     `json:"role_id"`
	OrganizationID string     `json:"organization_id"`
	LocationIDs    []string   `json:"location_ids"`
	ValidFrom      *time.Time `json:"valid_from,omitempty"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	AssignedBy     string     `json:"assigned_by"`
	AssignedAt     time.Time  `json:"assigned_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	RevokedBy      string     `json:"revoked_by,omitempty"`
}

// Active reports whether the assignment has not been revoked.
func (u UserRole) Active() bool { return u.RevokedAt == nil }

// HasLocation reports whether id is one of the assignment's locations.
func (u UserRole) HasLocation(id string) bool { return slices.Contains(u.LocationIDs, id) }

// CheckResult is the outcome of a permission check.
type CheckResult struct {
	Allowed              bool     `json:"allowed"`
	Resource             Resource `json:"resource"`
	Action               Action   `json:"action"`
	Reason               string   `json:"reason,omitempty"`
	MatchedPermissionIDs []string `json:"matched_permission_ids"`
}

const (
	ReasonNoRoles   = "User has no roles"
	ReasonNoMatch   = "No matching permissions"
	reasonDenyShape = "Explicit DENY: %s"
)
