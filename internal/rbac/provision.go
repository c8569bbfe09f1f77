package rbac

import (
	"context"
	"fmt"
	"strings"
)

// ProvisionResult summarises what Provision created.
type ProvisionResult struct {
	OrganizationID     string `json:"organization_id"`
	PermissionsCreated int    `json:"permissions_created"`
	Roles              []Role `json:"roles"`
}

// managerExcluded lists what the MANAGER system role does not get.
var managerExcluded = map[Resource]Action{
	ResourceRoles:       ActionDelete,
	ResourcePermissions: ActionDelete,
	ResourceSettings:    ActionDelete,
}

// Provision seeds an organization: one ALLOW permission per resource and
// action, plus the OWNER and MANAGER system roles. Existing permissions and
// role codes are left alone, so running it again is harmless.
func (c *Core) Provision(ctx context.Context, organizationID string) (ProvisionResult, error) {
	organizationID, err := required("organization_id", organizationID)
	if err != nil {
		return ProvisionResult{}, err
	}
	existing, err := c.Permissions.FindAll(ctx, PermissionFilter{OrganizationID: organizationID})
	if err != nil {
		return ProvisionResult{}, err
	}
	catalog := make(map[string]Permission, len(existing))
	for _, p := range existing {
		if p.Effect != EffectAllow {
			continue
		}
		key := string(p.Resource) + ":" + string(p.Action)
		if _, ok := catalog[key]; !ok {
			catalog[key] = p
		}
	}

	res := ProvisionResult{OrganizationID: organizationID, Roles: []Role{}}
	var ownerIDs, managerIDs []string
	for _, resource := range resources {
		for _, action := range actions {
			key := string(resource) + ":" + string(action)
			p, ok := catalog[key]
			if !ok {
				p, err = c.Permissions.Create(ctx, CreatePermissionInput{
					OrganizationID: organizationID,
					Resource:       resource,
					Action:         action,
					Effect:         EffectAllow,
					Name:           key,
					Description:    fmt.Sprintf("%s %s", strings.ToLower(string(action)), strings.ToLower(strings.ReplaceAll(string(resource), "_", " "))),
				})
				if err != nil {
					return ProvisionResult{}, err
				}
				res.PermissionsCreated++
			}
			ownerIDs = append(ownerIDs, p.ID)
			if excluded, ok := managerExcluded[resource]; !ok || excluded != action {
				managerIDs = append(managerIDs, p.ID)
			}
		}
	}

	seeds := []CreateRoleInput{
		{Name: "Owner", Code: string(SystemRoleOwner), SystemRole: SystemRoleOwner, PermissionIDs: ownerIDs,
			Description: "Full access to the organization"},
		{Name: "Manager", Code: string(SystemRoleManager), SystemRole: SystemRoleManager, PermissionIDs: managerIDs,
			Description: "Runs day-to-day operations"},
	}
	for _, seed := range seeds {
		role, ok, err := c.Roles.FindByCode(ctx, organizationID, seed.Code)
		if err != nil {
			return ProvisionResult{}, err
		}
		if !ok {
			seed.OrganizationID = organizationID
			seed.IsSystem = true
			role, err = c.Roles.Create(ctx, seed)
			if err != nil {
				return ProvisionResult{}, err
			}
		}
		res.Roles = append(res.Roles, role)
	}
	return res, nil
}
