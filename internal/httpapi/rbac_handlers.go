package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"brewline.io/internal/rbac"
)

type createPermissionRequest struct {
	OrganizationID string        `json:"organization_id" validate:"required,max=128"`
	Resource       rbac.Resource `json:"resource" validate:"required"`
	Action         rbac.Action   `json:"action" validate:"required"`
	Effect         rbac.Effect   `json:"effect"`
	Name           string        `json:"name" validate:"required,max=200"`
	Description    string        `json:"description" validate:"max=1000"`
}

type updatePermissionRequest struct {
	Resource    *rbac.Resource `json:"resource"`
	Action      *rbac.Action   `json:"action"`
	Effect      *rbac.Effect   `json:"effect"`
	Name        *string        `json:"name" validate:"omitempty,max=200"`
	Description *string        `json:"description" validate:"omitempty,max=1000"`
}

type createRoleRequest struct {
	OrganizationID string          `json:"organization_id" validate:"required,max=128"`
	Name           string          `json:"name" validate:"required,max=200"`
	Code           string          `json:"code" validate:"required,max=64"`
	Description    string          `json:"description" validate:"max=1000"`
	Color          string          `json:"color" validate:"max=32"`
	Icon           string          `json:"icon" validate:"max=64"`
	PermissionIDs  []string        `json:"permission_ids" validate:"max=1000"`
	IsSystem       bool            `json:"is_system"`
	SystemRole     rbac.SystemRole `json:"system_role"`
}

type updateRoleRequest struct {
	Name          *string   `json:"name" validate:"omitempty,max=200"`
	Code          *string   `json:"code" validate:"omitempty,max=64"`
	Description   *string   `json:"description" validate:"omitempty,max=1000"`
	Color         *string   `json:"color" validate:"omitempty,max=32"`
	Icon          *string   `json:"icon" validate:"omitempty,max=64"`
	PermissionIDs *[]string `json:"permission_ids"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	return listResponse[T]{Items: items, Count: len(items)}
}

// --- permissions ---

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.authorize(w, r, req.OrganizationID, rbac.ResourcePermissions, rbac.ActionCreate) {
		return
	}
	p, err := a.core.Permissions.Create(r.Context(), rbac.CreatePermissionInput{
		OrganizationID: req.OrganizationID,
		Resource:       req.Resource,
		Action:         req.Action,
		Effect:         req.Effect,
		Name:           req.Name,
		Description:    req.Description,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.permission.create", map[string]any{
		"permission_id":   p.ID,
		"organization_id": p.OrganizationID,
		"resource":        p.Resource,
		"action":          p.Action,
		"effect":          p.Effect,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/permissions/%s", p.ID))
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := rbac.PermissionFilter{
		OrganizationID: q.Get("organization_id"),
		Search:         q.Get("search"),
		SortBy:         q.Get("sort_by"),
		Order:          rbac.SortOrder(q.Get("order")),
	}
	if v := q.Get("resource"); v != "" {
		res, err := rbac.ParseResource(v)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		f.Resource = res
	}
	if v := q.Get("action"); v != "" {
		act, err := rbac.ParseAction(v)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		f.Action = act
	}
	if !a.authorize(w, r, f.OrganizationID, rbac.ResourcePermissions, rbac.ActionRead) {
		return
	}
	items, err := a.core.Permissions.FindAll(r.Context(), f)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(items))
}

// loadPermission fetches the path's permission and authorizes action on it.
func (a *API) loadPermission(w http.ResponseWriter, r *http.Request, action rbac.Action) (rbac.Permission, bool) {
	p, err := a.core.Permissions.FindByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleRBACError(w, r, err)
		return rbac.Permission{}, false
	}
	if !a.authorize(w, r, p.OrganizationID, rbac.ResourcePermissions, action) {
		return rbac.Permission{}, false
	}
	return p, true
}

func (a *API) getPermission(w http.ResponseWriter, r *http.Request) {
	p, ok := a.loadPermission(w, r, rbac.ActionRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) updatePermission(w http.ResponseWriter, r *http.Request) {
	var req updatePermissionRequest
	if !a.decode(w, r, &req) {
		return
	}
	current, ok := a.loadPermission(w, r, rbac.ActionUpdate)
	if !ok {
		return
	}
	p, err := a.core.Permissions.Update(r.Context(), current.ID, rbac.PermissionUpdate{
		Resource:    req.Resource,
		Action:      req.Action,
		Effect:      req.Effect,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.permission.update", map[string]any{
		"permission_id":   p.ID,
		"organization_id": p.OrganizationID,
	})
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deletePermission(w http.ResponseWriter, r *http.Request) {
	current, ok := a.loadPermission(w, r, rbac.ActionDelete)
	if !ok {
		return
	}
	if err := a.core.Permissions.Delete(r.Context(), current.ID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.permission.delete", map[string]any{
		"permission_id":   current.ID,
		"organization_id": current.OrganizationID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- roles ---

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.authorize(w, r, req.OrganizationID, rbac.ResourceRoles, rbac.ActionCreate) {
		return
	}
	role, err := a.core.Roles.Create(r.Context(), rbac.CreateRoleInput{
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Code:           req.Code,
		Description:    req.Description,
		Color:          req.Color,
		Icon:           req.Icon,
		PermissionIDs:  req.PermissionIDs,
		IsSystem:       req.IsSystem,
		SystemRole:     req.SystemRole,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.create", map[string]any{
		"role_id":          role.ID,
		"organization_id":  role.OrganizationID,
		"code":             role.Code,
		"permission_count": len(role.PermissionIDs),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := rbac.RoleFilter{
		OrganizationID: q.Get("organization_id"),
		Search:         q.Get("search"),
		SortBy:         q.Get("sort_by"),
		Order:          rbac.SortOrder(q.Get("order")),
	}
	if v := q.Get("system_role"); v != "" {
		sr, err := rbac.ParseSystemRole(v)
		if err != nil {
			handleRBACError(w, r, err)
			return
		}
		f.SystemRole = sr
	}
	if !a.authorize(w, r, f.OrganizationID, rbac.ResourceRoles, rbac.ActionRead) {
		return
	}
	items, err := a.core.Roles.FindAll(r.Context(), f)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(items))
}

func (a *API) loadRole(w http.ResponseWriter, r *http.Request, action rbac.Action) (rbac.Role, bool) {
	role, err := a.core.Roles.FindByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleRBACError(w, r, err)
		return rbac.Role{}, false
	}
	if !a.authorize(w, r, role.OrganizationID, rbac.ResourceRoles, action) {
		return rbac.Role{}, false
	}
	return role, true
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	role, ok := a.loadRole(w, r, rbac.ActionRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) getRoleByCode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !a.authorize(w, r, vars["org"], rbac.ResourceRoles, rbac.ActionRead) {
		return
	}
	role, ok, err := a.core.Roles.FindByCode(r.Context(), vars["org"], vars["code"])
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("role code %q not found", vars["code"]))
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if !a.decode(w, r, &req) {
		return
	}
	current, ok := a.loadRole(w, r, rbac.ActionUpdate)
	if !ok {
		return
	}
	role, err := a.core.Roles.Update(r.Context(), current.ID, rbac.RoleUpdate{
		Name:          req.Name,
		Code:          req.Code,
		Description:   req.Description,
		Color:         req.Color,
		Icon:          req.Icon,
		PermissionIDs: req.PermissionIDs,
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.update", map[string]any{
		"role_id":          role.ID,
		"organization_id":  role.OrganizationID,
		"permission_count": len(role.PermissionIDs),
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	current, ok := a.loadRole(w, r, rbac.ActionDelete)
	if !ok {
		return
	}
	if err := a.core.Roles.Delete(r.Context(), current.ID); err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.role.delete", map[string]any{
		"role_id":         current.ID,
		"organization_id": current.OrganizationID,
		"code":            current.Code,
	})
	w.WriteHeader(http.StatusNoContent)
}
