package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"brewline.io/internal/rbac"
)

type assignRoleRequest struct {
	UserID         string     `json:"user_id" validate:"required,max=128"`
	RoleID         string     `json:"role_id" validate:"required,max=128"`
	OrganizationID string     `json:"organization_id" validate:"required,max=128"`
	LocationIDs    []string   `json:"location_ids" validate:"max=500"`
	ValidFrom      *time.Time `json:"valid_from"`
	ValidUntil     *time.Time `json:"valid_until"`
	AssignedBy     string     `json:"assigned_by" validate:"max=128"`
}

type revokeRequest struct {
	RevokedBy string `json:"revoked_by" validate:"max=128"`
}

type checkRequest struct {
	UserID         string        `json:"user_id" validate:"required,max=128"`
	OrganizationID string        `json:"organization_id" validate:"required,max=128"`
	Resource       rbac.Resource `json:"resource" validate:"required"`
	Action         rbac.Action   `json:"action" validate:"required"`
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.authorize(w, r, req.OrganizationID, rbac.ResourceEmployees, rbac.ActionUpdate) {
		return
	}
	ur, err := a.core.Assignments.Assign(r.Context(), rbac.AssignInput{
		UserID:         req.UserID,
		RoleID:         req.RoleID,
		OrganizationID: req.OrganizationID,
		LocationIDs:    req.LocationIDs,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		AssignedBy:     actor(r.Context(), req.AssignedBy),
	})
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.assignment.assign", map[string]any{
		"assignment_id":   ur.ID,
		"user_id":         ur.UserID,
		"role_id":         ur.RoleID,
		"organization_id": ur.OrganizationID,
		"assigned_by":     ur.AssignedBy,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/assignments/%s", ur.ID))
	writeJSON(w, http.StatusCreated, ur)
}

func (a *API) listAssignments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := rbac.AssignmentFilter{
		UserID:         q.Get("user_id"),
		RoleID:         q.Get("role_id"),
		OrganizationID: q.Get("organization_id"),
		LocationID:     q.Get("location_id"),
	}
	if v := q.Get("include_revoked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "include_revoked must be a boolean")
			return
		}
		f.IncludeRevoked = b
	}
	if !a.authorize(w, r, f.OrganizationID, rbac.ResourceEmployees, rbac.ActionRead) {
		return
	}
	items, err := a.core.Assignments.FindAll(r.Context(), f)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(items))
}

func (a *API) loadAssignment(w http.ResponseWriter, r *http.Request, action rbac.Action) (rbac.UserRole, bool) {
	ur, err := a.core.Assignments.FindByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleRBACError(w, r, err)
		return rbac.UserRole{}, false
	}
	if !a.authorize(w, r, ur.OrganizationID, rbac.ResourceEmployees, action) {
		return rbac.UserRole{}, false
	}
	return ur, true
}

func (a *API) getAssignment(w http.ResponseWriter, r *http.Request) {
	ur, ok := a.loadAssignment(w, r, rbac.ActionRead)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ur)
}

func (a *API) revokeAssignment(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	current, ok := a.loadAssignment(w, r, rbac.ActionUpdate)
	if !ok {
		return
	}
	ur, err := a.core.Assignments.Revoke(r.Context(), current.ID, actor(r.Context(), req.RevokedBy))
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.assignment.revoke", map[string]any{
		"assignment_id":   ur.ID,
		"user_id":         ur.UserID,
		"role_id":         ur.RoleID,
		"organization_id": ur.OrganizationID,
		"revoked_by":      ur.RevokedBy,
	})
	writeJSON(w, http.StatusOK, ur)
}

func (a *API) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !a.decode(w, r, &req) {
		return
	}
	if !a.authorizeSelf(w, r, req.OrganizationID, req.UserID) {
		return
	}
	res, err := a.core.Resolver.Check(r.Context(), req.UserID, req.OrganizationID, req.Resource, req.Action)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) userPermissions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !a.authorizeSelf(w, r, vars["org"], vars["user"]) {
		return
	}
	perms, err := a.core.Resolver.UserPermissions(r.Context(), vars["user"], vars["org"])
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(perms))
}

func (a *API) provision(w http.ResponseWriter, r *http.Request) {
	org := mux.Vars(r)["org"]
	if !a.authorize(w, r, org, rbac.ResourceRoles, rbac.ActionCreate) {
		return
	}
	res, err := a.core.Provision(r.Context(), org)
	if err != nil {
		handleRBACError(w, r, err)
		return
	}
	a.audit(r.Context(), "rbac.organization.provision", map[string]any{
		"organization_id":     res.OrganizationID,
		"permissions_created": res.PermissionsCreated,
		"role_count":          len(res.Roles),
	})
	writeJSON(w, http.StatusOK, res)
}
