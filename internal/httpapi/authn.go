package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"brewline.io/internal/auth"
	"brewline.io/internal/rbac"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a.signer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="brewline"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		principal, err := a.signer.ParseAndValidate(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="brewline", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// authorize checks that the caller may perform action on resource inside the
// organization. Platform admins pass; everybody else is resolved through the
// RBAC core like any other user. On refusal the response is already written.
func (a *API) authorize(w http.ResponseWriter, r *http.Request, organizationID string, resource rbac.Resource, action rbac.Action) bool {
	if a.signer == nil {
		return true
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if principal.IsPlatformAdmin() {
		return true
	}
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		writeError(w, r, http.StatusForbidden, "organization_id is required")
		return false
	}
	res, err := a.core.Resolver.Check(r.Context(), principal.UserID, organizationID, resource, action)
	if err != nil {
		handleRBACError(w, r, err)
		return false
	}
	if !res.Allowed {
		writeErrorDetails(w, r, http.StatusForbidden, "forbidden", map[string]string{
			"required": string(resource) + ":" + string(action),
			"reason":   res.Reason,
		})
		return false
	}
	return true
}

// authorizeSelf lets callers read their own decisions without holding
// EMPLOYEES:READ.
func (a *API) authorizeSelf(w http.ResponseWriter, r *http.Request, organizationID, userID string) bool {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.UserID == strings.TrimSpace(userID) {
		return true
	}
	return a.authorize(w, r, organizationID, rbac.ResourceEmployees, rbac.ActionRead)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
