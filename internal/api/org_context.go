package api

import (
	"context"
	"net/http"
	"strings"
)

// Headers carrying the caller's identity. Authentication happens upstream;
// the API only requires that both are present.
const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderUserID         = "X-User-ID"
)

// OrgContextKey is the key for storing organization context
type OrgContextKey struct{}

// UserContextKey is the key for storing user context
type UserContextKey struct{}

// OrganizationContext holds the tenant every query is scoped to.
type OrganizationContext struct {
	ID string
}

// UserContext holds the acting operator.
type UserContext struct {
	ID string
}

// RequireOrgContext rejects requests without both identity headers and
// stores them on the request context.
func RequireOrgContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.Header.Get(HeaderOrganizationID))
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if orgID == "" || userID == "" {
			respondError(w, http.StatusUnauthorized, "missing "+HeaderOrganizationID+" or "+HeaderUserID+" header")
			return
		}
		ctx := context.WithValue(r.Context(), OrgContextKey{}, &OrganizationContext{ID: orgID})
		ctx = context.WithValue(ctx, UserContextKey{}, &UserContext{ID: userID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetOrgID returns the organization id stored by RequireOrgContext.
func GetOrgID(r *http.Request) string {
	if org, ok := r.Context().Value(OrgContextKey{}).(*OrganizationContext); ok {
		return org.ID
	}
	return ""
}

// GetUserID returns the user id stored by RequireOrgContext.
func GetUserID(r *http.Request) string {
	if u, ok := r.Context().Value(UserContextKey{}).(*UserContext); ok {
		return u.ID
	}
	return ""
}
