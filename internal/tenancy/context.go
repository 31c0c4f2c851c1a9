// Package tenancy carries the caller's organization, user and role through
// request contexts. Every scheduling operation is scoped by these values.
package tenancy

import "context"

type ctxKey string

const (
	orgKey  ctxKey = "allincompassing.org_id"
	userKey ctxKey = "allincompassing.user_id"
	roleKey ctxKey = "allincompassing.role"
)

// Role is the caller's resolved role within the organization.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleScheduler Role = "scheduler"
	RoleTherapist Role = "therapist"
)

// Valid reports whether the role is one the scheduler recognizes.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleScheduler, RoleTherapist:
		return true
	}
	return false
}

// CanManageOthers reports whether the role may act on sessions belonging to
// other therapists. Therapists are restricted to their own schedule.
func (r Role) CanManageOthers() bool {
	return r == RoleAdmin || r == RoleScheduler
}

// WithOrgID stores the org id in context.
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgKey, orgID)
}

// OrgIDFromContext extracts the org id if present.
func OrgIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(orgKey)
	if val == nil {
		return "", false
	}
	orgID, ok := val.(string)
	return orgID, ok && orgID != ""
}

// WithUserID stores the authenticated user id in context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

// UserIDFromContext extracts the user id if present.
func UserIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(userKey)
	if val == nil {
		return "", false
	}
	userID, ok := val.(string)
	return userID, ok && userID != ""
}

// WithRole stores the caller's role in context.
func WithRole(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, roleKey, role)
}

// RoleFromContext extracts the role if present.
func RoleFromContext(ctx context.Context) (Role, bool) {
	val := ctx.Value(roleKey)
	if val == nil {
		return "", false
	}
	role, ok := val.(Role)
	return role, ok && role.Valid()
}
