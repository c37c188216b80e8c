// model/rbac.go
package model

import "time"

// Permission is a (resource, action) grant, optionally restricted by
// conditions and contextual restriction blocks. Identity for cache purposes
// is the resource:action pair; ID is the stable backend identifier.
type Permission struct {
	ID                   string                `json:"id"`
	Resource             string                `json:"resource"`
	Action               string                `json:"action"`
	Conditions           ConditionSet          `json:"conditions,omitempty"`
	TimeRestrictions     *TimeRestrictions     `json:"time_restrictions,omitempty"`
	LocationRestrictions *LocationRestrictions `json:"location_restrictions,omitempty"`
	RiskThreshold        *float64              `json:"risk_threshold,omitempty"`
	DeviceRestrictions   *DeviceRestrictions   `json:"device_restrictions,omitempty"`
}

// Key returns the cache key for this permission.
func (p Permission) Key() string {
	return p.Resource + ":" + p.Action
}

// TimeRestrictions limits a permission to a time-of-day window and,
// optionally, specific days of the week (0 = Sunday).
type TimeRestrictions struct {
	StartHour  int   `json:"start_hour"`
	EndHour    int   `json:"end_hour"`
	DaysOfWeek []int `json:"days_of_week,omitempty"`
}

// LocationRestrictions limits a permission to a circular geofence.
type LocationRestrictions struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusKm float64 `json:"radius_km"`
}

// DeviceRestrictions limits a permission to an allow-list of device types.
type DeviceRestrictions struct {
	AllowedTypes []string `json:"allowed_types"`
}

// Role aggregates permissions. Resolution walks the user's roles in
// assignment order; Priority is informational and carried through to
// resolved entries.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Priority    int          `json:"priority"`
	Permissions []Permission `json:"permissions"`
}

// UserRole binds a user to a role.
type UserRole struct {
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// UserPermission is a direct per-user grant. Direct grants take precedence
// over role-derived permissions for the same resource:action pair.
type UserPermission struct {
	UserID       string    `json:"user_id"`
	PermissionID string    `json:"permission_id"`
	IsGranted    bool      `json:"is_granted"`
	IsTemporary  bool      `json:"is_temporary"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Grant sources for a resolved permission.
const (
	SourceRole   = "role"
	SourceDirect = "direct"
)

// ResolvedPermission is a PermissionCache entry: a permission annotated with
// where it came from and, for direct grants, the grant flags.
type ResolvedPermission struct {
	Permission
	Source    string `json:"source"`
	RoleID    string `json:"role_id,omitempty"`
	RoleName  string `json:"role_name,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	Granted   bool   `json:"granted"`
	Temporary bool   `json:"temporary,omitempty"`
}

// UserAccessData is the identity backend's payload for one user.
type UserAccessData struct {
	Permissions     []Permission     `json:"permissions"`
	Roles           []Role           `json:"roles"`
	UserRoles       []UserRole       `json:"user_roles"`
	UserPermissions []UserPermission `json:"user_permissions"`
}

// Snapshot is the persistence-neutral record of the engine's backing data,
// serialized per session and rehydrated on startup.
type Snapshot struct {
	Permissions     []Permission     `json:"permissions"`
	Roles           []Role           `json:"roles"`
	UserRoles       []UserRole       `json:"user_roles"`
	UserPermissions []UserPermission `json:"user_permissions"`
	Context         EvalContext      `json:"context"`
	IsInitialized   bool             `json:"is_initialized"`
	LastSync        time.Time        `json:"last_sync"`
}
