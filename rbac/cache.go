// rbac/cache.go
package rbac

import (
	"go.uber.org/zap"

	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/model"
)

// buildPermissionCache resolves the backing data into the resource:action
// cache. Construction is deterministic: user roles are walked in assignment
// order and the first role to grant a given resource:action pair wins
// (later roles never overwrite, regardless of priority). Direct user
// grants then unconditionally overwrite any role-derived entry for the
// same key, carrying the grant flags.
//
// After this returns, every entry reflects either exactly one role's
// permission or a direct override, never a mix. Caller holds the write lock.
func (e *Engine) buildPermissionCache() {
	cache := make(map[string]model.ResolvedPermission)

	for _, ur := range e.userRoles {
		role, ok := e.rolesByID[ur.RoleID]
		if !ok {
			logger.Warn("User role references unknown role", zap.String("roleID", ur.RoleID))
			continue
		}
		for _, perm := range role.Permissions {
			key := perm.Key()
			if _, exists := cache[key]; exists {
				continue
			}
			cache[key] = model.ResolvedPermission{
				Permission: perm,
				Source:     model.SourceRole,
				RoleID:     role.ID,
				RoleName:   role.Name,
				Priority:   role.Priority,
				Granted:    true,
			}
		}
	}

	for _, up := range e.userPermissions {
		perm, ok := e.permissionsByID[up.PermissionID]
		if !ok {
			logger.Warn("Direct grant references unknown permission", zap.String("permissionID", up.PermissionID))
			continue
		}
		cache[perm.Key()] = model.ResolvedPermission{
			Permission: perm,
			Source:     model.SourceDirect,
			Granted:    up.IsGranted,
			Temporary:  up.IsTemporary,
		}
	}

	e.cache = cache
}

// updateDynamicPermissions derives the contextual cache by applying the
// restriction blocks of every cached permission against the current
// context. Recomputed whenever either the cache or the context changes.
// Caller holds the write lock.
func (e *Engine) updateDynamicPermissions() {
	dynamic := make(map[string]model.ResolvedPermission, len(e.cache))
	for key, perm := range e.cache {
		entry := perm
		if entry.Granted && !applyRestrictions(entry, e.context) {
			entry.Granted = false
		}
		dynamic[key] = entry
	}
	e.dynamic = dynamic
}
