// rbac/engine.go
package rbac

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aria7-op/adcg-engine/audit"
	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/model"
)

// IdentityProvider fetches a user's roles, permissions and grants from the
// identity backend.
type IdentityProvider interface {
	FetchUserAccess(ctx context.Context, userID string) (*model.UserAccessData, error)
}

// SnapshotStore persists the engine's backing data between sessions.
type SnapshotStore interface {
	Save(ctx context.Context, sessionID string, snap model.Snapshot) error
	Load(ctx context.Context, sessionID string) (*model.Snapshot, error)
}

// Engine answers "can the current user do action on resource right now,
// given current context?" with a synchronous boolean, backed by a resolved
// permission cache and a contextual overlay derived from it.
type Engine struct {
	identity IdentityProvider
	store    SnapshotStore
	auditSvc audit.Service

	syncInterval time.Duration
	now          func() time.Time

	mu              sync.RWMutex
	permissionsByID map[string]model.Permission
	rolesByID       map[string]model.Role
	userRoles       []model.UserRole
	userPermissions []model.UserPermission
	cache           map[string]model.ResolvedPermission
	dynamic         map[string]model.ResolvedPermission
	context         model.EvalContext
	isInitialized   bool
	lastSync        time.Time

	syncStop chan struct{}
	loadGrp  singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithSyncInterval overrides the periodic permission sync interval.
func WithSyncInterval(d time.Duration) Option {
	return func(e *Engine) { e.syncInterval = d }
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a permission engine. The store may be nil, in which
// case no snapshot persistence happens.
func NewEngine(identity IdentityProvider, store SnapshotStore, auditSvc audit.Service, opts ...Option) *Engine {
	e := &Engine{
		identity:        identity,
		store:           store,
		auditSvc:        auditSvc,
		syncInterval:    30 * time.Second,
		now:             time.Now,
		permissionsByID: make(map[string]model.Permission),
		rolesByID:       make(map[string]model.Role),
		cache:           make(map[string]model.ResolvedPermission),
		dynamic:         make(map[string]model.ResolvedPermission),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize binds the engine to a session, rehydrates any persisted
// snapshot, loads fresh permissions, and starts the periodic sync loop.
// Calling it again tears down the previous sync loop first.
func (e *Engine) Initialize(ctx context.Context, userID, sessionID string) {
	e.mu.Lock()
	if e.syncStop != nil {
		close(e.syncStop)
		e.syncStop = nil
	}
	e.context.UserID = userID
	e.context.SessionID = sessionID
	e.context.Timestamp = e.now()
	e.context.IsActive = true
	e.mu.Unlock()

	e.rehydrate(ctx, sessionID)
	e.LoadUserPermissions(ctx, userID)

	stop := make(chan struct{})
	e.mu.Lock()
	e.syncStop = stop
	e.isInitialized = true
	e.mu.Unlock()

	go e.syncLoop(stop, userID)

	logger.Info("Permission engine initialized",
		zap.String("userID", userID),
		zap.String("sessionID", sessionID))
}

// Shutdown stops the sync loop and persists a final snapshot.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	if e.syncStop != nil {
		close(e.syncStop)
		e.syncStop = nil
	}
	e.isInitialized = false
	e.mu.Unlock()
	e.persist(ctx)
}

func (e *Engine) syncLoop(stop chan struct{}, userID string) {
	ticker := time.NewTicker(e.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			e.LoadUserPermissions(ctx, userID)
			cancel()
		case <-stop:
			return
		}
	}
}

// rehydrate installs a persisted snapshot, if one exists, and rebuilds the
// caches from it so decisions are available before the first fetch.
func (e *Engine) rehydrate(ctx context.Context, sessionID string) {
	if e.store == nil {
		return
	}
	snap, err := e.store.Load(ctx, sessionID)
	if err != nil {
		logger.Warn("Failed to load session snapshot", zap.Error(err), zap.String("sessionID", sessionID))
		return
	}
	if snap == nil {
		return
	}

	e.mu.Lock()
	e.installSnapshot(*snap)
	e.buildPermissionCache()
	e.updateDynamicPermissions()
	e.mu.Unlock()

	logger.Info("Session snapshot rehydrated",
		zap.String("sessionID", sessionID),
		zap.Time("lastSync", snap.LastSync))
}

func (e *Engine) installSnapshot(snap model.Snapshot) {
	perms := make(map[string]model.Permission, len(snap.Permissions))
	for _, p := range snap.Permissions {
		perms[p.ID] = p
	}
	roles := make(map[string]model.Role, len(snap.Roles))
	for _, r := range snap.Roles {
		roles[r.ID] = r
	}
	e.permissionsByID = perms
	e.rolesByID = roles
	e.userRoles = snap.UserRoles
	e.userPermissions = snap.UserPermissions
	e.lastSync = snap.LastSync
	// Session identity and liveness stay as set by Initialize; only the
	// environmental fields are restored.
	e.context.Location = snap.Context.Location
	e.context.Device = snap.Context.Device
	e.context.RiskScore = snap.Context.RiskScore
}

// LoadUserPermissions fetches the user's access data and atomically
// replaces the four backing collections on full success only. Transport
// failure is logged and leaves the previous (or empty, default-deny)
// state untouched. Concurrent calls are collapsed.
func (e *Engine) LoadUserPermissions(ctx context.Context, userID string) {
	_, _, _ = e.loadGrp.Do(userID, func() (interface{}, error) {
		data, err := e.identity.FetchUserAccess(ctx, userID)
		if err != nil {
			logger.Error("Failed to load user permissions",
				zap.Error(err),
				zap.String("userID", userID))
			return nil, nil
		}

		e.mu.Lock()
		perms := make(map[string]model.Permission, len(data.Permissions))
		for _, p := range data.Permissions {
			perms[p.ID] = p
		}
		roles := make(map[string]model.Role, len(data.Roles))
		for _, r := range data.Roles {
			roles[r.ID] = r
		}
		e.permissionsByID = perms
		e.rolesByID = roles
		e.userRoles = data.UserRoles
		e.userPermissions = data.UserPermissions
		e.lastSync = e.now()
		e.context.Timestamp = e.now()
		e.buildPermissionCache()
		e.updateDynamicPermissions()
		e.mu.Unlock()

		logger.Debug("User permissions loaded",
			zap.String("userID", userID),
			zap.Int("roles", len(roles)),
			zap.Int("permissions", len(perms)))

		e.persist(ctx)
		return nil, nil
	})
}

// UpdateContext applies a mutation to the evaluation context and recomputes
// the dynamic permission set. Stale decisions must never outlive a context
// change that could alter them.
func (e *Engine) UpdateContext(mutate func(*model.EvalContext)) {
	e.mu.Lock()
	mutate(&e.context)
	e.context.Timestamp = e.now()
	e.updateDynamicPermissions()
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.persist(ctx)
}

// SetLocation records a location fix from the environment observer.
func (e *Engine) SetLocation(loc *model.GeoPoint) {
	e.UpdateContext(func(c *model.EvalContext) { c.Location = loc })
}

// SetDevice records the client device description.
func (e *Engine) SetDevice(dev *model.DeviceInfo) {
	e.UpdateContext(func(c *model.EvalContext) { c.Device = dev })
}

// SetRiskScore records a risk score update.
func (e *Engine) SetRiskScore(score float64) {
	e.UpdateContext(func(c *model.EvalContext) { c.RiskScore = score })
}

// SetActive records a visibility change.
func (e *Engine) SetActive(active bool) {
	e.UpdateContext(func(c *model.EvalContext) { c.IsActive = active })
}

// Context returns a copy of the current evaluation context.
func (e *Engine) Context() model.EvalContext {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.context
}

// CheckPermission decides whether the current user may perform action on
// resource right now. Absent cache entries deny. A normal "no permission"
// outcome is a boolean false, never an error.
func (e *Engine) CheckPermission(resource, action string, extra map[string]interface{}) bool {
	e.mu.RLock()
	entry, ok := e.dynamic[resource+":"+action]
	evalCtx := e.context
	e.mu.RUnlock()

	granted, reason := e.decide(entry, ok, evalCtx, extra)

	if e.auditSvc != nil {
		e.auditSvc.LogAccess(context.Background(), evalCtx.UserID, resource, action, granted, reason, evalCtx)
	}
	return granted
}

func (e *Engine) decide(entry model.ResolvedPermission, found bool, evalCtx model.EvalContext, extra map[string]interface{}) (bool, string) {
	if !found {
		return false, "no matching permission"
	}
	if entry.Source == model.SourceDirect && !entry.Granted {
		return false, "denied by direct grant"
	}
	if len(entry.Conditions) > 0 {
		merged := evalCtx.AsMap()
		for k, v := range extra {
			merged[k] = v
		}
		if !EvaluateConditions(entry.Conditions, merged) {
			return false, "condition failed"
		}
	}
	if !entry.Granted {
		return false, "restricted by context"
	}
	return true, ""
}

// HasRole reports whether the current user holds the named role.
func (e *Engine) HasRole(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ur := range e.userRoles {
		if role, ok := e.rolesByID[ur.RoleID]; ok && role.Name == name {
			return true
		}
	}
	return false
}

// Roles returns the roles currently assigned to the user.
func (e *Engine) Roles() []model.Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Role, 0, len(e.userRoles))
	for _, ur := range e.userRoles {
		if role, ok := e.rolesByID[ur.RoleID]; ok {
			out = append(out, role)
		}
	}
	return out
}

// LastSync returns the time of the last successful permission load.
func (e *Engine) LastSync() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// IsInitialized reports whether Initialize has completed for this session.
func (e *Engine) IsInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isInitialized
}

func (e *Engine) persist(ctx context.Context) {
	if e.store == nil {
		return
	}

	e.mu.RLock()
	snap := model.Snapshot{
		Permissions:     make([]model.Permission, 0, len(e.permissionsByID)),
		Roles:           make([]model.Role, 0, len(e.rolesByID)),
		UserRoles:       append([]model.UserRole(nil), e.userRoles...),
		UserPermissions: append([]model.UserPermission(nil), e.userPermissions...),
		Context:         e.context,
		IsInitialized:   e.isInitialized,
		LastSync:        e.lastSync,
	}
	for _, p := range e.permissionsByID {
		snap.Permissions = append(snap.Permissions, p)
	}
	for _, r := range e.rolesByID {
		snap.Roles = append(snap.Roles, r)
	}
	sessionID := e.context.SessionID
	e.mu.RUnlock()

	if sessionID == "" {
		return
	}
	if err := e.store.Save(ctx, sessionID, snap); err != nil {
		logger.Warn("Failed to persist session snapshot", zap.Error(err), zap.String("sessionID", sessionID))
	}
}
