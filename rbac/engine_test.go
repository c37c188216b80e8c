// rbac/engine_test.go
package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aria7-op/adcg-engine/model"
)

type stubIdentity struct {
	mu    sync.Mutex
	data  *model.UserAccessData
	err   error
	calls int
}

func (s *stubIdentity) FetchUserAccess(ctx context.Context, userID string) (*model.UserAccessData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

type memStore struct {
	mu    sync.Mutex
	snaps map[string]model.Snapshot
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]model.Snapshot)}
}

func (m *memStore) Save(ctx context.Context, sessionID string, snap model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[sessionID] = snap
	return nil
}

func (m *memStore) Load(ctx context.Context, sessionID string) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[sessionID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func riskPtr(f float64) *float64 { return &f }

// testAccessData builds the fixture: two roles both granting task:create
// (the second behind a device restriction, so first-writer-wins is
// observable), plus contextual and conditional permissions.
func testAccessData() *model.UserAccessData {
	taskCreate := model.Permission{ID: "p1", Resource: "task", Action: "create"}
	taskCreateRestricted := model.Permission{
		ID: "p2", Resource: "task", Action: "create",
		DeviceRestrictions: &model.DeviceRestrictions{AllowedTypes: []string{"hologram"}},
	}
	reportRead := model.Permission{
		ID: "p3", Resource: "report", Action: "read",
		TimeRestrictions: &model.TimeRestrictions{StartHour: 9, EndHour: 17},
	}
	invoiceRead := model.Permission{
		ID: "p4", Resource: "invoice", Action: "read",
		DeviceRestrictions: &model.DeviceRestrictions{AllowedTypes: []string{"desktop"}},
	}
	exportCreate := model.Permission{
		ID: "p5", Resource: "export", Action: "create",
		RiskThreshold: riskPtr(0.5),
	}
	leadUpdate := model.Permission{
		ID: "p6", Resource: "lead", Action: "update",
		Conditions: model.ConditionSet{{Path: "department", Operator: model.OpEquals, Value: "sales"}},
	}
	officeDelete := model.Permission{
		ID: "p7", Resource: "archive", Action: "delete",
		LocationRestrictions: &model.LocationRestrictions{Lat: 40.0, Lng: -74.0, RadiusKm: 10},
	}

	return &model.UserAccessData{
		Permissions: []model.Permission{taskCreate, taskCreateRestricted, reportRead, invoiceRead, exportCreate, leadUpdate, officeDelete},
		Roles: []model.Role{
			{ID: "r1", Name: "editor", Priority: 1, Permissions: []model.Permission{taskCreate, reportRead, invoiceRead, exportCreate, leadUpdate, officeDelete}},
			{ID: "r2", Name: "viewer", Priority: 10, Permissions: []model.Permission{taskCreateRestricted}},
		},
		UserRoles: []model.UserRole{
			{UserID: "u1", RoleID: "r1"},
			{UserID: "u1", RoleID: "r2"},
		},
	}
}

func newTestEngine(t *testing.T, identity *stubIdentity, clock *time.Time) *Engine {
	t.Helper()
	engine := NewEngine(identity, nil, nil, WithClock(func() time.Time { return *clock }))
	engine.LoadUserPermissions(context.Background(), "u1")
	return engine
}

func TestCheckPermission(t *testing.T) {
	workHour := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	t.Run("DefaultDeny", func(t *testing.T) {
		clock := workHour
		engine := newTestEngine(t, &stubIdentity{data: testAccessData()}, &clock)

		assert.False(t, engine.CheckPermission("vault", "open", nil))
	})

	t.Run("RoleGrant", func(t *testing.T) {
		clock := workHour
		engine := newTestEngine(t, &stubIdentity{data: testAccessData()}, &clock)

		assert.True(t, engine.CheckPermission("task", "create", nil))
	})

	t.Run("FirstRoleWins", func(t *testing.T) {
		// r1 grants task:create unrestricted; r2 grants the same pair
		// behind an impossible device restriction. The first assigned
		// role must win, so the check passes.
		clock := workHour
		engine := newTestEngine(t, &stubIdentity{data: testAccessData()}, &clock)

		assert.True(t, engine.CheckPermission("task", "create", nil))
	})

	t.Run("DirectOverrideWins", func(t *testing.T) {
		clock := workHour
		data := testAccessData()
		data.UserPermissions = []model.UserPermission{
			{UserID: "u1", PermissionID: "p1", IsGranted: false},
		}
		engine := newTestEngine(t, &stubIdentity{data: data}, &clock)

		assert.False(t, engine.CheckPermission("task", "create", nil))
	})

	t.Run("DirectGrantAddsPermission", func(t *testing.T) {
		clock := workHour
		data := testAccessData()
		data.Permissions = append(data.Permissions, model.Permission{ID: "p9", Resource: "vault", Action: "open"})
		data.UserPermissions = []model.UserPermission{
			{UserID: "u1", PermissionID: "p9", IsGranted: true, IsTemporary: true},
		}
		engine := newTestEngine(t, &stubIdentity{data: data}, &clock)

		assert.True(t, engine.CheckPermission("vault", "open", nil))
	})

	t.Run("TimeRestriction", func(t *testing.T) {
		clock := workHour
		engine := newTestEngine(t, &stubIdentity{data: testAccessData()}, &clock)

		assert.True(t, engine.CheckPermission("report", "read", nil))

		clock = time.Date(2024, 6, 3, 20, 0, 0, 0, time.UTC)
		engine.UpdateContext(func(*model.EvalContext) {})

		assert.False(t, engine.CheckPermission("report", "read", nil))
	})

	t.Run("DeviceRestriction", func(t *testing.T) {
		clock := workHour
		engine := newTestEngine(t, &stubIdentity{data: testAccessData()}, &clock)

		// No device fix at all fails the allow-list.
		assert.False(t, engine.CheckPermission("invoice", "read", nil))

		engine.SetDevice(&model.DeviceInfo{Type: "desktop"})
		assert.True(t, engine.CheckPermission("invoice", "read", nil))

		engine.SetDevice(&model.DeviceInfo{Type: "mobile"})
		assert.False(t, engine.CheckPermission("invoice", "read", nil))
	})

	t.Run("RiskThreshold", func(t *testing.T) {
		clock := workHour
		engine := newTestEngine(t, &stubIdentity{data: testAccessData()}, &clock)

		engine.SetRiskScore(0.2)
		assert.True(t, engine.CheckPermission("export", "create", nil))

		engine.SetRiskScore(0.9)
		assert.False(t, engine.CheckPermission("export", "create", nil))
	})

	t.Run("Geofence", func(t *testing.T) {
		clock := workHour
		engine := newTestEngine(t, &stubIdentity{data: testAccessData()}, &clock)

		engine.SetLocation(&model.GeoPoint{Lat: 40.01, Lng: -74.01})
		assert.True(t, engine.CheckPermission("archive", "delete", nil))

		engine.SetLocation(&model.GeoPoint{Lat: 41.5, Lng: -74.0})
		assert.False(t, engine.CheckPermission("archive", "delete", nil))
	})

	t.Run("ConditionsWithExtraContext", func(t *testing.T) {
		clock := workHour
		engine := newTestEngine(t, &stubIdentity{data: testAccessData()}, &clock)

		assert.False(t, engine.CheckPermission("lead", "update", nil))
		assert.True(t, engine.CheckPermission("lead", "update", map[string]interface{}{"department": "sales"}))
		assert.False(t, engine.CheckPermission("lead", "update", map[string]interface{}{"department": "legal"}))
	})
}

func TestLoadUserPermissionsFailure(t *testing.T) {
	clock := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	t.Run("FailureLeavesDefaultDeny", func(t *testing.T) {
		identity := &stubIdentity{err: errors.New("connection refused")}
		engine := newTestEngine(t, identity, &clock)

		assert.False(t, engine.CheckPermission("task", "create", nil))
	})

	t.Run("FailureKeepsPreviousState", func(t *testing.T) {
		identity := &stubIdentity{data: testAccessData()}
		engine := newTestEngine(t, identity, &clock)
		assert.True(t, engine.CheckPermission("task", "create", nil))

		identity.mu.Lock()
		identity.err = errors.New("connection refused")
		identity.mu.Unlock()

		engine.LoadUserPermissions(context.Background(), "u1")
		assert.True(t, engine.CheckPermission("task", "create", nil))
	})
}

func TestHasRole(t *testing.T) {
	clock := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, &stubIdentity{data: testAccessData()}, &clock)

	assert.True(t, engine.HasRole("editor"))
	assert.True(t, engine.HasRole("viewer"))
	assert.False(t, engine.HasRole("admin"))
	assert.Len(t, engine.Roles(), 2)
}

func TestCheckUIPermission(t *testing.T) {
	clock := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	engine := newTestEngine(t, &stubIdentity{data: testAccessData()}, &clock)

	assert.True(t, engine.CheckUIPermission("tasks:create"))
	assert.False(t, engine.CheckUIPermission("users:delete"))
	assert.False(t, engine.CheckUIPermission("nonsense:token"))
}

func TestSnapshotRehydration(t *testing.T) {
	clock := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	store := newMemStore()

	// First session loads from the backend and persists.
	identity := &stubIdentity{data: testAccessData()}
	first := NewEngine(identity, store, nil,
		WithClock(func() time.Time { return clock }),
		WithSyncInterval(time.Hour))
	first.Initialize(context.Background(), "u1", "sess-1")
	assert.True(t, first.CheckPermission("task", "create", nil))
	first.Shutdown(context.Background())

	// Second session rehydrates even though the backend is down.
	second := NewEngine(&stubIdentity{err: errors.New("backend down")}, store, nil,
		WithClock(func() time.Time { return clock }),
		WithSyncInterval(time.Hour))
	second.Initialize(context.Background(), "u1", "sess-1")
	defer second.Shutdown(context.Background())

	assert.True(t, second.CheckPermission("task", "create", nil))
	assert.True(t, second.IsInitialized())
}

func TestInitializeTwiceReplacesSyncLoop(t *testing.T) {
	clock := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	identity := &stubIdentity{data: testAccessData()}
	engine := NewEngine(identity, nil, nil,
		WithClock(func() time.Time { return clock }),
		WithSyncInterval(10 * time.Millisecond))

	engine.Initialize(context.Background(), "u1", "sess-1")
	engine.Initialize(context.Background(), "u1", "sess-2")
	defer engine.Shutdown(context.Background())

	assert.True(t, engine.CheckPermission("task", "create", nil))
	assert.Equal(t, "sess-2", engine.Context().SessionID)
}
