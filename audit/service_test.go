// audit/service_test.go
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/model"
)

func init() {
	logger.InitTestLogger()
}

type stubRepo struct {
	mu      sync.Mutex
	entries []AccessLogEntry
	err     error
}

func (r *stubRepo) LogAccess(ctx context.Context, entry AccessLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *stubRepo) QueryLogs(ctx context.Context, from, to time.Time, userID, resource string) ([]AccessLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]AccessLogEntry(nil), r.entries...)
	return out, r.err
}

func (r *stubRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestLogAccessRecordsAndForwards(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, 10)

	svc.LogAccess(context.Background(), "u1", "task", "create", true, "", model.EvalContext{UserID: "u1"})

	recent := svc.Recent(0)
	assert.Len(t, recent, 1)
	assert.Equal(t, "u1", recent[0].UserID)
	assert.Equal(t, "task", recent[0].Resource)
	assert.True(t, recent[0].Granted)
	assert.NotEmpty(t, recent[0].ID)

	assert.Eventually(t, func() bool {
		return repo.count() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRecentIsBounded(t *testing.T) {
	svc := NewService(nil, 5)

	for i := 0; i < 8; i++ {
		svc.LogAccess(context.Background(), "u1", fmt.Sprintf("r%d", i), "view", true, "", model.EvalContext{})
	}

	recent := svc.Recent(0)
	assert.Len(t, recent, 5)
	// Oldest entries were evicted; the newest survive in order.
	assert.Equal(t, "r3", recent[0].Resource)
	assert.Equal(t, "r7", recent[4].Resource)

	assert.Len(t, svc.Recent(2), 2)
	assert.Equal(t, "r7", svc.Recent(2)[1].Resource)
}

func TestCollectorFailureNeverReachesCaller(t *testing.T) {
	repo := &stubRepo{err: errors.New("collector down")}
	svc := NewService(repo, 10)

	assert.NotPanics(t, func() {
		svc.LogAccess(context.Background(), "u1", "task", "create", false, "denied", model.EvalContext{})
	})

	// The local ring still records the entry despite the forward failure.
	assert.Eventually(t, func() bool {
		return len(svc.Recent(0)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueryLogsDelegatesToRepo(t *testing.T) {
	repo := &stubRepo{entries: []AccessLogEntry{{ID: "a1", UserID: "u1"}}}
	svc := NewService(repo, 10)

	got, err := svc.QueryLogs(context.Background(), time.Time{}, time.Now(), "u1", "")
	assert.NoError(t, err)
	assert.Len(t, got, 1)

	// Without a collector, historical queries are simply empty.
	svc = NewService(nil, 10)
	got, err = svc.QueryLogs(context.Background(), time.Time{}, time.Now(), "u1", "")
	assert.NoError(t, err)
	assert.Nil(t, got)
}
