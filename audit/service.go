// audit/service.go
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/model"
)

type Service interface {
	LogAccess(ctx context.Context, userID, resource, action string, granted bool, reason string, evalCtx model.EvalContext)
	Recent(limit int) []AccessLogEntry
	QueryLogs(ctx context.Context, from, to time.Time, userID, resource string) ([]AccessLogEntry, error)
}

// service keeps a bounded in-memory log and forwards every entry to the
// external collector fire-and-forget. Collector failures never reach the
// caller.
type service struct {
	repo Repository

	mu      sync.RWMutex
	entries []AccessLogEntry
	maxSize int
}

func NewService(repo Repository, maxSize int) Service {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &service{repo: repo, maxSize: maxSize}
}

func (s *service) LogAccess(ctx context.Context, userID, resource, action string, granted bool, reason string, evalCtx model.EvalContext) {
	entry := AccessLogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		UserID:    userID,
		Resource:  resource,
		Action:    action,
		Granted:   granted,
		Reason:    reason,
		Context:   evalCtx,
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	if len(s.entries) > s.maxSize {
		s.entries = s.entries[len(s.entries)-s.maxSize:]
	}
	s.mu.Unlock()

	if s.repo == nil {
		return
	}

	go func() {
		fwdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.repo.LogAccess(fwdCtx, entry); err != nil {
			logger.Warn("Failed to forward access log entry",
				zap.Error(err),
				zap.String("entryID", entry.ID),
				zap.String("resource", resource),
				zap.String("action", action))
		}
	}()
}

func (s *service) Recent(limit int) []AccessLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]AccessLogEntry, limit)
	copy(out, s.entries[len(s.entries)-limit:])
	return out
}

func (s *service) QueryLogs(ctx context.Context, from, to time.Time, userID, resource string) ([]AccessLogEntry, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.QueryLogs(ctx, from, to, userID, resource)
}
