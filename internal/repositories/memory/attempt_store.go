// Package memory holds single-node stores used for tests and for running without Postgres.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/clock"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/google/uuid"
)

type attemptKey struct {
	identifier string
	clientIP   string
}

// AttemptStore keeps attempt records in a map guarded by one mutex. Upsert holds the
// mutex across the callback so concurrent failures for a key are never lost.
type AttemptStore struct {
	mu      sync.Mutex
	records map[attemptKey]*models.AttemptRecord
	clock   clock.Clock
}

// NewAttemptStore creates an empty AttemptStore
func NewAttemptStore(clk clock.Clock) *AttemptStore {
	return &AttemptStore{
		records: make(map[attemptKey]*models.AttemptRecord),
		clock:   clk,
	}
}

func (s *AttemptStore) Get(_ context.Context, identifier, clientIP string) (*models.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[attemptKey{identifier, clientIP}]
	if !ok {
		return nil, models.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *AttemptStore) Upsert(ctx context.Context, identifier, clientIP string, fn func(rec *models.AttemptRecord) error) (*models.AttemptRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	key := attemptKey{identifier, clientIP}

	var working *models.AttemptRecord
	if existing, ok := s.records[key]; ok {
		working = existing.Clone()
	} else {
		working = &models.AttemptRecord{
			ID:         uuid.NewString(),
			Identifier: identifier,
			ClientIP:   clientIP,
			LockLevel:  models.LockLevelNone,
			CreatedAt:  now,
		}
	}

	if err := fn(working); err != nil {
		return nil, err
	}
	working.UpdatedAt = now
	s.records[key] = working

	return working.Clone(), nil
}

func (s *AttemptStore) ListByIdentifier(_ context.Context, identifier string) ([]*models.AttemptRecord, error) {
	return s.filter(func(r *models.AttemptRecord) bool {
		return r.Identifier == identifier
	}), nil
}

func (s *AttemptStore) ListByClientIP(_ context.Context, clientIP string, since time.Time) ([]*models.AttemptRecord, error) {
	return s.filter(func(r *models.AttemptRecord) bool {
		return r.ClientIP == clientIP && !r.LastAttemptAt.Before(since)
	}), nil
}

func (s *AttemptStore) ListLocked(_ context.Context, now time.Time) ([]*models.AttemptRecord, error) {
	return s.filter(func(r *models.AttemptRecord) bool {
		return r.IsLocked(now)
	}), nil
}

func (s *AttemptStore) ResetByIdentifier(_ context.Context, identifier string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var n int64
	for key, rec := range s.records {
		if key.identifier != identifier {
			continue
		}
		rec.Clear()
		rec.UpdatedAt = now
		n++
	}
	return n, nil
}

func (s *AttemptStore) Delete(_ context.Context, identifier, clientIP string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key := range s.records {
		if key.identifier == identifier && (clientIP == "" || key.clientIP == clientIP) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

func (s *AttemptStore) DeleteStale(_ context.Context, olderThan, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, rec := range s.records {
		if rec.LastAttemptAt.Before(olderThan) && !rec.IsLocked(now) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (s *AttemptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *AttemptStore) filter(keep func(*models.AttemptRecord) bool) []*models.AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.AttemptRecord, 0)
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.AttemptRecord) int {
		if c := strings.Compare(a.Identifier, b.Identifier); c != 0 {
			return c
		}
		return strings.Compare(a.ClientIP, b.ClientIP)
	})
	return out
}
