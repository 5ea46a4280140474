package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
)

// BlacklistStore keeps IP bans in a map keyed by address
type BlacklistStore struct {
	mu      sync.RWMutex
	entries map[string]*models.IPBlacklistEntry
}

// NewBlacklistStore creates an empty BlacklistStore
func NewBlacklistStore() *BlacklistStore {
	return &BlacklistStore{entries: make(map[string]*models.IPBlacklistEntry)}
}

func (s *BlacklistStore) Get(_ context.Context, ip string) (*models.IPBlacklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[ip]
	if !ok {
		return nil, models.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *BlacklistStore) Upsert(_ context.Context, entry *models.IPBlacklistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := entry.Clone()
	if existing, ok := s.entries[entry.IPAddress]; ok {
		stored.ID = existing.ID
	}
	s.entries[entry.IPAddress] = stored
	return nil
}

func (s *BlacklistStore) Delete(_ context.Context, ip string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[ip]; !ok {
		return 0, nil
	}
	delete(s.entries, ip)
	return 1, nil
}

func (s *BlacklistStore) DeleteIfExpired(_ context.Context, ip string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ip]
	if !ok || !e.IsExpired(now) {
		return 0, nil
	}
	delete(s.entries, ip)
	return 1, nil
}

func (s *BlacklistStore) Touch(_ context.Context, ip string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ip]
	if !ok {
		return false, nil
	}
	e.LastViolationAt = at
	return true, nil
}

func (s *BlacklistStore) List(_ context.Context) ([]*models.IPBlacklistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.IPBlacklistEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	slices.SortFunc(out, func(a, b *models.IPBlacklistEntry) int {
		return strings.Compare(a.IPAddress, b.IPAddress)
	})
	return out, nil
}

func (s *BlacklistStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for ip, e := range s.entries {
		if e.IsExpired(now) {
			delete(s.entries, ip)
			n++
		}
	}
	return n, nil
}
