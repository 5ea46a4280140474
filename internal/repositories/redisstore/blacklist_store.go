// Package redisstore keeps the IP blacklist in Redis so every API node sees bans at once.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "loginguard:ipblacklist:"
	indexKey  = "loginguard:ipblacklist:index"

	touchRetries = 3
)

// BlacklistStore stores each entry as JSON under its own key. Entries with an expiry
// get a matching Redis TTL; the index set is pruned by DeleteExpired.
type BlacklistStore struct {
	client redis.UniversalClient
}

// New creates a BlacklistStore on an existing client
func New(client redis.UniversalClient) *BlacklistStore {
	return &BlacklistStore{client: client}
}

// NewClient builds a client from the connection settings.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func entryKey(ip string) string {
	return keyPrefix + ip
}

func (s *BlacklistStore) Get(ctx context.Context, ip string) (*models.IPBlacklistEntry, error) {
	const op = "redisstore.Get"

	data, err := s.client.Get(ctx, entryKey(ip)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var entry models.IPBlacklistEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &entry, nil
}

func (s *BlacklistStore) Upsert(ctx context.Context, entry *models.IPBlacklistEntry) error {
	const op = "redisstore.Upsert"

	if existing, err := s.Get(ctx, entry.IPAddress); err == nil {
		entry.ID = existing.ID
	} else if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	key := entryKey(entry.IPAddress)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		if entry.ExpiresAt != nil {
			pipe.ExpireAt(ctx, key, *entry.ExpiresAt)
		}
		pipe.SAdd(ctx, indexKey, entry.IPAddress)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *BlacklistStore) Delete(ctx context.Context, ip string) (int64, error) {
	const op = "redisstore.Delete"

	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, entryKey(ip))
		pipe.SRem(ctx, indexKey, ip)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return del.Val(), nil
}

// DeleteIfExpired removes the entry for ip only if it is still expired at now. The key
// is watched so a ban written after the read survives.
func (s *BlacklistStore) DeleteIfExpired(ctx context.Context, ip string, now time.Time) (int64, error) {
	const op = "redisstore.DeleteIfExpired"

	key := entryKey(ip)
	var n int64
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		entry, err := readEntry(ctx, tx, key)
		if err != nil || entry == nil || !entry.IsExpired(now) {
			return err
		}
		var del *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, key)
			pipe.SRem(ctx, indexKey, ip)
			return nil
		})
		if err != nil {
			return err
		}
		n = del.Val()
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Entry changed under us; it is no longer the expired one we read.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Touch rewrites LastViolationAt in place, keeping the key's TTL. A concurrent write
// to the key aborts the attempt and it is retried.
func (s *BlacklistStore) Touch(ctx context.Context, ip string, at time.Time) (bool, error) {
	const op = "redisstore.Touch"

	key := entryKey(ip)
	for range touchRetries {
		touched := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			entry, err := readEntry(ctx, tx, key)
			if err != nil || entry == nil {
				return err
			}
			entry.LastViolationAt = at
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, data, redis.SetArgs{Mode: "XX", KeepTTL: true})
				return nil
			})
			if err != nil {
				return err
			}
			touched = true
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		return touched, nil
	}
	return false, fmt.Errorf("%s: %w", op, redis.TxFailedErr)
}

// readEntry returns nil, nil when the key is absent.
func readEntry(ctx context.Context, tx *redis.Tx, key string) (*models.IPBlacklistEntry, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry models.IPBlacklistEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *BlacklistStore) List(ctx context.Context) ([]*models.IPBlacklistEntry, error) {
	const op = "redisstore.List"

	ips, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(ips) == 0 {
		return []*models.IPBlacklistEntry{}, nil
	}

	keys := make([]string, len(ips))
	for i, ip := range ips {
		keys[i] = entryKey(ip)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	entries := make([]*models.IPBlacklistEntry, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Key expired before the index was pruned.
			continue
		}
		var entry models.IPBlacklistEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		entries = append(entries, &entry)
	}

	slices.SortFunc(entries, func(a, b *models.IPBlacklistEntry) int {
		return strings.Compare(a.IPAddress, b.IPAddress)
	})
	return entries, nil
}

// DeleteExpired removes lapsed entries and prunes index members whose key Redis has
// already expired.
func (s *BlacklistStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "redisstore.DeleteExpired"

	ips, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var n int64
	for _, ip := range ips {
		entry, err := s.Get(ctx, ip)
		switch {
		case errors.Is(err, models.ErrNotFound):
			if err := s.client.SRem(ctx, indexKey, ip).Err(); err != nil {
				return n, fmt.Errorf("%s: %w", op, err)
			}
			n++
		case err != nil:
			return n, err
		case entry.IsExpired(now):
			deleted, err := s.DeleteIfExpired(ctx, ip, now)
			if err != nil {
				return n, err
			}
			n += deleted
		}
	}
	return n, nil
}

// HealthCheck pings Redis for the /health endpoint.
func (s *BlacklistStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *BlacklistStore) Close() error {
	const op = "redisstore.Close"

	if err := s.client.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
