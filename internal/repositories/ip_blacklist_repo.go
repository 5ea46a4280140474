package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/jackc/pgx/v5"
)

const blacklistColumns = `
	id::text, ip_address, reason, blacklist_type, created_by, created_at, expires_at, last_violation_at`

// IPBlacklistRepository stores IP bans in Postgres
type IPBlacklistRepository struct {
	db *database.DB
}

// NewIPBlacklistRepository creates a new IPBlacklistRepository
func NewIPBlacklistRepository(db *database.DB) *IPBlacklistRepository {
	return &IPBlacklistRepository{db: db}
}

func scanBlacklistRow(row rowScanner) (*models.IPBlacklistEntry, error) {
	var e models.IPBlacklistEntry
	var blacklistType string

	err := row.Scan(
		&e.ID, &e.IPAddress, &e.Reason, &blacklistType, &e.CreatedBy,
		&e.CreatedAt, &e.ExpiresAt, &e.LastViolationAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	e.BlacklistType = models.BlacklistType(blacklistType)
	e.CreatedAt = e.CreatedAt.UTC()
	e.LastViolationAt = e.LastViolationAt.UTC()
	if e.ExpiresAt != nil {
		t := e.ExpiresAt.UTC()
		e.ExpiresAt = &t
	}
	return &e, nil
}

func scanBlacklistRows(rows pgx.Rows) ([]*models.IPBlacklistEntry, error) {
	defer rows.Close()

	entries := make([]*models.IPBlacklistEntry, 0)
	for rows.Next() {
		e, err := scanBlacklistRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blacklist entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blacklist rows: %w", err)
	}
	return entries, nil
}

// Get returns the entry for ip or ErrNotFound
func (r *IPBlacklistRepository) Get(ctx context.Context, ip string) (*models.IPBlacklistEntry, error) {
	query := `SELECT ` + blacklistColumns + ` FROM ip_blacklist WHERE ip_address = $1`

	return scanBlacklistRow(r.db.Pool.QueryRow(ctx, query, ip))
}

// Upsert inserts entry or replaces the existing row for its address. entry.ID is set
// to the stored row id.
func (r *IPBlacklistRepository) Upsert(ctx context.Context, entry *models.IPBlacklistEntry) error {
	query := `
		INSERT INTO ip_blacklist (ip_address, reason, blacklist_type, created_by, created_at, expires_at, last_violation_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ip_address) DO UPDATE
		SET reason = EXCLUDED.reason,
		    blacklist_type = EXCLUDED.blacklist_type,
		    created_by = EXCLUDED.created_by,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at,
		    last_violation_at = EXCLUDED.last_violation_at
		RETURNING id::text`

	err := r.db.Pool.QueryRow(ctx, query,
		entry.IPAddress, entry.Reason, string(entry.BlacklistType), entry.CreatedBy,
		entry.CreatedAt, entry.ExpiresAt, entry.LastViolationAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert blacklist entry: %w", database.MapPostgresError(err))
	}
	return nil
}

// Delete removes the entry for ip
func (r *IPBlacklistRepository) Delete(ctx context.Context, ip string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM ip_blacklist WHERE ip_address = $1`, ip)
	if err != nil {
		return 0, fmt.Errorf("failed to delete blacklist entry: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteIfExpired removes the entry for ip only while its expiry is at or before now.
// A ban replaced since it was read is left in place.
func (r *IPBlacklistRepository) DeleteIfExpired(ctx context.Context, ip string, now time.Time) (int64, error) {
	query := `
		DELETE FROM ip_blacklist
		WHERE ip_address = $1 AND expires_at IS NOT NULL AND expires_at <= $2`

	tag, err := r.db.Pool.Exec(ctx, query, ip, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired blacklist entry: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Touch updates last_violation_at on an existing row
func (r *IPBlacklistRepository) Touch(ctx context.Context, ip string, at time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE ip_blacklist SET last_violation_at = $2 WHERE ip_address = $1`, ip, at)
	if err != nil {
		return false, fmt.Errorf("failed to touch blacklist entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns every entry, newest first
func (r *IPBlacklistRepository) List(ctx context.Context) ([]*models.IPBlacklistEntry, error) {
	query := `SELECT ` + blacklistColumns + ` FROM ip_blacklist ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	return scanBlacklistRows(rows)
}

// DeleteExpired removes entries whose expiry is at or before now
func (r *IPBlacklistRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM ip_blacklist WHERE expires_at IS NOT NULL AND expires_at <= $1`

	tag, err := r.db.Pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired blacklist entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
