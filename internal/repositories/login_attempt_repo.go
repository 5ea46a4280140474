package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/loginguard/internal/database"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/jackc/pgx/v5"
)

// maxUpsertRetries bounds the select/insert loop when a concurrent insert wins the race.
const maxUpsertRetries = 3

const attemptColumns = `
	id::text, identifier, identifier_type, client_ip, attempt_count,
	first_attempt_at, last_attempt_at, last_failure_reason,
	lock_level, locked_until, lock_reason, created_at, updated_at`

// LoginAttemptRepository stores attempt records in Postgres
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

func scanAttemptRow(row rowScanner) (*models.AttemptRecord, error) {
	var rec models.AttemptRecord
	var lockLevel string

	err := row.Scan(
		&rec.ID, &rec.Identifier, &rec.IdentifierType, &rec.ClientIP, &rec.AttemptCount,
		&rec.FirstAttemptAt, &rec.LastAttemptAt, &rec.LastFailureReason,
		&lockLevel, &rec.LockedUntil, &rec.LockReason, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	rec.LockLevel = models.LockLevel(lockLevel)
	rec.FirstAttemptAt = rec.FirstAttemptAt.UTC()
	rec.LastAttemptAt = rec.LastAttemptAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if rec.LockedUntil != nil {
		t := rec.LockedUntil.UTC()
		rec.LockedUntil = &t
	}
	return &rec, nil
}

func scanAttemptRows(rows pgx.Rows) ([]*models.AttemptRecord, error) {
	defer rows.Close()

	recs := make([]*models.AttemptRecord, 0)
	for rows.Next() {
		rec, err := scanAttemptRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt record: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempt rows: %w", err)
	}
	return recs, nil
}

// Get returns the record for a pair or ErrNotFound
func (r *LoginAttemptRepository) Get(ctx context.Context, identifier, clientIP string) (*models.AttemptRecord, error) {
	query := `SELECT ` + attemptColumns + `
		FROM login_attempt_records
		WHERE identifier = $1 AND client_ip = $2`

	return scanAttemptRow(r.db.Pool.QueryRow(ctx, query, identifier, clientIP))
}

// Upsert locks the pair row (creating it if needed), applies fn and writes the result in
// one transaction. A unique violation from a racing insert is retried as an update.
func (r *LoginAttemptRepository) Upsert(ctx context.Context, identifier, clientIP string, fn func(rec *models.AttemptRecord) error) (*models.AttemptRecord, error) {
	var out *models.AttemptRecord

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		rec, err := r.lockOrCreate(ctx, tx, identifier, clientIP)
		if err != nil {
			return err
		}

		if err := fn(rec); err != nil {
			return err
		}

		out, err = r.update(ctx, tx, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *LoginAttemptRepository) lockOrCreate(ctx context.Context, tx pgx.Tx, identifier, clientIP string) (*models.AttemptRecord, error) {
	selectQuery := `SELECT ` + attemptColumns + `
		FROM login_attempt_records
		WHERE identifier = $1 AND client_ip = $2
		FOR UPDATE`
	insertQuery := `
		INSERT INTO login_attempt_records (identifier, client_ip)
		VALUES ($1, $2)
		ON CONFLICT (identifier, client_ip) DO NOTHING`

	for i := 0; i < maxUpsertRetries; i++ {
		rec, err := scanAttemptRow(tx.QueryRow(ctx, selectQuery, identifier, clientIP))
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("failed to lock attempt record: %w", err)
		}

		if _, err := tx.Exec(ctx, insertQuery, identifier, clientIP); err != nil {
			if errors.Is(database.MapPostgresError(err), models.ErrConflict) {
				continue
			}
			return nil, fmt.Errorf("failed to create attempt record: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to lock attempt record after %d tries: %w", maxUpsertRetries, models.ErrConflict)
}

func (r *LoginAttemptRepository) update(ctx context.Context, tx pgx.Tx, rec *models.AttemptRecord) (*models.AttemptRecord, error) {
	if rec.LockLevel == "" {
		rec.LockLevel = models.LockLevelNone
	}

	query := `
		UPDATE login_attempt_records
		SET identifier_type = $2, attempt_count = $3, first_attempt_at = $4, last_attempt_at = $5,
		    last_failure_reason = $6, lock_level = $7, locked_until = $8, lock_reason = $9,
		    updated_at = NOW()
		WHERE id = $1::uuid
		RETURNING ` + attemptColumns

	updated, err := scanAttemptRow(tx.QueryRow(ctx, query,
		rec.ID, rec.IdentifierType, rec.AttemptCount, rec.FirstAttemptAt, rec.LastAttemptAt,
		rec.LastFailureReason, string(rec.LockLevel), rec.LockedUntil, rec.LockReason,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update attempt record: %w", err)
	}
	return updated, nil
}

// ListByIdentifier returns every pair for identifier
func (r *LoginAttemptRepository) ListByIdentifier(ctx context.Context, identifier string) ([]*models.AttemptRecord, error) {
	query := `SELECT ` + attemptColumns + `
		FROM login_attempt_records
		WHERE identifier = $1
		ORDER BY client_ip`

	rows, err := r.db.Pool.Query(ctx, query, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts by identifier: %w", err)
	}
	return scanAttemptRows(rows)
}

// ListByClientIP returns pairs for clientIP whose last failure is at or after since
func (r *LoginAttemptRepository) ListByClientIP(ctx context.Context, clientIP string, since time.Time) ([]*models.AttemptRecord, error) {
	query := `SELECT ` + attemptColumns + `
		FROM login_attempt_records
		WHERE client_ip = $1 AND last_attempt_at >= $2
		ORDER BY identifier`

	rows, err := r.db.Pool.Query(ctx, query, clientIP, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts by ip: %w", err)
	}
	return scanAttemptRows(rows)
}

// ListLocked returns records whose lock is still in force at now
func (r *LoginAttemptRepository) ListLocked(ctx context.Context, now time.Time) ([]*models.AttemptRecord, error) {
	query := `SELECT ` + attemptColumns + `
		FROM login_attempt_records
		WHERE locked_until > $1
		ORDER BY identifier, client_ip`

	rows, err := r.db.Pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query locked attempts: %w", err)
	}
	return scanAttemptRows(rows)
}

// ResetByIdentifier zeroes counters and clears locks on every pair for identifier
func (r *LoginAttemptRepository) ResetByIdentifier(ctx context.Context, identifier string) (int64, error) {
	query := `
		UPDATE login_attempt_records
		SET attempt_count = 0, lock_level = 'none', locked_until = NULL, lock_reason = NULL, updated_at = NOW()
		WHERE identifier = $1`

	tag, err := r.db.Pool.Exec(ctx, query, identifier)
	if err != nil {
		return 0, fmt.Errorf("failed to reset attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes one pair, or every pair for identifier when clientIP is empty
func (r *LoginAttemptRepository) Delete(ctx context.Context, identifier, clientIP string) (int64, error) {
	query := `
		DELETE FROM login_attempt_records
		WHERE identifier = $1 AND ($2 = '' OR client_ip = $2)`

	tag, err := r.db.Pool.Exec(ctx, query, identifier, clientIP)
	if err != nil {
		return 0, fmt.Errorf("failed to delete attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteStale removes records last touched before olderThan that are not locked at now
func (r *LoginAttemptRepository) DeleteStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	query := `
		DELETE FROM login_attempt_records
		WHERE last_attempt_at < $1
		  AND (locked_until IS NULL OR locked_until <= $2)`

	tag, err := r.db.Pool.Exec(ctx, query, olderThan, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}
