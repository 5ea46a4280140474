package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Event types for the security audit trail
const (
	AuditEventAccountLock   = "account_lock"
	AuditEventAccountUnlock = "account_unlock"
	AuditEventIPBlacklist   = "ip_blacklist"
	AuditEventIPUnblacklist = "ip_unblacklist"
	AuditEventIPAutoBan     = "ip_auto_blacklist"
	AuditEventMaintenance   = "maintenance"
)

// Resource types
const (
	AuditResourceTypeAccount = "account"
	AuditResourceTypeIP      = "ip_address"
	AuditResourceTypeStore   = "store"
)

// Actions
const (
	AuditActionCreate = "create"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"
)

// AuditLog is one persisted security action
type AuditLog struct {
	ID            string        `db:"id" json:"id"`
	EventType     string        `db:"event_type" json:"event_type"`
	ActorID       *string       `db:"actor_id" json:"actor_id,omitempty"`
	ResourceType  string        `db:"resource_type" json:"resource_type"`
	ResourceID    string        `db:"resource_id" json:"resource_id"`
	Action        string        `db:"action" json:"action"`
	Success       bool          `db:"success" json:"success"`
	FailureReason *string       `db:"failure_reason" json:"failure_reason,omitempty"`
	IPAddress     *string       `db:"ip_address" json:"ip_address,omitempty"`
	Metadata      AuditMetadata `db:"metadata" json:"metadata,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(am))
}

// NewLockMetadata builds metadata for account lock events.
func NewLockMetadata(minutes int, reason string, lockedUntil *time.Time) AuditMetadata {
	md := AuditMetadata{
		"minutes": minutes,
		"reason":  reason,
	}
	if lockedUntil != nil {
		md["locked_until"] = lockedUntil.UTC().Format(time.RFC3339)
	}
	return md
}

// NewBlacklistMetadata builds metadata for IP ban events. Permanent bans omit expires_at.
func NewBlacklistMetadata(blacklistType BlacklistType, reason string, expiresAt *time.Time) AuditMetadata {
	md := AuditMetadata{
		"blacklist_type": string(blacklistType),
		"reason":         reason,
		"permanent":      expiresAt == nil,
	}
	if expiresAt != nil {
		md["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	}
	return md
}
