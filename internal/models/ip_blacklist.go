package models

import "time"

// BlacklistType distinguishes admin-issued bans from volume-triggered ones
type BlacklistType string

const (
	BlacklistTypeManual BlacklistType = "manual"
	BlacklistTypeAuto   BlacklistType = "auto"
)

// IPBlacklistEntry is a ban on a source IP
type IPBlacklistEntry struct {
	ID              string        `db:"id" json:"id"`
	IPAddress       string        `db:"ip_address" json:"ip_address"`
	Reason          string        `db:"reason" json:"reason"`
	BlacklistType   BlacklistType `db:"blacklist_type" json:"blacklist_type"`
	CreatedBy       *string       `db:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	ExpiresAt       *time.Time    `db:"expires_at" json:"expires_at,omitempty"`
	LastViolationAt time.Time     `db:"last_violation_at" json:"last_violation_at"`
}

// IsExpired reports whether the ban has lapsed at now. Permanent bans never expire.
func (e *IPBlacklistEntry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// IsPermanent reports whether the ban has no expiry.
func (e *IPBlacklistEntry) IsPermanent() bool {
	return e.ExpiresAt == nil
}

// Clone returns a deep copy.
func (e *IPBlacklistEntry) Clone() *IPBlacklistEntry {
	c := *e
	if e.CreatedBy != nil {
		s := *e.CreatedBy
		c.CreatedBy = &s
	}
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}
