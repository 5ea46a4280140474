package models

import "time"

// LockLevel is the scope of a block
type LockLevel string

const (
	LockLevelNone    LockLevel = "none"
	LockLevelAccount LockLevel = "account"
	LockLevelIP      LockLevel = "ip"
)

// Identifier types accepted from callers
const (
	IdentifierTypeEmail      = "email"
	IdentifierTypePhone      = "phone"
	IdentifierTypeUsername   = "username"
	IdentifierTypeThirdParty = "third_party"

	// DefaultIdentifierType is stored when a caller gives no type
	DefaultIdentifierType = IdentifierTypeEmail
)

const (
	// ManualLockClientIP keys administrator locks that apply to every client IP.
	ManualLockClientIP = "manual"

	LockReasonTooManyAttempts = "too many failed attempts"
	LockReasonAdministrator   = "locked by administrator"
)

// AttemptRecord represents failure history for one (identifier, client IP) pair
type AttemptRecord struct {
	ID                string     `db:"id" json:"id"`
	Identifier        string     `db:"identifier" json:"identifier"`
	IdentifierType    string     `db:"identifier_type" json:"identifier_type"`
	ClientIP          string     `db:"client_ip" json:"client_ip"`
	AttemptCount      int        `db:"attempt_count" json:"attempt_count"`
	FirstAttemptAt    time.Time  `db:"first_attempt_at" json:"first_attempt_at"`
	LastAttemptAt     time.Time  `db:"last_attempt_at" json:"last_attempt_at"`
	LastFailureReason *string    `db:"last_failure_reason" json:"last_failure_reason,omitempty"`
	LockLevel         LockLevel  `db:"lock_level" json:"lock_level"`
	LockedUntil       *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	LockReason        *string    `db:"lock_reason" json:"lock_reason,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// IsLocked reports whether the record blocks logins at now.
func (r *AttemptRecord) IsLocked(now time.Time) bool {
	return r.LockedUntil != nil && r.LockedUntil.After(now)
}

// Lock sets an account-level lock until the given time.
func (r *AttemptRecord) Lock(until time.Time, reason string) {
	r.LockLevel = LockLevelAccount
	r.LockedUntil = &until
	r.LockReason = &reason
}

// Clear resets the counter and lock fields.
func (r *AttemptRecord) Clear() {
	r.AttemptCount = 0
	r.LockLevel = LockLevelNone
	r.LockedUntil = nil
	r.LockReason = nil
}

// Clone returns a deep copy so stores never share pointers with callers.
func (r *AttemptRecord) Clone() *AttemptRecord {
	c := *r
	if r.LockedUntil != nil {
		t := *r.LockedUntil
		c.LockedUntil = &t
	}
	if r.LockReason != nil {
		s := *r.LockReason
		c.LockReason = &s
	}
	if r.LastFailureReason != nil {
		s := *r.LastFailureReason
		c.LastFailureReason = &s
	}
	return &c
}

// LoginAttemptResult is the gate decision returned before credentials are verified
type LoginAttemptResult struct {
	Allowed           bool       `json:"allowed"`
	Reason            string     `json:"reason,omitempty"`
	RemainingAttempts int        `json:"remaining_attempts"`
	LockUntil         *time.Time `json:"lock_until,omitempty"`
	WaitSeconds       int64      `json:"wait_seconds"`
	LockLevel         LockLevel  `json:"lock_level"`
}
