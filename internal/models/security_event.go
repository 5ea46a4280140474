package models

import "time"

// SecurityEventType names an alert-worthy engine event
type SecurityEventType string

const (
	SecurityEventAccountLocked SecurityEventType = "account_locked"
	SecurityEventIPBlacklisted SecurityEventType = "ip_blacklisted"
)

// SecurityEvent is published to alert sinks when an account lock or IP ban is created
type SecurityEvent struct {
	Type          SecurityEventType `json:"type"`
	Identifier    string            `json:"identifier,omitempty"`
	ClientIP      string            `json:"client_ip,omitempty"`
	Reason        string            `json:"reason"`
	AttemptCount  int               `json:"attempt_count,omitempty"`
	LockLevel     LockLevel         `json:"lock_level"`
	BlacklistType BlacklistType     `json:"blacklist_type,omitempty"`
	Until         *time.Time        `json:"until,omitempty"`
	ActorID       string            `json:"actor_id,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

// Key returns the partition key for stream sinks.
func (e SecurityEvent) Key() string {
	if e.Type == SecurityEventIPBlacklisted {
		return e.ClientIP
	}
	return e.Identifier
}
