// Package alerts delivers lockout and IP ban events to operator-facing sinks.
package alerts

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/pkg/logger"
)

// Notifier is the sink contract shared by every alert backend.
type Notifier interface {
	Notify(ctx context.Context, event models.SecurityEvent) error
}

// Multi fans an event out to every configured sink.
// All sinks are attempted; their errors are joined.
type Multi []Notifier

// Notify implements Notifier
func (m Multi) Notify(ctx context.Context, event models.SecurityEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

// Notify implements Notifier
func (Nop) Notify(context.Context, models.SecurityEvent) error { return nil }

// describe renders a one-line summary used for email subjects. Identifiers are masked.
func describe(event models.SecurityEvent) string {
	switch event.Type {
	case models.SecurityEventAccountLocked:
		return fmt.Sprintf("Account locked: %s", logger.SanitizedIdentifier(event.Identifier))
	case models.SecurityEventIPBlacklisted:
		return fmt.Sprintf("IP blacklisted: %s", event.ClientIP)
	default:
		return fmt.Sprintf("Security event: %s", event.Type)
	}
}
