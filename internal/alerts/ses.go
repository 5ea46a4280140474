package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/pkg/logger"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier emails security events to a fixed list of operator addresses using AWS SES
type SESNotifier struct {
	client      sesAPI
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewSESNotifier loads the default AWS config for region and builds an SES-backed notifier
func NewSESNotifier(ctx context.Context, region, fromAddress string, recipients []string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSESNotifier(ses.NewFromConfig(cfg), fromAddress, recipients, logger), nil
}

func newSESNotifier(client sesAPI, fromAddress string, recipients []string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}
}

// Notify sends one plain-text email per event
func (s *SESNotifier) Notify(ctx context.Context, event models.SecurityEvent) error {
	if len(s.recipients) == 0 {
		return nil
	}

	subject := "[loginguard] " + describe(event)
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: s.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(renderText(event)),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send security alert via SES",
			slog.String("event_type", string(event.Type)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	s.logger.Info("security alert sent",
		slog.String("event_type", string(event.Type)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

func renderText(event models.SecurityEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", describe(event))
	if event.Identifier != "" {
		fmt.Fprintf(&b, "Identifier: %s\n", logger.SanitizedIdentifier(event.Identifier))
	}
	if event.ClientIP != "" {
		fmt.Fprintf(&b, "Client IP: %s\n", event.ClientIP)
	}
	fmt.Fprintf(&b, "Level: %s\n", event.LockLevel)
	if event.BlacklistType != "" {
		fmt.Fprintf(&b, "Blacklist type: %s\n", event.BlacklistType)
	}
	if event.AttemptCount > 0 {
		fmt.Fprintf(&b, "Failed attempts: %d\n", event.AttemptCount)
	}
	fmt.Fprintf(&b, "Reason: %s\n", event.Reason)
	if event.Until != nil {
		fmt.Fprintf(&b, "Until: %s\n", event.Until.UTC().Format(time.RFC3339))
	} else {
		b.WriteString("Until: permanent\n")
	}
	if event.ActorID != "" {
		fmt.Fprintf(&b, "Actor: %s\n", event.ActorID)
	}
	fmt.Fprintf(&b, "Occurred at: %s\n", event.OccurredAt.UTC().Format(time.RFC3339))
	b.WriteString("\nThis is an automated message. Please do not reply to this email.\n")
	return b.String()
}
