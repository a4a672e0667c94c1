package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/delivery"
	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/pkg/logger"
	"github.com/charlesng35/convene/pkg/validator"
)

// MassMessageInput describes a bulk message from an organizer to part of the guest list.
type MassMessageInput struct {
	EventID  string          `json:"event_id" validate:"required,notblank"`
	SenderID string          `json:"sender_id" validate:"required,notblank"`
	Channel  models.Channel  `json:"channel" validate:"required,oneof=EMAIL SMS"`
	Audience models.Audience `json:"audience" validate:"required,oneof=ATTENDING MAYBE WAITLIST ALL"`
	Subject  string          `json:"subject" validate:"max=255"`
	Body     string          `json:"body" validate:"required,notblank"`
	ReplyTo  string          `json:"reply_to" validate:"omitempty,email"`
}

// RecipientFailure explains why one recipient did not receive a message.
type RecipientFailure struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// MassMessageReport summarises a bulk send. Partial failures are reported here rather than
// returned as errors.
type MassMessageReport struct {
	MessageID string             `json:"message_id"`
	Requested int                `json:"requested"`
	Sent      int                `json:"sent"`
	Failed    int                `json:"failed"`
	Skipped   int                `json:"skipped"`
	Failures  []RecipientFailure `json:"failures,omitempty"`
	Quota     *QuotaSnapshot     `json:"quota,omitempty"`
}

// MessagingService sends quota-gated mass messages.
type MessagingService struct {
	db       *gorm.DB
	quota    *QuotaService
	contacts *ContactService
	sender   delivery.Sender
	log      *zap.Logger
}

// NewMessagingService constructs a MessagingService.
func NewMessagingService(db *gorm.DB, quota *QuotaService, contacts *ContactService, sender delivery.Sender) (*MessagingService, error) {
	switch {
	case db == nil:
		return nil, errors.New("messaging service: db is required")
	case quota == nil:
		return nil, errors.New("messaging service: quota service is required")
	case contacts == nil:
		return nil, errors.New("messaging service: contact service is required")
	case sender == nil:
		return nil, errors.New("messaging service: sender is required")
	}
	return &MessagingService{
		db:       db,
		quota:    quota,
		contacts: contacts,
		sender:   sender,
		log:      logger.WithModule("messaging"),
	}, nil
}

// Send delivers the message to the selected audience. Quota for every addressable recipient is
// reserved up front; if it is not available nothing is sent. Quota for failed deliveries is
// given back.
func (s *MessagingService) Send(ctx context.Context, input MassMessageInput) (*MassMessageReport, error) {
	ctx = ensureContext(ctx)
	input.EventID = strings.TrimSpace(input.EventID)
	input.SenderID = strings.TrimSpace(input.SenderID)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, err
	}

	ev, err := loadEvent(ctx, s.db, input.EventID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	if err := requireOrganizer(db, ev.ID, input.SenderID); err != nil {
		return nil, err
	}
	if ev.State == models.EventStateDraft {
		return nil, ErrInvalidTransition.WithMessage("Draft events have no guests to message")
	}

	audience, err := resolveAudience(db, ev.ID, input.Audience)
	if err != nil {
		return nil, fmt.Errorf("messaging service: %w", err)
	}
	audience = without(audience, input.SenderID)

	recipients, missing, err := s.contacts.Recipients(ctx, audience, input.Channel)
	if err != nil {
		return nil, fmt.Errorf("messaging service: %w", err)
	}

	report := &MassMessageReport{Requested: len(audience), Skipped: len(missing)}
	for _, userID := range missing {
		report.Failures = append(report.Failures, RecipientFailure{UserID: userID, Reason: "no address"})
	}

	scope := QuotaScope{EventID: ev.ID, OrganizerID: input.SenderID}
	if len(recipients) > 0 {
		snapshot, err := s.quota.CheckAndReserve(ctx, scope, input.Channel, len(recipients))
		if err != nil {
			return nil, err
		}
		report.Quota = snapshot

		results := s.sender.Send(ctx, recipients, input.Channel, delivery.Content{
			Subject: input.Subject,
			Body:    input.Body,
			ReplyTo: input.ReplyTo,
		})
		for _, result := range results {
			if result.Err == nil {
				report.Sent++
				continue
			}
			report.Failed++
			report.Failures = append(report.Failures, RecipientFailure{UserID: result.UserID, Reason: result.Err.Error()})
		}

		if report.Failed > 0 {
			refunded, err := s.quota.Rollback(ctx, scope, input.Channel, report.Failed, snapshot.Window)
			if err != nil {
				s.log.Warn("quota rollback failed",
					zap.String("event_id", ev.ID),
					zap.Int("count", report.Failed),
					zap.Error(err),
				)
			} else {
				report.Quota = refunded
			}
		}
	}

	details, err := encodeJSON(map[string]any{"failures": report.Failures})
	if err != nil {
		return nil, fmt.Errorf("messaging service: encode details: %w", err)
	}
	record := models.MassMessage{
		EventID:   ev.ID,
		SenderID:  input.SenderID,
		Channel:   input.Channel,
		Audience:  input.Audience,
		Subject:   input.Subject,
		Body:      input.Body,
		Requested: report.Requested,
		Sent:      report.Sent,
		Failed:    report.Failed,
		Skipped:   report.Skipped,
		Details:   details,
	}
	if err := db.Create(&record).Error; err != nil {
		return nil, fmt.Errorf("messaging service: record message: %w", err)
	}
	report.MessageID = record.ID

	s.log.Info("mass message sent",
		zap.String("event_id", ev.ID),
		zap.String("channel", string(input.Channel)),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// History returns the event's mass messages, newest first.
func (s *MessagingService) History(ctx context.Context, actorID, eventID string) ([]models.MassMessage, error) {
	ctx = ensureContext(ctx)
	ev, err := loadEvent(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	if err := requireOrganizer(db, ev.ID, actorID); err != nil {
		return nil, err
	}

	var messages []models.MassMessage
	if err := db.Where("event_id = ?", ev.ID).Order("created_at DESC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("messaging service: list messages: %w", err)
	}
	return messages, nil
}

func resolveAudience(db *gorm.DB, eventID string, audience models.Audience) ([]string, error) {
	switch audience {
	case models.AudienceAttending:
		return respondentIDs(db, eventID, models.RSVPYes)
	case models.AudienceMaybe:
		return respondentIDs(db, eventID, models.RSVPMaybe)
	case models.AudienceWaitlist:
		return waitlistedIDs(db, eventID)
	case models.AudienceAll:
		respondents, err := respondentIDs(db, eventID, models.RSVPYes, models.RSVPMaybe)
		if err != nil {
			return nil, err
		}
		waiting, err := waitlistedIDs(db, eventID)
		if err != nil {
			return nil, err
		}
		return normaliseIDs(append(respondents, waiting...)), nil
	default:
		return nil, fmt.Errorf("unknown audience %q", audience)
	}
}
