package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/notifications"
	apperrors "github.com/charlesng35/convene/pkg/errors"
	"github.com/charlesng35/convene/pkg/logger"
	"github.com/charlesng35/convene/pkg/validator"
)

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteBus sets the bus EVENT_INVITED notifications are published to.
func WithInviteBus(bus notifications.Bus) InviteOption {
	return func(s *InviteService) {
		s.bus = bus
	}
}

// WithInviteClock overrides the clock used to stamp EVENT_INVITED notifications. It defaults to
// the quota service's clock.
func WithInviteClock(now func() time.Time) InviteOption {
	return func(s *InviteService) {
		if now != nil {
			s.now = now
		}
	}
}

// InviteInput lists users an organizer wants to invite.
type InviteInput struct {
	EventID   string   `json:"event_id" validate:"required,notblank"`
	InviterID string   `json:"inviter_id" validate:"required,notblank"`
	UserIDs   []string `json:"user_ids" validate:"required,min=1,max=500,dive,required,max=64"`
	Message   string   `json:"message" validate:"max=2000"`
}

// InviteReport lists who was invited and who was skipped because they were already invited or
// had already responded.
type InviteReport struct {
	Invited []string       `json:"invited"`
	Skipped []string       `json:"skipped"`
	Quota   *QuotaSnapshot `json:"quota,omitempty"`
}

// InviteService invites users to events, charging the INVITE quota.
type InviteService struct {
	db    *gorm.DB
	quota *QuotaService
	bus   notifications.Bus
	now   func() time.Time
	log   *zap.Logger
}

// NewInviteService constructs an InviteService with the provided dependencies.
func NewInviteService(db *gorm.DB, quota *QuotaService, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}
	if quota == nil {
		return nil, errors.New("invite service: quota service is required")
	}

	svc := &InviteService{db: db, quota: quota, now: quota.now, log: logger.WithModule("invites")}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// Invite records invitations for users not yet invited or responded and notifies them. Quota is
// charged once per new invitee; when it is insufficient nobody is invited.
func (s *InviteService) Invite(ctx context.Context, input InviteInput) (*InviteReport, error) {
	ctx = ensureContext(ctx)
	input.EventID = strings.TrimSpace(input.EventID)
	input.InviterID = strings.TrimSpace(input.InviterID)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, err
	}

	unlock := eventLocks.Lock(input.EventID)
	defer unlock()

	ev, err := loadEvent(ctx, s.db, input.EventID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	if err := requireOrganizer(db, ev.ID, input.InviterID); err != nil {
		return nil, err
	}
	if ev.State != models.EventStatePublished && ev.State != models.EventStateClosed {
		return nil, ErrInvalidTransition.WithMessage("Only published events accept invitations")
	}

	candidates := without(normaliseIDs(input.UserIDs), input.InviterID)
	known, err := invitedOrResponded(db, ev.ID, candidates)
	if err != nil {
		return nil, err
	}

	report := &InviteReport{Invited: []string{}, Skipped: []string{}}
	for _, userID := range candidates {
		if _, ok := known[userID]; ok {
			report.Skipped = append(report.Skipped, userID)
			continue
		}
		report.Invited = append(report.Invited, userID)
	}
	if len(report.Invited) == 0 {
		return report, nil
	}

	scope := QuotaScope{EventID: ev.ID, OrganizerID: input.InviterID}
	snapshot, err := s.quota.CheckAndReserve(ctx, scope, models.ChannelInvite, len(report.Invited))
	if err != nil {
		return nil, err
	}
	report.Quota = snapshot

	err = db.Transaction(func(tx *gorm.DB) error {
		for _, userID := range report.Invited {
			invitation := models.Invitation{
				EventID:   ev.ID,
				UserID:    userID,
				InvitedBy: input.InviterID,
				Message:   strings.TrimSpace(input.Message),
			}
			if err := tx.Create(&invitation).Error; err != nil {
				if isUniqueConstraintError(err) {
					return apperrors.ErrConflict.WithMessage("User was invited concurrently").WithInternal(err)
				}
				return fmt.Errorf("invite service: create invitation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if _, rbErr := s.quota.Rollback(ctx, scope, models.ChannelInvite, len(report.Invited), snapshot.Window); rbErr != nil {
			s.log.Warn("quota rollback failed", zap.String("event_id", ev.ID), zap.Error(rbErr))
		}
		return nil, err
	}

	body := fmt.Sprintf("You are invited to %s.", ev.Title)
	if msg := strings.TrimSpace(input.Message); msg != "" {
		body += " " + msg
	}
	notifications.PublishAll(ctx, s.bus, s.log,
		notifications.NewDomainEvent(models.NotificationEventInvited, ev.ID, report.Invited, "You're invited", body).
			WithActor(input.InviterID).
			At(s.now()))

	s.log.Info("invitations sent",
		zap.String("event_id", ev.ID),
		zap.Int("invited", len(report.Invited)),
		zap.Int("skipped", len(report.Skipped)),
	)
	return report, nil
}

// ListForEvent returns the event's invitations in the order they were sent.
func (s *InviteService) ListForEvent(ctx context.Context, eventID string) ([]models.Invitation, error) {
	ctx = ensureContext(ctx)
	if _, err := loadEvent(ctx, s.db, eventID); err != nil {
		return nil, err
	}
	var invitations []models.Invitation
	if err := s.db.WithContext(ctx).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Order("created_at ASC").
		Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("invite service: list invitations: %w", err)
	}
	return invitations, nil
}

func invitedOrResponded(db *gorm.DB, eventID string, userIDs []string) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	if len(userIDs) == 0 {
		return known, nil
	}

	var invited []string
	if err := db.Model(&models.Invitation{}).
		Where("event_id = ? AND user_id IN ?", eventID, userIDs).
		Pluck("user_id", &invited).Error; err != nil {
		return nil, fmt.Errorf("invite service: load invitations: %w", err)
	}
	var responded []string
	if err := db.Model(&models.RSVP{}).
		Where("event_id = ? AND user_id IN ?", eventID, userIDs).
		Pluck("user_id", &responded).Error; err != nil {
		return nil, fmt.Errorf("invite service: load responses: %w", err)
	}

	for _, id := range append(invited, responded...) {
		known[id] = struct{}{}
	}
	return known, nil
}
