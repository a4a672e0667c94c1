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
	"github.com/charlesng35/convene/pkg/metrics"
)

// RSVPService records attendee responses against the capacity ledger.
type RSVPService struct {
	*lifecycle
}

// NewRSVPService constructs an RSVPService.
func NewRSVPService(db *gorm.DB, opts ...LifecycleOption) (*RSVPService, error) {
	core, err := newLifecycle(db, "rsvp service", opts)
	if err != nil {
		return nil, err
	}
	return &RSVPService{lifecycle: core}, nil
}

// SetRSVP records userID's response. A YES on a full event fails with ErrEventFull; callers
// decide whether to offer the waitlist. Moving away from YES releases the seat to the next
// waiting user.
func (s *RSVPService) SetRSVP(ctx context.Context, eventID, userID string, response models.RSVPResponse) (*models.RSVP, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	response = models.RSVPResponse(strings.ToUpper(strings.TrimSpace(string(response))))
	if !response.Valid() {
		return nil, apperrors.NewBadRequest("response must be one of YES, NO or MAYBE")
	}

	var result *models.RSVP
	err := s.mutateEvent(ctx, eventID, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		if !AcceptsRSVP(ev, now, s.defaultDuration) {
			return ErrInvalidTransition.WithMessage("Event is not accepting RSVPs")
		}

		existing, err := findRSVP(tx, ev.ID, userID)
		if err != nil {
			return err
		}
		wasYes := existing != nil && existing.Response == models.RSVPYes

		if response == models.RSVPYes && !wasYes {
			ledger, err := computeLedger(tx, ev, now)
			if err != nil {
				return err
			}
			entry, err := findWaitlistEntry(tx, ev.ID, userID)
			if err != nil {
				return err
			}
			if entry.OfferActive(now) {
				ledger.HeldOffers--
			}
			if !ledger.HasRoom() {
				metrics.RSVPAdmissions.WithLabelValues(string(response), "full").Inc()
				return ErrEventFull
			}
		}

		rsvp, previous, err := upsertRSVP(tx, ev.ID, userID, response, now)
		if err != nil {
			return err
		}

		if response == models.RSVPYes {
			if err := tx.Where("event_id = ? AND user_id = ?", ev.ID, userID).
				Delete(&models.WaitlistEntry{}).Error; err != nil {
				return fmt.Errorf("rsvp service: clear waitlist entry: %w", err)
			}
		}

		if err := notifyResponseChange(tx, ev, userID, previous, response, box); err != nil {
			return err
		}

		if wasYes && response != models.RSVPYes {
			if _, err := s.promoteNextTx(tx, ev, now, box); err != nil {
				return err
			}
		}

		metrics.RSVPAdmissions.WithLabelValues(string(response), "accepted").Inc()
		result = rsvp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns userID's response to the event.
func (s *RSVPService) Get(ctx context.Context, eventID, userID string) (*models.RSVP, error) {
	ctx = ensureContext(ctx)
	var rsvp models.RSVP
	err := s.db.WithContext(ctx).
		Where("event_id = ? AND user_id = ?", strings.TrimSpace(eventID), strings.TrimSpace(userID)).
		First(&rsvp).Error
	if err != nil {
		return nil, notFoundOr(err, func(err error) error { return fmt.Errorf("rsvp service: get rsvp: %w", err) })
	}
	return &rsvp, nil
}

// ListForEvent returns the event's responses, optionally restricted to the given answers.
func (s *RSVPService) ListForEvent(ctx context.Context, eventID string, responses ...models.RSVPResponse) ([]models.RSVP, error) {
	ctx = ensureContext(ctx)
	if _, err := loadEvent(ctx, s.db, eventID); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("event_id = ?", strings.TrimSpace(eventID))
	if len(responses) > 0 {
		query = query.Where("response IN ?", responses)
	}

	var rsvps []models.RSVP
	if err := query.Order("responded_at ASC").Find(&rsvps).Error; err != nil {
		return nil, fmt.Errorf("rsvp service: list rsvps: %w", err)
	}
	return rsvps, nil
}

// Ledger returns the event's current seat accounting.
func (s *RSVPService) Ledger(ctx context.Context, eventID string) (Ledger, error) {
	ctx = ensureContext(ctx)
	s.sweepIfDue(ctx, eventID)

	ev, err := loadEvent(ctx, s.db, eventID)
	if err != nil {
		return Ledger{}, err
	}
	return computeLedger(s.db.WithContext(ctx), ev, s.clock())
}

// ReleaseLapsedReconfirmations downgrades attendees who did not reconfirm within the
// reconfirmation window to MAYBE and offers their seats to the waitlist. It returns the number
// of attendees released.
func (s *RSVPService) ReleaseLapsedReconfirmations(ctx context.Context, eventID string) (int, error) {
	if s.reconfirmWindow <= 0 {
		return 0, nil
	}

	released := 0
	err := s.mutateEvent(ctx, eventID, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		var lapsed []models.RSVP
		if err := tx.Where("event_id = ? AND response = ? AND needs_reconfirmation = ? AND reconfirm_requested_at < ?",
			ev.ID, models.RSVPYes, true, now.Add(-s.reconfirmWindow)).
			Find(&lapsed).Error; err != nil {
			return fmt.Errorf("rsvp service: find lapsed reconfirmations: %w", err)
		}

		for _, rsvp := range lapsed {
			if _, _, err := upsertRSVP(tx, ev.ID, rsvp.UserID, models.RSVPMaybe, now); err != nil {
				return err
			}
			previous := rsvp.Response
			if err := notifyResponseChange(tx, ev, rsvp.UserID, &previous, models.RSVPMaybe, box); err != nil {
				return err
			}
		}
		for range lapsed {
			if _, err := s.promoteNextTx(tx, ev, now, box); err != nil {
				return err
			}
		}

		released = len(lapsed)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if released > 0 {
		s.log.Info("released unconfirmed seats", zap.String("event_id", eventID), zap.Int("count", released))
	}
	return released, nil
}

// EventsAwaitingReconfirmation lists events with at least one attendee still flagged for
// reconfirmation.
func (s *RSVPService) EventsAwaitingReconfirmation(ctx context.Context) ([]string, error) {
	ctx = ensureContext(ctx)
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.RSVP{}).
		Where("response = ? AND needs_reconfirmation = ?", models.RSVPYes, true).
		Distinct("event_id").
		Pluck("event_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("rsvp service: list events awaiting reconfirmation: %w", err)
	}
	return ids, nil
}

func findRSVP(tx *gorm.DB, eventID, userID string) (*models.RSVP, error) {
	var rsvp models.RSVP
	err := tx.Where("event_id = ? AND user_id = ?", eventID, userID).First(&rsvp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load rsvp: %w", err)
	}
	return &rsvp, nil
}

// upsertRSVP writes the response and clears any pending reconfirmation. It returns the previous
// response, or nil for a first response.
func upsertRSVP(tx *gorm.DB, eventID, userID string, response models.RSVPResponse, now time.Time) (*models.RSVP, *models.RSVPResponse, error) {
	existing, err := findRSVP(tx, eventID, userID)
	if err != nil {
		return nil, nil, err
	}

	if existing == nil {
		rsvp := &models.RSVP{
			EventID:     eventID,
			UserID:      userID,
			Response:    response,
			RespondedAt: now,
		}
		if err := tx.Create(rsvp).Error; err != nil {
			if isUniqueConstraintError(err) {
				return nil, nil, apperrors.ErrConflict.WithInternal(err)
			}
			return nil, nil, fmt.Errorf("create rsvp: %w", err)
		}
		return rsvp, nil, nil
	}

	previous := existing.Response
	if err := tx.Model(&models.RSVP{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{
			"response":               response,
			"responded_at":           now,
			"needs_reconfirmation":   false,
			"reconfirm_requested_at": nil,
		}).Error; err != nil {
		return nil, nil, fmt.Errorf("update rsvp: %w", err)
	}
	existing.Response = response
	existing.RespondedAt = now
	existing.NeedsReconfirmation = false
	existing.ReconfirmRequestedAt = nil
	return existing, &previous, nil
}

// notifyResponseChange tells organizers, other than the respondent, about a first or changed
// response. Repeating the same answer is silent.
func notifyResponseChange(tx *gorm.DB, ev *models.Event, userID string, previous *models.RSVPResponse, response models.RSVPResponse, box *outbox) error {
	if previous != nil && *previous == response {
		return nil
	}

	organizers, err := organizerIDs(tx, ev.ID)
	if err != nil {
		return err
	}

	typ := models.NotificationNewRSVP
	title := "New RSVP"
	message := fmt.Sprintf("A guest responded %s to %s.", response, ev.Title)
	if previous != nil {
		typ = models.NotificationRSVPChanged
		title = "RSVP changed"
		message = fmt.Sprintf("A guest changed their response to %s from %s to %s.", ev.Title, *previous, response)
	}

	event := notifications.NewDomainEvent(typ, ev.ID, without(organizers, userID), title, message).
		WithActor(userID).
		WithMetadata("response", string(response))
	if previous != nil {
		event = event.WithMetadata("previous_response", string(*previous))
	}
	box.add(event)
	return nil
}
