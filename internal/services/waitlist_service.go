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
	apperrors "github.com/charlesng35/convene/pkg/errors"
	"github.com/charlesng35/convene/pkg/metrics"
)

// WaitlistService queues users for seats on full events and manages time-limited offers.
type WaitlistService struct {
	*lifecycle
}

// NewWaitlistService constructs a WaitlistService.
func NewWaitlistService(db *gorm.DB, opts ...LifecycleOption) (*WaitlistService, error) {
	core, err := newLifecycle(db, "waitlist service", opts)
	if err != nil {
		return nil, err
	}
	return &WaitlistService{lifecycle: core}, nil
}

// Join appends userID to the event's waitlist and returns the entry with its position.
func (s *WaitlistService) Join(ctx context.Context, eventID, userID string) (*models.WaitlistEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var result *models.WaitlistEntry
	err := s.mutateEvent(ctx, eventID, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		if !AcceptsRSVP(ev, now, s.defaultDuration) {
			return ErrInvalidTransition.WithMessage("Event is not accepting RSVPs")
		}
		if !ev.WaitlistEnabled {
			return ErrInvalidTransition.WithMessage("Event has no waitlist")
		}

		rsvp, err := findRSVP(tx, ev.ID, userID)
		if err != nil {
			return err
		}
		if rsvp != nil && rsvp.Response == models.RSVPYes {
			return ErrInvalidTransition.WithMessage("User is already attending")
		}

		existing, err := findWaitlistEntry(tx, ev.ID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyQueued
		}

		ledger, err := computeLedger(tx, ev, now)
		if err != nil {
			return err
		}
		if ledger.HasRoom() {
			return ErrNotFull
		}

		var last int64
		if err := tx.Model(&models.WaitlistEntry{}).
			Where("event_id = ?", ev.ID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&last).Error; err != nil {
			return fmt.Errorf("waitlist service: next sequence: %w", err)
		}

		entry := &models.WaitlistEntry{EventID: ev.ID, UserID: userID, Sequence: last + 1}
		if err := tx.Create(entry).Error; err != nil {
			if isUniqueConstraintError(err) {
				return ErrAlreadyQueued
			}
			return fmt.Errorf("waitlist service: create entry: %w", err)
		}

		position, err := waitingPosition(tx, entry)
		if err != nil {
			return err
		}
		entry.Position = &position

		metrics.WaitlistTransitions.WithLabelValues("joined").Inc()
		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Leave removes userID from the waitlist. Leaving while holding an offer releases the seat to
// the next waiting user.
func (s *WaitlistService) Leave(ctx context.Context, eventID, userID string) error {
	userID = strings.TrimSpace(userID)
	return s.mutateEvent(ctx, eventID, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		entry, err := findWaitlistEntry(tx, ev.ID, userID)
		if err != nil {
			return err
		}
		if entry == nil {
			return ErrNotFound
		}

		if err := tx.Where("id = ?", entry.ID).Delete(&models.WaitlistEntry{}).Error; err != nil {
			return fmt.Errorf("waitlist service: delete entry: %w", err)
		}
		metrics.WaitlistTransitions.WithLabelValues("left").Inc()

		if entry.OfferActive(now) {
			if _, err := s.promoteNextTx(tx, ev, now, box); err != nil {
				return err
			}
		}
		return nil
	})
}

// PromoteNext offers a free seat to the first waiting user. It returns nil when nobody was
// promoted.
func (s *WaitlistService) PromoteNext(ctx context.Context, eventID string) (*models.WaitlistEntry, error) {
	var promoted *models.WaitlistEntry
	err := s.mutateEvent(ctx, eventID, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		entry, err := s.promoteNextTx(tx, ev, now, box)
		promoted = entry
		return err
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// ConfirmWaitlistSpot turns userID's active offer into a YES response. The offer already holds
// the seat, so capacity is not re-checked.
func (s *WaitlistService) ConfirmWaitlistSpot(ctx context.Context, eventID, userID string) (*models.RSVP, error) {
	userID = strings.TrimSpace(userID)

	var result *models.RSVP
	err := s.mutateEvent(ctx, eventID, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		observed := ObservedStateOf(ev, now, s.defaultDuration)
		if ev.State == models.EventStateDraft || observed.Terminal() {
			return ErrInvalidTransition.WithMessage("Event is not accepting RSVPs")
		}

		entry, err := findWaitlistEntry(tx, ev.ID, userID)
		if err != nil {
			return err
		}
		if !entry.OfferActive(now) {
			return ErrNoActiveOffer
		}

		if err := tx.Where("id = ?", entry.ID).Delete(&models.WaitlistEntry{}).Error; err != nil {
			return fmt.Errorf("waitlist service: consume offer: %w", err)
		}

		rsvp, previous, err := upsertRSVP(tx, ev.ID, userID, models.RSVPYes, now)
		if err != nil {
			return err
		}
		if err := notifyResponseChange(tx, ev, userID, previous, models.RSVPYes, box); err != nil {
			return err
		}

		metrics.WaitlistTransitions.WithLabelValues("confirmed").Inc()
		result = rsvp
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("waitlist offer confirmed", zap.String("event_id", eventID), zap.String("user_id", userID))
	return result, nil
}

// ExpireStaleOffers removes offers that lapsed before now, promoting one waiting user per
// released seat, and returns the number removed. A zero now uses the service clock.
func (s *WaitlistService) ExpireStaleOffers(ctx context.Context, eventID string, now time.Time) (int, error) {
	if now.IsZero() {
		now = s.clock()
	}

	expired := 0
	err := s.withEvent(ctx, eventID, now.UTC(), false, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		count, err := s.expireStaleOffersTx(tx, ev, now, box)
		expired = count
		return err
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}

// EventsWithStaleOffers lists events holding at least one offer that lapsed before now.
func (s *WaitlistService) EventsWithStaleOffers(ctx context.Context, now time.Time) ([]string, error) {
	ctx = ensureContext(ctx)
	if now.IsZero() {
		now = s.clock()
	}

	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.WaitlistEntry{}).
		Where("notified_at IS NOT NULL AND expires_at < ?", now.UTC()).
		Distinct("event_id").
		Pluck("event_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("waitlist service: list events with stale offers: %w", err)
	}
	return ids, nil
}

// List returns the event's waitlist. Waiting entries come first, ranked by position; entries
// holding an offer follow without a position.
func (s *WaitlistService) List(ctx context.Context, eventID string) ([]models.WaitlistEntry, error) {
	ctx = ensureContext(ctx)
	s.sweepIfDue(ctx, eventID)

	if _, err := loadEvent(ctx, s.db, eventID); err != nil {
		return nil, err
	}

	var entries []models.WaitlistEntry
	if err := s.db.WithContext(ctx).
		Where("event_id = ?", strings.TrimSpace(eventID)).
		Order("sequence ASC").
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("waitlist service: list entries: %w", err)
	}

	waiting := make([]models.WaitlistEntry, 0, len(entries))
	var offered []models.WaitlistEntry
	for _, entry := range entries {
		if entry.Offered() {
			offered = append(offered, entry)
			continue
		}
		position := len(waiting) + 1
		entry.Position = &position
		waiting = append(waiting, entry)
	}
	return append(waiting, offered...), nil
}

// Get returns userID's waitlist entry with its position.
func (s *WaitlistService) Get(ctx context.Context, eventID, userID string) (*models.WaitlistEntry, error) {
	ctx = ensureContext(ctx)
	s.sweepIfDue(ctx, eventID)

	db := s.db.WithContext(ctx)
	entry, err := findWaitlistEntry(db, strings.TrimSpace(eventID), strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	if !entry.Offered() {
		position, err := waitingPosition(db, entry)
		if err != nil {
			return nil, err
		}
		entry.Position = &position
	}
	return entry, nil
}

func findWaitlistEntry(tx *gorm.DB, eventID, userID string) (*models.WaitlistEntry, error) {
	var entry models.WaitlistEntry
	err := tx.Where("event_id = ? AND user_id = ?", eventID, userID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load waitlist entry: %w", err)
	}
	return &entry, nil
}

// waitingPosition ranks entry among the event's entries that have not been offered a seat.
func waitingPosition(tx *gorm.DB, entry *models.WaitlistEntry) (int, error) {
	var ahead int64
	if err := tx.Model(&models.WaitlistEntry{}).
		Where("event_id = ? AND notified_at IS NULL AND sequence < ?", entry.EventID, entry.Sequence).
		Count(&ahead).Error; err != nil {
		return 0, fmt.Errorf("rank waitlist entry: %w", err)
	}
	return int(ahead) + 1, nil
}
