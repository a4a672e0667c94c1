package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/convene/internal/cache"
	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/notifications"
	apperrors "github.com/charlesng35/convene/pkg/errors"
	"github.com/charlesng35/convene/pkg/logger"
	"github.com/charlesng35/convene/pkg/metrics"
)

const (
	defaultOfferWindow    = 24 * time.Hour
	defaultThrottleWindow = 30 * time.Second
)

// lifecycle carries the collaborators shared by the event, RSVP and waitlist services. All
// three mutate the same rows under the same per-event lock.
type lifecycle struct {
	db              *gorm.DB
	bus             notifications.Bus
	now             func() time.Time
	offerWindow     time.Duration
	defaultDuration time.Duration
	reconfirmWindow time.Duration
	throttle        cache.Store
	throttleWindow  time.Duration
	log             *zap.Logger
}

// LifecycleOption configures the event, RSVP and waitlist services.
type LifecycleOption func(*lifecycle)

// WithClock overrides the time source. Times are normalised to UTC.
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *lifecycle) {
		if now != nil {
			l.now = now
		}
	}
}

// WithBus sets the bus domain events are published to after commit.
func WithBus(bus notifications.Bus) LifecycleOption {
	return func(l *lifecycle) {
		l.bus = bus
	}
}

// WithOfferWindow sets how long a promoted waitlist entry holds its seat.
func WithOfferWindow(window time.Duration) LifecycleOption {
	return func(l *lifecycle) {
		if window > 0 {
			l.offerWindow = window
		}
	}
}

// WithDefaultDuration sets how long events without an explicit end run.
func WithDefaultDuration(d time.Duration) LifecycleOption {
	return func(l *lifecycle) {
		if d >= 0 {
			l.defaultDuration = d
		}
	}
}

// WithReconfirmWindow sets how long flagged attendees have to reconfirm before their seat is
// released. Zero disables releasing.
func WithReconfirmWindow(window time.Duration) LifecycleOption {
	return func(l *lifecycle) {
		if window >= 0 {
			l.reconfirmWindow = window
		}
	}
}

// WithSweepThrottle limits read-triggered offer expiry to once per window per event.
func WithSweepThrottle(store cache.Store, window time.Duration) LifecycleOption {
	return func(l *lifecycle) {
		l.throttle = store
		if window > 0 {
			l.throttleWindow = window
		}
	}
}

func newLifecycle(db *gorm.DB, module string, opts []LifecycleOption) (*lifecycle, error) {
	if db == nil {
		return nil, fmt.Errorf("%s: db is required", module)
	}
	l := &lifecycle{
		db:             db,
		now:            time.Now,
		offerWindow:    defaultOfferWindow,
		throttleWindow: defaultThrottleWindow,
		log:            logger.WithModule(strings.ReplaceAll(module, " ", "_")),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

func (l *lifecycle) clock() time.Time {
	return l.now().UTC()
}

// outbox collects domain events inside a transaction; they are published only once it commits.
// Events are stamped with the transaction's clock reading.
type outbox struct {
	now    time.Time
	events []notifications.DomainEvent
}

func (o *outbox) add(event notifications.DomainEvent) {
	if len(event.Recipients) == 0 {
		return
	}
	o.events = append(o.events, event.At(o.now))
}

type eventMutation func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error

// mutateEvent runs fn against the locked event after expiring lapsed offers.
func (l *lifecycle) mutateEvent(ctx context.Context, eventID string, fn eventMutation) error {
	return l.withEvent(ctx, eventID, l.clock(), true, fn)
}

func (l *lifecycle) withEvent(ctx context.Context, eventID string, now time.Time, sweep bool, fn eventMutation) error {
	ctx = ensureContext(ctx)
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return apperrors.NewBadRequest("event id is required")
	}

	box := &outbox{now: now}
	err := func() error {
		unlock := eventLocks.Lock(eventID)
		defer unlock()

		return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ev, err := lockEvent(tx, eventID)
			if err != nil {
				return err
			}
			if sweep {
				if _, err := l.expireStaleOffersTx(tx, ev, now, box); err != nil {
					return err
				}
			}
			return fn(tx, ev, now, box)
		})
	}()
	if err != nil {
		return err
	}

	notifications.PublishAll(ctx, l.bus, l.log, box.events...)
	return nil
}

func lockEvent(tx *gorm.DB, eventID string) (*models.Event, error) {
	var ev models.Event
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", eventID).
		First(&ev).Error
	if err != nil {
		return nil, notFoundOr(err, func(err error) error { return fmt.Errorf("load event: %w", err) })
	}
	return &ev, nil
}

func loadEvent(ctx context.Context, db *gorm.DB, eventID string) (*models.Event, error) {
	var ev models.Event
	err := db.WithContext(ctx).Where("id = ?", strings.TrimSpace(eventID)).First(&ev).Error
	if err != nil {
		return nil, notFoundOr(err, func(err error) error { return fmt.Errorf("load event: %w", err) })
	}
	return &ev, nil
}

// sweepIfDue expires lapsed offers for reads, at most once per throttle window per event.
// Failures are logged; reads never fail because of the sweep.
func (l *lifecycle) sweepIfDue(ctx context.Context, eventID string) {
	acquired, err := cache.Acquire(ctx, l.throttle, "sweep:"+eventID, l.throttleWindow)
	if err != nil {
		l.log.Warn("sweep throttle unavailable", zap.String("event_id", eventID), zap.Error(err))
	} else if !acquired {
		return
	}

	err = l.withEvent(ctx, eventID, l.clock(), false, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		_, err := l.expireStaleOffersTx(tx, ev, now, box)
		return err
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		l.log.Warn("lazy offer expiry failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

// expireStaleOffersTx removes offers that lapsed before now and promotes one waiting entry
// for each seat released.
func (l *lifecycle) expireStaleOffersTx(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) (int, error) {
	var stale []models.WaitlistEntry
	err := tx.Where("event_id = ? AND notified_at IS NOT NULL AND expires_at < ?", ev.ID, now).
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("find stale offers: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(stale))
	for _, entry := range stale {
		ids = append(ids, entry.ID)
	}
	if err := tx.Where("id IN ?", ids).Delete(&models.WaitlistEntry{}).Error; err != nil {
		return 0, fmt.Errorf("delete stale offers: %w", err)
	}
	metrics.WaitlistTransitions.WithLabelValues("expired").Add(float64(len(stale)))

	for range stale {
		if _, err := l.promoteNextTx(tx, ev, now, box); err != nil {
			return 0, err
		}
	}

	l.log.Info("expired waitlist offers", zap.String("event_id", ev.ID), zap.Int("count", len(stale)))
	return len(stale), nil
}

// promoteNextTx offers the held seat to the first waiting entry. It is a no-op when the event
// no longer accepts responses, has no free seat or has nobody waiting.
func (l *lifecycle) promoteNextTx(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) (*models.WaitlistEntry, error) {
	if !AcceptsRSVP(ev, now, l.defaultDuration) {
		return nil, nil
	}

	ledger, err := computeLedger(tx, ev, now)
	if err != nil {
		return nil, err
	}
	if !ledger.HasRoom() {
		return nil, nil
	}

	var entry models.WaitlistEntry
	err = tx.Where("event_id = ? AND notified_at IS NULL", ev.ID).
		Order("sequence ASC").
		Order("created_at ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find next waitlist entry: %w", err)
	}

	notifiedAt := now
	expiresAt := now.Add(l.offerWindow)
	err = tx.Model(&models.WaitlistEntry{}).
		Where("id = ?", entry.ID).
		Updates(map[string]any{"notified_at": notifiedAt, "expires_at": expiresAt}).Error
	if err != nil {
		return nil, fmt.Errorf("offer waitlist spot: %w", err)
	}
	entry.NotifiedAt = &notifiedAt
	entry.ExpiresAt = &expiresAt

	box.add(notifications.NewDomainEvent(
		models.NotificationWaitlistSpotAvailable,
		ev.ID,
		[]string{entry.UserID},
		"A spot opened up",
		fmt.Sprintf("A seat at %s is held for you until %s.", ev.Title, expiresAt.Format(time.RFC3339)),
	).WithMetadata("expires_at", expiresAt.Format(time.RFC3339)))
	metrics.WaitlistTransitions.WithLabelValues("offered").Inc()

	return &entry, nil
}
