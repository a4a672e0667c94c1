package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/database/testutil"
	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/notifications"
)

const testOrganizer = "organizer-1"

var testContactKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2030, time.May, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// teeBus captures every domain event and records it through the real dispatcher.
type teeBus struct {
	capture *notifications.CaptureBus
	inline  *notifications.InlineBus
}

func (b *teeBus) Publish(ctx context.Context, event notifications.DomainEvent) error {
	_ = b.capture.Publish(ctx, event)
	return b.inline.Publish(ctx, event)
}

func (b *teeBus) Close() error { return nil }

type fixture struct {
	t             *testing.T
	db            *gorm.DB
	clock         *testClock
	bus           *notifications.CaptureBus
	notifications *NotificationService
	events        *EventService
	rsvps         *RSVPService
	waitlist      *WaitlistService
}

func newFixture(t *testing.T, opts ...LifecycleOption) *fixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	notificationSvc, err := NewNotificationService(db, nil)
	require.NoError(t, err)
	dispatcher, err := notifications.NewDispatcher(notificationSvc)
	require.NoError(t, err)

	capture := &notifications.CaptureBus{}
	bus := &teeBus{capture: capture, inline: notifications.NewInlineBus(dispatcher)}

	base := []LifecycleOption{WithClock(clock.Now), WithBus(bus)}
	opts = append(base, opts...)

	events, err := NewEventService(db, opts...)
	require.NoError(t, err)
	rsvps, err := NewRSVPService(db, opts...)
	require.NoError(t, err)
	waitlist, err := NewWaitlistService(db, opts...)
	require.NoError(t, err)

	return &fixture{
		t:             t,
		db:            db,
		clock:         clock,
		bus:           capture,
		notifications: notificationSvc,
		events:        events,
		rsvps:         rsvps,
		waitlist:      waitlist,
	}
}

func (f *fixture) draftEvent(capacity *int, waitlist bool) *models.Event {
	f.t.Helper()
	start := f.clock.Now().Add(7 * 24 * time.Hour)
	ev, err := f.events.Create(context.Background(), CreateEventInput{
		CreatedBy:       testOrganizer,
		Title:           "Garden party",
		Description:     "Bring a dish to share",
		DateTime:        &start,
		Location:        "12 Orchard Lane",
		Capacity:        capacity,
		WaitlistEnabled: waitlist,
	})
	require.NoError(f.t, err)
	return ev
}

func (f *fixture) publishedEvent(capacity *int, waitlist bool) *models.Event {
	f.t.Helper()
	ev := f.draftEvent(capacity, waitlist)
	published, err := f.events.Publish(context.Background(), testOrganizer, ev.ID)
	require.NoError(f.t, err)
	return published
}

func (f *fixture) rsvp(eventID, userID string, response models.RSVPResponse) {
	f.t.Helper()
	_, err := f.rsvps.SetRSVP(context.Background(), eventID, userID, response)
	require.NoError(f.t, err)
}

func (f *fixture) join(eventID, userID string) *models.WaitlistEntry {
	f.t.Helper()
	entry, err := f.waitlist.Join(context.Background(), eventID, userID)
	require.NoError(f.t, err)
	return entry
}

func (f *fixture) ledger(eventID string) Ledger {
	f.t.Helper()
	ledger, err := f.rsvps.Ledger(context.Background(), eventID)
	require.NoError(f.t, err)
	return ledger
}

func (f *fixture) recordedCount(userID string, typ models.NotificationType) int64 {
	f.t.Helper()
	var count int64
	query := f.db.Model(&models.Notification{}).Where("type = ?", typ)
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	require.NoError(f.t, query.Count(&count).Error)
	return count
}

func recipientsOf(events []notifications.DomainEvent) []string {
	var out []string
	for _, event := range events {
		out = append(out, event.Recipients...)
	}
	return out
}

// waitingPositions returns user IDs mapped to their positions, requiring the positions of
// waiting entries to be 1..n without gaps.
func (f *fixture) waitingPositions(eventID string) map[string]int {
	f.t.Helper()
	entries, err := f.waitlist.List(context.Background(), eventID)
	require.NoError(f.t, err)

	positions := map[string]int{}
	expected := 1
	for _, entry := range entries {
		if entry.Offered() {
			require.Nil(f.t, entry.Position)
			continue
		}
		require.NotNil(f.t, entry.Position)
		require.Equal(f.t, expected, *entry.Position)
		positions[entry.UserID] = *entry.Position
		expected++
	}
	return positions
}
