package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/convene/internal/models"
)

type memorySink struct {
	mu      sync.Mutex
	records map[string]Record
	failFor string
}

func newMemorySink() *memorySink {
	return &memorySink{records: make(map[string]Record)}
}

func (s *memorySink) Record(_ context.Context, record Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.UserID == s.failFor {
		return false, errors.New("disk full")
	}
	if _, ok := s.records[record.DedupeKey]; ok {
		return false, nil
	}
	s.records[record.DedupeKey] = record
	return true, nil
}

func (s *memorySink) forUser(userID string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, record := range s.records {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	return out
}

func TestNewDomainEventNormalisesRecipients(t *testing.T) {
	event := NewDomainEvent(models.NotificationEventCancelled, "evt-1", []string{"a", " b ", "", "a"}, "Cancelled", "Sorry")

	require.NotEmpty(t, event.ID)
	require.Equal(t, []string{"a", "b"}, event.Recipients)
	require.Equal(t, "notification.event_cancelled", event.RoutingKey())
	require.False(t, event.OccurredAt.IsZero())

	other := NewDomainEvent(models.NotificationEventCancelled, "evt-1", []string{"a"}, "", "")
	require.NotEqual(t, event.ID, other.ID)

	at := time.Date(2030, time.May, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	stamped := event.At(at)
	require.True(t, stamped.OccurredAt.Equal(at))
	require.Equal(t, time.UTC, stamped.OccurredAt.Location())
	require.Equal(t, stamped.OccurredAt, stamped.At(time.Time{}).OccurredAt, "zero time keeps the stamp")
}

func TestWithMetadataCopies(t *testing.T) {
	base := NewDomainEvent(models.NotificationEventUpdated, "evt-1", []string{"a"}, "", "")
	first := base.WithMetadata("fields", []string{"location"})
	second := first.WithMetadata("material", true)

	require.Nil(t, base.Metadata)
	require.Len(t, first.Metadata, 1)
	require.Len(t, second.Metadata, 2)
}

func TestDedupeKeyIsStablePerRecipient(t *testing.T) {
	k1 := DedupeKey("de-1", models.NotificationNewRSVP, "org-1")
	k2 := DedupeKey("de-1", models.NotificationNewRSVP, "org-1")
	k3 := DedupeKey("de-1", models.NotificationNewRSVP, "org-2")

	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)
	require.Len(t, k1, 64)
}

func TestDispatcherRecordsOncePerRecipient(t *testing.T) {
	sink := newMemorySink()
	dispatcher, err := NewDispatcher(sink)
	require.NoError(t, err)

	event := NewDomainEvent(models.NotificationRSVPReconfirm, "evt-1", []string{"u1", "u2"}, "Please reconfirm", "The venue changed")
	require.NoError(t, dispatcher.Handle(context.Background(), event))
	require.NoError(t, dispatcher.Handle(context.Background(), event), "redelivery must be harmless")

	require.Len(t, sink.forUser("u1"), 1)
	require.Len(t, sink.forUser("u2"), 1)
	require.Equal(t, "evt-1", sink.forUser("u1")[0].EventID)
}

func TestDispatcherAggregatesRecipientFailures(t *testing.T) {
	sink := newMemorySink()
	sink.failFor = "u2"
	dispatcher, err := NewDispatcher(sink)
	require.NoError(t, err)

	event := NewDomainEvent(models.NotificationEventCancelled, "evt-1", []string{"u1", "u2", "u3"}, "Cancelled", "")
	err = dispatcher.Handle(context.Background(), event)
	require.ErrorContains(t, err, "recipient u2")

	require.Len(t, sink.forUser("u1"), 1)
	require.Len(t, sink.forUser("u3"), 1)
}

func TestDispatcherRequiresSinkAndEventID(t *testing.T) {
	_, err := NewDispatcher(nil)
	require.Error(t, err)

	dispatcher, err := NewDispatcher(newMemorySink())
	require.NoError(t, err)
	require.Error(t, dispatcher.Handle(context.Background(), DomainEvent{Recipients: []string{"u1"}}))
}

func TestMemoryBusDeliversInOrderWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	var (
		mu   sync.Mutex
		seen []string
	)
	handler := HandlerFunc(func(_ context.Context, event DomainEvent) error {
		<-release
		mu.Lock()
		seen = append(seen, event.Title)
		mu.Unlock()
		return nil
	})

	bus := NewMemoryBus(handler)
	t.Cleanup(func() { _ = bus.Close() })

	published := make(chan struct{})
	go func() {
		for _, title := range []string{"one", "two", "three"} {
			if err := bus.Publish(context.Background(), NewDomainEvent(models.NotificationNewRSVP, "evt", []string{"u"}, title, "")); err != nil {
				t.Errorf("publish %s: %v", title, err)
			}
		}
		close(published)
	}()

	select {
	case <-published:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow handler")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"one", "two", "three"}, seen)
}

func TestMemoryBusFlushReturnsOnCancel(t *testing.T) {
	release := make(chan struct{})
	bus := NewMemoryBus(HandlerFunc(func(context.Context, DomainEvent) error {
		<-release
		return nil
	}))
	t.Cleanup(func() { _ = bus.Close() })
	t.Cleanup(func() { close(release) })

	require.NoError(t, bus.Publish(context.Background(), NewDomainEvent(models.NotificationNewRSVP, "evt", []string{"u"}, "", "")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := bus.Flush(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 2*time.Second)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	require.ErrorIs(t, bus.Flush(cancelled), context.Canceled)
}

func TestMemoryBusSurvivesHandlerErrorsAndRejectsAfterClose(t *testing.T) {
	var calls int
	var mu sync.Mutex
	bus := NewMemoryBus(HandlerFunc(func(context.Context, DomainEvent) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("boom")
	}))

	require.NoError(t, bus.Publish(context.Background(), NewDomainEvent(models.NotificationNewRSVP, "evt", []string{"u"}, "", "")))
	require.NoError(t, bus.Publish(context.Background(), NewDomainEvent(models.NotificationNewRSVP, "evt", []string{"u"}, "", "")))
	require.NoError(t, bus.Close())

	mu.Lock()
	require.Equal(t, 2, calls, "close drains queued events")
	mu.Unlock()

	err := bus.Publish(context.Background(), NewDomainEvent(models.NotificationNewRSVP, "evt", []string{"u"}, "", ""))
	require.ErrorIs(t, err, ErrBusClosed)
	require.NoError(t, bus.Close())
}

func TestNewBusSelectsDriver(t *testing.T) {
	handler := HandlerFunc(func(context.Context, DomainEvent) error { return nil })

	bus, err := NewBus(context.Background(), BusConfig{Driver: "inline"}, handler)
	require.NoError(t, err)
	require.IsType(t, &InlineBus{}, bus)

	bus, err = NewBus(context.Background(), BusConfig{}, handler)
	require.NoError(t, err)
	require.IsType(t, &MemoryBus{}, bus)
	require.NoError(t, bus.Close())

	_, err = NewBus(context.Background(), BusConfig{Driver: "carrier-pigeon"}, handler)
	require.ErrorContains(t, err, "unsupported bus driver")

	_, err = NewBus(context.Background(), BusConfig{Driver: "rabbitmq"}, handler)
	require.ErrorContains(t, err, "url is required")

	_, err = NewBus(context.Background(), BusConfig{Driver: "inline"}, nil)
	require.Error(t, err)
}

func TestInlineBusHandlesSynchronously(t *testing.T) {
	sink := newMemorySink()
	dispatcher, err := NewDispatcher(sink)
	require.NoError(t, err)

	bus := NewInlineBus(dispatcher)
	require.NoError(t, bus.Publish(context.Background(), NewDomainEvent(models.NotificationEventInvited, "evt", []string{"guest"}, "Invited", "")))
	require.Len(t, sink.forUser("guest"), 1)
}

type failingBus struct{ CaptureBus }

func (f *failingBus) Publish(context.Context, DomainEvent) error { return errors.New("broker down") }

func TestPublishAllSkipsEmptyAndToleratesFailures(t *testing.T) {
	capture := &CaptureBus{}
	PublishAll(context.Background(), capture, nil,
		NewDomainEvent(models.NotificationNewRSVP, "evt", nil, "nobody", ""),
		NewDomainEvent(models.NotificationNewRSVP, "evt", []string{"org"}, "someone", ""),
	)
	require.Len(t, capture.Events(), 1)
	require.Len(t, capture.OfType(string(models.NotificationNewRSVP)), 1)

	require.NotPanics(t, func() {
		PublishAll(context.Background(), &failingBus{}, nil, NewDomainEvent(models.NotificationNewRSVP, "evt", []string{"org"}, "", ""))
		PublishAll(context.Background(), nil, nil, NewDomainEvent(models.NotificationNewRSVP, "evt", []string{"org"}, "", ""))
	})
}
