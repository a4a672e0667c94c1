package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/convene/internal/models"
)

func TestWaitlistJoinChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.draftEvent(intPtr(1), true)
	_, err := f.waitlist.Join(ctx, draft.ID, "guest")
	require.ErrorIs(t, err, ErrInvalidTransition)

	noWaitlist := f.publishedEvent(intPtr(1), false)
	f.rsvp(noWaitlist.ID, "A", models.RSVPYes)
	_, err = f.waitlist.Join(ctx, noWaitlist.ID, "guest")
	require.ErrorIs(t, err, ErrInvalidTransition)

	ev := f.publishedEvent(intPtr(1), true)
	_, err = f.waitlist.Join(ctx, ev.ID, "guest")
	require.ErrorIs(t, err, ErrNotFull)

	f.rsvp(ev.ID, "A", models.RSVPYes)
	_, err = f.waitlist.Join(ctx, ev.ID, "A")
	require.ErrorIs(t, err, ErrInvalidTransition)

	f.join(ev.ID, "guest")
	_, err = f.waitlist.Join(ctx, ev.ID, "guest")
	require.ErrorIs(t, err, ErrAlreadyQueued)

	_, err = f.waitlist.Join(ctx, ev.ID, "  ")
	require.Error(t, err)
}

func TestWaitlistPositionsStayDense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(intPtr(1), true)
	f.rsvp(ev.ID, "A", models.RSVPYes)

	for i, user := range []string{"B", "C", "D"} {
		entry := f.join(ev.ID, user)
		require.Equal(t, i+1, *entry.Position)
	}
	require.Equal(t, map[string]int{"B": 1, "C": 2, "D": 3}, f.waitingPositions(ev.ID))

	require.NoError(t, f.waitlist.Leave(ctx, ev.ID, "C"))
	require.Equal(t, map[string]int{"B": 1, "D": 2}, f.waitingPositions(ev.ID))

	f.rsvp(ev.ID, "A", models.RSVPNo)
	require.Equal(t, map[string]int{"D": 1}, f.waitingPositions(ev.ID))

	entry, err := f.waitlist.Get(ctx, ev.ID, "D")
	require.NoError(t, err)
	require.Equal(t, 1, *entry.Position)

	offered, err := f.waitlist.Get(ctx, ev.ID, "B")
	require.NoError(t, err)
	require.True(t, offered.Offered())
	require.Nil(t, offered.Position)

	require.ErrorIs(t, f.waitlist.Leave(ctx, ev.ID, "C"), ErrNotFound)
}

func TestWaitlistOfferExpiresAfterWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(intPtr(1), true)

	f.rsvp(ev.ID, "A", models.RSVPYes)
	f.join(ev.ID, "B")
	f.join(ev.ID, "C")
	f.rsvp(ev.ID, "A", models.RSVPNo)

	f.clock.Advance(25 * time.Hour)

	_, err := f.waitlist.ConfirmWaitlistSpot(ctx, ev.ID, "B")
	require.ErrorIs(t, err, ErrNoActiveOffer)

	_, err = f.waitlist.Get(ctx, ev.ID, "B")
	require.ErrorIs(t, err, ErrNotFound)

	entry, err := f.waitlist.Get(ctx, ev.ID, "C")
	require.NoError(t, err)
	require.True(t, entry.OfferActive(f.clock.Now()))
	require.Equal(t, []string{"B", "C"}, recipientsOf(f.bus.OfType(string(models.NotificationWaitlistSpotAvailable))))

	rsvp, err := f.waitlist.ConfirmWaitlistSpot(ctx, ev.ID, "C")
	require.NoError(t, err)
	require.Equal(t, models.RSVPYes, rsvp.Response)
	require.Equal(t, 1, f.ledger(ev.ID).Confirmed)
}

func TestWaitlistExpireStaleOffersExplicitly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(intPtr(1), true)

	f.rsvp(ev.ID, "A", models.RSVPYes)
	f.join(ev.ID, "B")
	f.join(ev.ID, "C")
	f.rsvp(ev.ID, "A", models.RSVPMaybe)

	later := f.clock.Now().Add(25 * time.Hour)

	ids, err := f.waitlist.EventsWithStaleOffers(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = f.waitlist.EventsWithStaleOffers(ctx, later)
	require.NoError(t, err)
	require.Equal(t, []string{ev.ID}, ids)

	expired, err := f.waitlist.ExpireStaleOffers(ctx, ev.ID, later)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	expired, err = f.waitlist.ExpireStaleOffers(ctx, ev.ID, later)
	require.NoError(t, err)
	require.Zero(t, expired)

	var entries []models.WaitlistEntry
	require.NoError(t, f.db.Where("event_id = ?", ev.ID).Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, "C", entries[0].UserID)
	require.NotNil(t, entries[0].NotifiedAt)
	require.WithinDuration(t, later.Add(24*time.Hour), *entries[0].ExpiresAt, time.Second)
}

func TestWaitlistLeavingActiveOfferPromotesNext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(intPtr(1), true)

	f.rsvp(ev.ID, "A", models.RSVPYes)
	f.join(ev.ID, "B")
	f.join(ev.ID, "C")
	f.rsvp(ev.ID, "A", models.RSVPNo)

	require.NoError(t, f.waitlist.Leave(ctx, ev.ID, "B"))

	entry, err := f.waitlist.Get(ctx, ev.ID, "C")
	require.NoError(t, err)
	require.True(t, entry.Offered())

	ledger := f.ledger(ev.ID)
	require.Equal(t, 0, ledger.Confirmed)
	require.Equal(t, 1, ledger.HeldOffers)
	require.Equal(t, 0, *ledger.Available)
}

func TestWaitlistConfirmNeverOverflows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(intPtr(2), true)

	f.rsvp(ev.ID, "A", models.RSVPYes)
	f.rsvp(ev.ID, "B", models.RSVPYes)
	f.join(ev.ID, "C")
	f.join(ev.ID, "D")

	_, err := f.waitlist.ConfirmWaitlistSpot(ctx, ev.ID, "C")
	require.ErrorIs(t, err, ErrNoActiveOffer)
	_, err = f.waitlist.ConfirmWaitlistSpot(ctx, ev.ID, "stranger")
	require.ErrorIs(t, err, ErrNoActiveOffer)

	promoted, err := f.waitlist.PromoteNext(ctx, ev.ID)
	require.NoError(t, err)
	require.Nil(t, promoted)

	f.rsvp(ev.ID, "A", models.RSVPNo)
	_, err = f.waitlist.ConfirmWaitlistSpot(ctx, ev.ID, "C")
	require.NoError(t, err)
	_, err = f.waitlist.ConfirmWaitlistSpot(ctx, ev.ID, "C")
	require.ErrorIs(t, err, ErrNoActiveOffer)
	_, err = f.waitlist.ConfirmWaitlistSpot(ctx, ev.ID, "D")
	require.ErrorIs(t, err, ErrNoActiveOffer)

	ledger := f.ledger(ev.ID)
	require.Equal(t, 2, ledger.Confirmed)
	require.LessOrEqual(t, ledger.Confirmed+ledger.HeldOffers, *ledger.Capacity)
}

func TestWaitlistPromoteNextAfterCapacityOpens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(intPtr(1), true)

	f.rsvp(ev.ID, "A", models.RSVPYes)
	f.join(ev.ID, "B")

	// Remove the YES out of band so the service sees a free seat nobody announced.
	require.NoError(t, f.db.Model(&models.RSVP{}).
		Where("event_id = ? AND user_id = ?", ev.ID, "A").
		Update("response", models.RSVPNo).Error)

	promoted, err := f.waitlist.PromoteNext(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	require.Equal(t, "B", promoted.UserID)
	require.True(t, promoted.Offered())
}

func TestWaitlistConfirmRejectedAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(intPtr(1), true)

	f.rsvp(ev.ID, "A", models.RSVPYes)
	f.join(ev.ID, "B")
	f.rsvp(ev.ID, "A", models.RSVPNo)

	_, err := f.events.Cancel(ctx, testOrganizer, ev.ID, "Rained out")
	require.NoError(t, err)

	_, err = f.waitlist.ConfirmWaitlistSpot(ctx, ev.ID, "B")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.waitlist.List(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWaitlistOfferHonouredAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := f.publishedEvent(intPtr(1), true)

	f.rsvp(ev.ID, "A", models.RSVPYes)
	f.join(ev.ID, "B")
	f.rsvp(ev.ID, "A", models.RSVPNo)

	_, err := f.events.Close(ctx, testOrganizer, ev.ID)
	require.NoError(t, err)

	// New answers are refused once closed, but the outstanding offer still stands.
	_, err = f.rsvps.SetRSVP(ctx, ev.ID, "C", models.RSVPYes)
	require.ErrorIs(t, err, ErrInvalidTransition)

	rsvp, err := f.waitlist.ConfirmWaitlistSpot(ctx, ev.ID, "B")
	require.NoError(t, err)
	require.Equal(t, models.RSVPYes, rsvp.Response)
	require.Equal(t, 1, f.ledger(ev.ID).Confirmed)
}
