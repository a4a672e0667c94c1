package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/convene/internal/handlers"
	"github.com/charlesng35/convene/internal/handlers/testutil"
	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/services"
)

func TestFullEventQueuesYesOnWaitlist(t *testing.T) {
	env := testutil.NewEnv(t)
	event := publishedEvent(t, env, 1, true)
	path := "/api/events/" + event.ID

	var outcome handlers.RSVPOutcome
	testutil.MustOK(t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{"response": "yes"}, "ann"), http.StatusOK, &outcome)
	require.Equal(t, handlers.RSVPStatusRecorded, outcome.Status)
	require.Equal(t, models.RSVPYes, outcome.RSVP.Response)

	outcome = handlers.RSVPOutcome{}
	testutil.MustOK(t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{"response": "YES"}, "ben"), http.StatusAccepted, &outcome)
	require.Equal(t, handlers.RSVPStatusWaitlisted, outcome.Status)
	require.Nil(t, outcome.RSVP)
	require.NotNil(t, outcome.Waitlist.Position)
	require.Equal(t, 1, *outcome.Waitlist.Position)

	// Repeating the request reports the existing place in the queue.
	outcome = handlers.RSVPOutcome{}
	testutil.MustOK(t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{"response": "YES"}, "ben"), http.StatusOK, &outcome)
	require.Equal(t, handlers.RSVPStatusWaitlisted, outcome.Status)
	require.Equal(t, 1, *outcome.Waitlist.Position)

	w := env.Request(http.MethodPut, path+"/rsvp", map[string]any{"response": "YES", "join_waitlist": false}, "cat")
	testutil.MustFail(t, w, http.StatusConflict, "EVENT_FULL")

	// Ann steps down: Ben is offered her seat and told about it.
	testutil.MustOK[handlers.RSVPOutcome](t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{"response": "NO"}, "ann"), http.StatusOK, nil)

	var entry models.WaitlistEntry
	testutil.MustOK(t, env.Request(http.MethodGet, path+"/waitlist/me", nil, "ben"), http.StatusOK, &entry)
	require.Nil(t, entry.Position)
	require.NotNil(t, entry.ExpiresAt)

	var inbox []services.NotificationDTO
	testutil.MustOK(t, env.Request(http.MethodGet, "/api/notifications", nil, "ben"), http.StatusOK, &inbox)
	require.Len(t, inbox, 1)
	require.Equal(t, models.NotificationWaitlistSpotAvailable, inbox[0].Type)

	testutil.MustFail(t, env.Request(http.MethodPost, path+"/waitlist/confirm", nil, "cat"), http.StatusConflict, "NO_ACTIVE_OFFER")

	outcome = handlers.RSVPOutcome{}
	testutil.MustOK(t, env.Request(http.MethodPost, path+"/waitlist/confirm", nil, "ben"), http.StatusOK, &outcome)
	require.Equal(t, models.RSVPYes, outcome.RSVP.Response)

	var view services.EventView
	testutil.MustOK(t, env.Request(http.MethodGet, path, nil, "ben"), http.StatusOK, &view)
	require.Equal(t, 1, view.Ledger.Confirmed)
	require.Equal(t, 0, view.Ledger.HeldOffers)

	testutil.MustFail(t, env.Request(http.MethodGet, path+"/waitlist/me", nil, "ben"), http.StatusNotFound, "NOT_FOUND")
}

func TestFullEventWithoutWaitlistReportsFull(t *testing.T) {
	env := testutil.NewEnv(t)
	event := publishedEvent(t, env, 1, false)
	path := "/api/events/" + event.ID

	testutil.MustOK[handlers.RSVPOutcome](t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{"response": "YES"}, "ann"), http.StatusOK, nil)
	testutil.MustFail(t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{"response": "YES"}, "ben"), http.StatusConflict, "EVENT_FULL")
	testutil.MustFail(t, env.Request(http.MethodPost, path+"/waitlist", nil, "ben"), http.StatusConflict, "INVALID_TRANSITION")
}

func TestRSVPValidationAndReads(t *testing.T) {
	env := testutil.NewEnv(t)
	event := publishedEvent(t, env, 0, false)
	path := "/api/events/" + event.ID

	testutil.MustFail(t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{}, "ann"), http.StatusBadRequest, "BAD_REQUEST")
	testutil.MustFail(t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{"response": "PERHAPS"}, "ann"), http.StatusBadRequest, "BAD_REQUEST")
	testutil.MustFail(t, env.Request(http.MethodGet, path+"/rsvp", nil, "ann"), http.StatusNotFound, "NOT_FOUND")

	testutil.MustFail(t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{"response": "   "}, "ann"), http.StatusBadRequest, "BAD_REQUEST")

	var outcome handlers.RSVPOutcome
	testutil.MustOK(t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{"response": " Maybe "}, "ann"), http.StatusOK, &outcome)
	require.Equal(t, models.RSVPMaybe, outcome.RSVP.Response)
	testutil.MustOK[handlers.RSVPOutcome](t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{"response": "YES"}, "ben"), http.StatusOK, nil)

	var rsvp models.RSVP
	testutil.MustOK(t, env.Request(http.MethodGet, path+"/rsvp", nil, "ann"), http.StatusOK, &rsvp)
	require.Equal(t, models.RSVPMaybe, rsvp.Response)

	testutil.MustFail(t, env.Request(http.MethodGet, path+"/rsvps", nil, "ann"), http.StatusForbidden, "NOT_ORGANIZER")

	var all []models.RSVP
	resp := testutil.MustOK(t, env.Request(http.MethodGet, path+"/rsvps", nil, organizer), http.StatusOK, &all)
	require.Len(t, all, 2)
	require.Equal(t, 2, resp.Meta.Total)

	var yes []models.RSVP
	testutil.MustOK(t, env.Request(http.MethodGet, path+"/rsvps?response=yes", nil, organizer), http.StatusOK, &yes)
	require.Len(t, yes, 1)
	require.Equal(t, "ben", yes[0].UserID)
}

func TestWaitlistEndpoints(t *testing.T) {
	env := testutil.NewEnv(t)
	event := publishedEvent(t, env, 1, true)
	path := "/api/events/" + event.ID

	testutil.MustFail(t, env.Request(http.MethodPost, path+"/waitlist", nil, "ben"), http.StatusConflict, "EVENT_NOT_FULL")
	testutil.MustOK[handlers.RSVPOutcome](t, env.Request(http.MethodPut, path+"/rsvp", map[string]string{"response": "YES"}, "ann"), http.StatusOK, nil)

	for _, user := range []string{"ben", "cat", "dan"} {
		var entry models.WaitlistEntry
		testutil.MustOK(t, env.Request(http.MethodPost, path+"/waitlist", nil, user), http.StatusCreated, &entry)
	}
	testutil.MustFail(t, env.Request(http.MethodPost, path+"/waitlist", nil, "cat"), http.StatusConflict, "ALREADY_QUEUED")

	testutil.MustOK[map[string]bool](t, env.Request(http.MethodDelete, path+"/waitlist", nil, "cat"), http.StatusOK, nil)

	testutil.MustFail(t, env.Request(http.MethodGet, path+"/waitlist", nil, "ben"), http.StatusForbidden, "NOT_ORGANIZER")

	var entries []models.WaitlistEntry
	testutil.MustOK(t, env.Request(http.MethodGet, path+"/waitlist", nil, organizer), http.StatusOK, &entries)
	require.Len(t, entries, 2)
	require.Equal(t, "ben", entries[0].UserID)
	require.Equal(t, 1, *entries[0].Position)
	require.Equal(t, "dan", entries[1].UserID)
	require.Equal(t, 2, *entries[1].Position)
}
