package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/convene/internal/app"
	"github.com/charlesng35/convene/internal/handlers/testutil"
	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/services"
)

func putContact(t *testing.T, env *testutil.Env, userID, email string) {
	t.Helper()
	var contact services.ContactDTO
	testutil.MustOK(t, env.Request(http.MethodPut, "/api/me/contact", map[string]string{
		"display_name": userID,
		"email":        email,
	}, userID), http.StatusOK, &contact)
	require.Equal(t, userID, contact.UserID)
	require.Equal(t, email, contact.Email)
}

func rsvp(t *testing.T, env *testutil.Env, eventID, userID, answer string) {
	t.Helper()
	testutil.MustOK[map[string]any](t, env.Request(http.MethodPut, "/api/events/"+eventID+"/rsvp", map[string]string{"response": answer}, userID), http.StatusOK, nil)
}

func TestContactEndpoints(t *testing.T) {
	env := testutil.NewEnv(t)

	testutil.MustFail(t, env.Request(http.MethodGet, "/api/me/contact", nil, "ann"), http.StatusNotFound, "NOT_FOUND")
	testutil.MustFail(t, env.Request(http.MethodPut, "/api/me/contact", map[string]string{"email": "not-an-address"}, "ann"), http.StatusBadRequest, "BAD_REQUEST")
	testutil.MustFail(t, env.Request(http.MethodPut, "/api/me/contact", map[string]string{"phone": "0123"}, "ann"), http.StatusBadRequest, "BAD_REQUEST")

	putContact(t, env, "ann", "ann@example.com")

	var contact services.ContactDTO
	testutil.MustOK(t, env.Request(http.MethodGet, "/api/me/contact", nil, "ann"), http.StatusOK, &contact)
	require.Equal(t, "ann@example.com", contact.Email)

	// Stored contact details are sealed at rest.
	var row models.Contact
	require.NoError(t, env.DB.Where("user_id = ?", "ann").First(&row).Error)
	require.NotContains(t, row.EmailCiphertext, "ann@example.com")
}

func TestMassMessageOverHTTP(t *testing.T) {
	env := testutil.NewEnv(t)
	event := publishedEvent(t, env, 0, false)
	path := "/api/events/" + event.ID

	putContact(t, env, "ann", "ann@example.com")
	putContact(t, env, "ben", "ben@example.com")
	rsvp(t, env, event.ID, "ann", "YES")
	rsvp(t, env, event.ID, "ben", "YES")
	rsvp(t, env, event.ID, "cat", "YES")
	rsvp(t, env, event.ID, "dan", "MAYBE")

	payload := map[string]string{
		"channel":  "email",
		"audience": "attending",
		"subject":  "Menu",
		"body":     "Doors open at seven.",
	}
	testutil.MustFail(t, env.Request(http.MethodPost, path+"/messages", payload, "ann"), http.StatusForbidden, "NOT_ORGANIZER")

	var report services.MassMessageReport
	testutil.MustOK(t, env.Request(http.MethodPost, path+"/messages", payload, organizer), http.StatusOK, &report)
	require.Equal(t, 3, report.Requested)
	require.Equal(t, 2, report.Sent)
	require.Equal(t, 1, report.Skipped)
	require.Len(t, report.Failures, 1)
	require.Equal(t, "cat", report.Failures[0].UserID)

	addresses := make([]string, 0, len(env.Outbox.Sent))
	for _, recipient := range env.Outbox.Sent {
		addresses = append(addresses, recipient.Address)
	}
	require.ElementsMatch(t, []string{"ann@example.com", "ben@example.com"}, addresses)

	var history []models.MassMessage
	resp := testutil.MustOK(t, env.Request(http.MethodGet, path+"/messages", nil, organizer), http.StatusOK, &history)
	require.Equal(t, 1, resp.Meta.Total)
	require.Equal(t, report.MessageID, history[0].ID)

	var quota struct {
		Snapshot  services.QuotaSnapshot `json:"snapshot"`
		Remaining int                    `json:"remaining"`
	}
	testutil.MustOK(t, env.Request(http.MethodGet, path+"/quota", nil, organizer), http.StatusOK, &quota)
	require.Equal(t, models.ChannelEmail, quota.Snapshot.Channel)
	require.Equal(t, 498, quota.Remaining)

	testutil.MustFail(t, env.Request(http.MethodGet, path+"/quota?channel=fax", nil, organizer), http.StatusBadRequest, "BAD_REQUEST")
	testutil.MustFail(t, env.Request(http.MethodGet, path+"/quota", nil, "ann"), http.StatusForbidden, "NOT_ORGANIZER")

	payload["channel"] = "pigeon"
	testutil.MustFail(t, env.Request(http.MethodPost, path+"/messages", payload, organizer), http.StatusBadRequest, "BAD_REQUEST")
}

func TestMassMessageRespectsQuota(t *testing.T) {
	env := testutil.NewEnv(t, func(cfg *app.Config) {
		cfg.Quota = map[string]map[string]app.QuotaConfig{
			"email": {"organizer": {Daily: 1}},
		}
	})
	event := publishedEvent(t, env, 0, false)
	path := "/api/events/" + event.ID

	putContact(t, env, "ann", "ann@example.com")
	putContact(t, env, "ben", "ben@example.com")
	rsvp(t, env, event.ID, "ann", "YES")
	rsvp(t, env, event.ID, "ben", "MAYBE")

	payload := map[string]string{"channel": "EMAIL", "audience": "ALL", "body": "See you there."}
	testutil.MustFail(t, env.Request(http.MethodPost, path+"/messages", payload, organizer), http.StatusTooManyRequests, "QUOTA_EXCEEDED")
	require.Empty(t, env.Outbox.Sent)

	payload["audience"] = "MAYBE"
	var report services.MassMessageReport
	testutil.MustOK(t, env.Request(http.MethodPost, path+"/messages", payload, organizer), http.StatusOK, &report)
	require.Equal(t, 1, report.Sent)

	testutil.MustFail(t, env.Request(http.MethodPost, path+"/messages", payload, organizer), http.StatusTooManyRequests, "QUOTA_EXCEEDED")
}

func TestInvitationsOverHTTP(t *testing.T) {
	env := testutil.NewEnv(t)
	draft := createEvent(t, env, 0, false)
	testutil.MustFail(t, env.Request(http.MethodPost, "/api/events/"+draft.ID+"/invitations", map[string]any{"user_ids": []string{"pat"}}, organizer), http.StatusConflict, "INVALID_TRANSITION")

	event := publishedEvent(t, env, 0, false)
	path := "/api/events/" + event.ID
	rsvp(t, env, event.ID, "ann", "YES")

	testutil.MustFail(t, env.Request(http.MethodPost, path+"/invitations", map[string]any{"user_ids": []string{}}, organizer), http.StatusBadRequest, "BAD_REQUEST")
	testutil.MustFail(t, env.Request(http.MethodPost, path+"/invitations", "not an object", organizer), http.StatusBadRequest, "BAD_REQUEST")

	var report services.InviteReport
	testutil.MustOK(t, env.Request(http.MethodPost, path+"/invitations", map[string]any{
		"user_ids": []string{"pat", "ann"},
		"message":  "Hope you can make it",
	}, organizer), http.StatusOK, &report)
	require.Equal(t, []string{"pat"}, report.Invited)
	require.Equal(t, []string{"ann"}, report.Skipped)

	report = services.InviteReport{}
	testutil.MustOK(t, env.Request(http.MethodPost, path+"/invitations", map[string]any{"user_ids": []string{"pat"}}, organizer), http.StatusOK, &report)
	require.Empty(t, report.Invited)
	require.Equal(t, []string{"pat"}, report.Skipped)

	var invitations []models.Invitation
	testutil.MustOK(t, env.Request(http.MethodGet, path+"/invitations", nil, organizer), http.StatusOK, &invitations)
	require.Len(t, invitations, 1)
	require.Equal(t, "pat", invitations[0].UserID)
	testutil.MustFail(t, env.Request(http.MethodGet, path+"/invitations", nil, "pat"), http.StatusForbidden, "NOT_ORGANIZER")

	var inbox []services.NotificationDTO
	testutil.MustOK(t, env.Request(http.MethodGet, "/api/notifications", nil, "pat"), http.StatusOK, &inbox)
	require.Len(t, inbox, 1)
	require.Equal(t, models.NotificationEventInvited, inbox[0].Type)
}
