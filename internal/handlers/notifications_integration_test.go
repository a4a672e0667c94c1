package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/convene/internal/handlers/testutil"
	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/services"
)

func TestNotificationInbox(t *testing.T) {
	env := testutil.NewEnv(t)
	event := publishedEvent(t, env, 0, false)
	rsvp(t, env, event.ID, "ann", "YES")
	rsvp(t, env, event.ID, "ben", "MAYBE")
	rsvp(t, env, event.ID, "ann", "NO")

	var inbox []services.NotificationDTO
	resp := testutil.MustOK(t, env.Request(http.MethodGet, "/api/notifications", nil, organizer), http.StatusOK, &inbox)
	require.Len(t, inbox, 3)
	require.Equal(t, 3, resp.Meta.Total)
	require.Equal(t, 3, resp.Meta.Unread)

	types := make([]models.NotificationType, 0, len(inbox))
	for _, item := range inbox {
		require.Equal(t, organizer, item.UserID)
		types = append(types, item.Type)
	}
	require.ElementsMatch(t, []models.NotificationType{
		models.NotificationNewRSVP,
		models.NotificationNewRSVP,
		models.NotificationRSVPChanged,
	}, types)

	target := inbox[0].ID
	testutil.MustFail(t, env.Request(http.MethodPost, "/api/notifications/"+target+"/read", nil, "ann"), http.StatusNotFound, "NOT_FOUND")

	var dto services.NotificationDTO
	testutil.MustOK(t, env.Request(http.MethodPost, "/api/notifications/"+target+"/read", nil, organizer), http.StatusOK, &dto)
	require.True(t, dto.IsRead)
	require.NotNil(t, dto.ReadAt)

	var unread []services.NotificationDTO
	resp = testutil.MustOK(t, env.Request(http.MethodGet, "/api/notifications?unread=true", nil, organizer), http.StatusOK, &unread)
	require.Len(t, unread, 2)
	require.Equal(t, 2, resp.Meta.Unread)

	testutil.MustOK(t, env.Request(http.MethodPost, "/api/notifications/"+target+"/unread", nil, organizer), http.StatusOK, &dto)
	require.False(t, dto.IsRead)

	var updated struct {
		Updated int64 `json:"updated"`
	}
	testutil.MustOK(t, env.Request(http.MethodPost, "/api/notifications/read-all", nil, organizer), http.StatusOK, &updated)
	require.EqualValues(t, 3, updated.Updated)

	resp = testutil.MustOK(t, env.Request(http.MethodGet, "/api/notifications?unread=true", nil, organizer), http.StatusOK, &unread)
	require.Empty(t, unread)
	require.Zero(t, resp.Meta.Unread)

	var page []services.NotificationDTO
	testutil.MustOK(t, env.Request(http.MethodGet, "/api/notifications?limit=1&offset=1", nil, organizer), http.StatusOK, &page)
	require.Len(t, page, 1)
}

func TestNotificationsRequireToken(t *testing.T) {
	env := testutil.NewEnv(t)
	testutil.MustFail(t, env.Request(http.MethodGet, "/api/notifications", nil, ""), http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestHealthEndpoint(t *testing.T) {
	env := testutil.NewEnv(t)

	var body map[string]string
	testutil.MustOK(t, env.Request(http.MethodGet, "/health", nil, ""), http.StatusOK, &body)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "ok", body["database"])

	sqlDB, err := env.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := testutil.DecodeResponse(t, w)
	require.False(t, resp.Success)
}
