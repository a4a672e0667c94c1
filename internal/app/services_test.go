package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/convene/internal/database/testutil"
	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/services"
)

func TestBuildSenderRegistersEveryOutboundChannel(t *testing.T) {
	defaults, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	router, err := BuildSender(defaults)
	require.NoError(t, err)
	require.True(t, router.Supports(models.ChannelEmail))
	require.True(t, router.Supports(models.ChannelSMS))
	require.False(t, router.Supports(models.ChannelInvite))

	configured, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)
	router, err = BuildSender(configured)
	require.NoError(t, err)
	require.True(t, router.Supports(models.ChannelEmail))
	require.True(t, router.Supports(models.ChannelSMS))
}

func TestBuildSenderRejectsIncompleteSMS(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.SMS.Enabled = true

	_, err = BuildSender(cfg)
	require.Error(t, err)
}

func TestNewServicesWiresNotificationPipeline(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Bus.Driver = "inline"

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := NewServices(context.Background(), cfg, ServiceDeps{
		DB:         db,
		ContactKey: bytes.Repeat([]byte{7}, MinContactKeyBytes),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx := context.Background()
	start := time.Now().Add(72 * time.Hour)
	ev, err := svc.Events.Create(ctx, services.CreateEventInput{
		CreatedBy:   "olive",
		Title:       "Book club",
		Description: "Chapter one",
		DateTime:    &start,
		Location:    "Library",
	})
	require.NoError(t, err)
	_, err = svc.Events.Publish(ctx, "olive", ev.ID)
	require.NoError(t, err)

	report, err := svc.Invites.Invite(ctx, services.InviteInput{EventID: ev.ID, InviterID: "olive", UserIDs: []string{"pat"}})
	require.NoError(t, err)
	require.Equal(t, []string{"pat"}, report.Invited)

	items, unread, err := svc.Notifications.ListForUser(ctx, services.ListNotificationsInput{UserID: "pat"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.EqualValues(t, 1, unread)
	require.Equal(t, models.NotificationEventInvited, items[0].Type)
}

func TestNewServicesRejectsUnknownBus(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Bus.Driver = "carrier-pigeon"

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	_, err = NewServices(context.Background(), cfg, ServiceDeps{DB: db})
	require.ErrorContains(t, err, "unsupported bus driver")
}
