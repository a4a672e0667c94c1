package notifications

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, userID string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(userID, w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.Connections(userID) == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func TestHubBroadcastReachesOnlyTargetUser(t *testing.T) {
	hub := NewHub()
	alice := dialHub(t, hub, "alice")
	bob := dialHub(t, hub, "bob")

	hub.Broadcast("alice", Push{Event: PushNotificationRead, NotificationID: "n-1"})

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Push
	require.NoError(t, alice.ReadJSON(&got))
	require.Equal(t, PushNotificationRead, got.Event)
	require.Equal(t, "n-1", got.NotificationID)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	require.Error(t, err)
}

func TestHubDeregistersClosedSockets(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "alice")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Connections("alice") == 0 }, 2*time.Second, 10*time.Millisecond)

	// No listeners left; must not panic.
	hub.Broadcast("alice", Push{Event: PushNotificationsRead})
	var nilHub *Hub
	nilHub.Broadcast("alice", Push{})
}

func TestSameOriginOrLoopback(t *testing.T) {
	cases := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "api.example.com", true},
		{"https://api.example.com", "api.example.com:443", true},
		{"http://localhost:5173", "api.example.com", true},
		{"http://127.0.0.1:3000", "api.example.com", true},
		{"https://evil.example.net", "api.example.com", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
		req.Host = tc.host
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		require.Equal(t, tc.want, sameOriginOrLoopback(req), tc.origin)
	}
}
