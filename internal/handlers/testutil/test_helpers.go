package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/api"
	"github.com/charlesng35/convene/internal/app"
	iauth "github.com/charlesng35/convene/internal/auth"
	sharedtestutil "github.com/charlesng35/convene/internal/database/testutil"
	"github.com/charlesng35/convene/internal/delivery"
	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/notifications"
	"github.com/charlesng35/convene/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Config   *app.Config
	Services *app.Services
	// Outbox captures every message handed to the email and SMS transports.
	Outbox *Outbox
}

// Outbox records deliveries instead of sending them.
type Outbox struct {
	Sent []delivery.Recipient
}

func (o *Outbox) transport() delivery.TransportFunc {
	return func(_ context.Context, recipient delivery.Recipient, _ delivery.Content) error {
		o.Sent = append(o.Sent, recipient)
		return nil
	}
}

// NewEnv provisions a fresh handler test environment. The notification bus runs inline so
// notifications are visible as soon as a request returns.
func NewEnv(t *testing.T, configure ...func(*app.Config)) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Auth.JWT.Secret = "test-suite-super-secret-key-32-bytes!!"
	cfg.Auth.JWT.Issuer = "test-suite"
	cfg.Auth.JWT.TTL = time.Hour
	cfg.Bus.Driver = notifications.DriverInline
	cfg.Server.RateLimit.Requests = 0
	for _, fn := range configure {
		fn(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	outbox := &Outbox{}
	sender := delivery.NewRouter()
	sender.Register(models.ChannelEmail, outbox.transport())
	sender.Register(models.ChannelSMS, outbox.transport())

	svc, err := app.NewServices(context.Background(), cfg, app.ServiceDeps{
		DB:         db,
		ContactKey: bytes.Repeat([]byte{0x42}, app.MinContactKeyBytes),
		Sender:     sender,
		Hub:        notifications.NewHub(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	router, err := api.NewRouter(api.Dependencies{
		DB:       db,
		Config:   cfg,
		Services: svc,
		Verifier: jwtSvc,
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Config:   cfg,
		Services: svc,
		Outbox:   outbox,
	}
}

// Token issues a bearer token for userID.
func (e *Env) Token(userID string) string {
	e.T.Helper()
	token, _, err := e.JWT.Issue(userID, "")
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router as userID. An empty userID sends
// no Authorization header.
func (e *Env) Request(method, path string, body any, userID string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.Token(userID))
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// MustOK asserts a successful response with the given status and decodes its data into dest.
func MustOK[T any](t *testing.T, w *httptest.ResponseRecorder, status int, dest *T) APIResponse {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := DecodeResponse(t, w)
	require.True(t, resp.Success, w.Body.String())
	if dest != nil {
		DecodeInto(t, resp.Data, dest)
	}
	return resp
}

// MustFail asserts an error response with the given status and code.
func MustFail(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, code, resp.Error.Code, w.Body.String())
}
