package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/app"
	"github.com/charlesng35/convene/internal/cache"
	"github.com/charlesng35/convene/internal/handlers"
	"github.com/charlesng35/convene/internal/middleware"
	"github.com/charlesng35/convene/internal/monitoring"
)

// Dependencies bundles what the HTTP adapter needs.
type Dependencies struct {
	DB       *gorm.DB
	Config   *app.Config
	Services *app.Services
	Verifier middleware.TokenVerifier
	// RateStore backs per-caller rate limiting; nil disables it.
	RateStore cache.Store
	// Health serves /health/ready when set.
	Health *monitoring.HealthManager
}

// NewRouter builds the Gin engine, wires middleware and registers the event routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("config must be provided")
	case deps.Services == nil:
		return nil, fmt.Errorf("services must be provided")
	case deps.Verifier == nil:
		return nil, fmt.Errorf("token verifier must be provided")
	}
	cfg := deps.Config
	svc := deps.Services

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	r.GET("/health", handlers.Health(deps.DB))
	if deps.Health != nil {
		r.GET("/health/ready", handlers.Readiness(deps.Health))
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.Verifier))
	api.Use(middleware.RateLimit(deps.RateStore, cfg.Server.RateLimit.Requests, cfg.Server.RateLimit.Window))

	registerEventRoutes(api, svc)
	registerNotificationRoutes(api, handlers.NewNotificationHandler(svc.Notifications, svc.Hub))

	contacts := handlers.NewContactHandler(svc.Contacts)
	api.GET("/me/contact", contacts.Get)
	api.PUT("/me/contact", contacts.Put)

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerEventRoutes(api *gin.RouterGroup, svc *app.Services) {
	events := handlers.NewEventHandler(svc.Events)
	rsvps := handlers.NewRSVPHandler(svc.Events, svc.RSVPs, svc.Waitlist)
	waitlist := handlers.NewWaitlistHandler(svc.Events, svc.Waitlist)
	messages := handlers.NewMessageHandler(svc.Events, svc.Messaging, svc.Invites, svc.Quota)

	api.POST("/events", events.Create)
	api.GET("/events", events.ListMine)

	group := api.Group("/events/:id")
	{
		group.GET("", events.Get)
		group.PATCH("", events.Update)
		group.POST("/publish", events.Publish)
		group.POST("/close", events.Close)
		group.POST("/cancel", events.Cancel)
		group.POST("/organizers", events.AddOrganizer)

		group.PUT("/rsvp", rsvps.Set)
		group.GET("/rsvp", rsvps.Mine)
		group.GET("/rsvps", rsvps.List)

		group.GET("/waitlist", waitlist.List)
		group.POST("/waitlist", waitlist.Join)
		group.DELETE("/waitlist", waitlist.Leave)
		group.GET("/waitlist/me", waitlist.Mine)
		group.POST("/waitlist/confirm", waitlist.Confirm)

		group.POST("/messages", messages.Send)
		group.GET("/messages", messages.History)
		group.POST("/invitations", messages.Invite)
		group.GET("/invitations", messages.Invitations)
		group.GET("/quota", messages.Quota)
	}
}

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler) {
	group := api.Group("/notifications")
	{
		group.GET("", handler.List)
		group.GET("/stream", handler.Stream)
		group.POST("/read-all", handler.MarkAllRead)
		group.POST("/:id/read", handler.MarkRead)
		group.POST("/:id/unread", handler.MarkUnread)
	}
}
