package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/cache"
	"github.com/charlesng35/convene/internal/delivery"
	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/notifications"
	"github.com/charlesng35/convene/internal/services"
	"github.com/charlesng35/convene/pkg/mail"
)

// ServiceDeps carries the infrastructure the domain services run on.
type ServiceDeps struct {
	DB         *gorm.DB
	ContactKey []byte
	// Throttle bounds lazy sweeps on reads; nil sweeps on every read.
	Throttle cache.Store
	// Sender overrides the transports built from configuration.
	Sender delivery.Sender
	// Hub receives live pushes; nil disables them.
	Hub   *notifications.Hub
	Clock func() time.Time
}

// Services is the wired domain layer shared by the HTTP adapter and the sweeper.
type Services struct {
	Bus           notifications.Bus
	Hub           *notifications.Hub
	Notifications *services.NotificationService
	Events        *services.EventService
	RSVPs         *services.RSVPService
	Waitlist      *services.WaitlistService
	Quota         *services.QuotaService
	Contacts      *services.ContactService
	Messaging     *services.MessagingService
	Invites       *services.InviteService
}

// NewServices builds the notification pipeline first, since every lifecycle service publishes
// to its bus, then the domain services on top of it.
func NewServices(ctx context.Context, cfg *Config, deps ServiceDeps) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if deps.DB == nil {
		return nil, errors.New("database handle is required")
	}

	notificationSvc, err := services.NewNotificationService(deps.DB, deps.Hub)
	if err != nil {
		return nil, err
	}
	dispatcher, err := notifications.NewDispatcher(notificationSvc)
	if err != nil {
		return nil, err
	}
	bus, err := notifications.NewBus(ctx, cfg.Bus.NotificationBusConfig(), dispatcher)
	if err != nil {
		return nil, fmt.Errorf("initialise notification bus: %w", err)
	}

	svc := &Services{Bus: bus, Hub: deps.Hub, Notifications: notificationSvc}
	if err := svc.build(cfg, deps); err != nil {
		return nil, multierr.Append(err, bus.Close())
	}
	return svc, nil
}

func (s *Services) build(cfg *Config, deps ServiceDeps) error {
	opts := append(cfg.Lifecycle.Options(deps.Throttle), services.WithBus(s.Bus))
	quotaOpts := []services.QuotaOption{services.WithDefaultLimits(cfg.QuotaLimits())}
	if deps.Clock != nil {
		opts = append(opts, services.WithClock(deps.Clock))
		quotaOpts = append(quotaOpts, services.WithQuotaClock(deps.Clock))
	}

	var err error
	if s.Events, err = services.NewEventService(deps.DB, opts...); err != nil {
		return err
	}
	if s.RSVPs, err = services.NewRSVPService(deps.DB, opts...); err != nil {
		return err
	}
	if s.Waitlist, err = services.NewWaitlistService(deps.DB, opts...); err != nil {
		return err
	}
	if s.Quota, err = services.NewQuotaService(deps.DB, quotaOpts...); err != nil {
		return err
	}
	if s.Contacts, err = services.NewContactService(deps.DB, deps.ContactKey); err != nil {
		return err
	}

	sender := deps.Sender
	if sender == nil {
		if sender, err = BuildSender(cfg); err != nil {
			return err
		}
	}
	if s.Messaging, err = services.NewMessagingService(deps.DB, s.Quota, s.Contacts, sender); err != nil {
		return err
	}
	s.Invites, err = services.NewInviteService(deps.DB, s.Quota, services.WithInviteBus(s.Bus))
	return err
}

// Close stops the notification bus, draining queued events where the driver supports it.
func (s *Services) Close() error {
	if s == nil || s.Bus == nil {
		return nil
	}
	return s.Bus.Close()
}

// BuildSender registers a transport per outbound channel. Channels that are not configured
// fall back to logging so development setups can exercise mass messaging end to end.
func BuildSender(cfg *Config) (*delivery.Router, error) {
	router := delivery.NewRouter()

	if cfg.Email.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		transport, err := delivery.NewEmailTransport(mailer)
		if err != nil {
			return nil, err
		}
		router.Register(models.ChannelEmail, transport)
	} else {
		router.Register(models.ChannelEmail, delivery.NewLogTransport(models.ChannelEmail))
	}

	if cfg.SMS.Enabled {
		transport, err := delivery.NewSMSTransport(cfg.SMS.GatewaySettings())
		if err != nil {
			return nil, fmt.Errorf("initialise sms gateway: %w", err)
		}
		router.Register(models.ChannelSMS, transport)
	} else {
		router.Register(models.ChannelSMS, delivery.NewLogTransport(models.ChannelSMS))
	}

	return router, nil
}
