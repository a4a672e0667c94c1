package app

import (
	"strings"

	"github.com/charlesng35/convene/internal/auth"
	"github.com/charlesng35/convene/internal/cache"
	"github.com/charlesng35/convene/internal/database"
	"github.com/charlesng35/convene/internal/delivery"
	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/notifications"
	"github.com/charlesng35/convene/internal/services"
	"github.com/charlesng35/convene/pkg/mail"
)

// DatabaseOpenConfig converts DatabaseConfig into the database package representation. Host
// parameters are taken from the section matching the driver.
func (c DatabaseConfig) DatabaseOpenConfig() database.Config {
	cfg := database.Config{
		Driver:    strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:      c.Path,
		DSN:       c.DSN,
		SlowQuery: c.SlowQuery,
	}

	var host DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		host = c.Postgres
	case "mysql":
		host = c.MySQL
	default:
		return cfg
	}
	cfg.Host = host.Host
	cfg.Port = host.Port
	cfg.Name = host.Database
	cfg.User = host.Username
	cfg.Password = host.Password
	return cfg
}

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}
	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// GatewaySettings converts SMSConfig to the delivery package representation.
func (c SMSConfig) GatewaySettings() delivery.SMSSettings {
	return delivery.SMSSettings{
		GatewayURL: strings.TrimSpace(c.GatewayURL),
		Token:      c.Token,
		Sender:     c.Sender,
		Timeout:    c.Timeout,
	}
}

// NotificationBusConfig converts BusConfig to the notifications package representation.
func (c BusConfig) NotificationBusConfig() notifications.BusConfig {
	return notifications.BusConfig{
		Driver:   c.Driver,
		URL:      strings.TrimSpace(c.URL),
		Exchange: c.Exchange,
		Queue:    c.Queue,
		Subject:  c.Subject,
	}
}

// Options converts LifecycleConfig into service options. throttle may be nil, in which case
// reads sweep on every call.
func (c LifecycleConfig) Options(throttle cache.Store) []services.LifecycleOption {
	return []services.LifecycleOption{
		services.WithOfferWindow(c.OfferWindow),
		services.WithDefaultDuration(c.DefaultDuration),
		services.WithReconfirmWindow(c.ReconfirmWindow),
		services.WithSweepThrottle(throttle, c.SweepThrottle),
	}
}

// QuotaLimits converts the quota section, keyed by lower-case channel and scope type, into
// default counter limits. Unknown channels and scope types are ignored.
func (c *Config) QuotaLimits() services.QuotaLimits {
	limits := services.QuotaLimits{}
	for channelKey, scopes := range c.Quota {
		channel := models.Channel(strings.ToUpper(strings.TrimSpace(channelKey)))
		if !channel.Valid() {
			continue
		}
		for scopeKey, limit := range scopes {
			scopeType := models.QuotaScopeType(strings.ToUpper(strings.TrimSpace(scopeKey)))
			if scopeType != models.QuotaScopeEvent && scopeType != models.QuotaScopeOrganizer {
				continue
			}
			if limits[channel] == nil {
				limits[channel] = map[models.QuotaScopeType]services.QuotaLimit{}
			}
			limits[channel][scopeType] = services.QuotaLimit{Daily: limit.Daily, Total: limit.Total}
		}
	}
	return limits
}
