package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/api"
	"github.com/charlesng35/convene/internal/app"
	"github.com/charlesng35/convene/internal/app/maintenance"
	iauth "github.com/charlesng35/convene/internal/auth"
	"github.com/charlesng35/convene/internal/cache"
	"github.com/charlesng35/convene/internal/database"
	"github.com/charlesng35/convene/internal/monitoring"
	"github.com/charlesng35/convene/internal/monitoring/checks"
	"github.com/charlesng35/convene/internal/notifications"
	"github.com/charlesng35/convene/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Redis    *cache.RedisStore
	Services *app.Services
	Sweeper  *maintenance.Sweeper
	Router   *gin.Engine
}

// bootstrapRuntime initialises the database, caches, lifecycle services, background sweeps and
// the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, generated map[string]bool, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if err := reconcileSecrets(ctx, stack.DB, cfg, generated); err != nil {
		return nil, err
	}
	contactKey, err := app.ContactMasterKey(cfg.Privacy.ContactKey)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	var store cache.Store = dbStore

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
			stack.Redis = nil
		} else {
			store = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	stack.Services, err = app.NewServices(ctx, cfg, app.ServiceDeps{
		DB:         stack.DB,
		ContactKey: contactKey,
		Throttle:   store,
		Hub:        notifications.NewHub(),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise services: %w", err)
	}
	log.Info("notification bus ready", zap.String("driver", cfg.Bus.Driver))

	stack.Sweeper = maintenance.NewSweeper(
		stack.Services.Waitlist,
		stack.Services.RSVPs,
		maintenance.WithSweepSchedule(cfg.Lifecycle.SweepSchedule),
		maintenance.WithPurger(dbStore),
	)
	if err := stack.Sweeper.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	health := monitoring.NewHealthManager(0)
	health.Register(checks.Database(stack.DB))
	health.Register(checks.Redis(redisPinger(stack.Redis), cfg.Cache.Redis.Enabled))
	health.Register(checks.Sweeper(stack.Sweeper, 3*sweepInterval(cfg.Lifecycle.SweepSchedule), nil))

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:        stack.DB,
		Config:    cfg,
		Services:  stack.Services,
		Verifier:  jwtSvc,
		RateStore: store,
		Health:    health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Sweeper != nil {
		stopCtx := s.Sweeper.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if _, err := s.Sweeper.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown sweep failed", zap.Error(err))
		}
	}

	if s.Services != nil {
		if err := s.Services.Close(); err != nil {
			log.Warn("notification bus shutdown", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

// redisPinger avoids handing the probe a typed nil.
func redisPinger(store *cache.RedisStore) checks.Pinger {
	if store == nil {
		return nil
	}
	return store
}

// sweepInterval estimates the gap between sweeps from an "@every" schedule, falling back to an
// hour for other cron expressions.
func sweepInterval(expr string) time.Duration {
	if rest, ok := strings.CutPrefix(strings.TrimSpace(expr), "@every "); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil && d > 0 {
			return d
		}
	}
	return time.Hour
}

// reconcileSecrets swaps any secret generated for this process for the one persisted by an
// earlier start, so sealed contacts stay readable and issued tokens stay valid.
func reconcileSecrets(ctx context.Context, db *gorm.DB, cfg *app.Config, generated map[string]bool) error {
	for _, secret := range []struct {
		key   string
		value *string
	}{
		{database.ContactKeySetting, &cfg.Privacy.ContactKey},
		{database.JWTSecretSetting, &cfg.Auth.JWT.Secret},
	} {
		value, err := database.ReconcileSecret(ctx, db, secret.key, *secret.value, generated[secret.key])
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", secret.key, err)
		}
		*secret.value = value
	}
	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseOpenConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
