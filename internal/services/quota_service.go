package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/convene/internal/models"
	apperrors "github.com/charlesng35/convene/pkg/errors"
	"github.com/charlesng35/convene/pkg/logger"
	"github.com/charlesng35/convene/pkg/metrics"
)

const quotaWindowLayout = "2006-01-02"

// QuotaScope names the counters a send is charged against. Either field may be empty.
type QuotaScope struct {
	EventID     string
	OrganizerID string
}

// QuotaLimit caps sends per UTC day and over the counter's lifetime. Zero means unlimited.
type QuotaLimit struct {
	Daily int `mapstructure:"daily" json:"daily"`
	Total int `mapstructure:"total" json:"total"`
}

// QuotaLimits holds default limits for new counters, keyed by channel and scope type.
type QuotaLimits map[models.Channel]map[models.QuotaScopeType]QuotaLimit

// CounterSnapshot is one counter's state after an operation.
type CounterSnapshot struct {
	ScopeType  models.QuotaScopeType `json:"scope_type"`
	ScopeID    string                `json:"scope_id"`
	DailyCount int                   `json:"daily_count"`
	DailyLimit int                   `json:"daily_limit"`
	TotalCount int                   `json:"total_count"`
	TotalLimit int                   `json:"total_limit"`
}

// QuotaSnapshot reports every counter charged for a scope and channel.
type QuotaSnapshot struct {
	Channel models.Channel `json:"channel"`
	// Window is the UTC day the daily counts belong to.
	Window   string            `json:"window"`
	Counters []CounterSnapshot `json:"counters"`
}

// Remaining returns how many more sends the tightest counter permits, or -1 when unlimited.
func (q QuotaSnapshot) Remaining() int {
	remaining := -1
	for _, c := range q.Counters {
		for _, pair := range [][2]int{{c.DailyLimit, c.DailyCount}, {c.TotalLimit, c.TotalCount}} {
			if pair[0] <= 0 {
				continue
			}
			left := pair[0] - pair[1]
			if left < 0 {
				left = 0
			}
			if remaining < 0 || left < remaining {
				remaining = left
			}
		}
	}
	return remaining
}

// QuotaService rations outbound messages per event and per organizer.
type QuotaService struct {
	db       *gorm.DB
	defaults QuotaLimits
	now      func() time.Time
	log      *zap.Logger
}

// QuotaOption configures the QuotaService.
type QuotaOption func(*QuotaService)

// WithQuotaClock overrides the time source used to roll daily windows.
func WithQuotaClock(now func() time.Time) QuotaOption {
	return func(s *QuotaService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultLimits sets the limits applied when a counter is first created.
func WithDefaultLimits(limits QuotaLimits) QuotaOption {
	return func(s *QuotaService) {
		if limits != nil {
			s.defaults = limits
		}
	}
}

// NewQuotaService constructs a QuotaService.
func NewQuotaService(db *gorm.DB, opts ...QuotaOption) (*QuotaService, error) {
	if db == nil {
		return nil, errors.New("quota service: db is required")
	}
	svc := &QuotaService{
		db:       db,
		defaults: QuotaLimits{},
		now:      time.Now,
		log:      logger.WithModule("quota"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

// CheckAndReserve charges count sends to every counter of the scope. If any counter would
// exceed a limit nothing is charged and ErrQuotaExceeded is returned.
func (s *QuotaService) CheckAndReserve(ctx context.Context, scope QuotaScope, channel models.Channel, count int) (*QuotaSnapshot, error) {
	if err := validateQuotaRequest(scope, channel, count); err != nil {
		return nil, err
	}

	var snapshot *QuotaSnapshot
	err := s.withCounters(ctx, scope, channel, func(tx *gorm.DB, counters []*models.QuotaCounter, _ []string, window string) error {
		for _, counter := range counters {
			if err := breach(counter, count); err != nil {
				metrics.QuotaReservations.WithLabelValues(string(channel), "rejected").Inc()
				return err
			}
		}

		for _, counter := range counters {
			counter.DailyCount += count
			counter.TotalCount += count
			counter.DailyWindow = window
			if err := saveCounter(tx, counter); err != nil {
				return err
			}
		}

		metrics.QuotaReservations.WithLabelValues(string(channel), "reserved").Inc()
		snapshot = snapshotOf(channel, window, counters)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Rollback returns count sends to every counter of the scope. reservedIn is the Window of the
// reservation being undone; empty means the current day. Counts never drop below zero, and a
// daily count is only returned to the window the sends were charged in.
func (s *QuotaService) Rollback(ctx context.Context, scope QuotaScope, channel models.Channel, count int, reservedIn string) (*QuotaSnapshot, error) {
	if err := validateQuotaRequest(scope, channel, count); err != nil {
		return nil, err
	}

	var snapshot *QuotaSnapshot
	err := s.withCounters(ctx, scope, channel, func(tx *gorm.DB, counters []*models.QuotaCounter, stored []string, window string) error {
		if reservedIn == "" {
			reservedIn = window
		}
		for i, counter := range counters {
			counter.TotalCount = clampZero(counter.TotalCount - count)
			if reservedIn == window && stored[i] == window {
				counter.DailyCount = clampZero(counter.DailyCount - count)
			}
			if err := saveCounter(tx, counter); err != nil {
				return err
			}
		}
		metrics.QuotaReservations.WithLabelValues(string(channel), "rolled_back").Inc()
		snapshot = snapshotOf(channel, window, counters)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Snapshot returns the scope's counters without charging them.
func (s *QuotaService) Snapshot(ctx context.Context, scope QuotaScope, channel models.Channel) (*QuotaSnapshot, error) {
	if err := validateQuotaRequest(scope, channel, 0); err != nil {
		return nil, err
	}

	var snapshot *QuotaSnapshot
	err := s.withCounters(ctx, scope, channel, func(tx *gorm.DB, counters []*models.QuotaCounter, _ []string, window string) error {
		snapshot = snapshotOf(channel, window, counters)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SetLimits overrides the limits of one counter, creating it when needed.
func (s *QuotaService) SetLimits(ctx context.Context, scopeType models.QuotaScopeType, scopeID string, channel models.Channel, daily, total int) (*models.QuotaCounter, error) {
	ctx = ensureContext(ctx)
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" || !channel.Valid() || (scopeType != models.QuotaScopeEvent && scopeType != models.QuotaScopeOrganizer) {
		return nil, apperrors.NewBadRequest("scope type, scope id and channel are required")
	}
	if daily < 0 || total < 0 {
		return nil, apperrors.NewBadRequest("limits must not be negative")
	}

	unlock := quotaLocks.Lock(quotaKey(scopeType, scopeID, channel))
	defer unlock()

	var result *models.QuotaCounter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter, err := s.loadCounter(tx, scopeType, scopeID, channel)
		if err != nil {
			return err
		}
		counter.DailyLimit = daily
		counter.TotalLimit = total
		if err := saveCounter(tx, counter); err != nil {
			return err
		}
		result = counter
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("quota limits changed",
		zap.String("scope_type", string(scopeType)),
		zap.String("scope_id", scopeID),
		zap.String("channel", string(channel)),
		zap.Int("daily", daily),
		zap.Int("total", total),
	)
	return result, nil
}

// counterMutation receives the locked counters, already rolled to window, along with the daily
// window each counter carried when it was read.
type counterMutation func(tx *gorm.DB, counters []*models.QuotaCounter, stored []string, window string) error

// withCounters locks the scope's counters, event before organizer, rolls stale daily windows
// and runs fn inside one transaction.
func (s *QuotaService) withCounters(ctx context.Context, scope QuotaScope, channel models.Channel, fn counterMutation) error {
	ctx = ensureContext(ctx)
	keys := scopeKeys(scope)

	for _, key := range keys {
		unlock := quotaLocks.Lock(quotaKey(key.scopeType, key.scopeID, channel))
		defer unlock()
	}

	window := s.now().UTC().Format(quotaWindowLayout)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counters := make([]*models.QuotaCounter, 0, len(keys))
		stored := make([]string, 0, len(keys))
		for _, key := range keys {
			counter, err := s.loadCounter(tx, key.scopeType, key.scopeID, channel)
			if err != nil {
				return err
			}
			stored = append(stored, counter.DailyWindow)
			if counter.DailyWindow != window {
				counter.DailyWindow = window
				counter.DailyCount = 0
			}
			counters = append(counters, counter)
		}
		return fn(tx, counters, stored, window)
	})
}

// loadCounter returns the locked counter, creating it with default limits on first use.
func (s *QuotaService) loadCounter(tx *gorm.DB, scopeType models.QuotaScopeType, scopeID string, channel models.Channel) (*models.QuotaCounter, error) {
	find := func() (*models.QuotaCounter, error) {
		var counter models.QuotaCounter
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("scope_type = ? AND scope_id = ? AND channel = ?", scopeType, scopeID, channel).
			First(&counter).Error
		if err != nil {
			return nil, err
		}
		return &counter, nil
	}

	counter, err := find()
	if err == nil {
		return counter, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("quota service: load counter: %w", err)
	}

	limit := s.defaults[channel][scopeType]
	counter = &models.QuotaCounter{
		ScopeType:  scopeType,
		ScopeID:    scopeID,
		Channel:    channel,
		DailyLimit: limit.Daily,
		TotalLimit: limit.Total,
	}
	if err := tx.Create(counter).Error; err != nil {
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("quota service: create counter: %w", err)
		}
		if counter, err = find(); err != nil {
			return nil, fmt.Errorf("quota service: reload counter: %w", err)
		}
	}
	return counter, nil
}

func saveCounter(tx *gorm.DB, counter *models.QuotaCounter) error {
	if err := tx.Model(&models.QuotaCounter{}).
		Where("id = ?", counter.ID).
		Updates(map[string]any{
			"daily_count":  counter.DailyCount,
			"daily_window": counter.DailyWindow,
			"total_count":  counter.TotalCount,
			"daily_limit":  counter.DailyLimit,
			"total_limit":  counter.TotalLimit,
		}).Error; err != nil {
		return fmt.Errorf("quota service: save counter: %w", err)
	}
	return nil
}

type scopeKey struct {
	scopeType models.QuotaScopeType
	scopeID   string
}

func scopeKeys(scope QuotaScope) []scopeKey {
	var keys []scopeKey
	if id := strings.TrimSpace(scope.EventID); id != "" {
		keys = append(keys, scopeKey{models.QuotaScopeEvent, id})
	}
	if id := strings.TrimSpace(scope.OrganizerID); id != "" {
		keys = append(keys, scopeKey{models.QuotaScopeOrganizer, id})
	}
	return keys
}

func quotaKey(scopeType models.QuotaScopeType, scopeID string, channel models.Channel) string {
	return string(scopeType) + ":" + scopeID + ":" + string(channel)
}

func validateQuotaRequest(scope QuotaScope, channel models.Channel, count int) error {
	if !channel.Valid() {
		return apperrors.NewBadRequest("unknown channel " + string(channel))
	}
	if len(scopeKeys(scope)) == 0 {
		return apperrors.NewBadRequest("quota scope requires an event or organizer")
	}
	if count < 0 {
		return apperrors.NewBadRequest("count must not be negative")
	}
	return nil
}

// breach returns ErrQuotaExceeded, detailed with the exhausted window, when charging count
// would push counter past either of its limits.
func breach(counter *models.QuotaCounter, count int) error {
	window, used, limit := "daily", counter.DailyCount, counter.DailyLimit
	if limit <= 0 || used+count <= limit {
		window, used, limit = "total", counter.TotalCount, counter.TotalLimit
		if limit <= 0 || used+count <= limit {
			return nil
		}
	}
	return ErrQuotaExceeded.
		WithMessage(fmt.Sprintf("%s %s quota for %s %s exceeded", window,
			strings.ToLower(string(counter.Channel)), strings.ToLower(string(counter.ScopeType)), counter.ScopeID)).
		WithDetail("channel", counter.Channel).
		WithDetail("scope", counter.ScopeType).
		WithDetail("scope_id", counter.ScopeID).
		WithDetail("window", window).
		WithDetail("limit", limit).
		WithDetail("remaining", clampZero(limit-used)).
		WithDetail("requested", count)
}

func snapshotOf(channel models.Channel, window string, counters []*models.QuotaCounter) *QuotaSnapshot {
	snapshot := &QuotaSnapshot{Channel: channel, Window: window, Counters: make([]CounterSnapshot, 0, len(counters))}
	for _, c := range counters {
		snapshot.Counters = append(snapshot.Counters, CounterSnapshot{
			ScopeType:  c.ScopeType,
			ScopeID:    c.ScopeID,
			DailyCount: c.DailyCount,
			DailyLimit: c.DailyLimit,
			TotalCount: c.TotalCount,
			TotalLimit: c.TotalLimit,
		})
	}
	return snapshot
}

func clampZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
