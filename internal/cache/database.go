package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/convene/internal/models"
)

var errStoreNotReady = errors.New("cache: database store not initialised")

// DatabaseStore keeps cache entries in the primary database so single-node deployments need
// no Redis. Counters are row-locked for the duration of an increment.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseStore returns nil when db is nil.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db, now: time.Now}
}

func (s *DatabaseStore) session(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, errStoreNotReady
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.db.WithContext(ctx), nil
}

// IncrementWithTTL bumps the counter at key. An absent or expired counter restarts at 1 with
// a fresh window.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	db, err := s.session(ctx)
	if err != nil {
		return 0, 0, err
	}
	if window <= 0 {
		window = time.Minute
	}
	now := s.now()

	var entry models.CacheEntry
	err = db.Transaction(func(tx *gorm.DB) error {
		lookup := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&entry, "key = ?", key)
		switch {
		case errors.Is(lookup.Error, gorm.ErrRecordNotFound):
			entry = restartWindow(key, now, window)
			return tx.Create(&entry).Error
		case lookup.Error != nil:
			return lookup.Error
		case entry.Expired(now):
			entry = restartWindow(key, now, window)
		default:
			entry.Value = strconv.AppendInt(nil, counterValue(entry)+1, 10)
		}
		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, err
	}
	return counterValue(entry), entry.ExpiresAt.Sub(now), nil
}

func restartWindow(key string, now time.Time, window time.Duration) models.CacheEntry {
	return models.CacheEntry{Key: key, Value: []byte("1"), ExpiresAt: now.Add(window)}
}

func counterValue(entry models.CacheEntry) int64 {
	n, _ := strconv.ParseInt(string(entry.Value), 10, 64)
	return n
}

// Set upserts key. A non-positive ttl stores the value without expiry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	db, err := s.session(ctx)
	if err != nil {
		return err
	}
	entry := models.CacheEntry{Key: key, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = s.now().Add(ttl)
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&entry).Error
}

// Get treats an expired entry as a miss and removes it.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := s.session(ctx)
	if err != nil {
		return nil, false, err
	}

	var entry models.CacheEntry
	err = db.Take(&entry, "key = ?", key).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	case entry.Expired(s.now()):
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return entry.Value, true, nil
}

func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	db, err := s.session(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return db.Where("key IN ?", keys).Delete(&models.CacheEntry{}).Error
}

// PurgeExpired deletes lapsed entries and reports how many went. The maintenance sweeper
// calls it so abandoned throttle keys do not accumulate.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	db, err := s.session(ctx)
	if err != nil {
		return 0, err
	}
	res := db.Where("expires_at > ? AND expires_at <= ?", time.Time{}, s.now()).Delete(&models.CacheEntry{})
	return res.RowsAffected, res.Error
}
