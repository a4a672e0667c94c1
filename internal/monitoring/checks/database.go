package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/monitoring"
)

// Database returns a probe that pings the configured database handle.
func Database(db *gorm.DB) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		return monitoring.ResultFromError("database", err, time.Since(start))
	})
}
