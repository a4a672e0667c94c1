package checks

import (
	"context"
	"time"

	"github.com/charlesng35/convene/internal/monitoring"
)

// Pinger is the minimal surface needed to probe a cache connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Redis returns a probe for the Redis cache. A disabled cache is up; an enabled cache that
// failed to connect at start-up is degraded because the database store stands in for it.
func Redis(client Pinger, enabled bool) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		switch {
		case !enabled:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		case client == nil:
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "redis unavailable; using database cache"}
		}

		if err := client.Ping(ctx); err != nil {
			result := monitoring.ResultFromError("redis", err, time.Since(start))
			// Rate limiting fails open without the cache.
			result.Status = monitoring.StatusDegraded
			return result
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}
