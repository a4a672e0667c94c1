package checks

import (
	"context"
	"time"

	"github.com/charlesng35/convene/internal/monitoring"
)

const defaultSweepMaxAge = time.Hour

// SweepReporter exposes the outcome of the most recent lifecycle sweep.
type SweepReporter interface {
	LastSweep() (time.Time, error)
}

// Sweeper reports whether the background lifecycle sweep is keeping up. Lazy expiry on access
// still runs when the sweep falls behind, so a stale or failing sweep is degraded rather than
// down. A non-positive maxAge uses one hour.
func Sweeper(reporter SweepReporter, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultSweepMaxAge
	}
	if now == nil {
		now = time.Now
	}
	started := now()

	return monitoring.NewCheck("sweeper", func(context.Context) monitoring.ProbeResult {
		if reporter == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "sweeper disabled"}
		}

		last, err := reporter.LastSweep()
		current := now()
		switch {
		case err != nil:
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "last sweep failed: " + err.Error()}
		case last.IsZero() && current.Sub(started) <= maxAge:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "pending first run"}
		case last.IsZero():
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "no sweep has completed"}
		case current.Sub(last) > maxAge:
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "stale sweep " + last.UTC().Format(time.RFC3339)}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	})
}
