package services

import (
	"time"

	"github.com/charlesng35/convene/internal/models"
)

// ObservedState derives the lifecycle state callers see from the stored state and the clock.
// DRAFT and CANCELLED are reported as stored. Otherwise an event is COMPLETED once end is
// reached, ONGOING once start is reached, CLOSED when closed manually or past its RSVP
// deadline, and PUBLISHED before that.
func ObservedState(stored models.EventState, now time.Time, start, end, deadline *time.Time) models.EventState {
	switch stored {
	case models.EventStateDraft, models.EventStateCancelled:
		return stored
	}

	if end != nil && !now.Before(*end) {
		return models.EventStateCompleted
	}
	if start != nil && !now.Before(*start) {
		return models.EventStateOngoing
	}
	if stored == models.EventStateClosed {
		return models.EventStateClosed
	}
	if deadline != nil && !now.Before(*deadline) {
		return models.EventStateClosed
	}
	return models.EventStatePublished
}

// ObservedStateOf is ObservedState applied to an event, using defaultDuration for events
// without an explicit end.
func ObservedStateOf(ev *models.Event, now time.Time, defaultDuration time.Duration) models.EventState {
	return ObservedState(ev.State, now, ev.DateTime, ev.EndsAt(defaultDuration), ev.RSVPDeadline)
}

// AcceptsRSVP reports whether attendees may currently respond to the event.
func AcceptsRSVP(ev *models.Event, now time.Time, defaultDuration time.Duration) bool {
	if ev == nil || ev.State != models.EventStatePublished {
		return false
	}
	if ev.RSVPDeadline != nil && !now.Before(*ev.RSVPDeadline) {
		return false
	}
	switch ObservedStateOf(ev, now, defaultDuration) {
	case models.EventStatePublished, models.EventStateOngoing:
		return true
	default:
		return false
	}
}
