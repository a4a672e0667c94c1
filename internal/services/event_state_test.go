package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/charlesng35/convene/internal/models"
)

func TestObservedState(t *testing.T) {
	now := time.Date(2030, time.May, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(d)
		return &v
	}

	cases := []struct {
		name     string
		stored   models.EventState
		start    *time.Time
		end      *time.Time
		deadline *time.Time
		want     models.EventState
	}{
		{"draft ignores clock", models.EventStateDraft, at(-2 * time.Hour), at(-time.Hour), nil, models.EventStateDraft},
		{"cancelled ignores clock", models.EventStateCancelled, at(-2 * time.Hour), at(-time.Hour), nil, models.EventStateCancelled},
		{"published before start", models.EventStatePublished, at(time.Hour), at(2 * time.Hour), nil, models.EventStatePublished},
		{"published without schedule", models.EventStatePublished, nil, nil, nil, models.EventStatePublished},
		{"start reached", models.EventStatePublished, at(0), at(time.Hour), nil, models.EventStateOngoing},
		{"end reached", models.EventStatePublished, at(-time.Hour), at(0), nil, models.EventStateCompleted},
		{"closed before start", models.EventStateClosed, at(time.Hour), at(2 * time.Hour), nil, models.EventStateClosed},
		{"closed then ongoing", models.EventStateClosed, at(-time.Minute), at(time.Hour), nil, models.EventStateOngoing},
		{"closed then completed", models.EventStateClosed, at(-2 * time.Hour), at(-time.Hour), nil, models.EventStateCompleted},
		{"deadline reached", models.EventStatePublished, at(time.Hour), at(2 * time.Hour), at(0), models.EventStateClosed},
		{"deadline ahead", models.EventStatePublished, at(time.Hour), at(2 * time.Hour), at(time.Minute), models.EventStatePublished},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ObservedState(tc.stored, now, tc.start, tc.end, tc.deadline))
		})
	}
}

func TestObservedStateOfUsesDefaultDuration(t *testing.T) {
	now := time.Date(2030, time.May, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-30 * time.Minute)
	ev := &models.Event{State: models.EventStatePublished, DateTime: &start}

	assert.Equal(t, models.EventStateCompleted, ObservedStateOf(ev, now, 0))
	assert.Equal(t, models.EventStateOngoing, ObservedStateOf(ev, now, time.Hour))
}

func TestAcceptsRSVP(t *testing.T) {
	now := time.Date(2030, time.May, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Minute)

	assert.True(t, AcceptsRSVP(&models.Event{State: models.EventStatePublished, DateTime: &future}, now, 0))
	assert.True(t, AcceptsRSVP(&models.Event{State: models.EventStatePublished, DateTime: &past}, now, 2*time.Hour))
	assert.False(t, AcceptsRSVP(&models.Event{State: models.EventStatePublished, DateTime: &past}, now, 0))
	assert.False(t, AcceptsRSVP(&models.Event{State: models.EventStateDraft, DateTime: &future}, now, 0))
	assert.False(t, AcceptsRSVP(&models.Event{State: models.EventStateClosed, DateTime: &future}, now, 0))
	assert.False(t, AcceptsRSVP(&models.Event{State: models.EventStatePublished, DateTime: &future, RSVPDeadline: &now}, now, 0))
	assert.False(t, AcceptsRSVP(nil, now, 0))
}
