package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/notifications"
	apperrors "github.com/charlesng35/convene/pkg/errors"
	"github.com/charlesng35/convene/pkg/metrics"
	"github.com/charlesng35/convene/pkg/validator"
)

// EventService drives the event lifecycle.
type EventService struct {
	*lifecycle
}

// CreateEventInput describes a new draft event.
type CreateEventInput struct {
	CreatedBy       string     `json:"created_by" validate:"required,notblank,max=64"`
	Title           string     `json:"title" validate:"max=255"`
	Description     string     `json:"description"`
	Notes           string     `json:"notes"`
	DateTime        *time.Time `json:"date_time"`
	EndDateTime     *time.Time `json:"end_date_time"`
	Timezone        string     `json:"timezone" validate:"omitempty,timezone"`
	Location        string     `json:"location" validate:"max=512"`
	Capacity        *int       `json:"capacity" validate:"omitempty,gte=1"`
	WaitlistEnabled bool       `json:"waitlist_enabled"`
	RSVPDeadline    *time.Time `json:"rsvp_deadline"`
}

// EventChanges is a partial update. Nil fields are left untouched; the Clear flags remove
// optional values.
type EventChanges struct {
	Title             *string    `json:"title" validate:"omitempty,notblank,max=255"`
	Description       *string    `json:"description"`
	Notes             *string    `json:"notes"`
	DateTime          *time.Time `json:"date_time"`
	EndDateTime       *time.Time `json:"end_date_time"`
	ClearEndDateTime  bool       `json:"clear_end_date_time"`
	Timezone          *string    `json:"timezone" validate:"omitempty,timezone"`
	Location          *string    `json:"location" validate:"omitempty,notblank,max=512"`
	Capacity          *int       `json:"capacity" validate:"omitempty,gte=1"`
	ClearCapacity     bool       `json:"clear_capacity"`
	WaitlistEnabled   *bool      `json:"waitlist_enabled"`
	RSVPDeadline      *time.Time `json:"rsvp_deadline"`
	ClearRSVPDeadline bool       `json:"clear_rsvp_deadline"`
}

// EventView is an event as callers observe it at a point in time.
type EventView struct {
	Event          *models.Event     `json:"event"`
	ObservedState  models.EventState `json:"observed_state"`
	Ledger         Ledger            `json:"ledger"`
	AcceptingRSVPs bool              `json:"accepting_rsvps"`
}

// UpdateResult reports the side effects of an update.
type UpdateResult struct {
	Event          *models.Event `json:"event"`
	Material       bool          `json:"material"`
	Reconfirming   int           `json:"reconfirming"`
	PromotedOffers int           `json:"promoted_offers"`
}

// publishRequirements mirrors the fields an event must have before it is visible.
type publishRequirements struct {
	Title       string     `json:"title" validate:"required,notblank"`
	Description string     `json:"description" validate:"required,notblank"`
	DateTime    *time.Time `json:"date_time" validate:"required"`
	Location    string     `json:"location" validate:"required,notblank"`
}

// NewEventService constructs an EventService.
func NewEventService(db *gorm.DB, opts ...LifecycleOption) (*EventService, error) {
	core, err := newLifecycle(db, "event service", opts)
	if err != nil {
		return nil, err
	}
	return &EventService{lifecycle: core}, nil
}

// Create stores a new draft event and makes its creator the owning organizer.
func (s *EventService) Create(ctx context.Context, input CreateEventInput) (*models.Event, error) {
	ctx = ensureContext(ctx)
	input.CreatedBy = strings.TrimSpace(input.CreatedBy)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := checkSchedule(input.DateTime, input.EndDateTime, input.RSVPDeadline); err != nil {
		return nil, err
	}

	event := &models.Event{
		Title:           strings.TrimSpace(input.Title),
		Description:     input.Description,
		Notes:           input.Notes,
		DateTime:        utcPtr(input.DateTime),
		EndDateTime:     utcPtr(input.EndDateTime),
		Timezone:        strings.TrimSpace(input.Timezone),
		Location:        strings.TrimSpace(input.Location),
		Capacity:        input.Capacity,
		WaitlistEnabled: input.WaitlistEnabled,
		RSVPDeadline:    utcPtr(input.RSVPDeadline),
		State:           models.EventStateDraft,
		CreatedBy:       input.CreatedBy,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("event service: create event: %w", err)
		}
		organizer := models.EventOrganizer{
			EventID: event.ID,
			UserID:  input.CreatedBy,
			Role:    models.OrganizerRoleOwner,
		}
		if err := tx.Create(&organizer).Error; err != nil {
			return fmt.Errorf("event service: create owner: %w", err)
		}
		event.Organizers = []models.EventOrganizer{organizer}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.EventTransitions.WithLabelValues(string(models.EventStateDraft)).Inc()
	s.log.Info("event created", zap.String("event_id", event.ID), zap.String("created_by", event.CreatedBy))
	return event, nil
}

// Get returns the event with its observed state and seat ledger.
func (s *EventService) Get(ctx context.Context, eventID string) (*EventView, error) {
	ctx = ensureContext(ctx)
	s.sweepIfDue(ctx, eventID)

	var event models.Event
	err := s.db.WithContext(ctx).
		Preload("Organizers").
		Where("id = ?", strings.TrimSpace(eventID)).
		First(&event).Error
	if err != nil {
		return nil, notFoundOr(err, func(err error) error { return fmt.Errorf("event service: get event: %w", err) })
	}

	now := s.clock()
	ledger, err := computeLedger(s.db.WithContext(ctx), &event, now)
	if err != nil {
		return nil, fmt.Errorf("event service: %w", err)
	}

	return &EventView{
		Event:          &event,
		ObservedState:  ObservedStateOf(&event, now, s.defaultDuration),
		Ledger:         ledger,
		AcceptingRSVPs: AcceptsRSVP(&event, now, s.defaultDuration),
	}, nil
}

// ListForOrganizer returns the events userID organizes, newest first.
func (s *EventService) ListForOrganizer(ctx context.Context, userID string) ([]models.Event, error) {
	ctx = ensureContext(ctx)
	var events []models.Event
	err := s.db.WithContext(ctx).
		Joins("JOIN event_organizers ON event_organizers.event_id = events.id").
		Where("event_organizers.user_id = ?", strings.TrimSpace(userID)).
		Order("events.created_at DESC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("event service: list events: %w", err)
	}
	return events, nil
}

// Publish makes a complete draft visible and opens it for RSVPs.
func (s *EventService) Publish(ctx context.Context, actorID, eventID string) (*models.Event, error) {
	var result *models.Event
	err := s.mutateEvent(ctx, eventID, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		if err := requireOrganizer(tx, ev.ID, actorID); err != nil {
			return err
		}
		if ev.State != models.EventStateDraft {
			return ErrInvalidTransition.WithMessage("Only draft events can be published")
		}

		requirements := publishRequirements{
			Title:       ev.Title,
			Description: ev.Description,
			DateTime:    ev.DateTime,
			Location:    ev.Location,
		}
		if err := validator.ValidateStruct(requirements); err != nil {
			return ErrInvalidTransition.
				WithMessage("Event is missing required details: " + missingFields(err)).
				WithInternal(err)
		}

		if err := tx.Model(ev).Updates(map[string]any{
			"state":        models.EventStatePublished,
			"published_at": now,
		}).Error; err != nil {
			return fmt.Errorf("event service: publish: %w", err)
		}
		ev.State = models.EventStatePublished
		ev.PublishedAt = &now
		result = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.EventTransitions.WithLabelValues(string(models.EventStatePublished)).Inc()
	s.log.Info("event published", zap.String("event_id", eventID), zap.String("actor_id", actorID))
	return result, nil
}

// Close stops accepting RSVPs before the deadline.
func (s *EventService) Close(ctx context.Context, actorID, eventID string) (*models.Event, error) {
	var result *models.Event
	err := s.mutateEvent(ctx, eventID, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		if err := requireOrganizer(tx, ev.ID, actorID); err != nil {
			return err
		}
		observed := ObservedStateOf(ev, now, s.defaultDuration)
		if ev.State != models.EventStatePublished ||
			(observed != models.EventStatePublished && observed != models.EventStateOngoing) {
			return ErrInvalidTransition.WithMessage("Only open events can be closed")
		}

		if err := tx.Model(ev).Updates(map[string]any{
			"state":     models.EventStateClosed,
			"closed_at": now,
		}).Error; err != nil {
			return fmt.Errorf("event service: close: %w", err)
		}
		ev.State = models.EventStateClosed
		ev.ClosedAt = &now
		result = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.EventTransitions.WithLabelValues(string(models.EventStateClosed)).Inc()
	s.log.Info("event closed", zap.String("event_id", eventID), zap.String("actor_id", actorID))
	return result, nil
}

// Cancel terminates the event and notifies everyone who responded other than NO and everyone
// on the waitlist. It returns the number of users notified.
func (s *EventService) Cancel(ctx context.Context, actorID, eventID, message string) (int, error) {
	notified := 0
	err := s.mutateEvent(ctx, eventID, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		if err := requireOrganizer(tx, ev.ID, actorID); err != nil {
			return err
		}
		observed := ObservedStateOf(ev, now, s.defaultDuration)
		if observed.Terminal() {
			return ErrInvalidTransition.WithMessage("Event is already " + strings.ToLower(string(observed)))
		}

		message = strings.TrimSpace(message)
		if err := tx.Model(ev).Updates(map[string]any{
			"state":          models.EventStateCancelled,
			"cancelled_at":   now,
			"cancel_message": message,
		}).Error; err != nil {
			return fmt.Errorf("event service: cancel: %w", err)
		}
		ev.State = models.EventStateCancelled
		ev.CancelledAt = &now
		ev.CancelMessage = message

		respondents, err := respondentIDs(tx, ev.ID, models.RSVPYes, models.RSVPMaybe)
		if err != nil {
			return err
		}
		waiting, err := waitlistedIDs(tx, ev.ID)
		if err != nil {
			return err
		}
		recipients := without(normaliseIDs(append(respondents, waiting...)), actorID)

		body := fmt.Sprintf("%s has been cancelled.", ev.Title)
		if message != "" {
			body += " " + message
		}
		box.add(notifications.NewDomainEvent(models.NotificationEventCancelled, ev.ID, recipients, "Event cancelled", body).
			WithActor(actorID))
		notified = len(recipients)
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.EventTransitions.WithLabelValues(string(models.EventStateCancelled)).Inc()
	s.log.Info("event cancelled",
		zap.String("event_id", eventID),
		zap.String("actor_id", actorID),
		zap.Int("notified", notified),
	)
	return notified, nil
}

// Update applies changes to a non-terminal event. Changes to the schedule, location or capacity
// are material: confirmed attendees must reconfirm, and maybes and waitlisted users are told.
// A capacity change may not drop below the seats already taken; added seats go to the waitlist.
func (s *EventService) Update(ctx context.Context, actorID, eventID string, changes EventChanges) (*UpdateResult, error) {
	if err := validator.ValidateStruct(changes); err != nil {
		return nil, err
	}

	var result *UpdateResult
	err := s.mutateEvent(ctx, eventID, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		if err := requireOrganizer(tx, ev.ID, actorID); err != nil {
			return err
		}
		if ObservedStateOf(ev, now, s.defaultDuration).Terminal() {
			return ErrInvalidTransition.WithMessage("Finished or cancelled events cannot be changed")
		}

		oldCapacity := ev.Capacity
		updates, material := applyChanges(ev, changes)
		if err := checkSchedule(ev.DateTime, ev.EndDateTime, ev.RSVPDeadline); err != nil {
			return err
		}

		if changes.Capacity != nil || changes.ClearCapacity {
			ledger, err := computeLedger(tx, ev, now)
			if err != nil {
				return err
			}
			if ev.Capacity != nil && *ev.Capacity < ledger.Confirmed+ledger.HeldOffers {
				return ErrInvalidTransition.WithMessage(fmt.Sprintf(
					"Capacity cannot drop below the %d seats already taken", ledger.Confirmed+ledger.HeldOffers))
			}
		}

		result = &UpdateResult{Event: ev, Material: material}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(ev).Updates(updates).Error; err != nil {
			return fmt.Errorf("event service: update: %w", err)
		}

		if material {
			count, err := s.requestReconfirmation(tx, ev, actorID, now, box)
			if err != nil {
				return err
			}
			result.Reconfirming = count
		}

		if capacityGrew(oldCapacity, ev.Capacity) {
			for {
				entry, err := s.promoteNextTx(tx, ev, now, box)
				if err != nil {
					return err
				}
				if entry == nil {
					break
				}
				result.PromotedOffers++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Material {
		s.log.Info("event materially changed",
			zap.String("event_id", eventID),
			zap.Int("reconfirming", result.Reconfirming),
			zap.Int("promoted", result.PromotedOffers),
		)
	}
	return result, nil
}

// AddOrganizer grants userID organizer privileges. Adding an existing organizer is a no-op.
func (s *EventService) AddOrganizer(ctx context.Context, actorID, eventID, userID string) (*models.EventOrganizer, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}

	var result *models.EventOrganizer
	err := s.mutateEvent(ctx, eventID, func(tx *gorm.DB, ev *models.Event, now time.Time, box *outbox) error {
		if err := requireOrganizer(tx, ev.ID, actorID); err != nil {
			return err
		}

		var existing models.EventOrganizer
		err := tx.Where("event_id = ? AND user_id = ?", ev.ID, userID).First(&existing).Error
		if err == nil {
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("event service: load organizer: %w", err)
		}

		organizer := &models.EventOrganizer{EventID: ev.ID, UserID: userID, Role: models.OrganizerRoleOrganizer}
		if err := tx.Create(organizer).Error; err != nil {
			return fmt.Errorf("event service: add organizer: %w", err)
		}
		result = organizer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// IsOrganizer reports whether userID organizes the event.
func (s *EventService) IsOrganizer(ctx context.Context, eventID, userID string) (bool, error) {
	ctx = ensureContext(ctx)
	if _, err := loadEvent(ctx, s.db, eventID); err != nil {
		return false, err
	}
	return isOrganizer(s.db.WithContext(ctx), strings.TrimSpace(eventID), strings.TrimSpace(userID))
}

// requestReconfirmation flags every confirmed attendee, the actor included, and tells the others
// and any maybes and waitlisted users about the change.
func (s *EventService) requestReconfirmation(tx *gorm.DB, ev *models.Event, actorID string, now time.Time, box *outbox) (int, error) {
	attending, err := respondentIDs(tx, ev.ID, models.RSVPYes)
	if err != nil {
		return 0, err
	}
	if len(attending) > 0 {
		if err := tx.Model(&models.RSVP{}).
			Where("event_id = ? AND response = ?", ev.ID, models.RSVPYes).
			Updates(map[string]any{
				"needs_reconfirmation":   true,
				"reconfirm_requested_at": now,
			}).Error; err != nil {
			return 0, fmt.Errorf("event service: flag reconfirmation: %w", err)
		}
	}

	box.add(notifications.NewDomainEvent(
		models.NotificationRSVPReconfirm,
		ev.ID,
		without(attending, actorID),
		"Please reconfirm",
		fmt.Sprintf("%s has changed. Please confirm you can still attend.", ev.Title),
	).WithActor(actorID))

	maybes, err := respondentIDs(tx, ev.ID, models.RSVPMaybe)
	if err != nil {
		return 0, err
	}
	waiting, err := waitlistedIDs(tx, ev.ID)
	if err != nil {
		return 0, err
	}
	box.add(notifications.NewDomainEvent(
		models.NotificationEventUpdated,
		ev.ID,
		without(normaliseIDs(append(maybes, waiting...)), actorID),
		"Event updated",
		fmt.Sprintf("%s has new details.", ev.Title),
	).WithActor(actorID).WithMetadata("material", true))

	return len(attending), nil
}

// applyChanges mutates ev and returns the column updates plus whether any material field
// actually changed value.
func applyChanges(ev *models.Event, changes EventChanges) (map[string]any, bool) {
	updates := map[string]any{}
	material := false

	if changes.Title != nil && strings.TrimSpace(*changes.Title) != ev.Title {
		ev.Title = strings.TrimSpace(*changes.Title)
		updates["title"] = ev.Title
	}
	if changes.Description != nil && *changes.Description != ev.Description {
		ev.Description = *changes.Description
		updates["description"] = ev.Description
	}
	if changes.Notes != nil && *changes.Notes != ev.Notes {
		ev.Notes = *changes.Notes
		updates["notes"] = ev.Notes
	}
	if changes.Timezone != nil && strings.TrimSpace(*changes.Timezone) != ev.Timezone {
		ev.Timezone = strings.TrimSpace(*changes.Timezone)
		updates["timezone"] = ev.Timezone
	}
	if changes.WaitlistEnabled != nil && *changes.WaitlistEnabled != ev.WaitlistEnabled {
		ev.WaitlistEnabled = *changes.WaitlistEnabled
		updates["waitlist_enabled"] = ev.WaitlistEnabled
	}

	if changes.DateTime != nil && !sameTime(ev.DateTime, changes.DateTime) {
		ev.DateTime = utcPtr(changes.DateTime)
		updates["date_time"] = ev.DateTime
		material = true
	}
	switch {
	case changes.ClearEndDateTime && ev.EndDateTime != nil:
		ev.EndDateTime = nil
		updates["end_date_time"] = nil
		material = true
	case changes.EndDateTime != nil && !sameTime(ev.EndDateTime, changes.EndDateTime):
		ev.EndDateTime = utcPtr(changes.EndDateTime)
		updates["end_date_time"] = ev.EndDateTime
		material = true
	}
	if changes.Location != nil && strings.TrimSpace(*changes.Location) != ev.Location {
		ev.Location = strings.TrimSpace(*changes.Location)
		updates["location"] = ev.Location
		material = true
	}
	switch {
	case changes.ClearCapacity && ev.Capacity != nil:
		ev.Capacity = nil
		updates["capacity"] = nil
		material = true
	case changes.Capacity != nil && (ev.Capacity == nil || *ev.Capacity != *changes.Capacity):
		ev.Capacity = intPtr(*changes.Capacity)
		updates["capacity"] = *changes.Capacity
		material = true
	}

	switch {
	case changes.ClearRSVPDeadline && ev.RSVPDeadline != nil:
		ev.RSVPDeadline = nil
		updates["rsvp_deadline"] = nil
	case changes.RSVPDeadline != nil && !sameTime(ev.RSVPDeadline, changes.RSVPDeadline):
		ev.RSVPDeadline = utcPtr(changes.RSVPDeadline)
		updates["rsvp_deadline"] = ev.RSVPDeadline
	}

	return updates, material
}

func checkSchedule(start, end, deadline *time.Time) error {
	if start != nil && end != nil && !end.After(*start) {
		return apperrors.NewBadRequest("end_date_time must be after date_time")
	}
	if start != nil && deadline != nil && deadline.After(*start) {
		return apperrors.NewBadRequest("rsvp_deadline must not be after date_time")
	}
	return nil
}

func capacityGrew(before, after *int) bool {
	switch {
	case after == nil:
		return before != nil
	case before == nil:
		return false
	default:
		return *after > *before
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func missingFields(err error) string {
	var vErrs validator.ValidationErrors
	if !errors.As(err, &vErrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(vErrs))
	for _, v := range vErrs {
		fields = append(fields, v.Field)
	}
	return strings.Join(fields, ", ")
}
