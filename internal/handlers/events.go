package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/services"
	"github.com/charlesng35/convene/pkg/errors"
	"github.com/charlesng35/convene/pkg/response"
)

// EventHandler exposes the event lifecycle over HTTP.
type EventHandler struct {
	events *services.EventService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(events *services.EventService) *EventHandler {
	return &EventHandler{events: events}
}

type cancelEventRequest struct {
	Message string `json:"message" validate:"max=2000"`
}

type addOrganizerRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

// Create stores a draft event organized by the caller.
func (h *EventHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.CreateEventInput
	if !bindJSON(c, &input) {
		return
	}
	input.CreatedBy = userID

	event, err := h.events.Create(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, event)
}

// ListMine returns the events the caller organizes.
func (h *EventHandler) ListMine(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	events, err := h.events.ListForOrganizer(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, events, &response.Meta{Total: len(events)})
}

// Get returns the event as currently observed. Drafts are visible to organizers only.
func (h *EventHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ctx := requestContext(c)
	view, err := h.events.Get(ctx, eventParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	if view.Event.State == models.EventStateDraft {
		organizer, err := h.events.IsOrganizer(ctx, view.Event.ID, userID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !organizer {
			response.Error(c, errors.ErrNotFound)
			return
		}
	}

	response.Success(c, http.StatusOK, view)
}

// Update applies a partial change to the event.
func (h *EventHandler) Update(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var changes services.EventChanges
	if !bindJSON(c, &changes) {
		return
	}

	result, err := h.events.Update(requestContext(c), userID, eventParam(c), changes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// Publish opens a draft for RSVPs.
func (h *EventHandler) Publish(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	event, err := h.events.Publish(requestContext(c), userID, eventParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, event)
}

// Close stops accepting RSVPs ahead of the deadline.
func (h *EventHandler) Close(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	event, err := h.events.Close(requestContext(c), userID, eventParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, event)
}

// Cancel terminates the event. The body is optional.
func (h *EventHandler) Cancel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req cancelEventRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &req) {
		return
	}

	notified, err := h.events.Cancel(requestContext(c), userID, eventParam(c), req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"cancelled": true, "notified": notified})
}

// AddOrganizer grants another user organizer rights.
func (h *EventHandler) AddOrganizer(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req addOrganizerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	organizer, err := h.events.AddOrganizer(requestContext(c), userID, eventParam(c), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, organizer)
}

// requireOrganizer writes a 403 unless the caller organizes the event.
func requireOrganizer(c *gin.Context, events *services.EventService, userID string) bool {
	organizer, err := events.IsOrganizer(requestContext(c), eventParam(c), userID)
	if err != nil {
		response.Error(c, err)
		return false
	}
	if !organizer {
		response.Error(c, services.ErrNotOrganizer)
		return false
	}
	return true
}
