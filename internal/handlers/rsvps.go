package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/services"
	"github.com/charlesng35/convene/pkg/response"
)

// RSVP outcomes reported to clients.
const (
	RSVPStatusRecorded   = "RECORDED"
	RSVPStatusWaitlisted = "WAITLISTED"
)

// RSVPHandler records responses and, when an event is full, queues the caller on its waitlist.
type RSVPHandler struct {
	events   *services.EventService
	rsvps    *services.RSVPService
	waitlist *services.WaitlistService
}

// NewRSVPHandler constructs an RSVPHandler.
func NewRSVPHandler(events *services.EventService, rsvps *services.RSVPService, waitlist *services.WaitlistService) *RSVPHandler {
	return &RSVPHandler{events: events, rsvps: rsvps, waitlist: waitlist}
}

type setRSVPRequest struct {
	Response models.RSVPResponse `json:"response" validate:"required,enum"`
	// JoinWaitlist defaults to true: a YES on a full event queues the caller.
	JoinWaitlist *bool `json:"join_waitlist"`
}

func (r *setRSVPRequest) normalise() {
	r.Response = models.RSVPResponse(strings.ToUpper(strings.TrimSpace(string(r.Response))))
}

// RSVPOutcome is the result of a response submission. Exactly one of RSVP and Waitlist is set.
type RSVPOutcome struct {
	Status   string                `json:"status"`
	RSVP     *models.RSVP          `json:"rsvp,omitempty"`
	Waitlist *models.WaitlistEntry `json:"waitlist,omitempty"`
}

// Set records the caller's response.
func (h *RSVPHandler) Set(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req setRSVPRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	eventID := eventParam(c)
	rsvp, err := h.rsvps.SetRSVP(ctx, eventID, userID, req.Response)
	if errors.Is(err, services.ErrEventFull) && (req.JoinWaitlist == nil || *req.JoinWaitlist) {
		entry, joinErr := h.waitlist.Join(ctx, eventID, userID)
		switch {
		case joinErr == nil:
			response.Success(c, http.StatusAccepted, RSVPOutcome{Status: RSVPStatusWaitlisted, Waitlist: entry})
			return
		case errors.Is(joinErr, services.ErrAlreadyQueued):
			if entry, getErr := h.waitlist.Get(ctx, eventID, userID); getErr == nil {
				response.Success(c, http.StatusOK, RSVPOutcome{Status: RSVPStatusWaitlisted, Waitlist: entry})
				return
			}
		case errors.Is(joinErr, services.ErrNotFull):
			// A seat opened between the two calls.
			rsvp, err = h.rsvps.SetRSVP(ctx, eventID, userID, req.Response)
		}
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, RSVPOutcome{Status: RSVPStatusRecorded, RSVP: rsvp})
}

// Mine returns the caller's response.
func (h *RSVPHandler) Mine(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	rsvp, err := h.rsvps.Get(requestContext(c), eventParam(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, rsvp)
}

// List returns the event's responses to organizers, optionally filtered by ?response=.
func (h *RSVPHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if !requireOrganizer(c, h.events, userID) {
		return
	}

	var filter []models.RSVPResponse
	for _, value := range c.QueryArray("response") {
		answer := models.RSVPResponse(strings.ToUpper(strings.TrimSpace(value)))
		if answer.Valid() {
			filter = append(filter, answer)
		}
	}

	rsvps, err := h.rsvps.ListForEvent(requestContext(c), eventParam(c), filter...)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, rsvps, &response.Meta{Total: len(rsvps)})
}
