package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/convene/internal/services"
	"github.com/charlesng35/convene/pkg/response"
)

// WaitlistHandler exposes the waitlist queue.
type WaitlistHandler struct {
	events   *services.EventService
	waitlist *services.WaitlistService
}

// NewWaitlistHandler constructs a WaitlistHandler.
func NewWaitlistHandler(events *services.EventService, waitlist *services.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{events: events, waitlist: waitlist}
}

// Join queues the caller.
func (h *WaitlistHandler) Join(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	entry, err := h.waitlist.Join(requestContext(c), eventParam(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, entry)
}

// Leave removes the caller, releasing any held offer.
func (h *WaitlistHandler) Leave(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if err := h.waitlist.Leave(requestContext(c), eventParam(c), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"left": true})
}

// Mine returns the caller's entry with its position or offer expiry.
func (h *WaitlistHandler) Mine(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	entry, err := h.waitlist.Get(requestContext(c), eventParam(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, entry)
}

// Confirm accepts the caller's active offer.
func (h *WaitlistHandler) Confirm(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	rsvp, err := h.waitlist.ConfirmWaitlistSpot(requestContext(c), eventParam(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, RSVPOutcome{Status: RSVPStatusRecorded, RSVP: rsvp})
}

// List returns the whole queue to organizers.
func (h *WaitlistHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if !requireOrganizer(c, h.events, userID) {
		return
	}

	entries, err := h.waitlist.List(requestContext(c), eventParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, entries, &response.Meta{Total: len(entries)})
}
