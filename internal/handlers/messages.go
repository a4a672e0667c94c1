package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/convene/internal/models"
	"github.com/charlesng35/convene/internal/services"
	"github.com/charlesng35/convene/pkg/errors"
	"github.com/charlesng35/convene/pkg/response"
)

// MessageHandler exposes organizer mass messaging, invitations and the quota that gates both.
type MessageHandler struct {
	events    *services.EventService
	messaging *services.MessagingService
	invites   *services.InviteService
	quota     *services.QuotaService
}

// NewMessageHandler constructs a MessageHandler.
func NewMessageHandler(events *services.EventService, messaging *services.MessagingService, invites *services.InviteService, quota *services.QuotaService) *MessageHandler {
	return &MessageHandler{events: events, messaging: messaging, invites: invites, quota: quota}
}

// Send delivers a message to part of the guest list. Partial failures are reported in the
// body; an exhausted quota fails the whole send with 429.
func (h *MessageHandler) Send(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.MassMessageInput
	if !bindJSON(c, &input) {
		return
	}
	input.EventID = eventParam(c)
	input.SenderID = userID
	input.Channel = models.Channel(strings.ToUpper(strings.TrimSpace(string(input.Channel))))
	input.Audience = models.Audience(strings.ToUpper(strings.TrimSpace(string(input.Audience))))

	report, err := h.messaging.Send(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// History lists the event's past mass messages.
func (h *MessageHandler) History(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	messages, err := h.messaging.History(requestContext(c), userID, eventParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, messages, &response.Meta{Total: len(messages)})
}

// Invite invites users to the event.
func (h *MessageHandler) Invite(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.InviteInput
	if !bindJSON(c, &input) {
		return
	}
	input.EventID = eventParam(c)
	input.InviterID = userID

	report, err := h.invites.Invite(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}

// Invitations lists who has been invited.
func (h *MessageHandler) Invitations(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if !requireOrganizer(c, h.events, userID) {
		return
	}

	invitations, err := h.invites.ListForEvent(requestContext(c), eventParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, invitations, &response.Meta{Total: len(invitations)})
}

// Quota reports the counters a send on ?channel= would be charged against, without charging
// them.
func (h *MessageHandler) Quota(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if !requireOrganizer(c, h.events, userID) {
		return
	}

	channel := models.Channel(strings.ToUpper(strings.TrimSpace(c.DefaultQuery("channel", string(models.ChannelEmail)))))
	if !channel.Valid() {
		response.Error(c, errors.NewBadRequest("channel must be one of EMAIL, SMS or INVITE"))
		return
	}

	snapshot, err := h.quota.Snapshot(requestContext(c), services.QuotaScope{
		EventID:     eventParam(c),
		OrganizerID: userID,
	}, channel)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"snapshot":  snapshot,
		"remaining": snapshot.Remaining(),
	})
}
