package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/convene/internal/services"
	"github.com/charlesng35/convene/pkg/response"
)

// ContactHandler lets callers manage their own delivery addresses.
type ContactHandler struct {
	contacts *services.ContactService
}

// NewContactHandler constructs a ContactHandler.
func NewContactHandler(contacts *services.ContactService) *ContactHandler {
	return &ContactHandler{contacts: contacts}
}

// Get returns the caller's contact.
func (h *ContactHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	contact, err := h.contacts.Get(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, contact)
}

// Put replaces the caller's contact.
func (h *ContactHandler) Put(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.ContactInput
	if !bindJSON(c, &input) {
		return
	}
	input.UserID = userID

	contact, err := h.contacts.Upsert(requestContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, contact)
}
