package handlers

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/convene/pkg/errors"
	"github.com/charlesng35/convene/pkg/response"
	appValidator "github.com/charlesng35/convene/pkg/validator"
)

// normaliser is implemented by request types that canonicalise fields before validation.
type normaliser interface {
	normalise()
}

// bindAndValidate decodes the JSON body into dest, normalises it and applies its validate
// tags. On failure the 400 response is already written.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if !bindJSON(c, dest) {
		return false
	}
	if n, ok := any(dest).(normaliser); ok {
		n.normalise()
	}
	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(appValidator.Describe(err)))
		return false
	}
	return true
}

// bindJSON decodes without validating; used where the service validates its own input.
func bindJSON[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}
	return true
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return fallback
	}
	return parsed
}
