package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appErrors "github.com/charlesng35/convene/pkg/errors"
	"github.com/charlesng35/convene/pkg/logger"
	"github.com/charlesng35/convene/pkg/validator"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo is the client view of an AppError.
type ErrorInfo struct {
	Code    string                     `json:"code"`
	Message string                     `json:"message"`
	Details map[string]any             `json:"details,omitempty"`
	Fields  validator.ValidationErrors `json:"fields,omitempty"`
}

// Meta accompanies list responses. Unread is only set for notification inboxes.
type Meta struct {
	Total  int `json:"total"`
	Unread int `json:"unread,omitempty"`
}

func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{Success: true, Data: data})
}

func SuccessWithMeta(c *gin.Context, statusCode int, data interface{}, meta *Meta) {
	c.JSON(statusCode, Response{Success: true, Data: data, Meta: meta})
}

// Error renders err. Validation failures that reach here unwrapped become a 400 listing the
// rejected fields; anything that is not an AppError is a 500 whose cause is logged.
func Error(c *gin.Context, err error) {
	var appErr *appErrors.AppError
	var fields validator.ValidationErrors
	if err != nil && !errors.As(err, &appErr) && errors.As(err, &fields) {
		c.JSON(http.StatusBadRequest, Response{Error: &ErrorInfo{
			Code:    appErrors.ErrBadRequest.Code,
			Message: validator.Describe(fields),
			Fields:  fields,
		}})
		return
	}

	appErr = appErrors.FromError(err)
	if appErr == nil {
		appErr = appErrors.ErrInternalServer
	}
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError && appErr.Internal != nil {
		logInternal(c, appErr.Internal)
	}

	c.JSON(status, Response{Error: &ErrorInfo{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}})
}

func logInternal(c *gin.Context, cause error) {
	fields := []zap.Field{zap.String("route", c.FullPath()), zap.Error(cause)}
	if c.Request != nil {
		fields = append(fields, zap.String("method", c.Request.Method))
	}
	logger.WithModule("http").Error("request failed", fields...)
}
