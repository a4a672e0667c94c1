package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/convene/pkg/errors"
	"github.com/charlesng35/convene/pkg/logger"
	"github.com/charlesng35/convene/pkg/metrics"
	"github.com/charlesng35/convene/pkg/response"
)

// Recovery turns a handler panic into a 500 envelope. When the handler already started the
// body only the log line and counter are emitted.
func Recovery() gin.HandlerFunc {
	log := logger.WithModule("http")
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			route := routeLabel(c)
			metrics.HandlerPanics.WithLabelValues(route).Inc()
			log.Error("handler panic",
				zap.String("route", route),
				zap.String("request_id", c.GetString(CtxRequestIDKey)),
				zap.String("user_id", c.GetString(CtxUserIDKey)),
				zap.Any("panic", recovered),
				zap.StackSkip("stack", 2),
			)
			if !c.Writer.Written() {
				response.Error(c, errors.ErrInternalServer)
			}
			c.Abort()
		}()
		c.Next()
	}
}

// NotFoundHandler answers unknown routes with the standard envelope.
func NotFoundHandler(c *gin.Context) {
	response.Error(c, errors.ErrNotFound.WithMessage("no route for "+c.Request.Method+" "+c.Request.URL.Path))
}
