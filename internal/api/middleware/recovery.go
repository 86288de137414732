package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR reply and logs the
// panic with its stack. If the handler already started writing, the reply is
// left as is.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			logger.Error("Handler panicked",
				"component", "api",
				"request_id", c.GetString(RequestIDKey),
				"method", c.Request.Method,
				"route", c.FullPath(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			AbortWithError(c, http.StatusInternalServerError, CodeInternal, "Internal gateway error")
		}()
		c.Next()
	}
}
