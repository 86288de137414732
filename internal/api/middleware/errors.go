package middleware

import (
	"github.com/gin-gonic/gin"
)

// Error codes carried in the "code" field of every error body
const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL_ERROR"
	CodeNotSupported    = "NOT_SUPPORTED"
	CodeSinkError       = "SINK_ERROR"
	CodeAuthUnavailable = "AUTH_UNAVAILABLE"
	CodeAuthRejected    = "AUTH_REJECTED"
	CodeUpstreamTimeout = "UPSTREAM_TIMEOUT"
	CodeBadGateway      = "BAD_GATEWAY"
)

// ErrorResponse is the JSON body of every gateway error
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// AbortWithError writes an ErrorResponse tagged with the request ID and stops
// the handler chain
func AbortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: c.GetString(RequestIDKey),
	})
}
