package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyHeader carries the caller's key
	APIKeyHeader = "X-API-Key"
	// AuthenticatedKey is set in the context once the key is verified
	AuthenticatedKey = "authenticated"
)

// APIKeyAuth verifies the X-API-Key header. The configured key may be stored
// as a bcrypt hash ($2a$/$2b$/$2y$ prefix) or in plain text. An empty key
// disables the check.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	hashed := strings.HasPrefix(apiKey, "$2")

	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		providedKey := c.GetHeader(APIKeyHeader)
		if providedKey == "" || !keyMatches(apiKey, providedKey, hashed) {
			AbortWithError(c, http.StatusUnauthorized, CodeUnauthorized, "Missing or invalid API key")
			return
		}

		c.Set(AuthenticatedKey, true)
		c.Next()
	}
}

func keyMatches(stored, provided string, hashed bool) bool {
	if hashed {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(provided)) == 1
}
