package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SkipLoggingKey marks a request that Logging should not record
const SkipLoggingKey = "skip_logging"

// Paths requested by web vulnerability scanners. None of them is a gateway route.
var scannerPrefixes = []string{
	"/wp-",
	"/wordpress",
	"/phpmyadmin",
	"/pma",
	"/.env",
	"/.git",
	"/.aws",
	"/.well-known",
	"/cgi-bin",
	"/actuator",
	"/console",
	"/manager/html",
	"/vendor/",
	"/boaform",
	"/hnap1",
	"/owa",
	"/autodiscover",
	"/robots.txt",
	"/favicon.ico",
	"/sitemap.xml",
}

var scannerExtensions = []string{
	".php",
	".asp",
	".aspx",
	".jsp",
	".cgi",
	".bak",
	".old",
	".sql",
	".zip",
	".tar",
	".gz",
}

// NoiseFilter marks scanner requests that matched no route so that Logging
// skips them. Requests that reach a gateway route are always logged.
// It must be registered after Logging.
func NoiseFilter(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.FullPath() != "" {
			return
		}
		status := c.Writer.Status()
		if status != http.StatusNotFound && status != http.StatusMethodNotAllowed {
			return
		}
		if !isScannerPath(c.Request.URL.Path) {
			return
		}

		c.Set(SkipLoggingKey, true)
		logger.Debug("Scanner request filtered",
			"component", "api",
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"status", status,
			"client_ip", c.ClientIP())
	}
}

// isScannerPath reports whether path looks like a vulnerability scan target
func isScannerPath(path string) bool {
	lowercasePath := strings.ToLower(path)
	for _, prefix := range scannerPrefixes {
		if strings.HasPrefix(lowercasePath, prefix) {
			return true
		}
	}
	for _, ext := range scannerExtensions {
		if strings.HasSuffix(lowercasePath, ext) {
			return true
		}
	}
	return false
}
