package api

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Stable error codes clients can branch on. Messages stay generic; counts,
// key names and stack traces never leave the server.
const (
	codeInvalidRequest     = "invalid_request"
	codeRateLimited        = "rate_limited"
	codeAccountLocked      = "account_locked"
	codeCSRFMissing        = "csrf_token_missing"
	codeCSRFMismatch       = "csrf_mismatch"
	codeCSRFInvalid        = "csrf_invalid"
	codeInvalidCredentials = "invalid_credentials"
	codeEmailTaken         = "email_taken"
	codeUnauthorized       = "unauthorized"
	codeForbidden          = "forbidden"
	codeNotFound           = "not_found"
	codeServiceUnavailable = "service_unavailable"
	codeInternal           = "internal_error"
	codeTimeout            = "request_timeout"
)

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func abortRetryError(c *gin.Context, status int, code, message string, retryAfter time.Duration) {
	secs := int64(retryAfter.Seconds())
	if retryAfter > time.Duration(secs)*time.Second {
		secs++ // ceil
	}
	if secs < 1 {
		secs = 1
	}

	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":        code,
			"message":     message,
			"retry_after": secs,
		},
	})
}
