package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"account-console/internal/auth"
	"account-console/internal/logging"
	"account-console/internal/security"
)

const (
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
	sessionCookieName = "session_token"

	maxBodyBytes = 1 << 20 // 1 MiB
)

const sessionContextKey = "session"

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, allowedOrigin := range s.cfg.CORSOrigins {
			if origin == allowedOrigin || allowedOrigin == "*" {
				allowed = true
				break
			}
		}

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+csrfHeaderName)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) bodyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.log.Info("http_request",
			"request_id", c.GetString("request_id"),
			"method", method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", s.clientIP(c),
		)
	}
}

func (s *Server) clientIP(c *gin.Context) string {
	return security.ClientIP(c.Request, s.cfg.TrustedProxyHops)
}

// rateLimitMiddleware enforces one policy tier for one route, keyed by
// client IP. Limit headers are set on allowed and denied responses alike.
func (s *Server) rateLimitMiddleware(route string, policy security.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := s.limiter.Check(c.Request.Context(), route, s.clientIP(c), policy)

		c.Header("X-RateLimit-Limit", strconv.Itoa(policy.Max))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			c.Header("Retry-After", retryAfterSeconds(res.ResetIn))
			abortRetryError(c, http.StatusTooManyRequests, codeRateLimited, "too many requests", res.ResetIn)
			return
		}

		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64(d.Seconds())
	if d > time.Duration(secs)*time.Second {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// csrfMiddleware validates anti-forgery tokens on state-changing methods.
// Safe methods pass through untouched.
//
// When the browser delivered the csrf cookie, the header must byte-match it
// (double submit). Without a cookie, as in cross-origin deployments where the
// frontend cannot read the token cookie, the header is accepted on its own
// signature. The headless path gives up the cookie binding on purpose; the
// signature still proves the token came from this server within its TTL.
func (s *Server) csrfMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		headerToken := c.GetHeader(csrfHeaderName)
		if headerToken == "" {
			s.rejectCSRF(c, security.EventCSRFMissing, codeCSRFMissing, "csrf token missing")
			return
		}

		cookieToken, err := c.Cookie(csrfCookieName)
		if err == nil && cookieToken != "" {
			if !s.csrf.VerifyDoubleSubmit(cookieToken, headerToken) {
				s.rejectCSRF(c, security.EventCSRFMismatch, codeCSRFMismatch, "csrf token mismatch")
				return
			}
			c.Next()
			return
		}

		if !s.csrf.VerifySigned(headerToken) {
			s.rejectCSRF(c, security.EventCSRFInvalid, codeCSRFInvalid, "csrf token invalid")
			return
		}

		c.Next()
	}
}

func (s *Server) rejectCSRF(c *gin.Context, eventKind, code, message string) {
	s.events.Emit(security.Event{
		Kind:     eventKind,
		Route:    c.FullPath(),
		ClientIP: s.clientIP(c),
	})
	s.log.Warn("csrf_rejected",
		"request_id", c.GetString("request_id"),
		"kind", eventKind,
		"path", c.Request.URL.Path,
		"client_ip", s.clientIP(c),
	)
	abortError(c, http.StatusForbidden, code, message)
}

// authMiddleware resolves the session cookie into the caller's identity.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(sessionCookieName)
		if err != nil || token == "" {
			abortError(c, http.StatusUnauthorized, codeUnauthorized, "authentication required")
			return
		}

		sess, err := s.sessions.Verify(token)
		if err != nil {
			abortError(c, http.StatusUnauthorized, codeUnauthorized, "authentication required")
			return
		}

		c.Set(sessionContextKey, sess)
		c.Next()
	}
}

func sessionFrom(c *gin.Context) (auth.Session, bool) {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return auth.Session{}, false
	}
	sess, ok := v.(auth.Session)
	return sess, ok
}

// requireRole gates a route on a role attribute. Accounts without a role are
// denied: fail closed until an operator assigns one.
func (s *Server) requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := sessionFrom(c)
		if !ok {
			abortError(c, http.StatusUnauthorized, codeUnauthorized, "authentication required")
			return
		}

		if sess.Role == "" || sess.Role != role {
			s.log.Warn("authorization_denied",
				"request_id", c.GetString("request_id"),
				"required_role", role,
				"subject", logging.MaskIdentifier(sess.Email),
			)
			abortError(c, http.StatusForbidden, codeForbidden, fmt.Sprintf("%s role required", role))
			return
		}

		c.Next()
	}
}
