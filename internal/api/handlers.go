package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"account-console/internal/db"
	"account-console/internal/models"
	"account-console/internal/security"
)

// csrfToken mints a fresh token and delivers it both in the body and in a
// cookie the frontend can read (not HttpOnly: the double-submit pattern
// requires client-side access so the value can be echoed in the header).
func (s *Server) csrfToken(c *gin.Context) {
	token := s.csrf.Generate()

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(csrfCookieName, token, int(s.cfg.CSRFTokenTTL.Seconds()), "/", "", s.cfg.IsProduction(), false)

	c.JSON(http.StatusOK, gin.H{"csrf_token": token})
}

func (s *Server) me(c *gin.Context) {
	sess, ok := sessionFrom(c)
	if !ok {
		abortError(c, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return
	}

	user, err := s.users.GetByID(c.Request.Context(), sess.UserID)
	if errors.Is(err, db.ErrUserNotFound) {
		abortError(c, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return
	}
	if err != nil {
		abortError(c, http.StatusInternalServerError, codeInternal, "lookup failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// overview backs the dashboard landing page.
func (s *Server) overview(c *gin.Context) {
	ctx := c.Request.Context()
	since := time.Now().Add(-24 * time.Hour)

	userCount, err := s.users.Count(ctx)
	if err != nil {
		abortError(c, http.StatusInternalServerError, codeInternal, "overview unavailable")
		return
	}

	// audit counts are best-effort; a cold feed shows zeros, not an error
	denials, _ := s.feed.CountSince(ctx, security.EventRateLimitDenied, since)
	lockouts, _ := s.feed.CountSince(ctx, security.EventAccountLocked, since)

	c.JSON(http.StatusOK, gin.H{
		"users": userCount,
		"last_24h": gin.H{
			"rate_limit_denials": denials,
			"account_lockouts":   lockouts,
		},
		"shared_counters": s.cfg.RedisDSN != "",
	})
}

func (s *Server) eventFeed(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := s.feed.Recent(c.Request.Context(), limit)
	if err != nil {
		abortError(c, http.StatusInternalServerError, codeInternal, "event feed unavailable")
		return
	}
	if events == nil {
		events = []models.SecurityEvent{}
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// adminUnlock clears the lockout counter and both auth rate limits for one
// identity. Reachable only with the admin role; being the locked-out user is
// deliberately not enough.
func (s *Server) adminUnlock(c *gin.Context) {
	email := strings.ToLower(strings.TrimSpace(c.Param("email")))
	if email == "" || len(email) > 254 || !strings.Contains(email, "@") {
		abortError(c, http.StatusBadRequest, codeInvalidRequest, "invalid email")
		return
	}

	if err := s.lockouts.AdminUnlock(c.Request.Context(), email); err != nil {
		s.log.Error("admin_unlock_failed", "request_id", c.GetString("request_id"), "error", err.Error())
		abortError(c, http.StatusInternalServerError, codeInternal, "unlock failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) adminSetRole(c *gin.Context) {
	var req struct {
		Role string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortError(c, http.StatusBadRequest, codeInvalidRequest, "role is required")
		return
	}

	err := s.users.UpdateRole(c.Request.Context(), c.Param("id"), strings.TrimSpace(req.Role))
	if errors.Is(err, db.ErrUserNotFound) {
		abortError(c, http.StatusNotFound, codeNotFound, "user not found")
		return
	}
	if err != nil {
		abortError(c, http.StatusInternalServerError, codeInternal, "role update failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) health(c *gin.Context) {
	counters := "ok"
	if _, err := s.store.Get(c.Request.Context(), "health:probe"); err != nil {
		// rate limiting fails open, so a degraded store is not a 503
		counters = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"env":             s.cfg.Env,
		"counters":        counters,
		"shared_counters": s.cfg.RedisDSN != "",
	})
}
