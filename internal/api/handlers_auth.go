package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"account-console/internal/auth"
	"account-console/internal/db"
	"account-console/internal/logging"
	"account-console/internal/security"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *credentialsRequest) normalize() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Email == "" || len(r.Email) > 254 || !strings.Contains(r.Email, "@") {
		return errors.New("invalid email")
	}
	if r.Password == "" || len(r.Password) > 512 {
		return errors.New("invalid password")
	}
	return nil
}

// checkEmailRate enforces the strict tier keyed by email, on top of the
// per-IP middleware check. This is the counter the administrative unlock
// resets, so the key must come from the shared helpers.
func (s *Server) checkEmailRate(c *gin.Context, route, email string) bool {
	res := s.limiter.Check(c.Request.Context(), route, email, s.strict)
	if !res.Allowed {
		c.Header("Retry-After", retryAfterSeconds(res.ResetIn))
		abortRetryError(c, http.StatusTooManyRequests, codeRateLimited, "too many requests", res.ResetIn)
		return false
	}
	return true
}

func (s *Server) signin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.normalize() != nil {
		abortError(c, http.StatusBadRequest, codeInvalidRequest, "email and password are required")
		return
	}

	if !s.checkEmailRate(c, security.RouteSignin, req.Email) {
		return
	}

	ctx := c.Request.Context()

	// Lockout is checked before the provider call. A locked account must not
	// cost a credential verification, and must answer in the same time
	// whether or not the password would have been correct.
	if locked, retryIn := s.lockouts.IsLocked(ctx, req.Email); locked {
		mins := int(retryIn.Minutes()) + 1
		abortRetryError(c, http.StatusTooManyRequests, codeAccountLocked,
			fmt.Sprintf("account temporarily locked, try again in %d minutes", mins), retryIn)
		return
	}

	identity, err := s.provider.VerifyCredentials(ctx, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			s.lockouts.RecordFailure(ctx, req.Email)
			abortError(c, http.StatusUnauthorized, codeInvalidCredentials, "invalid email or password")
		case errors.Is(err, auth.ErrProviderUnavailable):
			s.log.Warn("auth_provider_unavailable", "request_id", c.GetString("request_id"), "error", err.Error())
			abortError(c, http.StatusServiceUnavailable, codeServiceUnavailable, "sign-in is temporarily unavailable")
		default:
			abortError(c, http.StatusInternalServerError, codeInternal, "sign-in failed")
		}
		return
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if errors.Is(err, db.ErrUserNotFound) {
		// first sign-in through the provider provisions the local row
		user, err = s.users.Create(ctx, identity.Email, identity.ProviderID)
	}
	if err != nil {
		s.log.Error("user_lookup_failed", "request_id", c.GetString("request_id"), "error", err.Error())
		abortError(c, http.StatusInternalServerError, codeInternal, "sign-in failed")
		return
	}

	if err := s.lockouts.Reset(ctx, req.Email); err != nil {
		// a failed reset self-heals when the window expires
		s.log.Warn("lockout_reset_failed", "subject", logging.MaskIdentifier(req.Email), "error", err.Error())
	}
	if err := s.users.TouchSignIn(ctx, user.ID); err != nil {
		s.log.Warn("touch_sign_in_failed", "error", err.Error())
	}

	token, err := s.sessions.Issue(auth.Session{UserID: user.ID, Email: user.Email, Role: user.Role})
	if err != nil {
		abortError(c, http.StatusInternalServerError, codeInternal, "sign-in failed")
		return
	}
	s.setSessionCookie(c, token)

	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (s *Server) signup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.normalize() != nil {
		abortError(c, http.StatusBadRequest, codeInvalidRequest, "email and password are required")
		return
	}

	if !s.checkEmailRate(c, security.RouteSignup, req.Email) {
		return
	}

	ctx := c.Request.Context()

	identity, err := s.provider.Register(ctx, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken):
			abortError(c, http.StatusConflict, codeEmailTaken, "email already registered")
		case errors.Is(err, auth.ErrInvalidCredentials):
			abortError(c, http.StatusBadRequest, codeInvalidRequest, "password was rejected")
		case errors.Is(err, auth.ErrProviderUnavailable):
			abortError(c, http.StatusServiceUnavailable, codeServiceUnavailable, "sign-up is temporarily unavailable")
		default:
			abortError(c, http.StatusInternalServerError, codeInternal, "sign-up failed")
		}
		return
	}

	user, err := s.users.Create(ctx, identity.Email, identity.ProviderID)
	if err != nil {
		s.log.Error("user_create_failed", "request_id", c.GetString("request_id"), "error", err.Error())
		abortError(c, http.StatusInternalServerError, codeInternal, "sign-up failed")
		return
	}

	token, err := s.sessions.Issue(auth.Session{UserID: user.ID, Email: user.Email})
	if err != nil {
		abortError(c, http.StatusInternalServerError, codeInternal, "sign-up failed")
		return
	}
	s.setSessionCookie(c, token)

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (s *Server) signout(c *gin.Context) {
	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, token, int(s.sessions.TTL().Seconds()), "/", "", s.cfg.IsProduction(), true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, "", -1, "/", "", s.cfg.IsProduction(), true)
}
