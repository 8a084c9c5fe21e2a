package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"account-console/internal/auth"
	"account-console/internal/config"
	"account-console/internal/counter"
	"account-console/internal/models"
	"account-console/internal/security"
)

// UserStore is the slice of the database the API needs. *db.Users satisfies it.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	Create(ctx context.Context, email, providerID string) (models.User, error)
	TouchSignIn(ctx context.Context, id string) error
	UpdateRole(ctx context.Context, id, role string) error
	Count(ctx context.Context) (int64, error)
}

// EventFeed reads the persisted audit trail for the dashboard.
// *db.SecurityEvents satisfies it.
type EventFeed interface {
	Recent(ctx context.Context, limit int) ([]models.SecurityEvent, error)
	CountSince(ctx context.Context, kind string, since time.Time) (int64, error)
}

// Deps are the collaborators injected at startup. Everything stateful is
// constructed in main and handed in; the server owns no globals.
type Deps struct {
	Users      UserStore
	Feed       EventFeed
	Store      counter.Store
	Provider   auth.Provider
	Dispatcher *security.Dispatcher
}

type Server struct {
	log *slog.Logger
	cfg config.Config

	users    UserStore
	feed     EventFeed
	store    counter.Store
	provider auth.Provider
	events   *security.Dispatcher

	limiter  *security.RateLimiter
	lockouts *security.LockoutTracker
	csrf     *security.CSRFEngine
	sessions *auth.SessionManager

	strict  security.Policy
	relaxed security.Policy

	timeout time.Duration
	router  *gin.Engine
}

func NewServer(log *slog.Logger, cfg config.Config, deps Deps) *Server {
	s := &Server{
		log:      log,
		cfg:      cfg,
		users:    deps.Users,
		feed:     deps.Feed,
		store:    deps.Store,
		provider: deps.Provider,
		events:   deps.Dispatcher,
		router:   gin.New(),

		strict:  security.Policy{Max: cfg.RateStrictMax, Window: cfg.RateStrictWindow},
		relaxed: security.Policy{Max: cfg.RateRelaxedMax, Window: cfg.RateRelaxedWindow},
	}

	s.timeout = cfg.RequestTimeout
	if s.timeout <= 0 {
		s.timeout = defaultRequestTimeout
	}

	s.limiter = security.NewRateLimiter(log, deps.Store, deps.Dispatcher)
	s.lockouts = security.NewLockoutTracker(log, deps.Store, deps.Dispatcher, cfg.LockoutMaxAttempts, cfg.LockoutWindow)
	s.csrf = security.NewCSRFEngine(cfg.CSRFSecret, cfg.CSRFTokenTTL)
	s.sessions = auth.NewSessionManager(cfg.SessionSecret, cfg.SessionTTL)

	gin.SetMode(gin.ReleaseMode)
	r := s.router
	r.Use(gin.Recovery())
	r.Use(s.requestIDMiddleware())
	r.Use(s.securityHeadersMiddleware())
	r.Use(s.corsMiddleware())
	r.Use(s.bodyLimitMiddleware())
	r.Use(s.loggingMiddleware())

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", s.health)

		v1.GET("/csrf-token",
			s.rateLimitMiddleware("csrf", s.relaxed),
			s.csrfToken)

		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/signin",
				s.rateLimitMiddleware(security.RouteSignin, s.strict),
				s.csrfMiddleware(),
				s.signin)
			authRoutes.POST("/signup",
				s.rateLimitMiddleware(security.RouteSignup, s.strict),
				s.csrfMiddleware(),
				s.signup)
			authRoutes.POST("/signout",
				s.rateLimitMiddleware("signout", s.relaxed),
				s.csrfMiddleware(),
				s.signout)
		}

		v1.GET("/me",
			s.rateLimitMiddleware("me", s.relaxed),
			s.authMiddleware(),
			s.me)

		dashboard := v1.Group("/dashboard",
			s.rateLimitMiddleware("dashboard", s.relaxed),
			s.authMiddleware())
		{
			dashboard.GET("/overview", s.overview)
			dashboard.GET("/events", s.requireRole(models.RoleAdmin), s.eventFeed)
		}

		admin := v1.Group("/admin",
			s.rateLimitMiddleware("admin", s.strict),
			s.csrfMiddleware(),
			s.authMiddleware(),
			s.requireRole(models.RoleAdmin))
		{
			admin.POST("/unlock/:email", s.adminUnlock)
			admin.POST("/users/:id/role", s.adminSetRole)
		}
	}

	// legacy probe path
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	return s
}

// Handler is the HTTP surface, wrapped in the request deadline so even a
// stage that ignores its context cannot hold a client past the timeout.
func (s *Server) Handler() http.Handler {
	return withTimeout(s.router, s.timeout)
}
