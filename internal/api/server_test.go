package api

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"account-console/internal/auth"
	"account-console/internal/config"
	"account-console/internal/counter"
	"account-console/internal/db"
	"account-console/internal/models"
	"account-console/internal/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	testCSRFSecret    = "0123456789abcdef0123456789abcdef"
	testSessionSecret = "fedcba9876543210fedcba9876543210"
)

func testConfig() config.Config {
	return config.Config{
		Env:                "test",
		CSRFSecret:         []byte(testCSRFSecret),
		SessionSecret:      []byte(testSessionSecret),
		CSRFTokenTTL:       time.Hour,
		SessionTTL:         time.Hour,
		LockoutMaxAttempts: 5,
		LockoutWindow:      15 * time.Minute,
		RateStrictMax:      100,
		RateStrictWindow:   time.Minute,
		RateRelaxedMax:     100,
		RateRelaxedWindow:  time.Minute,
		RequestTimeout:     30 * time.Second,
		TrustedProxyHops:   0,
		CORSOrigins:        []string{"http://localhost:3000"},
	}
}

// fakeProvider stands in for the external credential service.
type fakeProvider struct {
	mu        sync.Mutex
	passwords map[string]string // email -> accepted password
	verifies  int
	err       error
	delay     time.Duration // simulates a hung upstream that ignores cancellation
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{passwords: map[string]string{}}
}

func (p *fakeProvider) VerifyCredentials(_ context.Context, email, password string) (auth.Identity, error) {
	p.mu.Lock()
	delay := p.delay
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifies++
	if p.err != nil {
		return auth.Identity{}, p.err
	}
	if want, ok := p.passwords[email]; ok && want == password {
		return auth.Identity{ProviderID: "prov-" + email, Email: email}, nil
	}
	return auth.Identity{}, auth.ErrInvalidCredentials
}

func (p *fakeProvider) Register(_ context.Context, email, password string) (auth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return auth.Identity{}, p.err
	}
	if _, ok := p.passwords[email]; ok {
		return auth.Identity{}, auth.ErrEmailTaken
	}
	p.passwords[email] = password
	return auth.Identity{ProviderID: "prov-" + email, Email: email}, nil
}

func (p *fakeProvider) verifyCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifies
}

// fakeUsers is an in-memory UserStore.
type fakeUsers struct {
	mu      sync.Mutex
	byEmail map[string]models.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byEmail: map[string]models.User{}}
}

func (s *fakeUsers) GetByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byEmail[email]; ok {
		return u, nil
	}
	return models.User{}, db.ErrUserNotFound
}

func (s *fakeUsers) GetByID(_ context.Context, id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return models.User{}, db.ErrUserNotFound
}

func (s *fakeUsers) Create(_ context.Context, email, providerID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.User{ID: uuid.NewString(), Email: email, ProviderID: providerID, CreatedAt: time.Now()}
	s.byEmail[email] = u
	return u, nil
}

func (s *fakeUsers) TouchSignIn(_ context.Context, id string) error { return nil }

func (s *fakeUsers) UpdateRole(_ context.Context, id, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for email, u := range s.byEmail {
		if u.ID == id {
			u.Role = role
			s.byEmail[email] = u
			return nil
		}
	}
	return db.ErrUserNotFound
}

func (s *fakeUsers) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.byEmail)), nil
}

func (s *fakeUsers) setRole(email, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.byEmail[email]
	u.Role = role
	s.byEmail[email] = u
}

// fakeFeed is an in-memory EventFeed.
type fakeFeed struct {
	events []models.SecurityEvent
}

func (f *fakeFeed) Recent(_ context.Context, limit int) ([]models.SecurityEvent, error) {
	if limit > len(f.events) {
		limit = len(f.events)
	}
	return f.events[:limit], nil
}

func (f *fakeFeed) CountSince(_ context.Context, kind string, since time.Time) (int64, error) {
	var n int64
	for _, ev := range f.events {
		if ev.Kind == kind && !ev.At.Before(since) {
			n++
		}
	}
	return n, nil
}

type testEnv struct {
	srv      *Server
	provider *fakeProvider
	users    *fakeUsers
	feed     *fakeFeed
	store    counter.Store
	cfg      config.Config
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()

	mem := counter.NewMemoryStore()
	t.Cleanup(mem.Close)

	provider := newFakeProvider()
	users := newFakeUsers()
	feed := &fakeFeed{}

	srv := NewServer(slog.Default(), cfg, Deps{
		Users:    users,
		Feed:     feed,
		Store:    mem,
		Provider: provider,
	})

	return &testEnv{srv: srv, provider: provider, users: users, feed: feed, store: mem, cfg: cfg}
}

// signedCSRF mints a header token valid for the test server's secret.
func (e *testEnv) signedCSRF() string {
	return security.NewCSRFEngine(e.cfg.CSRFSecret, e.cfg.CSRFTokenTTL).Generate()
}

// sessionCookie issues a session token for an arbitrary identity.
func (e *testEnv) sessionCookie(t *testing.T, userID, email, role string) string {
	t.Helper()
	tok, err := auth.NewSessionManager(e.cfg.SessionSecret, e.cfg.SessionTTL).
		Issue(auth.Session{UserID: userID, Email: email, Role: role})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return tok
}

// waitForFailures polls until the lockout counter for email reaches want.
func (e *testEnv) waitForFailures(t *testing.T, email string, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, _ := e.store.Get(context.Background(), security.LockoutKey(email))
		if n >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("lockout counter never reached %d (at %d)", want, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
