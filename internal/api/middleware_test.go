package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func getPath(srv *Server, path string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req, _ := http.NewRequest("GET", path, nil)
	req.RemoteAddr = "10.0.0.9:51234"
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestCSRF_StateChangingWithoutHeaderRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())

	w := postJSON(env.srv, "/api/v1/auth/signin", signinBody)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := errorCode(t, w); code != codeCSRFMissing {
		t.Errorf("expected %s, got %s", codeCSRFMissing, code)
	}
}

func TestCSRF_CookieHeaderMismatchRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())
	tok := env.signedCSRF()

	w := postJSON(env.srv, "/api/v1/auth/signin", signinBody,
		withCSRF(tok),
		withCookie(csrfCookieName, env.signedCSRF()+"x"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := errorCode(t, w); code != codeCSRFMismatch {
		t.Errorf("expected %s, got %s", codeCSRFMismatch, code)
	}
}

func TestCSRF_DoubleSubmitMatchAccepted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.provider.passwords["user@example.com"] = "hunter22"
	tok := env.signedCSRF()

	w := postJSON(env.srv, "/api/v1/auth/signin", signinBody,
		withCSRF(tok), withCookie(csrfCookieName, tok))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCSRF_HeadlessSignedHeaderAccepted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.provider.passwords["user@example.com"] = "hunter22"

	// no cookie at all: the signature-only fallback path must accept it
	w := postJSON(env.srv, "/api/v1/auth/signin", signinBody, withCSRF(env.signedCSRF()))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 via headless path, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCSRF_HeadlessForgedHeaderRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())

	w := postJSON(env.srv, "/api/v1/auth/signin", signinBody,
		withCSRF("1700000000000.deadbeefdeadbeef"))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if code := errorCode(t, w); code != codeCSRFInvalid {
		t.Errorf("expected %s, got %s", codeCSRFInvalid, code)
	}
}

func TestCSRF_SafeMethodsExempt(t *testing.T) {
	env := newTestEnv(t, testConfig())

	w := getPath(env.srv, "/api/v1/csrf-token")
	if w.Code != http.StatusOK {
		t.Fatalf("GET must not require a csrf token, got %d", w.Code)
	}

	// and the response must deliver a readable cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			if c.HttpOnly {
				t.Error("csrf cookie must be readable by the frontend")
			}
			return
		}
	}
	t.Error("expected a csrf cookie on the token endpoint")
}

func TestRateLimit_HeadersAndDenial(t *testing.T) {
	cfg := testConfig()
	cfg.RateStrictMax = 3
	env := newTestEnv(t, cfg)

	var last *httptest.ResponseRecorder
	for i := 1; i <= 3; i++ {
		last = postJSON(env.srv, "/api/v1/auth/signin", "bad body", withCSRF(env.signedCSRF()))
		if last.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d should not be rate limited", i)
		}
		if got := last.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Errorf("expected limit header 3, got %q", got)
		}
		wantRemaining := strconv.Itoa(3 - i)
		if got := last.Header().Get("X-RateLimit-Remaining"); got != wantRemaining {
			t.Errorf("request %d: expected remaining %s, got %q", i, wantRemaining, got)
		}
	}

	w := postJSON(env.srv, "/api/v1/auth/signin", "bad body", withCSRF(env.signedCSRF()))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on request 4, got %d", w.Code)
	}
	if code := errorCode(t, w); code != codeRateLimited {
		t.Errorf("expected %s, got %s", codeRateLimited, code)
	}

	retry := w.Header().Get("Retry-After")
	if retry == "" {
		t.Fatal("expected Retry-After header on denial")
	}
	if secs, err := strconv.Atoi(retry); err != nil || secs < 1 || secs > 60 {
		t.Errorf("Retry-After must be in [1, 60] seconds, got %q", retry)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected remaining 0 on denial, got %q", got)
	}
}

func TestRateLimit_PerEmailCounterUsesUnlockableKey(t *testing.T) {
	cfg := testConfig()
	env := newTestEnv(t, cfg)
	env.provider.passwords["user@example.com"] = "hunter22"

	postJSON(env.srv, "/api/v1/auth/signin", signinBody, withCSRF(env.signedCSRF()))

	// the handler-level check must count under rl:signin:<email>
	n, _ := env.store.Get(t.Context(), "rl:signin:user@example.com")
	if n != 1 {
		t.Errorf("expected per-email counter at 1, got %d", n)
	}
}

func TestAuth_MeRequiresSession(t *testing.T) {
	env := newTestEnv(t, testConfig())

	w := getPath(env.srv, "/api/v1/me")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", w.Code)
	}

	w = getPath(env.srv, "/api/v1/me", withCookie(sessionCookieName, "garbage"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad session, got %d", w.Code)
	}
}

func TestAuth_MeReturnsUser(t *testing.T) {
	env := newTestEnv(t, testConfig())
	u, _ := env.users.Create(t.Context(), "user@example.com", "prov-1")

	w := getPath(env.srv, "/api/v1/me",
		withCookie(sessionCookieName, env.sessionCookie(t, u.ID, u.Email, "")))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "user@example.com") {
		t.Error("expected the user's email in the response")
	}
}

func TestAuthz_EventFeedRequiresAdminRole(t *testing.T) {
	env := newTestEnv(t, testConfig())

	tests := []struct {
		name string
		role string
		want int
	}{
		{"no role fails closed", "", http.StatusForbidden},
		{"member role denied", "member", http.StatusForbidden},
		{"admin role allowed", "admin", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := getPath(env.srv, "/api/v1/dashboard/events",
				withCookie(sessionCookieName, env.sessionCookie(t, "u1", "user@example.com", tt.role)))
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestAuthz_AdminUnlockDeniedForSelfService(t *testing.T) {
	env := newTestEnv(t, testConfig())

	// the locked-out user themselves, authenticated but roleless
	w := postJSON(env.srv, "/api/v1/admin/unlock/user@example.com", "",
		withCSRF(env.signedCSRF()),
		withCookie(sessionCookieName, env.sessionCookie(t, "u1", "user@example.com", "")))
	if w.Code != http.StatusForbidden {
		t.Fatalf("self-service unlock must be forbidden, got %d", w.Code)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	env := newTestEnv(t, testConfig())

	w := getPath(env.srv, "/api/v1/health")
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("expected nosniff, got %q", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("expected DENY, got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestCORS_PreflightAndOrigin(t *testing.T) {
	env := newTestEnv(t, testConfig())

	req, _ := http.NewRequest("OPTIONS", "/api/v1/auth/signin", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("expected origin echoed, got %q", got)
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Headers"), csrfHeaderName) {
		t.Error("preflight must allow the csrf header")
	}
}

func TestCORS_UnlistedOriginGetsNoHeaders(t *testing.T) {
	env := newTestEnv(t, testConfig())

	w := getPath(env.srv, "/api/v1/health", func(r *http.Request) {
		r.Header.Set("Origin", "https://evil.example")
	})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin must get no allow-origin header, got %q", got)
	}
}

func TestDashboard_OverviewShape(t *testing.T) {
	env := newTestEnv(t, testConfig())
	_, _ = env.users.Create(t.Context(), "a@example.com", "p1")

	w := getPath(env.srv, "/api/v1/dashboard/overview",
		withCookie(sessionCookieName, env.sessionCookie(t, "u1", "a@example.com", "")))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	for _, key := range []string{"users", "last_24h", "shared_counters"} {
		if !strings.Contains(w.Body.String(), key) {
			t.Errorf("overview missing %q", key)
		}
	}
}

func TestTimeout_StalledStageIsCutOffWith504(t *testing.T) {
	cfg := testConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	env := newTestEnv(t, cfg)
	env.provider.passwords["user@example.com"] = "hunter22"
	env.provider.delay = 2 * time.Second

	start := time.Now()
	w := postJSON(env.srv, "/api/v1/auth/signin", signinBody, withCSRF(env.signedCSRF()))
	elapsed := time.Since(start)

	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", w.Code, w.Body.String())
	}
	if got := errorCode(t, w); got != "request_timeout" {
		t.Errorf("expected request_timeout code, got %q", got)
	}
	// the client must be answered at the deadline, not when the stalled
	// stage finally returns
	if elapsed > time.Second {
		t.Errorf("client waited out the stalled stage: %v", elapsed)
	}
}

func TestTimeout_HealthyRequestUnaffected(t *testing.T) {
	env := newTestEnv(t, testConfig())

	req, _ := http.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()

	start := time.Now()
	env.srv.Handler().ServeHTTP(w, req)
	if time.Since(start) > time.Second {
		t.Error("healthy requests must not wait on the timeout guard")
	}
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
