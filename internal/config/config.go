package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// devCSRFSecret is only ever used outside production. It is deliberately
// recognizable so it can never be mistaken for a real secret in logs or dumps.
const devCSRFSecret = "dev-only-csrf-secret-do-not-use-in-prod!!"

const devSessionSecret = "dev-only-session-secret-do-not-use-prod!"

type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	DBDSN      string
	DBMaxConns int
	RedisDSN   string // empty means in-process counters only

	// raw secrets kept in-memory only; never log these
	CSRFSecret    []byte
	SessionSecret []byte

	CSRFTokenTTL time.Duration
	SessionTTL   time.Duration

	LockoutMaxAttempts int
	LockoutWindow      time.Duration

	RateStrictMax     int
	RateStrictWindow  time.Duration
	RateRelaxedMax    int
	RateRelaxedWindow time.Duration

	// Forwarded-for headers are honored only when exactly one proxy hop
	// is configured in front of this service.
	TrustedProxyHops int

	// RequestTimeout bounds every request end to end; past it the client
	// gets a 504 even when an internal stage is still stalled.
	RequestTimeout time.Duration

	AuthProviderURL string
	CORSOrigins     []string
}

func Load() (Config, error) {
	cfg := Config{
		Env:             getenvDefault("APP_ENV", "development"),
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
		DBDSN:           os.Getenv("DB_DSN"),
		RedisDSN:        os.Getenv("REDIS_DSN"),
		AuthProviderURL: os.Getenv("AUTH_PROVIDER_URL"),
	}

	if cfg.DBDSN == "" {
		return Config{}, errors.New("missing DB_DSN")
	}

	prod := cfg.Env == "production"

	csrfSecret := os.Getenv("CSRF_SECRET")
	if csrfSecret == "" {
		if prod {
			return Config{}, errors.New("CSRF_SECRET is required in production")
		}
		csrfSecret = devCSRFSecret
	}
	if len(csrfSecret) < 32 {
		return Config{}, errors.New("CSRF_SECRET must be at least 32 bytes")
	}
	cfg.CSRFSecret = []byte(csrfSecret)

	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		if prod {
			return Config{}, errors.New("SESSION_SECRET is required in production")
		}
		sessionSecret = devSessionSecret
	}
	if len(sessionSecret) < 32 {
		return Config{}, errors.New("SESSION_SECRET must be at least 32 bytes")
	}
	cfg.SessionSecret = []byte(sessionSecret)

	var err error
	if cfg.CSRFTokenTTL, err = getenvDuration("CSRF_TOKEN_TTL", time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = getenvDuration("SESSION_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.LockoutWindow, err = getenvDuration("LOCKOUT_WINDOW", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RateStrictWindow, err = getenvDuration("RATE_STRICT_WINDOW", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RateRelaxedWindow, err = getenvDuration("RATE_RELAXED_WINDOW", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RequestTimeout, err = getenvDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}

	if cfg.LockoutMaxAttempts, err = getenvInt("LOCKOUT_MAX_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if cfg.RateStrictMax, err = getenvInt("RATE_STRICT_MAX", 5); err != nil {
		return Config{}, err
	}
	if cfg.RateRelaxedMax, err = getenvInt("RATE_RELAXED_MAX", 30); err != nil {
		return Config{}, err
	}
	if cfg.TrustedProxyHops, err = getenvInt("TRUSTED_PROXY_HOPS", 0); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxConns, err = getenvInt("DB_MAX_CONNS", 25); err != nil {
		return Config{}, err
	}

	if cfg.LockoutMaxAttempts < 1 {
		return Config{}, errors.New("LOCKOUT_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.DBMaxConns < 1 {
		return Config{}, errors.New("DB_MAX_CONNS must be >= 1")
	}
	if cfg.RateStrictMax < 1 || cfg.RateRelaxedMax < 1 {
		return Config{}, errors.New("rate limit max values must be >= 1")
	}

	// parse CORS origins
	corsOrigins := getenvDefault("CORS_ORIGINS", "")
	if corsOrigins != "" {
		cfg.CORSOrigins = strings.Split(corsOrigins, ",")
		for i := range cfg.CORSOrigins {
			cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
		}
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000"} // default
	}

	return cfg, nil
}

// IsProduction reports whether the service runs with production hardening.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", k, err)
	}
	return n, nil
}

func getenvDuration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 60s or 15m: %w", k, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", k)
	}
	return d, nil
}
