// Package auth holds the thin collaborators around the security core:
// the external credential provider and the session token manager.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailTaken          = errors.New("email already registered")
	ErrProviderUnavailable = errors.New("auth provider unavailable")
)

// Identity is what the external provider knows about a verified account.
type Identity struct {
	ProviderID string `json:"id"`
	Email      string `json:"email"`
}

// Provider verifies and registers credentials. Password handling lives
// entirely on the other side of this interface.
type Provider interface {
	VerifyCredentials(ctx context.Context, email, password string) (Identity, error)
	Register(ctx context.Context, email, password string) (Identity, error)
}

// HTTPProvider talks to the hosted auth provider. Outbound calls are
// throttled so a burst of sign-ins cannot trip the provider's own limits.
type HTTPProvider struct {
	log     *slog.Logger
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPProvider(log *slog.Logger, baseURL string) *HTTPProvider {
	return &HTTPProvider{
		log:     log,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
}

func (p *HTTPProvider) VerifyCredentials(ctx context.Context, email, password string) (Identity, error) {
	return p.post(ctx, "/v1/credentials/verify", email, password)
}

func (p *HTTPProvider) Register(ctx context.Context, email, password string) (Identity, error) {
	return p.post(ctx, "/v1/credentials/register", email, password)
}

func (p *HTTPProvider) post(ctx context.Context, path, email, password string) (Identity, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return Identity{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var id Identity
		if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
			return Identity{}, fmt.Errorf("%w: bad response body: %v", ErrProviderUnavailable, err)
		}
		return id, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return Identity{}, ErrInvalidCredentials
	case http.StatusConflict:
		return Identity{}, ErrEmailTaken
	default:
		p.log.Warn("auth_provider_unexpected_status", "status", resp.StatusCode, "path", path)
		return Identity{}, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
}
