package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidSession = errors.New("invalid session")

// Session is the authenticated caller attached to a request.
type Session struct {
	UserID string
	Email  string
	Role   string
}

type sessionClaims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies the signed session cookie minted after
// the external provider accepts a credential pair.
type SessionManager struct {
	secret []byte
	ttl    time.Duration

	now func() time.Time // test hook
}

func NewSessionManager(secret []byte, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL is the configured session lifetime, used to bound the cookie age.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

func (m *SessionManager) Issue(s Session) (string, error) {
	now := m.now()
	claims := sessionClaims{
		Email: s.Email,
		Role:  s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *SessionManager) Verify(token string) (Session, error) {
	var claims sessionClaims

	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSession
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil || !parsed.Valid {
		return Session{}, ErrInvalidSession
	}
	if claims.Subject == "" {
		return Session{}, ErrInvalidSession
	}

	return Session{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}
