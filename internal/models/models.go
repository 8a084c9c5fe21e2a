package models

import "time"

// User is an account row. Role is empty until an operator assigns one;
// role-gated actions stay denied for empty roles.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	ProviderID string    `json:"-"`
	Role       string    `json:"role,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastSignIn time.Time `json:"last_sign_in,omitempty"`
}

// Roles recognized by the authorization check.
const (
	RoleAdmin = "admin"
)

// SecurityEvent is one audit row in the dashboard's event feed.
type SecurityEvent struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Subject  string    `json:"subject,omitempty"`
	Route    string    `json:"route,omitempty"`
	ClientIP string    `json:"client_ip,omitempty"`
	At       time.Time `json:"at"`
}
