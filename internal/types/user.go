package types

import (
	"time"
)

// PublicProfile is the counterparty view embedded in message envelopes.
// It never carries credential material.
type PublicProfile struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// User is the full profile returned by the credential store.
type User struct {
	Username     string     `json:"username"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Phone        string     `json:"phone"`
	JoinedAt     time.Time  `json:"joined_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	PasswordHash string     `json:"-"` // Exclude from JSON responses
}

// UserSummary is the listing row for GET /users.
type UserSummary struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}
