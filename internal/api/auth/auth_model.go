package auth

import (
	"time"

	"github.com/messagely/messagely-server/internal/types"
)

// RegisterRequest is the registration request body.
type RegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// LoginRequest is the login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse carries a freshly issued token pair.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RegisterResponse returns the created profile together with the tokens:
// registering logs the user in immediately.
type RegisterResponse struct {
	User         *types.User `json:"user"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
}

// RefreshTokenRecord is a persisted refresh token row.
type RefreshTokenRecord struct {
	Token     string
	Username  string
	ExpiresAt time.Time
	RevokedAt *time.Time
}
