package types

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the access-token payload. Username is the caller identity the
// authorization layer receives; nothing else about the user travels in
// the token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}
