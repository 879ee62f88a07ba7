package jwt

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// Claims is jwt payload type
type Claims struct {
	Email string `json:"email,omitempty"`
	gojwt.RegisteredClaims
}
