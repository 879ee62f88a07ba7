// Package jwt issues and validates HS256 session tokens
package jwt

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/totegamma/postbox/core"
)

type service struct {
	secret []byte
	now    func() time.Time
}

// NewService creates a new token codec
func NewService(config core.Config) core.TokenService {
	return &service{secret: config.JWTSecret, now: time.Now}
}

// NewServiceWithClock creates a token codec with a custom clock
func NewServiceWithClock(secret []byte, now func() time.Time) core.TokenService {
	return &service{secret: secret, now: now}
}

// Issue creates a signed token for identity valid for ttl
func (s *service) Issue(identity core.Identity, ttl time.Duration) (string, error) {
	if identity.ID == "" {
		return "", errors.New("identity id is empty")
	}

	now := s.now()
	claims := Claims{
		Email: identity.Email,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
			ID:        xid.New().String(),
		},
	}

	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate checks signature and expiration and returns the subject
// the signature over everything before the last dot is checked before anything is decoded
func (s *service) Validate(token string) (core.Identity, error) {

	last := strings.LastIndex(token, ".")
	if last < 0 {
		return core.Identity{}, core.NewErrorAuthRejected(core.AuthRejectMalformed)
	}

	signature, err := base64.RawURLEncoding.Strict().DecodeString(token[last+1:])
	if err != nil {
		return core.Identity{}, core.NewErrorAuthRejected(core.AuthRejectSignatureInvalid)
	}

	err = gojwt.SigningMethodHS256.Verify(token[:last], signature, s.secret)
	if err != nil {
		return core.Identity{}, core.NewErrorAuthRejected(core.AuthRejectSignatureInvalid)
	}

	split := strings.Split(token[:last], ".")
	if len(split) != 2 || split[0] == "" || split[1] == "" {
		return core.Identity{}, core.NewErrorAuthRejected(core.AuthRejectMalformed)
	}

	var claims Claims
	_, err = gojwt.ParseWithClaims(
		token,
		&claims,
		func(t *gojwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(s.now),
		gojwt.WithExpirationRequired(),
	)
	if err != nil {
		return core.Identity{}, core.NewErrorAuthRejected(classify(err))
	}

	if claims.Subject == "" {
		return core.Identity{}, core.NewErrorAuthRejected(core.AuthRejectMalformed)
	}

	return core.Identity{
		ID:    claims.Subject,
		Email: claims.Email,
	}, nil
}

func classify(err error) core.AuthRejectReason {
	switch {
	case errors.Is(err, gojwt.ErrTokenExpired):
		return core.AuthRejectExpired
	case errors.Is(err, gojwt.ErrTokenSignatureInvalid), errors.Is(err, gojwt.ErrTokenUnverifiable):
		return core.AuthRejectSignatureInvalid
	default:
		return core.AuthRejectMalformed
	}
}
