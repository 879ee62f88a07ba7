// Package auth is the identity gate shared by request handlers and channel upgrades
package auth

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/postbox/core"
)

var tracer = otel.Tracer("auth")

type service struct {
	token   core.TokenService
	account core.AccountService
	config  core.Config
}

// NewService creates a new auth service
func NewService(token core.TokenService, account core.AccountService, config core.Config) core.AuthService {
	return &service{token, account, config}
}

// Authorize resolves a raw token into an identity.
// both the bearer header path and the channel upgrade path end here
func (s *service) Authorize(ctx context.Context, rawToken string) (core.Identity, error) {
	ctx, span := tracer.Start(ctx, "Auth.Service.Authorize")
	defer span.End()

	if rawToken == "" {
		err := core.NewErrorAuthRejected(core.AuthRejectMissing)
		span.RecordError(err)
		return core.Identity{}, err
	}

	identity, err := s.token.Validate(rawToken)
	if err != nil {
		span.RecordError(err)
		return core.Identity{}, err
	}

	if !s.config.DisableActiveCheck {
		active, err := s.account.IsActive(ctx, identity.ID)
		if err != nil {
			// fail closed
			span.RecordError(err)
			return core.Identity{}, core.NewErrorAuthRejected(core.AuthRejectInactive)
		}
		if !active {
			err = core.NewErrorAuthRejected(core.AuthRejectInactive)
			span.RecordError(err)
			return core.Identity{}, err
		}
	}

	span.SetAttributes(attribute.String("RequesterId", identity.ID))
	return identity, nil
}
