// Package account manages users, passwords and session issuance
package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"

	"github.com/totegamma/postbox/core"
)

var tracer = otel.Tracer("account")

type service struct {
	repository Repository
	token      core.TokenService
	limiter    Limiter
	captcha    CaptchaVerifier
	config     core.Config
}

// NewService creates a new account service
func NewService(
	repository Repository,
	token core.TokenService,
	limiter Limiter,
	captcha CaptchaVerifier,
	config core.Config,
) core.AccountService {
	return &service{repository, token, limiter, captcha, config}
}

func (s *service) issue(user core.User) (string, error) {
	return s.token.Issue(core.Identity{ID: user.ID, Email: user.Email}, s.config.TokenTTL)
}

// Register creates an account and returns it with a fresh session token
func (s *service) Register(ctx context.Context, input core.RegisterInput) (core.User, string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.Register")
	defer span.End()

	if s.config.RegistrationDisabled {
		return core.User{}, "", core.NewErrorPermissionDenied()
	}

	email, err := core.NormalizeEmail(input.Email)
	if err != nil {
		return core.User{}, "", err
	}
	if err := core.ValidatePassword(input.Password); err != nil {
		return core.User{}, "", err
	}
	firstName, err := core.NormalizeName("first_name", input.FirstName)
	if err != nil {
		return core.User{}, "", err
	}
	lastName, err := core.NormalizeName("last_name", input.LastName)
	if err != nil {
		return core.User{}, "", err
	}

	if err := s.captcha.Verify(ctx, input.Captcha); err != nil {
		span.RecordError(err)
		return core.User{}, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		return core.User{}, "", err
	}

	user, err := s.repository.Create(ctx, core.User{
		ID:           xid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    firstName,
		LastName:     lastName,
		IsActive:     true,
	})
	if err != nil {
		span.RecordError(err)
		return core.User{}, "", err
	}

	token, err := s.issue(user)
	if err != nil {
		span.RecordError(err)
		return core.User{}, "", err
	}

	slog.InfoContext(
		ctx, "user registered",
		slog.String("user", user.ID),
		slog.String("module", "account"),
	)

	return user, token, nil
}

// Login checks the credentials and returns a fresh session token.
// unknown emails and wrong passwords are indistinguishable to the caller
func (s *service) Login(ctx context.Context, email, password string) (core.User, string, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.Login")
	defer span.End()

	normalized, err := core.NormalizeEmail(email)
	if err != nil {
		return core.User{}, "", core.NewErrorInvalidCredentials()
	}

	allowed, err := s.limiter.Allow(ctx, normalized)
	if err != nil {
		span.RecordError(err)
		return core.User{}, "", err
	}
	if !allowed {
		return core.User{}, "", core.NewErrorRateLimited()
	}

	user, err := s.repository.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, core.NewErrorNotFound()) {
			return core.User{}, "", core.NewErrorInvalidCredentials()
		}
		span.RecordError(err)
		return core.User{}, "", err
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	if err != nil {
		return core.User{}, "", core.NewErrorInvalidCredentials()
	}

	if !user.IsActive {
		return core.User{}, "", core.NewErrorAuthRejected(core.AuthRejectInactive)
	}

	if err := s.limiter.Reset(ctx, normalized); err != nil {
		span.RecordError(err)
	}

	now := time.Now()
	if err := s.repository.TouchLogin(ctx, user.ID, now); err != nil {
		span.RecordError(err)
	} else {
		user.LastLogin = &now
	}

	token, err := s.issue(user)
	if err != nil {
		span.RecordError(err)
		return core.User{}, "", err
	}

	return user, token, nil
}

// Get returns a user by ID
func (s *service) Get(ctx context.Context, id string) (core.User, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.Get")
	defer span.End()

	return s.repository.Get(ctx, id)
}

// FindByEmail returns the active user owning email
func (s *service) FindByEmail(ctx context.Context, email string) (core.User, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.FindByEmail")
	defer span.End()

	normalized, err := core.NormalizeEmail(email)
	if err != nil {
		return core.User{}, err
	}

	user, err := s.repository.GetByEmail(ctx, normalized)
	if err != nil {
		return core.User{}, err
	}
	if !user.IsActive {
		return core.User{}, core.NewErrorNotFound()
	}

	return user, nil
}

// IsActive reports whether the account may hold sessions
func (s *service) IsActive(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.IsActive")
	defer span.End()

	return s.repository.IsActive(ctx, id)
}

// UpdateProfile changes the names of a user. nil fields are kept
func (s *service) UpdateProfile(ctx context.Context, id string, update core.ProfileUpdate) (core.User, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.UpdateProfile")
	defer span.End()

	user, err := s.repository.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return core.User{}, err
	}

	if update.FirstName != nil {
		user.FirstName, err = core.NormalizeName("first_name", *update.FirstName)
		if err != nil {
			return core.User{}, err
		}
	}
	if update.LastName != nil {
		user.LastName, err = core.NormalizeName("last_name", *update.LastName)
		if err != nil {
			return core.User{}, err
		}
	}

	return s.repository.Update(ctx, user)
}

// ChangePassword replaces the password after checking the current one
func (s *service) ChangePassword(ctx context.Context, id, current, next string) error {
	ctx, span := tracer.Start(ctx, "Account.Service.ChangePassword")
	defer span.End()

	user, err := s.repository.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		return err
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current))
	if err != nil {
		return core.NewErrorInvalidCredentials()
	}

	if err := core.ValidatePassword(next); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		return err
	}
	user.PasswordHash = string(hash)

	_, err = s.repository.Update(ctx, user)
	if err != nil {
		span.RecordError(err)
		return err
	}

	return nil
}

// Count returns the number of registered users
func (s *service) Count(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "Account.Service.Count")
	defer span.End()

	return s.repository.Count(ctx)
}
