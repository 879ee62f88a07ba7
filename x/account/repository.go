//go:generate go run go.uber.org/mock/mockgen -source=repository.go -destination=mock/repository.go
package account

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"gorm.io/gorm"

	"github.com/totegamma/postbox/core"
)

// Repository is the interface for account repository
type Repository interface {
	Create(ctx context.Context, user core.User) (core.User, error)
	Get(ctx context.Context, id string) (core.User, error)
	GetByEmail(ctx context.Context, email string) (core.User, error)
	Update(ctx context.Context, user core.User) (core.User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
	IsActive(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

type repository struct {
	db        *gorm.DB
	mc        *memcache.Client
	activeTTL time.Duration
}

// NewRepository creates a new account repository
func NewRepository(db *gorm.DB, mc *memcache.Client, config core.Config) Repository {

	var count int64
	err := db.Model(&core.User{}).Count(&count).Error
	if err != nil {
		slog.Error(
			"failed to count users",
			slog.String("error", err.Error()),
		)
	}

	mc.Set(&memcache.Item{Key: "user_count", Value: []byte(strconv.FormatInt(count, 10))})

	return &repository{db, mc, config.ActiveCacheTTL}
}

func activeCacheKey(id string) string {
	return "user_active:" + id
}

// Count returns the total number of users
func (r *repository) Count(ctx context.Context) (int64, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.Count")
	defer span.End()

	item, err := r.mc.Get("user_count")
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	count, err := strconv.ParseInt(string(item.Value), 10, 64)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return count, nil
}

// Create inserts a new user. emails are unique
func (r *repository) Create(ctx context.Context, user core.User) (core.User, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.Create")
	defer span.End()

	err := r.db.WithContext(ctx).Create(&user).Error
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "duplicate key") {
			return core.User{}, core.NewErrorAlreadyExists()
		}
		return core.User{}, err
	}

	r.mc.Increment("user_count", 1)

	return user, nil
}

// Get returns a user by ID
func (r *repository) Get(ctx context.Context, id string) (core.User, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.Get")
	defer span.End()

	var user core.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.User{}, core.NewErrorNotFound()
		}
		return core.User{}, err
	}

	return user, nil
}

// GetByEmail returns a user by email. the match is case insensitive
func (r *repository) GetByEmail(ctx context.Context, email string) (core.User, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.GetByEmail")
	defer span.End()

	var user core.User
	err := r.db.WithContext(ctx).First(&user, "email = ?", strings.ToLower(email)).Error
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.User{}, core.NewErrorNotFound()
		}
		return core.User{}, err
	}

	return user, nil
}

// Update saves the mutable profile fields of user
func (r *repository) Update(ctx context.Context, user core.User) (core.User, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.Update")
	defer span.End()

	err := r.db.WithContext(ctx).Model(&user).Select("FirstName", "LastName", "PasswordHash", "IsActive").Updates(&user).Error
	if err != nil {
		span.RecordError(err)
		return core.User{}, err
	}

	r.mc.Delete(activeCacheKey(user.ID))

	return r.Get(ctx, user.ID)
}

// TouchLogin records the time of the last successful login
func (r *repository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "Account.Repository.TouchLogin")
	defer span.End()

	err := r.db.WithContext(ctx).Model(&core.User{}).Where("id = ?", id).Update("last_login", at).Error
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// IsActive reports whether the account may hold sessions.
// answers are cached in memcache for a short time
func (r *repository) IsActive(ctx context.Context, id string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Account.Repository.IsActive")
	defer span.End()

	key := activeCacheKey(id)
	item, err := r.mc.Get(key)
	if err == nil {
		return string(item.Value) == "1", nil
	}
	if !errors.Is(err, memcache.ErrCacheMiss) {
		slog.WarnContext(
			ctx, "active cache unavailable",
			slog.String("error", err.Error()),
			slog.String("module", "account"),
		)
	}

	var user core.User
	err = r.db.WithContext(ctx).Select("id", "is_active").First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		span.RecordError(err)
		return false, err
	}

	value := "0"
	if user.IsActive {
		value = "1"
	}
	r.mc.Set(&memcache.Item{Key: key, Value: []byte(value), Expiration: int32(r.activeTTL.Seconds())})

	return user.IsActive, nil
}
