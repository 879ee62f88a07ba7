package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/totegamma/postbox/core"
	"github.com/totegamma/postbox/internal/testutil"
)

func TestRepository(t *testing.T) {
	ctx := context.Background()

	db, cleanupDB := testutil.CreateDB(t)
	defer cleanupDB()

	mc, cleanupMC := testutil.CreateMC(t)
	defer cleanupMC()

	rdb, cleanupRDB := testutil.CreateRDB(t)
	defer cleanupRDB()

	repo := NewRepository(db, mc, core.Config{ActiveCacheTTL: time.Minute})

	created, err := repo.Create(ctx, core.User{
		ID:           User1ID,
		Email:        User1Email,
		PasswordHash: "hash",
		FirstName:    "Alice",
		LastName:     "Liddell",
		IsActive:     true,
	})
	if assert.NoError(t, err) {
		assert.False(t, created.CDate.IsZero())
	}

	_, err = repo.Create(ctx, core.User{ID: "cmbn2l8kq1vk3h4pbb20", Email: User1Email, IsActive: true})
	assert.ErrorIs(t, err, core.NewErrorAlreadyExists())

	count, err := repo.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := repo.GetByEmail(ctx, "ALICE@example.com")
	if assert.NoError(t, err) {
		assert.Equal(t, User1ID, got.ID)
	}

	_, err = repo.Get(ctx, "cmbn2l8kq1vk3h4pbb99")
	assert.ErrorIs(t, err, core.NewErrorNotFound())

	active, err := repo.IsActive(ctx, User1ID)
	assert.NoError(t, err)
	assert.True(t, active)

	got.IsActive = false
	_, err = repo.Update(ctx, got)
	assert.NoError(t, err)

	// Update invalidates the cached answer
	active, err = repo.IsActive(ctx, User1ID)
	assert.NoError(t, err)
	assert.False(t, active)

	active, err = repo.IsActive(ctx, "cmbn2l8kq1vk3h4pbb99")
	assert.NoError(t, err)
	assert.False(t, active)

	now := time.Now()
	assert.NoError(t, repo.TouchLogin(ctx, User1ID, now))
	got, err = repo.Get(ctx, User1ID)
	if assert.NoError(t, err) && assert.NotNil(t, got.LastLogin) {
		assert.WithinDuration(t, now, *got.LastLogin, time.Second)
	}

	limiter := NewLimiter(rdb, core.Config{LoginAttempts: 2, LoginWindow: time.Minute})
	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, User1Email)
		assert.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := limiter.Allow(ctx, User1Email)
	assert.NoError(t, err)
	assert.False(t, allowed)

	ttl, err := rdb.TTL(ctx, limiterKey(User1Email)).Result()
	assert.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	assert.NoError(t, limiter.Reset(ctx, User1Email))
	allowed, err = limiter.Allow(ctx, User1Email)
	assert.NoError(t, err)
	assert.True(t, allowed)
}
