//go:build integration

package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medilens/backend/internal/models"
	"github.com/medilens/backend/internal/testutil/containers"
)

func TestGormUserStore(t *testing.T) {
	db := containers.NewPostgres(t, &models.User{})
	store := NewGormUserStore(db)
	ctx := context.Background()

	hash := "$2a$10$hash"
	user := &models.User{Username: "alice", Email: " Alice@Example.com ", PasswordHash: &hash}
	require.NoError(t, store.Create(ctx, user))
	assert.NotEqual(t, uuid.Nil, user.ID)

	found, err := store.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, "alice@example.com", found.Email)

	err = store.Create(ctx, &models.User{Username: "dup", Email: "alice@example.com"})
	require.ErrorIs(t, err, ErrDuplicateKey)

	updated, err := store.UpdateUsername(ctx, user.ID, "Alice L.")
	require.NoError(t, err)
	assert.Equal(t, "Alice L.", updated.Username)

	_, err = store.UpdateUsername(ctx, uuid.New(), "ghost")
	require.ErrorIs(t, err, ErrRecordNotFound)

	picture := "https://example.com/a.png"
	require.NoError(t, store.LinkFederated(ctx, user.ID, "google-sub", &picture))
	other := "https://example.com/b.png"
	require.NoError(t, store.LinkFederated(ctx, user.ID, "google-sub", &other))

	linked, err := store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.FederatedID)
	assert.Equal(t, "google-sub", *linked.FederatedID)
	require.NotNil(t, linked.ProfileImageRef)
	assert.Equal(t, picture, *linked.ProfileImageRef, "existing avatar is kept")

	_, err = store.FindByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGormUserStoreConcurrentRegistration(t *testing.T) {
	db := containers.NewPostgres(t, &models.User{})
	store := NewGormUserStore(db)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Create(ctx, &models.User{Username: "racer", Email: "race@example.com"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateKey)
	}
	assert.Equal(t, 1, succeeded)
}
