//go:build integration

package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medilens/backend/internal/services"
	"github.com/medilens/backend/internal/testutil/containers"
)

func TestGormStore(t *testing.T) {
	db := containers.NewPostgres(t, &ScanRecord{})
	store := NewGormStore(db)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	first := &ScanRecord{OwnerID: alice, MedicineName: "First", ImageRef: "scans/1.png", Alternatives: []string{"A", "B"}}
	require.NoError(t, store.Create(ctx, first))
	time.Sleep(10 * time.Millisecond)
	second := &ScanRecord{OwnerID: alice, MedicineName: "Second", ImageRef: "scans/2.png"}
	require.NoError(t, store.Create(ctx, second))
	require.NoError(t, store.Create(ctx, &ScanRecord{OwnerID: bob, MedicineName: "Bob", ImageRef: "scans/3.png"}))

	list, err := store.ListByOwner(ctx, alice)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Second", list[0].MedicineName)
	assert.Equal(t, "First", list[1].MedicineName)
	assert.Equal(t, []string{"A", "B"}, []string(list[1].Alternatives))
	assert.Empty(t, list[0].Alternatives)

	found, err := store.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "scans/1.png", found.ImageRef)

	require.NoError(t, store.Delete(ctx, first.ID))
	_, err = store.FindByID(ctx, first.ID)
	require.ErrorIs(t, err, services.ErrRecordNotFound)
	require.ErrorIs(t, store.Delete(ctx, first.ID), services.ErrRecordNotFound)
}
