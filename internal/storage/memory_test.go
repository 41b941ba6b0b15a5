package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
)

var memNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func memRide(id, userID string) *models.Ride {
	return &models.Ride{
		ID:            id,
		Type:          "offering",
		StartLocation: "Colombo",
		EndLocation:   "Galle",
		UserID:        userID,
		ExpiresAt:     memNow.Add(time.Hour),
		CreatedAt:     memNow,
		UpdatedAt:     memNow,
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	r := memRide("r1", "u1")
	require.NoError(t, store.CreateRide(ctx, r))

	got, err := store.GetRide(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Galle", got.EndLocation)

	// stored copy is isolated from the caller's struct
	r.EndLocation = "Matara"
	got, err = store.GetRide(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Galle", got.EndLocation)

	got.EndLocation = "Matara"
	require.NoError(t, store.UpdateRide(ctx, got))
	got, err = store.GetRide(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Matara", got.EndLocation)

	require.NoError(t, store.DeleteRide(ctx, "r1"))
	_, err = store.GetRide(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.UpdateRide(ctx, memRide("ghost", "u1")), ErrNotFound)
	assert.ErrorIs(t, store.DeleteRide(ctx, "ghost"), ErrNotFound)
}

func TestMemoryStoreListActiveOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	live := memRide("live", "u1")
	expired := memRide("expired", "u1")
	expired.ExpiresAt = memNow.Add(-time.Minute)
	archived := memRide("archived", "u1")
	archived.IsArchived = true
	require.NoError(t, store.CreateRide(ctx, live))
	require.NoError(t, store.CreateRide(ctx, expired))
	require.NoError(t, store.CreateRide(ctx, archived))

	got, err := store.ListRides(ctx, ListQuery{Now: memNow})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "live", got[0].ID)

	got, err = store.ListRides(ctx, ListQuery{All: true, Now: memNow})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestMemoryStoreListAutoExpiryOptOut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutProfile("u1", &models.ProfileSummary{FullName: "Kamala", DisableAutoExpiry: true})

	stale := memRide("stale", "u1")
	stale.ExpiresAt = memNow.Add(-time.Hour)
	require.NoError(t, store.CreateRide(ctx, stale))

	got, err := store.ListRides(ctx, ListQuery{Now: memNow})
	require.NoError(t, err)
	require.Len(t, got, 1, "opted-out owner keeps the ride listed past expiry")
	require.NotNil(t, got[0].Profiles)
	assert.Equal(t, "Kamala", got[0].Profiles.FullName)
}

func TestMemoryStoreListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	offer := memRide("offer", "u1")
	seek := memRide("seek", "u2")
	seek.Type = "seeking"
	seek.CommunityIDs = []string{"campus"}
	seek.Description = "morning commute"
	require.NoError(t, store.CreateRide(ctx, offer))
	require.NoError(t, store.CreateRide(ctx, seek))

	got, err := store.ListRides(ctx, ListQuery{Type: "seeking", Now: memNow})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "seek", got[0].ID)

	got, err = store.ListRides(ctx, ListQuery{Community: "campus", Now: memNow})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = store.ListRides(ctx, ListQuery{Search: "commute", Now: memNow})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = store.ListRides(ctx, ListQuery{OwnerID: "u2", All: true, Now: memNow})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "seek", got[0].ID)
}

func TestMemoryStoreListSortNewestDefault(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	old := memRide("old", "u1")
	old.CreatedAt = memNow.Add(-2 * time.Hour)
	old.UpdatedAt = old.CreatedAt
	fresh := memRide("fresh", "u1")
	require.NoError(t, store.CreateRide(ctx, old))
	require.NoError(t, store.CreateRide(ctx, fresh))

	got, err := store.ListRides(ctx, ListQuery{Now: memNow})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "fresh", got[0].ID)

	got, err = store.ListRides(ctx, ListQuery{SortBy: "oldest", Now: memNow})
	require.NoError(t, err)
	assert.Equal(t, "old", got[0].ID)
}

func TestMemoryStoreSubscribeFanOut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sub1, err := store.Subscribe(ctx)
	require.NoError(t, err)
	sub2, err := store.Subscribe(ctx)
	require.NoError(t, err)
	defer sub2.Close()

	require.NoError(t, store.CreateRide(ctx, memRide("r1", "u1")))

	for _, sub := range []Subscription{sub1, sub2} {
		select {
		case c := <-sub.Events():
			assert.Equal(t, OpInsert, c.Op)
			assert.Equal(t, "r1", c.RideID)
			require.NotNil(t, c.Ride, "memory feed embeds the post-change document")
		case <-time.After(time.Second):
			t.Fatal("subscriber missed the insert")
		}
	}

	// a closed subscription stops receiving; the other still does
	require.NoError(t, sub1.Close())
	require.NoError(t, store.DeleteRide(ctx, "r1"))

	select {
	case c := <-sub2.Events():
		assert.Equal(t, OpDelete, c.Op)
		assert.Nil(t, c.Ride)
	case <-time.After(time.Second):
		t.Fatal("surviving subscriber missed the delete")
	}

	_, open := <-sub1.Events()
	assert.False(t, open, "closed subscription channel must be drained and closed")
}

func TestMemoryStoreCloseIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	sub, err := store.Subscribe(context.Background())
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestMemoryStoreExpiredAndArchive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutProfile("opt-out", &models.ProfileSummary{DisableAutoExpiry: true})

	gone := memRide("gone", "u1")
	gone.ExpiresAt = memNow.Add(-time.Minute)
	kept := memRide("kept", "opt-out")
	kept.ExpiresAt = memNow.Add(-time.Minute)
	live := memRide("live", "u1")
	require.NoError(t, store.CreateRide(ctx, gone))
	require.NoError(t, store.CreateRide(ctx, kept))
	require.NoError(t, store.CreateRide(ctx, live))

	expired, err := store.ExpiredRides(ctx, memNow)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "gone", expired[0].ID)

	n, err := store.ArchiveExpired(ctx, memNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetRide(ctx, "gone")
	require.NoError(t, err)
	assert.True(t, got.IsArchived)

	// archived rides never show up as expired again
	expired, err = store.ExpiredRides(ctx, memNow)
	require.NoError(t, err)
	assert.Empty(t, expired)
}
