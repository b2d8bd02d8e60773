package cleanup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayplan/wayplan/pkg/config"
	"github.com/wayplan/wayplan/pkg/itinerary"
	"github.com/wayplan/wayplan/pkg/store"
)

func seedItinerary(t *testing.T, st store.Store, id string, versions int) {
	t.Helper()
	ctx := context.Background()

	doc := &itinerary.Itinerary{ID: id, OwnerID: "u1", Version: versions}
	require.NoError(t, st.Save(ctx, doc))

	for v := 1; v <= versions; v++ {
		require.NoError(t, st.AppendRevision(ctx, &itinerary.Revision{
			ItineraryID: id,
			Version:     v,
			Timestamp:   time.Now().UnixMilli(),
			Description: fmt.Sprintf("change %d", v),
			Author:      itinerary.ActorUser,
			Snapshot:    &itinerary.Itinerary{ID: id, Version: v},
		}))
	}
}

func TestService_PrunesExcessRevisions(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	seedItinerary(t, st, "trip-1", 10)

	cfg := &config.RetentionConfig{
		MaxRevisions:  3,
		SweepInterval: 1 * time.Hour,
	}
	svc := NewService(cfg, st)
	svc.runAll(ctx)

	revs, err := st.ListRevisions(ctx, "trip-1")
	require.NoError(t, err)
	require.Len(t, revs, 3)
	// Oldest go first; the newest versions survive.
	assert.Equal(t, 8, revs[0].Version)
	assert.Equal(t, 10, revs[2].Version)
}

func TestService_SweepsEveryItinerary(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	seedItinerary(t, st, "trip-1", 6)
	seedItinerary(t, st, "trip-2", 4)

	cfg := &config.RetentionConfig{
		MaxRevisions:  2,
		SweepInterval: 1 * time.Hour,
	}
	svc := NewService(cfg, st)
	svc.runAll(ctx)

	for _, id := range []string{"trip-1", "trip-2"} {
		revs, err := st.ListRevisions(ctx, id)
		require.NoError(t, err)
		assert.Len(t, revs, 2, "itinerary %s", id)
	}
}

func TestService_PreservesHistoryUnderCap(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	seedItinerary(t, st, "trip-1", 3)

	cfg := &config.RetentionConfig{
		MaxRevisions:  5,
		SweepInterval: 1 * time.Hour,
	}
	svc := NewService(cfg, st)
	svc.runAll(ctx)

	revs, err := st.ListRevisions(ctx, "trip-1")
	require.NoError(t, err)
	assert.Len(t, revs, 3)
}

func TestService_Enabled(t *testing.T) {
	st := store.NewMemory()

	svc := NewService(&config.RetentionConfig{MaxRevisions: 3, SweepInterval: time.Hour}, st)
	assert.True(t, svc.Enabled())

	svc = NewService(&config.RetentionConfig{MaxRevisions: 3}, st)
	assert.False(t, svc.Enabled(), "no interval means no sweep")

	svc = NewService(&config.RetentionConfig{SweepInterval: time.Hour}, st)
	assert.False(t, svc.Enabled(), "no cap means nothing to enforce")
}

func TestService_StartStop(t *testing.T) {
	st := store.NewMemory()
	seedItinerary(t, st, "trip-1", 8)

	cfg := &config.RetentionConfig{
		MaxRevisions:  3,
		SweepInterval: 1 * time.Hour,
	}
	svc := NewService(cfg, st)
	svc.Start(context.Background())
	svc.Stop()

	// The loop runs once before waiting on the ticker, so one Start/Stop
	// cycle already enforced the cap.
	revs, err := st.ListRevisions(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.Len(t, revs, 3)
}
