package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

// backends lists every store implementation the contract tests run against.
// Postgres has its own gated test file.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	boltStore, err := NewBolt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = boltStore.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"bolt":   boltStore,
	}
}

func storeFixture(id string) *itinerary.Itinerary {
	return &itinerary.Itinerary{
		ID:        id,
		Version:   1,
		OwnerID:   "u-1",
		Status:    itinerary.StatusPlanning,
		UpdatedAt: time.Now().UnixMilli(),
		Days: []itinerary.Day{
			{
				DayNumber: 1,
				Nodes: []itinerary.Node{
					{ID: "n1", Type: itinerary.NodeAttraction, Title: "Alcazar", Status: itinerary.NodePlanned},
				},
			},
		},
	}
}

func revisionFixture(id string, version int) *itinerary.Revision {
	it := storeFixture(id)
	it.Version = version
	return &itinerary.Revision{
		ItineraryID: id,
		Version:     version,
		Timestamp:   time.Now().UnixMilli(),
		Description: "test revision",
		Author:      itinerary.ActorSystem,
		Diff:        itinerary.NewDiff(),
		Snapshot:    it,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			it := storeFixture("it-rt")
			require.NoError(t, s.Save(ctx, it))

			got, err := s.Get(ctx, "it-rt")
			require.NoError(t, err)
			assert.Equal(t, it.ID, got.ID)
			assert.Equal(t, it.Version, got.Version)
			require.Len(t, got.Days, 1)
			assert.Equal(t, "Alcazar", got.Days[0].Nodes[0].Title)

			// Returned documents are detached.
			got.Days[0].Nodes[0].Title = "changed"
			again, err := s.Get(ctx, "it-rt")
			require.NoError(t, err)
			assert.Equal(t, "Alcazar", again.Days[0].Nodes[0].Title)
		})
	}
}

func TestStoreRevisions(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			it := storeFixture("it-rev")
			require.NoError(t, s.SaveWithRevision(ctx, it, revisionFixture("it-rev", 1)))

			it.Version = 2
			require.NoError(t, s.SaveWithRevision(ctx, it, revisionFixture("it-rev", 2)))
			require.NoError(t, s.AppendRevision(ctx, revisionFixture("it-rev", 3)))

			revs, err := s.ListRevisions(ctx, "it-rev")
			require.NoError(t, err)
			require.Len(t, revs, 3)
			for i, rev := range revs {
				assert.Equal(t, i+1, rev.Version, "revisions must come back in version order")
				require.NotNil(t, rev.Snapshot)
			}

			rev, err := s.GetRevision(ctx, "it-rev", 2)
			require.NoError(t, err)
			assert.Equal(t, 2, rev.Version)
			assert.Equal(t, itinerary.ActorSystem, rev.Author)

			_, err = s.GetRevision(ctx, "it-rev", 99)
			assert.ErrorIs(t, err, ErrRevisionNotFound)
		})
	}
}

func TestStoreListFiltersByOwner(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := storeFixture("it-a")
			b := storeFixture("it-b")
			b.OwnerID = "u-2"
			require.NoError(t, s.Save(ctx, a))
			require.NoError(t, s.Save(ctx, b))

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 2)

			mine, err := s.List(ctx, "u-2")
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, "it-b", mine[0].ID)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			it := storeFixture("it-del")
			require.NoError(t, s.SaveWithRevision(ctx, it, revisionFixture("it-del", 1)))

			require.NoError(t, s.Delete(ctx, "it-del"))

			_, err := s.Get(ctx, "it-del")
			assert.ErrorIs(t, err, ErrNotFound)
			revs, err := s.ListRevisions(ctx, "it-del")
			require.NoError(t, err)
			assert.Empty(t, revs)

			assert.ErrorIs(t, s.Delete(ctx, "it-del"), ErrNotFound)
		})
	}
}

func TestStorePruneRevisions(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			it := storeFixture("it-prune")
			for v := 1; v <= 5; v++ {
				it.Version = v
				require.NoError(t, s.SaveWithRevision(ctx, it, revisionFixture("it-prune", v)))
			}

			pruned, err := s.PruneRevisions(ctx, "it-prune", 2)
			require.NoError(t, err)
			assert.Equal(t, 3, pruned)

			revs, err := s.ListRevisions(ctx, "it-prune")
			require.NoError(t, err)
			require.Len(t, revs, 2)
			assert.Equal(t, 4, revs[0].Version)
			assert.Equal(t, 5, revs[1].Version)

			pruned, err = s.PruneRevisions(ctx, "it-prune", 0)
			require.NoError(t, err)
			assert.Zero(t, pruned, "keep<=0 disables pruning")
		})
	}
}

func bookingFixture(ref, itineraryID string, createdAt int64) *BookingRecord {
	return &BookingRecord{
		Ref:         ref,
		ItineraryID: itineraryID,
		NodeID:      "n1",
		NodeTitle:   "Alcazar",
		Provider:    "mock",
		Status:      "confirmed",
		CreatedAt:   createdAt,
	}
}

func TestStoreBookings(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			bs, ok := s.(BookingStore)
			require.True(t, ok, "every backend persists bookings")

			_, err := bs.GetBooking(ctx, "BKMISSING")
			assert.ErrorIs(t, err, ErrBookingNotFound)

			require.NoError(t, bs.SaveBooking(ctx, bookingFixture("BK2", "it-bk", 200)))
			require.NoError(t, bs.SaveBooking(ctx, bookingFixture("BK1", "it-bk", 100)))
			require.NoError(t, bs.SaveBooking(ctx, bookingFixture("BK3", "it-other", 50)))

			got, err := bs.GetBooking(ctx, "BK1")
			require.NoError(t, err)
			assert.Equal(t, "it-bk", got.ItineraryID)
			assert.Equal(t, "n1", got.NodeID)
			assert.Equal(t, "mock", got.Provider)
			assert.Equal(t, "confirmed", got.Status)

			// Returned records are detached.
			got.Status = "changed"
			again, err := bs.GetBooking(ctx, "BK1")
			require.NoError(t, err)
			assert.Equal(t, "confirmed", again.Status)

			recs, err := bs.ListBookings(ctx, "it-bk")
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "BK1", recs[0].Ref, "oldest booking first")
			assert.Equal(t, "BK2", recs[1].Ref)
		})
	}
}

func TestBoltSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	first, err := NewBolt(path)
	require.NoError(t, err)
	require.NoError(t, first.SaveWithRevision(ctx, storeFixture("it-p"), revisionFixture("it-p", 1)))
	require.NoError(t, first.SaveBooking(ctx, bookingFixture("BKPERSIST", "it-p", 100)))
	require.NoError(t, first.Close())

	second, err := NewBolt(path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	got, err := second.Get(ctx, "it-p")
	require.NoError(t, err)
	assert.Equal(t, "it-p", got.ID)

	revs, err := second.ListRevisions(ctx, "it-p")
	require.NoError(t, err)
	assert.Len(t, revs, 1)

	rec, err := second.GetBooking(ctx, "BKPERSIST")
	require.NoError(t, err)
	assert.Equal(t, "it-p", rec.ItineraryID)
}

func TestNewFactory(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s, "empty backend defaults to memory")

	s, err = New(ctx, Config{Backend: BackendBolt, Path: filepath.Join(t.TempDir(), "f.db")})
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, s)
	require.NoError(t, s.Close())

	_, err = New(ctx, Config{Backend: "etcd"})
	require.Error(t, err)
}
