package store

import (
	"context"
	"sort"
	"sync"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

// MemoryStore keeps everything in process memory. Documents are deep-copied
// on the way in and out so callers never alias stored state.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]*itinerary.Itinerary
	revisions map[string][]*itinerary.Revision
	bookings  map[string]*BookingRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]*itinerary.Itinerary),
		revisions: make(map[string][]*itinerary.Revision),
		bookings:  make(map[string]*BookingRecord),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*itinerary.Itinerary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return it.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, it *itinerary.Itinerary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[it.ID] = it.Clone()
	return nil
}

func (s *MemoryStore) SaveWithRevision(_ context.Context, it *itinerary.Itinerary, rev *itinerary.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[it.ID] = it.Clone()
	s.revisions[rev.ItineraryID] = append(s.revisions[rev.ItineraryID], cloneRevision(rev))
	return nil
}

func (s *MemoryStore) AppendRevision(_ context.Context, rev *itinerary.Revision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisions[rev.ItineraryID] = append(s.revisions[rev.ItineraryID], cloneRevision(rev))
	return nil
}

func (s *MemoryStore) ListRevisions(_ context.Context, id string) ([]*itinerary.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	revs := s.revisions[id]
	out := make([]*itinerary.Revision, len(revs))
	for i, r := range revs {
		out[i] = cloneRevision(r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *MemoryStore) GetRevision(_ context.Context, id string, version int) (*itinerary.Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.revisions[id] {
		if r.Version == version {
			return cloneRevision(r), nil
		}
	}
	return nil, ErrRevisionNotFound
}

func (s *MemoryStore) List(_ context.Context, ownerID string) ([]itinerary.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]itinerary.Summary, 0, len(s.docs))
	for _, it := range s.docs {
		if ownerID != "" && it.OwnerID != ownerID {
			continue
		}
		out = append(out, it.Summarize())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	delete(s.revisions, id)
	return nil
}

func (s *MemoryStore) PruneRevisions(_ context.Context, id string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	revs := s.revisions[id]
	if len(revs) <= keep {
		return 0, nil
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i].Version < revs[j].Version })
	pruned := len(revs) - keep
	s.revisions[id] = append([]*itinerary.Revision(nil), revs[pruned:]...)
	return pruned, nil
}

func (s *MemoryStore) SaveBooking(_ context.Context, rec *BookingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.bookings[rec.Ref] = &cp
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, ref string) (*BookingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.bookings[ref]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListBookings(_ context.Context, itineraryID string) ([]*BookingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*BookingRecord
	for _, rec := range s.bookings {
		if rec.ItineraryID != itineraryID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sortBookings(out)
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneRevision(rev *itinerary.Revision) *itinerary.Revision {
	out := *rev
	if rev.Snapshot != nil {
		out.Snapshot = rev.Snapshot.Clone()
	}
	if rev.Diff != nil {
		d := *rev.Diff
		d.Added = append([]itinerary.NodeRef(nil), rev.Diff.Added...)
		d.Removed = append([]itinerary.NodeRef(nil), rev.Diff.Removed...)
		d.Updated = append([]itinerary.UpdatedNode(nil), rev.Diff.Updated...)
		d.Warnings = append([]string(nil), rev.Diff.Warnings...)
		out.Diff = &d
	}
	return &out
}
