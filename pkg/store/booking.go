package store

import (
	"context"
	"errors"
	"sort"
)

// ErrBookingNotFound is returned when no booking exists for a reference.
var ErrBookingNotFound = errors.New("booking not found")

// BookingRecord is the persisted form of one confirmed booking. The change
// engine never reads these: a node carries only the bookingRef string, and
// pkg/booking owns the record behind it. Records outlive their itinerary so
// references stay resolvable after a trip is deleted.
type BookingRecord struct {
	Ref         string `json:"ref"`
	ItineraryID string `json:"itineraryId"`
	NodeID      string `json:"nodeId"`
	NodeTitle   string `json:"nodeTitle,omitempty"`
	Provider    string `json:"provider"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"createdAt"`
}

// BookingStore persists booking records keyed by provider reference. Every
// document store backend implements it alongside Store; the engine never
// sees this interface.
type BookingStore interface {
	// SaveBooking upserts one record.
	SaveBooking(ctx context.Context, rec *BookingRecord) error

	// GetBooking returns the record for a reference.
	GetBooking(ctx context.Context, ref string) (*BookingRecord, error)

	// ListBookings returns all records for an itinerary, oldest first.
	ListBookings(ctx context.Context, itineraryID string) ([]*BookingRecord, error)
}

// sortBookings orders records oldest first, reference as tie-break.
func sortBookings(recs []*BookingRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt < recs[j].CreatedAt
		}
		return recs[i].Ref < recs[j].Ref
	})
}
