// Package booking implements the mock booking flow. Booking a node reserves
// it with a provider, stamps the returned reference onto the node through
// the change engine, and files a record the engine never reads. Booking
// never locks a node; locking stays an explicit user choice.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/itinerary"
	"github.com/wayplan/wayplan/pkg/store"
)

// ErrAlreadyBooked is returned when the target node already carries a
// booking reference. Callers map it to HTTP 409.
var ErrAlreadyBooked = errors.New("node is already booked")

// StatusConfirmed is the only status the mock provider issues.
const StatusConfirmed = "confirmed"

// LabelBooked is added to a node's labels when a booking lands.
const LabelBooked = "Booked"

// Provider reserves a node with an external supplier. The real system would
// talk to an inventory or payments partner; the interface is the whole
// contract here.
type Provider interface {
	// Name identifies the provider in stored records.
	Name() string

	// Reserve books the node and returns the provider reference.
	Reserve(ctx context.Context, node *itinerary.Node) (string, error)
}

// MockProvider fabricates confirmations without talking to anyone. Refs
// look like BK3F0A91C2D4.
type MockProvider struct{}

func (MockProvider) Name() string { return "mock" }

func (MockProvider) Reserve(context.Context, *itinerary.Node) (string, error) {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return "BK" + raw[:10], nil
}

// Service runs bookings end to end: reserve with the provider, stamp the
// node, file the record.
type Service struct {
	engine   *engine.Engine
	store    store.BookingStore
	provider Provider
}

// New wires the booking flow. A nil provider falls back to the mock.
func New(eng *engine.Engine, bs store.BookingStore, provider Provider) *Service {
	if provider == nil {
		provider = MockProvider{}
	}
	return &Service{engine: eng, store: bs, provider: provider}
}

// Result reports a completed booking. Locked echoes the node's lock state,
// which booking never changes.
type Result struct {
	BookingRef  string `json:"bookingRef"`
	ItineraryID string `json:"itineraryId"`
	NodeID      string `json:"nodeId"`
	Locked      bool   `json:"locked"`
	ToVersion   int    `json:"toVersion"`
}

// Book reserves a node and stamps bookingRef plus the Booked label onto it.
// The update runs with respectLocks disabled so the reference lands even on
// a locked node; the locked flag itself is never touched. Concurrent calls
// against the same node can both reserve; the engine keeps the last
// reference and both records are filed.
func (s *Service) Book(ctx context.Context, itineraryID, nodeID string) (*Result, error) {
	if strings.TrimSpace(itineraryID) == "" {
		return nil, itinerary.NewValidationError("itineraryId", "itineraryId is required")
	}
	if strings.TrimSpace(nodeID) == "" {
		return nil, itinerary.NewValidationError("nodeId", "nodeId is required")
	}

	doc, err := s.engine.Get(ctx, itineraryID)
	if err != nil {
		return nil, err
	}
	node := doc.FindNode(nodeID)
	if node == nil {
		return nil, itinerary.NewValidationError("nodeId", fmt.Sprintf("unknown node %s", nodeID))
	}
	if node.IsBooked() {
		return nil, fmt.Errorf("node %s already carries %s: %w", nodeID, node.BookingRef, ErrAlreadyBooked)
	}

	ref, err := s.provider.Reserve(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("reserve node %s: %w", nodeID, err)
	}

	labeled := node.Clone()
	labeled.AddLabel(LabelBooked)
	patch, err := json.Marshal(map[string]any{
		"bookingRef": ref,
		"labels":     labeled.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal booking patch: %w", err)
	}

	cs := &itinerary.ChangeSet{
		Ops: []itinerary.Operation{{Op: itinerary.OpUpdate, ID: nodeID, Patch: patch}},
		// AutoApply keeps the preferences non-zero; a zero value would be
		// replaced by engine defaults and re-enable lock enforcement.
		Preferences: itinerary.Preferences{AutoApply: true, UserFirst: false, RespectLocks: false},
		Author:      itinerary.ActorSystem,
		Description: fmt.Sprintf("Booked %s", node.Title),
	}
	res, err := s.engine.Apply(ctx, itineraryID, cs)
	if err != nil {
		return nil, err
	}

	rec := &store.BookingRecord{
		Ref:         ref,
		ItineraryID: itineraryID,
		NodeID:      nodeID,
		NodeTitle:   node.Title,
		Provider:    s.provider.Name(),
		Status:      StatusConfirmed,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := s.store.SaveBooking(ctx, rec); err != nil {
		return nil, fmt.Errorf("record booking %s: %w", ref, err)
	}

	locked := node.Locked
	if fresh := res.Itinerary.FindNode(nodeID); fresh != nil {
		locked = fresh.Locked
	}
	slog.Info("Booking confirmed",
		"itinerary_id", itineraryID,
		"node_id", nodeID,
		"booking_ref", ref,
		"to_version", res.ToVersion)
	return &Result{
		BookingRef:  ref,
		ItineraryID: itineraryID,
		NodeID:      nodeID,
		Locked:      locked,
		ToVersion:   res.ToVersion,
	}, nil
}

// Lookup returns the stored record for a reference.
func (s *Service) Lookup(ctx context.Context, ref string) (*store.BookingRecord, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, itinerary.NewValidationError("ref", "booking reference is required")
	}
	return s.store.GetBooking(ctx, ref)
}

// ListForItinerary returns every booking made against an itinerary, oldest
// first.
func (s *Service) ListForItinerary(ctx context.Context, itineraryID string) ([]*store.BookingRecord, error) {
	if strings.TrimSpace(itineraryID) == "" {
		return nil, itinerary.NewValidationError("itineraryId", "itineraryId is required")
	}
	return s.store.ListBookings(ctx, itineraryID)
}
