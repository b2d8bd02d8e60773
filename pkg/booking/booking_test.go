package booking

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/events"
	"github.com/wayplan/wayplan/pkg/itinerary"
	"github.com/wayplan/wayplan/pkg/store"
)

type bookingHarness struct {
	svc *Service
	eng *engine.Engine
	st  *store.MemoryStore
}

func newBookingHarness(t *testing.T, provider Provider) *bookingHarness {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	eng := engine.New(st, bus, engine.DefaultOptions())
	return &bookingHarness{svc: New(eng, st, provider), eng: eng, st: st}
}

// seedHotelTrip creates a one-day trip with an unlocked hotel check-in, a
// locked dinner, and a labeled museum visit.
func seedHotelTrip(t *testing.T, eng *engine.Engine) {
	t.Helper()
	_, err := eng.Create(context.Background(), &itinerary.Itinerary{
		ID:      "trip-book",
		OwnerID: "u-1",
		Summary: "Seville overnight",
		Days: []itinerary.Day{
			{
				DayNumber: 1,
				Date:      "2026-03-10",
				Nodes: []itinerary.Node{
					{ID: "n_hotel_checkin", Type: itinerary.NodeAccommodation, Title: "Hotel Alfonso check-in", Status: itinerary.NodePlanned},
					{ID: "n_dinner", Type: itinerary.NodeMeal, Title: "Rooftop dinner", Status: itinerary.NodePlanned, Locked: true},
					{ID: "n_museum", Type: itinerary.NodeAttraction, Title: "Flamenco museum", Status: itinerary.NodePlanned, Labels: []string{"Culture"}},
				},
			},
		},
	}, itinerary.ActorUser)
	require.NoError(t, err)
}

// failingProvider errors on every reservation.
type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) Reserve(context.Context, *itinerary.Node) (string, error) {
	return "", errors.New("supplier unreachable")
}

func TestBookStampsRefAndLabel(t *testing.T) {
	h := newBookingHarness(t, nil)
	seedHotelTrip(t, h.eng)
	ctx := context.Background()

	res, err := h.svc.Book(ctx, "trip-book", "n_hotel_checkin")
	require.NoError(t, err)
	assert.Regexp(t, `^BK[0-9A-F]{10}$`, res.BookingRef)
	assert.Equal(t, "trip-book", res.ItineraryID)
	assert.Equal(t, "n_hotel_checkin", res.NodeID)
	assert.False(t, res.Locked, "booking must not lock the node")
	assert.Equal(t, 2, res.ToVersion)

	doc, err := h.eng.Get(ctx, "trip-book")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Version)
	node := doc.FindNode("n_hotel_checkin")
	require.NotNil(t, node)
	assert.Equal(t, res.BookingRef, node.BookingRef)
	assert.True(t, node.IsBooked())
	assert.True(t, node.HasLabel(LabelBooked))
	assert.False(t, node.Locked)
	assert.Equal(t, itinerary.ActorSystem, node.UpdatedBy)

	rec, err := h.svc.Lookup(ctx, res.BookingRef)
	require.NoError(t, err)
	assert.Equal(t, "trip-book", rec.ItineraryID)
	assert.Equal(t, "n_hotel_checkin", rec.NodeID)
	assert.Equal(t, "Hotel Alfonso check-in", rec.NodeTitle)
	assert.Equal(t, "mock", rec.Provider)
	assert.Equal(t, StatusConfirmed, rec.Status)
	assert.Positive(t, rec.CreatedAt)
}

func TestBookLockedNodeKeepsLock(t *testing.T) {
	h := newBookingHarness(t, nil)
	seedHotelTrip(t, h.eng)
	ctx := context.Background()

	res, err := h.svc.Book(ctx, "trip-book", "n_dinner")
	require.NoError(t, err)
	assert.True(t, res.Locked, "lock state is echoed, not cleared")

	doc, err := h.eng.Get(ctx, "trip-book")
	require.NoError(t, err)
	node := doc.FindNode("n_dinner")
	require.NotNil(t, node)
	assert.Equal(t, res.BookingRef, node.BookingRef, "reference lands despite the lock")
	assert.True(t, node.Locked)
	assert.True(t, node.HasLabel(LabelBooked))
}

func TestBookPreservesExistingLabels(t *testing.T) {
	h := newBookingHarness(t, nil)
	seedHotelTrip(t, h.eng)
	ctx := context.Background()

	_, err := h.svc.Book(ctx, "trip-book", "n_museum")
	require.NoError(t, err)

	doc, err := h.eng.Get(ctx, "trip-book")
	require.NoError(t, err)
	node := doc.FindNode("n_museum")
	require.NotNil(t, node)
	assert.Equal(t, []string{"Culture", LabelBooked}, node.Labels)
}

func TestBookAlreadyBookedNode(t *testing.T) {
	h := newBookingHarness(t, nil)
	seedHotelTrip(t, h.eng)
	ctx := context.Background()

	first, err := h.svc.Book(ctx, "trip-book", "n_hotel_checkin")
	require.NoError(t, err)

	_, err = h.svc.Book(ctx, "trip-book", "n_hotel_checkin")
	assert.ErrorIs(t, err, ErrAlreadyBooked)
	assert.ErrorContains(t, err, first.BookingRef)

	doc, err := h.eng.Get(ctx, "trip-book")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Version, "rejected rebooking must not advance the version")
}

func TestBookValidation(t *testing.T) {
	h := newBookingHarness(t, nil)
	seedHotelTrip(t, h.eng)
	ctx := context.Background()

	_, err := h.svc.Book(ctx, "", "n_hotel_checkin")
	assert.True(t, itinerary.IsValidationError(err))

	_, err = h.svc.Book(ctx, "trip-book", "")
	assert.True(t, itinerary.IsValidationError(err))

	_, err = h.svc.Book(ctx, "trip-book", "n_ghost")
	assert.True(t, itinerary.IsValidationError(err))

	_, err = h.svc.Book(ctx, "trip-ghost", "n_hotel_checkin")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBookProviderFailure(t *testing.T) {
	h := newBookingHarness(t, failingProvider{})
	seedHotelTrip(t, h.eng)
	ctx := context.Background()

	_, err := h.svc.Book(ctx, "trip-book", "n_hotel_checkin")
	require.ErrorContains(t, err, "supplier unreachable")

	doc, err := h.eng.Get(ctx, "trip-book")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Version, "failed reservation must not touch the document")
	assert.False(t, doc.FindNode("n_hotel_checkin").IsBooked())

	recs, err := h.svc.ListForItinerary(ctx, "trip-book")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestLookupAndList(t *testing.T) {
	h := newBookingHarness(t, nil)
	seedHotelTrip(t, h.eng)
	ctx := context.Background()

	_, err := h.svc.Lookup(ctx, "")
	assert.True(t, itinerary.IsValidationError(err))

	_, err = h.svc.Lookup(ctx, "BKUNKNOWN99")
	assert.ErrorIs(t, err, store.ErrBookingNotFound)

	hotel, err := h.svc.Book(ctx, "trip-book", "n_hotel_checkin")
	require.NoError(t, err)
	museum, err := h.svc.Book(ctx, "trip-book", "n_museum")
	require.NoError(t, err)

	recs, err := h.svc.ListForItinerary(ctx, "trip-book")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	refs := []string{recs[0].Ref, recs[1].Ref}
	assert.ElementsMatch(t, []string{hotel.BookingRef, museum.BookingRef}, refs)
}

func TestMockProviderRefsAreUnique(t *testing.T) {
	p := MockProvider{}
	format := regexp.MustCompile(`^BK[0-9A-F]{10}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		ref, err := p.Reserve(context.Background(), nil)
		require.NoError(t, err)
		assert.Regexp(t, format, ref)
		assert.False(t, seen[ref], "duplicate reference %s", ref)
		seen[ref] = true
	}
}
