package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayplan/wayplan/pkg/booking"
	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/itinerary"
	"github.com/wayplan/wayplan/pkg/runner"
	"github.com/wayplan/wayplan/pkg/store"
)

func TestEnvelopeFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
		wantHint bool
	}{
		{
			name:     "validation error",
			err:      itinerary.NewValidationError("destination", "destination is required"),
			wantCode: http.StatusBadRequest,
			wantMsg:  "destination is required",
		},
		{
			name:     "wrapped validation error",
			err:      fmt.Errorf("create: %w", itinerary.NewValidationError("endDate", "endDate must not precede startDate")),
			wantCode: http.StatusBadRequest,
			wantMsg:  "endDate",
		},
		{
			name:     "itinerary not found",
			err:      fmt.Errorf("%w: trip-1", store.ErrNotFound),
			wantCode: http.StatusNotFound,
			wantMsg:  "itinerary not found",
		},
		{
			name:     "revision not found",
			err:      store.ErrRevisionNotFound,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "booking not found",
			err:      store.ErrBookingNotFound,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "duplicate itinerary",
			err:      fmt.Errorf("%w: trip-1", engine.ErrAlreadyExists),
			wantCode: http.StatusConflict,
		},
		{
			name:     "already booked",
			err:      fmt.Errorf("node n1 already carries BK123: %w", booking.ErrAlreadyBooked),
			wantCode: http.StatusConflict,
			wantMsg:  "BK123",
			wantHint: true,
		},
		{
			name:     "queue full",
			err:      runner.ErrQueueFull,
			wantCode: http.StatusServiceUnavailable,
			wantHint: true,
		},
		{
			name:     "runner stopped",
			err:      runner.ErrStopped,
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "http error passthrough",
			err:      echo.NewHTTPError(http.StatusUnauthorized, "identity is required"),
			wantCode: http.StatusUnauthorized,
			wantMsg:  "identity is required",
			wantHint: true,
		},
		{
			name:     "unknown errors become opaque 500s",
			err:      errors.New("pg: connection reset"),
			wantCode: http.StatusInternalServerError,
			wantMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := envelopeFor(tt.err, "/api/v1/test")
			assert.Equal(t, tt.wantCode, env.Code)
			if tt.wantMsg != "" {
				assert.Contains(t, env.Message, tt.wantMsg)
			}
			if tt.wantHint {
				assert.NotEmpty(t, env.Hint)
			} else {
				assert.Empty(t, env.Hint)
			}
			assert.Equal(t, "/api/v1/test", env.Path)
			assert.NotEmpty(t, env.Timestamp)
		})
	}
}

func TestEnvelopeForValidationDetails(t *testing.T) {
	env := envelopeFor(itinerary.NewValidationError("party.adults", "at least one adult is required"), "/x")
	details, ok := env.Details.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "party.adults", details["field"])
}

func TestErrorEnvelopeMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(errorEnvelope())
	e.GET("/missing", func(c *echo.Context) error {
		return fmt.Errorf("%w: trip-9", store.ErrNotFound)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, http.StatusNotFound, env.Code)
	assert.Contains(t, env.Message, "trip-9")
	assert.Equal(t, "/missing", env.Path)
	assert.NotEmpty(t, env.Timestamp)
}
