package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/wayplan/wayplan/pkg/booking"
	"github.com/wayplan/wayplan/pkg/engine"
	"github.com/wayplan/wayplan/pkg/itinerary"
	"github.com/wayplan/wayplan/pkg/runner"
	"github.com/wayplan/wayplan/pkg/store"
)

// ErrorEnvelope is the uniform error response body.
type ErrorEnvelope struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
	Details   any    `json:"details,omitempty"`
}

// errorEnvelope turns every error a handler returns into the envelope
// response. Domain errors map to their transport codes here and nowhere else.
func errorEnvelope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			env := envelopeFor(err, c.Request().URL.Path)
			if env.Code >= http.StatusInternalServerError {
				slog.Error("Request failed", "path", env.Path, "error", err)
			}
			return c.JSON(env.Code, env)
		}
	}
}

// envelopeFor maps one error to its envelope. Unrecognized errors become an
// opaque 500 so internals never leak to clients.
func envelopeFor(err error, path string) *ErrorEnvelope {
	env := &ErrorEnvelope{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      path,
	}

	var httpErr *echo.HTTPError
	var validErr *itinerary.ValidationError
	switch {
	case errors.As(err, &httpErr):
		env.Code = httpErr.Code
		env.Message = fmt.Sprintf("%v", httpErr.Message)
		if env.Code == http.StatusUnauthorized {
			env.Hint = "pass an X-User-ID header or call through the authenticating proxy"
		}

	case errors.As(err, &validErr):
		env.Code = http.StatusBadRequest
		env.Message = validErr.Error()
		env.Details = map[string]string{"field": validErr.Field}

	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrRevisionNotFound),
		errors.Is(err, store.ErrBookingNotFound):
		env.Code = http.StatusNotFound
		env.Message = err.Error()

	case errors.Is(err, engine.ErrAlreadyExists):
		env.Code = http.StatusConflict
		env.Message = err.Error()

	case errors.Is(err, booking.ErrAlreadyBooked):
		env.Code = http.StatusConflict
		env.Message = err.Error()
		env.Hint = "look up the existing reference before booking again"

	case errors.Is(err, runner.ErrQueueFull):
		env.Code = http.StatusServiceUnavailable
		env.Message = err.Error()
		env.Hint = "retry once an active run finishes"

	case errors.Is(err, runner.ErrStopped):
		env.Code = http.StatusServiceUnavailable
		env.Message = "service is shutting down"

	default:
		env.Code = http.StatusInternalServerError
		env.Message = "internal server error"
	}
	return env
}
