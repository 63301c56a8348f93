package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avstrong/innkeeper/internal/availability"
	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/payment"
	"github.com/avstrong/innkeeper/internal/pricing"
)

var (
	ErrPanic        = errors.New("panic recovered")
	ErrUnauthorized = errors.New("unauthorized")
)

type errorBody struct {
	Error     string              `json:"error"`
	Fields    map[string][]string `json:"fields,omitempty"`
	Remaining *int                `json:"remaining,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, fields map[string][]string) {
	_ = writeJSON(w, status, errorBody{Error: msg, Fields: fields})
}

// handleError translates domain errors into responses. Anything it does not
// recognise is logged with the request id and answered with 500.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, op string, err error) {
	l := s.l.With("requestID", RequestIDFromContext(r.Context()))

	if inputErr := booking.IsInputError(err); inputErr != nil {
		writeError(w, http.StatusBadRequest, "invalid input", inputErr.Fields())

		return
	}

	if rangeErr := availability.IsInvalidRangeError(err); rangeErr != nil {
		writeError(w, http.StatusBadRequest, rangeErr.Error(), nil)

		return
	}

	if inventoryErr := availability.IsInsufficientInventoryError(err); inventoryErr != nil {
		remaining := inventoryErr.Remaining
		_ = writeJSON(w, http.StatusPreconditionFailed, errorBody{Error: "not enough rooms left", Remaining: &remaining})

		return
	}

	if transitionErr := booking.IsTransitionError(err); transitionErr != nil {
		writeError(w, http.StatusConflict, transitionErr.Error(), nil)

		return
	}

	if upstreamErr := booking.IsUpstreamUnavailableError(err); upstreamErr != nil {
		l.LogErrorf("%s: %v", op, upstreamErr.Error())
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable, retry later", nil)

		return
	}

	switch {
	case errors.Is(err, booking.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound), nil)
	case errors.Is(err, booking.ErrIdempotencyKey):
		writeError(w, http.StatusBadRequest, "Idempotency-Key header must be 1 to 255 characters", nil)
	case errors.Is(err, availability.ErrInvalidUnits), errors.Is(err, pricing.ErrInvalidQuote):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, booking.ErrNotPayable), errors.Is(err, booking.ErrConflict):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, booking.ErrPaymentsDisabled):
		writeError(w, http.StatusNotImplemented, err.Error(), nil)
	case errors.Is(err, payment.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		if violation := availability.IsInvariantViolationError(err); violation != nil {
			l.LogErrorf("%s: inventory invariant violated: %v", op, violation.Error())
		} else {
			l.LogErrorf("%s: %v", op, err.Error())
		}

		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), nil)
	}
}
