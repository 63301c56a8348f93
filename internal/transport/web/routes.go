package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/avstrong/innkeeper/internal/availability"
	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/payment"
	"github.com/avstrong/innkeeper/internal/pricing"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	SignatureHeader      = "Payment-Signature"

	maxWebhookBytes     = 1 << 20
	maxReservationBytes = 64 << 10
)

// parseStay reads the from (first night) and to (departure day) query
// parameters.
func parseStay(r *http.Request) (availability.Stay, map[string][]string) {
	fields := make(map[string][]string)

	from, err := availability.ParseDay(r.URL.Query().Get("from"))
	if err != nil {
		fields["from"] = append(fields["from"], "must be a date in YYYY-MM-DD format")
	}

	to, err := availability.ParseDay(r.URL.Query().Get("to"))
	if err != nil {
		fields["to"] = append(fields["to"], "must be a date in YYYY-MM-DD format")
	}

	if len(fields) > 0 {
		return availability.Stay{}, fields
	}

	return availability.NewStay(from, to), nil
}

func queryInt(r *http.Request, key string, defaultValue int, fields map[string][]string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		fields[key] = append(fields[key], "must be a positive integer")

		return 0
	}

	return n
}

func (s *Server) roomAvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	stay, fields := parseStay(r)
	if fields != nil {
		writeError(w, http.StatusBadRequest, "invalid input", fields)

		return
	}

	res, err := s.bManager.RoomAvailability(r.Context(), r.PathValue("roomID"), stay)
	if err != nil {
		s.handleError(w, r, "room availability", err)

		return
	}

	if err := writeJSON(w, http.StatusOK, res); err != nil {
		s.l.LogErrorf("Could not encode room availability: %v", err.Error())
	}
}

func (s *Server) hotelAvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	stay, fields := parseStay(r)
	if fields == nil {
		fields = make(map[string][]string)
	}

	guests := queryInt(r, "guests", 1, fields)
	if len(fields) > 0 {
		writeError(w, http.StatusBadRequest, "invalid input", fields)

		return
	}

	rooms, err := s.bManager.HotelAvailability(r.Context(), r.PathValue("hotelID"), stay, guests)
	if err != nil {
		s.handleError(w, r, "hotel availability", err)

		return
	}

	if err := writeJSON(w, http.StatusOK, rooms); err != nil {
		s.l.LogErrorf("Could not encode hotel availability: %v", err.Error())
	}
}

func (s *Server) suggestionsHandler(w http.ResponseWriter, r *http.Request) {
	stay, fields := parseStay(r)
	if fields == nil {
		fields = make(map[string][]string)
	}

	units := queryInt(r, "units", 1, fields)
	if len(fields) > 0 {
		writeError(w, http.StatusBadRequest, "invalid input", fields)

		return
	}

	stays, err := s.bManager.SuggestStays(r.Context(), r.PathValue("roomID"), stay, units)
	if err != nil {
		s.handleError(w, r, "suggest stays", err)

		return
	}

	if err := writeJSON(w, http.StatusOK, stays); err != nil {
		s.l.LogErrorf("Could not encode suggestions: %v", err.Error())
	}
}

func (s *Server) createReservationHandler(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get(IdempotencyKeyHeader)
	if idempotencyKey == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header is missing", nil)

		return
	}

	var input booking.ReservationInput

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReservationBytes)).Decode(&input); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large", nil)

			return
		}

		writeError(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), nil)

		return
	}

	ctx := booking.NewContextWithIdempotencyKey(r.Context(), idempotencyKey)

	out, err := s.bManager.CreateReservation(ctx, &input)
	if err != nil {
		s.handleError(w, r, "create reservation", err)

		return
	}

	if err := writeJSON(w, http.StatusCreated, out); err != nil {
		s.l.LogErrorf("Could not encode result of reservation creating: %v", err.Error())
	}
}

type checkoutRequest struct {
	Mode pricing.Mode `json:"mode"`
}

func (s *Server) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	req := checkoutRequest{Mode: pricing.ModeFull}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), nil)

		return
	}

	checkout, err := s.bManager.StartCheckout(r.Context(), r.PathValue("id"), req.Mode)
	if err != nil {
		s.handleError(w, r, "start checkout", err)

		return
	}

	if err := writeJSON(w, http.StatusCreated, checkout); err != nil {
		s.l.LogErrorf("Could not encode checkout: %v", err.Error())
	}
}

type webhookResponse struct {
	Received bool `json:"received"`
	Applied  bool `json:"applied"`
}

func (s *Server) paymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large", nil)

		return
	}

	event, err := payment.ParseWebhook(payload, r.Header.Get(SignatureHeader), s.conf.WebhookSecret, s.conf.Now())

	switch {
	case errors.Is(err, payment.ErrUnhandledEvent):
		_ = writeJSON(w, http.StatusOK, webhookResponse{Received: true})

		return
	case errors.Is(err, payment.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "invalid signature", nil)

		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error(), nil)

		return
	}

	applied, err := s.bManager.ReconcilePayment(r.Context(), event)
	if err != nil {
		s.handleError(w, r, "reconcile payment", err)

		return
	}

	if err := writeJSON(w, http.StatusOK, webhookResponse{Received: true, Applied: applied}); err != nil {
		s.l.LogErrorf("Could not encode webhook response: %v", err.Error())
	}
}

func (s *Server) listReservationsHandler(w http.ResponseWriter, r *http.Request) {
	stay, fields := parseStay(r)
	if fields != nil {
		writeError(w, http.StatusBadRequest, "invalid input", fields)

		return
	}

	reservations, err := s.bManager.ListReservations(r.Context(), r.PathValue("roomID"), stay)
	if err != nil {
		s.handleError(w, r, "list reservations", err)

		return
	}

	if err := writeJSON(w, http.StatusOK, reservations); err != nil {
		s.l.LogErrorf("Could not encode reservations: %v", err.Error())
	}
}

func (s *Server) roomLoadsHandler(w http.ResponseWriter, r *http.Request) {
	stay, fields := parseStay(r)
	if fields != nil {
		writeError(w, http.StatusBadRequest, "invalid input", fields)

		return
	}

	loads, err := s.bManager.RoomLoads(r.Context(), r.PathValue("roomID"), stay)
	if err != nil {
		s.handleError(w, r, "room loads", err)

		return
	}

	if err := writeJSON(w, http.StatusOK, loads); err != nil {
		s.l.LogErrorf("Could not encode room loads: %v", err.Error())
	}
}

func (s *Server) getReservationHandler(w http.ResponseWriter, r *http.Request) {
	reservation, err := s.bManager.GetReservation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.handleError(w, r, "get reservation", err)

		return
	}

	if err := writeJSON(w, http.StatusOK, reservation); err != nil {
		s.l.LogErrorf("Could not encode reservation: %v", err.Error())
	}
}

type transitionFunc func(m *booking.Manager, ctx context.Context, id string) (*booking.Reservation, error)

func (s *Server) transitionHandler(op string, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reservation, err := fn(s.bManager, r.Context(), r.PathValue("id"))
		if err != nil {
			s.handleError(w, r, op, err)

			return
		}

		if err := writeJSON(w, http.StatusOK, reservation); err != nil {
			s.l.LogErrorf("Could not encode reservation: %v", err.Error())
		}
	}
}

func (s *Server) livenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addRoutes(r *http.ServeMux) {
	public := func(h http.HandlerFunc) http.Handler {
		return s.applyMiddlewares(h, s.loggerMiddleware(), s.recoverMiddleware())
	}

	admin := func(h http.HandlerFunc) http.Handler {
		return s.applyMiddlewares(h, s.adminMiddleware(), s.loggerMiddleware(), s.recoverMiddleware())
	}

	r.Handle("GET /api/rooms/{roomID}/availability/v1", public(s.roomAvailabilityHandler))
	r.Handle("GET /api/hotels/{hotelID}/availability/v1", public(s.hotelAvailabilityHandler))
	r.Handle("GET /api/rooms/{roomID}/suggestions/v1", public(s.suggestionsHandler))
	r.Handle("POST /api/reservations/v1", public(s.createReservationHandler))
	r.Handle("POST /api/reservations/{id}/checkout/v1", public(s.checkoutHandler))
	r.Handle("POST /api/webhooks/payments/v1", public(s.paymentWebhookHandler))

	r.Handle("GET /api/rooms/{roomID}/reservations/v1", admin(s.listReservationsHandler))
	r.Handle("GET /api/rooms/{roomID}/loads/v1", admin(s.roomLoadsHandler))
	r.Handle("GET /api/reservations/{id}/v1", admin(s.getReservationHandler))
	r.Handle("POST /api/reservations/{id}/check-in/v1", admin(s.transitionHandler("check in", (*booking.Manager).CheckIn)))
	r.Handle("POST /api/reservations/{id}/check-out/v1", admin(s.transitionHandler("check out", (*booking.Manager).CheckOut)))
	r.Handle("POST /api/reservations/{id}/cancel/v1", admin(s.transitionHandler("cancel", (*booking.Manager).Cancel)))
	r.Handle("GET /api/feed/v1", admin(s.feedHandler))

	r.Handle(fmt.Sprintf("GET %s", s.conf.LivenessEndpoint), public(s.livenessHandler))
}
