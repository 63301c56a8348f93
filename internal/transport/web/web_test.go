package web_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/feed"
	"github.com/avstrong/innkeeper/internal/idgen/simple"
	"github.com/avstrong/innkeeper/internal/logger"
	"github.com/avstrong/innkeeper/internal/migration"
	"github.com/avstrong/innkeeper/internal/payment"
	"github.com/avstrong/innkeeper/internal/storage/memory"
	"github.com/avstrong/innkeeper/internal/transport/web"
)

const (
	adminSecret   = "admin-secret"
	webhookSecret = "whsec_test"
)

var now = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu    sync.Mutex
	count int
}

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.count++

	return &payment.Session{
		ID:  fmt.Sprintf("cs_%d", g.count),
		URL: "https://pay.example/" + req.ReservationID,
	}, nil
}

func newServer(t *testing.T) http.Handler {
	t.Helper()

	l := logger.Discard()
	db := memory.New(memory.Config{L: l})

	if err := migration.Up(context.Background(), l, db, migration.DemoRooms("usd")); err != nil {
		t.Fatal(err)
	}

	hub := feed.NewHub(l, feed.DefaultBuffer)

	manager := booking.New(l, db, simple.New("res-"), booking.Conf{
		Gateway:        &fakeGateway{},
		Publisher:      hub,
		DepositPercent: 30,
		Now:            func() time.Time { return now },
	})

	srv, err := web.New(context.Background(), web.Conf{
		L:              l,
		AdminJWTSecret: adminSecret,
		WebhookSecret:  webhookSecret,
		Now:            func() time.Time { return now },
	}, manager, hub)
	if err != nil {
		t.Fatal(err)
	}

	return srv.Handler()
}

func adminToken(t *testing.T, secret, role string) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, web.AdminClaims{Role: role}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}

	return token
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func reservationRequest(key, roomID string, units int) *http.Request {
	body := fmt.Sprintf(`{"room_id":%q,"check_in":"2025-06-01","check_out":"2025-06-03","units":%d,"guests":%d,`+
		`"guest":{"name":"Ada Lovelace","email":"ada@example.com"}}`, roomID, units, units)

	req := httptest.NewRequest(http.MethodPost, "/api/reservations/v1", strings.NewReader(body))
	if key != "" {
		req.Header.Set(web.IdempotencyKeyHeader, key)
	}

	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}

	return v
}

type errorResponse struct {
	Error     string              `json:"error"`
	Fields    map[string][]string `json:"fields"`
	Remaining *int                `json:"remaining"`
}

func TestRoomAvailability(t *testing.T) {
	h := newServer(t)

	tests := []struct {
		name       string
		url        string
		wantStatus int
	}{
		{"ok", "/api/rooms/harbor-double/availability/v1?from=2025-06-01&to=2025-06-04", http.StatusOK},
		{"bad date", "/api/rooms/harbor-double/availability/v1?from=06/01/2025&to=2025-06-04", http.StatusBadRequest},
		{"empty range", "/api/rooms/harbor-double/availability/v1?from=2025-06-04&to=2025-06-04", http.StatusBadRequest},
		{"unknown room", "/api/rooms/nope/availability/v1?from=2025-06-01&to=2025-06-04", http.StatusNotFound},
		{"whole calendar", "/api/rooms/harbor-double/availability/v1?from=0001-01-01&to=9999-12-31", http.StatusBadRequest},
		{"one night too long", "/api/rooms/harbor-double/availability/v1?from=2025-01-01&to=2026-01-02", http.StatusBadRequest},
		{"longest stay", "/api/rooms/harbor-double/availability/v1?from=2025-01-01&to=2026-01-01", http.StatusOK},
		{"hotel whole calendar", "/api/hotels/" + migration.DemoHotelID + "/availability/v1?from=0001-01-01&to=9999-12-31", http.StatusBadRequest},
		{"suggestions whole calendar", "/api/rooms/harbor-double/suggestions/v1?from=0001-01-01&to=9999-12-31", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, httptest.NewRequest(http.MethodGet, tt.url, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}

			if rec.Header().Get(web.RequestIDHeader) == "" {
				t.Error("request id header missing")
			}
		})
	}

	rec := do(h, httptest.NewRequest(http.MethodGet, tests[0].url, nil))
	res := decode[struct {
		Total     int  `json:"total"`
		Remaining int  `json:"remaining"`
		Nights    int  `json:"nights"`
		Available bool `json:"available"`
	}](t, rec)

	if res.Total != 6 || res.Remaining != 6 || res.Nights != 3 || !res.Available {
		t.Errorf("result = %+v", res)
	}
}

func TestCreateReservation(t *testing.T) {
	h := newServer(t)

	rec := do(h, reservationRequest("k1", "harbor-family", 2))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	first := decode[booking.Reservation](t, rec)

	rec = do(h, reservationRequest("k1", "harbor-family", 2))
	if rec.Code != http.StatusCreated {
		t.Fatalf("replay status = %d: %s", rec.Code, rec.Body.String())
	}

	if replay := decode[booking.Reservation](t, rec); replay.ID != first.ID {
		t.Errorf("replay id = %q, want %q", replay.ID, first.ID)
	}

	rec = do(h, reservationRequest("k2", "harbor-family", 1))
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("sold out status = %d: %s", rec.Code, rec.Body.String())
	}

	if body := decode[errorResponse](t, rec); body.Remaining == nil || *body.Remaining != 0 {
		t.Errorf("remaining = %v, want 0", body.Remaining)
	}

	rec = do(h, reservationRequest("", "harbor-family", 1))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing key status = %d", rec.Code)
	}

	rec = do(h, httptest.NewRequest(http.MethodGet,
		"/api/rooms/harbor-family/availability/v1?from=2025-06-02&to=2025-06-05", nil))
	if res := decode[struct {
		Remaining int `json:"remaining"`
	}](t, rec); res.Remaining != 0 {
		t.Errorf("remaining after booking = %d, want 0", res.Remaining)
	}
}

func TestCreateReservation_InvalidInput(t *testing.T) {
	h := newServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reservations/v1", strings.NewReader(
		`{"room_id":"harbor-double","check_in":"2025-06-03","check_out":"2025-06-03","units":1,"guests":1,`+
			`"guest":{"name":"Ada","email":"not-an-email"}}`))
	req.Header.Set(web.IdempotencyKeyHeader, "k1")

	rec := do(h, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	body := decode[errorResponse](t, rec)
	if _, ok := body.Fields["guest.email"]; !ok {
		t.Errorf("fields = %v, want guest.email", body.Fields)
	}
}

func TestCreateReservation_TooLong(t *testing.T) {
	h := newServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/reservations/v1", strings.NewReader(
		`{"room_id":"harbor-double","check_in":"2025-06-01","check_out":"2027-06-01","units":1,"guests":1,`+
			`"guest":{"name":"Ada","email":"ada@example.com"}}`))
	req.Header.Set(web.IdempotencyKeyHeader, "k1")

	rec := do(h, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	if body := decode[errorResponse](t, rec); !strings.Contains(body.Error, "365 nights") {
		t.Errorf("error = %q, want the night limit", body.Error)
	}
}

func TestCreateReservation_BodyTooLarge(t *testing.T) {
	h := newServer(t)

	body := `{"room_id":"harbor-double","check_in":"2025-06-01","check_out":"2025-06-03","units":1,"guests":1,` +
		`"guest":{"name":"` + strings.Repeat("a", 128<<10) + `","email":"ada@example.com"}}`

	req := httptest.NewRequest(http.MethodPost, "/api/reservations/v1", strings.NewReader(body))
	req.Header.Set(web.IdempotencyKeyHeader, "k1")

	if rec := do(h, req); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminRoutes(t *testing.T) {
	h := newServer(t)

	tests := []struct {
		name       string
		auth       string
		wantStatus int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + adminToken(t, "other", "admin"), http.StatusUnauthorized},
		{"not admin", "Bearer " + adminToken(t, adminSecret, "guest"), http.StatusForbidden},
		{"admin", "Bearer " + adminToken(t, adminSecret, "admin"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet,
				"/api/rooms/harbor-single/reservations/v1?from=2025-06-01&to=2025-06-30", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}

			if rec := do(h, req); rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestTransitions(t *testing.T) {
	h := newServer(t)
	auth := "Bearer " + adminToken(t, adminSecret, "admin")

	rec := do(h, reservationRequest("k1", "harbor-single", 1))
	r := decode[booking.Reservation](t, rec)

	steps := []struct {
		path       string
		wantStatus int
	}{
		{"check-out", http.StatusConflict},
		{"check-in", http.StatusOK},
		{"cancel", http.StatusConflict},
		{"check-out", http.StatusOK},
	}

	for _, step := range steps {
		req := httptest.NewRequest(http.MethodPost, "/api/reservations/"+r.ID+"/"+step.path+"/v1", nil)
		req.Header.Set("Authorization", auth)

		if rec := do(h, req); rec.Code != step.wantStatus {
			t.Fatalf("%s status = %d, want %d: %s", step.path, rec.Code, step.wantStatus, rec.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/reservations/missing/cancel/v1", nil)
	req.Header.Set("Authorization", auth)

	if rec := do(h, req); rec.Code != http.StatusNotFound {
		t.Errorf("missing reservation status = %d", rec.Code)
	}
}

func webhook(t *testing.T, h http.Handler, eventID, eventType, reservationID string, created time.Time) *httptest.ResponseRecorder {
	t.Helper()

	payload := []byte(fmt.Sprintf(`{"id":%q,"type":%q,"created":%d,"data":{"object":{"client_reference_id":%q}}}`,
		eventID, eventType, created.Unix(), reservationID))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payments/v1", strings.NewReader(string(payload)))
	req.Header.Set(web.SignatureHeader, payment.Sign(payload, webhookSecret, now))

	return do(h, req)
}

func TestCheckoutAndWebhook(t *testing.T) {
	h := newServer(t)

	r := decode[booking.Reservation](t, do(h, reservationRequest("k1", "harbor-double", 1)))

	req := httptest.NewRequest(http.MethodPost, "/api/reservations/"+r.ID+"/checkout/v1",
		strings.NewReader(`{"mode":"deposit"}`))

	rec := do(h, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout status = %d: %s", rec.Code, rec.Body.String())
	}

	checkout := decode[booking.Checkout](t, rec)
	if want := r.TotalCents * 30 / 100; checkout.AmountCents != want {
		t.Errorf("AmountCents = %d, want %d", checkout.AmountCents, want)
	}

	type webhookResponse struct {
		Received bool `json:"received"`
		Applied  bool `json:"applied"`
	}

	paidAt := now.Add(time.Minute)

	rec = webhook(t, h, "evt_1", "checkout.session.completed", r.ID, paidAt)
	if got := decode[webhookResponse](t, rec); rec.Code != http.StatusOK || !got.Applied {
		t.Fatalf("first delivery = %d %+v", rec.Code, got)
	}

	rec = webhook(t, h, "evt_1", "checkout.session.completed", r.ID, paidAt)
	if got := decode[webhookResponse](t, rec); rec.Code != http.StatusOK || got.Applied {
		t.Fatalf("redelivery = %d %+v", rec.Code, got)
	}

	rec = webhook(t, h, "evt_2", "customer.created", r.ID, paidAt)
	if got := decode[webhookResponse](t, rec); rec.Code != http.StatusOK || !got.Received || got.Applied {
		t.Errorf("unhandled type = %d %+v", rec.Code, got)
	}

	rec = do(h, httptest.NewRequest(http.MethodPost, "/api/reservations/"+r.ID+"/checkout/v1", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("checkout of a paid reservation status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/payments/v1", strings.NewReader(`{}`))
	req.Header.Set(web.SignatureHeader, "t=1,v1=00")

	if rec := do(h, req); rec.Code != http.StatusBadRequest {
		t.Errorf("bad signature status = %d", rec.Code)
	}
}

func TestFeed(t *testing.T) {
	ts := httptest.NewServer(newServer(t))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/feed/v1", nil)
	if err != nil {
		t.Fatal(err)
	}

	req.Header.Set("Authorization", "Bearer "+adminToken(t, adminSecret, "admin"))

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	create, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/api/reservations/v1", strings.NewReader(
		`{"room_id":"harbor-single","check_in":"2025-06-01","check_out":"2025-06-02","units":1,"guests":1,`+
			`"guest":{"name":"Ada","email":"ada@example.com"}}`))
	if err != nil {
		t.Fatal(err)
	}

	create.Header.Set(web.IdempotencyKeyHeader, "k1")

	created, err := ts.Client().Do(create)
	if err != nil {
		t.Fatal(err)
	}
	created.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == "event: "+string(booking.ChangeCreated) {
			return
		}
	}

	t.Fatalf("stream ended without a created event: %v", scanner.Err())
}

func TestLiveness(t *testing.T) {
	h := newServer(t)

	if rec := do(h, httptest.NewRequest(http.MethodGet, "/liveness", nil)); rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
}
