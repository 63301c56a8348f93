package booking_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/avstrong/innkeeper/internal/availability"
	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/idgen/simple"
	"github.com/avstrong/innkeeper/internal/logger"
	"github.com/avstrong/innkeeper/internal/payment"
	"github.com/avstrong/innkeeper/internal/pricing"
	"github.com/avstrong/innkeeper/internal/storage/memory"
)

var now = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu       sync.Mutex
	requests []payment.SessionRequest
	err      error
}

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.err != nil {
		return nil, g.err
	}

	g.requests = append(g.requests, req)

	return &payment.Session{ID: fmt.Sprintf("cs_%d", len(g.requests)), URL: "https://pay.example/cs"}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []*booking.ChangeEvent
}

func (r *recorder) Publish(_ context.Context, event *booking.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *recorder) kinds() []booking.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make([]booking.ChangeKind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}

	return kinds
}

type fixture struct {
	db        *memory.DB
	manager   *booking.Manager
	gateway   *fakeGateway
	published *recorder
}

func newFixture(t *testing.T, rooms ...*booking.Room) *fixture {
	t.Helper()

	db := memory.New(memory.Config{L: logger.Discard()})

	ctx, err := db.BeginTransaction(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	if err := db.SaveRooms(ctx, rooms); err != nil {
		t.Fatal(err)
	}

	if err := db.CommitTransaction(ctx); err != nil {
		t.Fatal(err)
	}

	f := &fixture{db: db, gateway: &fakeGateway{}, published: &recorder{}}

	catalog, err := pricing.ParseCatalog("SUMMER10:10:2025-12-31")
	if err != nil {
		t.Fatal(err)
	}

	f.manager = booking.New(logger.Discard(), db, simple.New("id-"), booking.Conf{
		Gateway:        f.gateway,
		Publisher:      f.published,
		Promos:         catalog,
		DepositPercent: 30,
		SuggestHorizon: 10,
		Now:            func() time.Time { return now },
	})

	return f
}

func room(id string, units int) *booking.Room {
	return &booking.Room{
		ID:           id,
		HotelID:      "h1",
		Name:         "Room " + id,
		Units:        units,
		Capacity:     2,
		NightlyPrice: 100,
		Currency:     "usd",
	}
}

func input(roomID, in, out string, units int) *booking.ReservationInput {
	return &booking.ReservationInput{
		RoomID:   roomID,
		CheckIn:  in,
		CheckOut: out,
		Units:    units,
		Guests:   units,
		Guest:    booking.Guest{Name: "Ada Lovelace", Email: "ada@example.com"},
	}
}

func keyed(key string) context.Context {
	return booking.NewContextWithIdempotencyKey(context.Background(), key)
}

func stay(from, to string) availability.Stay {
	f, _ := availability.ParseDay(from)
	t, _ := availability.ParseDay(to)

	return availability.NewStay(f, t)
}

func TestCreateReservation(t *testing.T) {
	f := newFixture(t, room("r1", 2))

	r, err := f.manager.CreateReservation(keyed("k1"), input("r1", "2025-06-01", "2025-06-03", 1))
	if err != nil {
		t.Fatalf("CreateReservation() error = %v", err)
	}

	if r.Status != booking.StatusConfirmed || r.PaymentStatus != payment.StatusPending {
		t.Errorf("status = %v/%v, want confirmed/pending", r.Status, r.PaymentStatus)
	}

	if r.TotalCents != 20000 {
		t.Errorf("TotalCents = %d, want 20000", r.TotalCents)
	}

	if got := f.published.kinds(); len(got) != 1 || got[0] != booking.ChangeCreated {
		t.Errorf("published = %v, want one %v", got, booking.ChangeCreated)
	}

	if len(f.db.Events(context.Background())) != 1 {
		t.Error("change event was not stored with the reservation")
	}
}

func TestCreateReservation_Rejected(t *testing.T) {
	f := newFixture(t, room("r1", 1))

	if _, err := f.manager.CreateReservation(keyed("k1"), input("r1", "2025-07-01", "2025-07-05", 1)); err != nil {
		t.Fatal(err)
	}

	past := input("r1", "2024-12-30", "2025-01-02", 1)
	badEmail := input("r1", "2025-08-01", "2025-08-02", 1)
	badEmail.Guest.Email = "nope"
	crowded := input("r1", "2025-08-01", "2025-08-02", 1)
	crowded.Guests = 3
	promo := input("r1", "2025-08-01", "2025-08-02", 1)
	promo.PromoCode = "WINTER"
	pastAndEmpty := input("r1", "2024-12-30", "2025-01-02", 2)
	pastAndEmpty.Guests = 1

	tests := []struct {
		name  string
		ctx   context.Context
		input *booking.ReservationInput
		check func(t *testing.T, err error)
	}{
		{
			name:  "no nights left",
			ctx:   keyed("k2"),
			input: input("r1", "2025-07-03", "2025-07-04", 1),
			check: func(t *testing.T, err error) {
				inventoryErr := availability.IsInsufficientInventoryError(err)
				if inventoryErr == nil || inventoryErr.Remaining != 0 {
					t.Errorf("error = %v, want InsufficientInventoryError with remaining 0", err)
				}
			},
		},
		{
			name:  "zero nights",
			ctx:   keyed("k3"),
			input: input("r1", "2025-08-01", "2025-08-01", 1),
			check: func(t *testing.T, err error) {
				if availability.IsInvalidRangeError(err) == nil {
					t.Errorf("error = %v, want InvalidRangeError", err)
				}
			},
		},
		{
			name:  "missing idempotency key",
			ctx:   context.Background(),
			input: input("r1", "2025-08-01", "2025-08-02", 1),
			check: func(t *testing.T, err error) {
				if !errors.Is(err, booking.ErrIdempotencyKey) {
					t.Errorf("error = %v, want ErrIdempotencyKey", err)
				}
			},
		},
		{
			name:  "unknown room",
			ctx:   keyed("k4"),
			input: input("r9", "2025-08-01", "2025-08-02", 1),
			check: func(t *testing.T, err error) {
				if !errors.Is(err, booking.ErrRecordNotFound) {
					t.Errorf("error = %v, want ErrRecordNotFound", err)
				}
			},
		},
		{name: "past check-in", ctx: keyed("k5"), input: past, check: wantField("check_in")},
		{name: "invalid email", ctx: keyed("k6"), input: badEmail, check: wantField("guest.email")},
		{name: "too many guests", ctx: keyed("k7"), input: crowded, check: wantField("guests")},
		{name: "unknown promo code", ctx: keyed("k8"), input: promo, check: wantField("promo_code")},
		{
			name:  "longer than the night limit",
			ctx:   keyed("k9"),
			input: input("r1", "2025-08-01", "2026-08-02", 1),
			check: func(t *testing.T, err error) {
				if availability.IsInvalidRangeError(err) == nil {
					t.Errorf("error = %v, want InvalidRangeError", err)
				}
			},
		},
		{
			name:  "every field problem is reported",
			ctx:   keyed("k10"),
			input: pastAndEmpty,
			check: func(t *testing.T, err error) {
				wantField("check_in")(t, err)
				wantField("guests")(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.CreateReservation(tt.ctx, tt.input)
			tt.check(t, err)
		})
	}
}

func wantField(field string) func(t *testing.T, err error) {
	return func(t *testing.T, err error) {
		t.Helper()

		inputErr := booking.IsInputError(err)
		if inputErr == nil {
			t.Fatalf("error = %v, want InputError", err)
		}

		if _, ok := inputErr.Fields()[field]; !ok {
			t.Errorf("fields = %v, want %q", inputErr.Fields(), field)
		}
	}
}

func TestCreateReservation_Idempotent(t *testing.T) {
	f := newFixture(t, room("r1", 3))

	first, err := f.manager.CreateReservation(keyed("same"), input("r1", "2025-06-01", "2025-06-03", 1))
	if err != nil {
		t.Fatal(err)
	}

	second, err := f.manager.CreateReservation(keyed("same"), input("r1", "2025-06-01", "2025-06-03", 1))
	if err != nil {
		t.Fatal(err)
	}

	if first.ID != second.ID {
		t.Errorf("retry created %v, want %v", second.ID, first.ID)
	}

	res, _ := f.manager.RoomAvailability(context.Background(), "r1", stay("2025-06-01", "2025-06-03"))
	if res.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2", res.Remaining)
	}
}

func TestCreateReservation_PromoCode(t *testing.T) {
	f := newFixture(t, room("r1", 1))

	in := input("r1", "2025-06-01", "2025-06-04", 1)
	in.PromoCode = "SUMMER10"

	r, err := f.manager.CreateReservation(keyed("k1"), in)
	if err != nil {
		t.Fatal(err)
	}

	if r.TotalCents != 27000 || r.PromoCode != "SUMMER10" {
		t.Errorf("total = %d promo = %q, want 27000 SUMMER10", r.TotalCents, r.PromoCode)
	}
}

func TestCreateReservation_ConcurrentNeverOverbooks(t *testing.T) {
	const (
		units    = 3
		attempts = 25
	)

	f := newFixture(t, room("r1", units))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)

	for i := range attempts {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := f.manager.CreateReservation(keyed(fmt.Sprintf("k%d", i)), input("r1", "2025-09-10", "2025-09-12", 1))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				succeeded++
			case availability.IsInsufficientInventoryError(err) != nil:
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if succeeded != units || rejected != attempts-units {
		t.Errorf("succeeded = %d rejected = %d, want %d and %d", succeeded, rejected, units, attempts-units)
	}

	res, err := f.manager.RoomAvailability(context.Background(), "r1", stay("2025-09-10", "2025-09-12"))
	if err != nil {
		t.Fatalf("RoomAvailability() error = %v", err)
	}

	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
}

func TestTransitions(t *testing.T) {
	f := newFixture(t, room("r1", 1))
	ctx := context.Background()

	r, err := f.manager.CreateReservation(keyed("k1"), input("r1", "2025-06-01", "2025-06-03", 1))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.manager.CheckOut(ctx, r.ID); booking.IsTransitionError(err) == nil {
		t.Errorf("CheckOut() from confirmed = %v, want TransitionError", err)
	}

	if _, err := f.manager.CheckIn(ctx, r.ID); err != nil {
		t.Fatalf("CheckIn() error = %v", err)
	}

	if _, err := f.manager.Cancel(ctx, r.ID); booking.IsTransitionError(err) == nil {
		t.Errorf("Cancel() after check-in = %v, want TransitionError", err)
	}

	out, err := f.manager.CheckOut(ctx, r.ID)
	if err != nil || out.Status != booking.StatusCheckedOut {
		t.Fatalf("CheckOut() = %v, %v", out, err)
	}

	res, _ := f.manager.RoomAvailability(ctx, "r1", stay("2025-06-01", "2025-06-03"))
	if res.Remaining != 0 {
		t.Errorf("checked-out stay released its nights: remaining %d", res.Remaining)
	}

	if _, err := f.manager.CheckIn(ctx, "missing"); !errors.Is(err, booking.ErrRecordNotFound) {
		t.Errorf("CheckIn() unknown id = %v, want ErrRecordNotFound", err)
	}
}

func TestCancel_ReleasesInventory(t *testing.T) {
	f := newFixture(t, room("r1", 1))
	ctx := context.Background()

	r, err := f.manager.CreateReservation(keyed("k1"), input("r1", "2025-06-01", "2025-06-03", 1))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.manager.Cancel(ctx, r.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if _, err := f.manager.CreateReservation(keyed("k2"), input("r1", "2025-06-02", "2025-06-03", 1)); err != nil {
		t.Errorf("CreateReservation() after cancel = %v", err)
	}

	want := []booking.ChangeKind{booking.ChangeCreated, booking.ChangeStatus, booking.ChangeCreated}
	if got := f.published.kinds(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("published = %v, want %v", got, want)
	}
}

func TestHotelAvailability(t *testing.T) {
	f := newFixture(t, room("r1", 1), room("r2", 3))

	if _, err := f.manager.CreateReservation(keyed("k1"), input("r2", "2025-06-01", "2025-06-03", 2)); err != nil {
		t.Fatal(err)
	}

	got, err := f.manager.HotelAvailability(context.Background(), "h1", stay("2025-06-02", "2025-06-04"), 3)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d rooms, want 2", len(got))
	}

	// 3 guests at capacity 2 need 2 units.
	if got[0].UnitsNeeded != 2 || got[0].Fits {
		t.Errorf("r1 = %+v, want 2 units needed and no fit", got[0])
	}

	if got[1].Result.Remaining != 1 || got[1].Fits {
		t.Errorf("r2 = %+v, want remaining 1 and no fit", got[1])
	}

	if _, err := f.manager.HotelAvailability(context.Background(), "h9", stay("2025-06-02", "2025-06-04"), 1); !errors.Is(err, booking.ErrRecordNotFound) {
		t.Errorf("unknown hotel = %v, want ErrRecordNotFound", err)
	}
}

func TestSuggestStays(t *testing.T) {
	f := newFixture(t, room("r1", 1))

	if _, err := f.manager.CreateReservation(keyed("k1"), input("r1", "2025-06-01", "2025-06-04", 1)); err != nil {
		t.Fatal(err)
	}

	got, err := f.manager.SuggestStays(context.Background(), "r1", stay("2025-06-02", "2025-06-03"), 1)
	if err != nil {
		t.Fatal(err)
	}

	if len(got) == 0 || got[0] != stay("2025-06-04", "2025-06-05") {
		t.Errorf("SuggestStays() = %v, want first 2025-06-04..2025-06-05", got)
	}
}

func TestCheckoutAndReconcile(t *testing.T) {
	f := newFixture(t, room("r1", 1))
	ctx := context.Background()

	r, err := f.manager.CreateReservation(keyed("k1"), input("r1", "2025-06-01", "2025-06-03", 1))
	if err != nil {
		t.Fatal(err)
	}

	checkout, err := f.manager.StartCheckout(ctx, r.ID, pricing.ModeDeposit)
	if err != nil {
		t.Fatalf("StartCheckout() error = %v", err)
	}

	if checkout.AmountCents != 6000 || f.gateway.requests[0].AmountCents != 6000 {
		t.Errorf("deposit = %d, want 6000", checkout.AmountCents)
	}

	paid := &payment.Event{ID: "evt_1", ReservationID: r.ID, Status: payment.StatusPaid, OccurredAt: now.Add(2 * time.Hour)}

	applied, err := f.manager.ReconcilePayment(ctx, paid)
	if err != nil || !applied {
		t.Fatalf("ReconcilePayment() = %v, %v", applied, err)
	}

	if applied, _ := f.manager.ReconcilePayment(ctx, paid); applied {
		t.Error("duplicate event applied")
	}

	stale := &payment.Event{ID: "evt_0", ReservationID: r.ID, Status: payment.StatusFailed, OccurredAt: now.Add(time.Hour)}
	if applied, _ := f.manager.ReconcilePayment(ctx, stale); applied {
		t.Error("out-of-order event applied")
	}

	got, _ := f.manager.GetReservation(ctx, r.ID)
	if got.PaymentStatus != payment.StatusPaid || got.CheckoutSessionID != "cs_1" {
		t.Errorf("reservation = %+v", got)
	}

	if _, err := f.manager.StartCheckout(ctx, r.ID, pricing.ModeFull); !errors.Is(err, booking.ErrNotPayable) {
		t.Errorf("StartCheckout() on paid reservation = %v, want ErrNotPayable", err)
	}
}

func TestReconcilePayment_AbandonedSession(t *testing.T) {
	f := newFixture(t, room("r1", 1))
	ctx := context.Background()

	r, err := f.manager.CreateReservation(keyed("k1"), input("r1", "2025-06-01", "2025-06-03", 1))
	if err != nil {
		t.Fatal(err)
	}

	for range 2 {
		if _, err := f.manager.StartCheckout(ctx, r.ID, pricing.ModeFull); err != nil {
			t.Fatalf("StartCheckout() error = %v", err)
		}
	}

	event := func(id string, status payment.Status, sessionID string, after time.Duration) *payment.Event {
		return &payment.Event{ID: id, ReservationID: r.ID, SessionID: sessionID, Status: status, OccurredAt: now.Add(after)}
	}

	steps := []struct {
		name        string
		event       *payment.Event
		wantApplied bool
		wantStatus  payment.Status
	}{
		{"first session expires while second is open", event("evt_1", payment.StatusFailed, "cs_1", time.Hour), false, payment.StatusPending},
		{"second session paid", event("evt_2", payment.StatusPaid, "cs_2", 2*time.Hour), true, payment.StatusPaid},
		{"first session expires after payment", event("evt_3", payment.StatusFailed, "cs_1", 25*time.Hour), false, payment.StatusPaid},
		{"failure after payment", event("evt_4", payment.StatusFailed, "", 26*time.Hour), false, payment.StatusPaid},
		{"refund", event("evt_5", payment.StatusRefunded, "", 27*time.Hour), true, payment.StatusRefunded},
		{"payment after refund", event("evt_6", payment.StatusPaid, "cs_2", 28*time.Hour), false, payment.StatusRefunded},
	}

	for _, step := range steps {
		applied, err := f.manager.ReconcilePayment(ctx, step.event)
		if err != nil || applied != step.wantApplied {
			t.Fatalf("%s: ReconcilePayment() = %v, %v, want applied %v", step.name, applied, err, step.wantApplied)
		}

		got, _ := f.manager.GetReservation(ctx, r.ID)
		if got.PaymentStatus != step.wantStatus {
			t.Fatalf("%s: payment status = %q, want %q", step.name, got.PaymentStatus, step.wantStatus)
		}
	}

	if _, err := f.manager.StartCheckout(ctx, r.ID, pricing.ModeFull); !errors.Is(err, booking.ErrNotPayable) {
		t.Errorf("StartCheckout() after refund = %v, want ErrNotPayable", err)
	}
}

func TestStartCheckout_GatewayDown(t *testing.T) {
	f := newFixture(t, room("r1", 1))
	f.gateway.err = payment.ErrGateway

	r, err := f.manager.CreateReservation(keyed("k1"), input("r1", "2025-06-01", "2025-06-03", 1))
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.manager.StartCheckout(context.Background(), r.ID, pricing.ModeFull)
	if booking.IsUpstreamUnavailableError(err) == nil || !errors.Is(err, payment.ErrGateway) {
		t.Errorf("StartCheckout() = %v, want UpstreamUnavailableError wrapping ErrGateway", err)
	}
}

type brokenStore struct {
	*memory.DB
}

func (brokenStore) ListActiveReservations(context.Context, string, availability.Stay) ([]*booking.Reservation, error) {
	return nil, errors.New("connection refused")
}

func TestRoomAvailability_UpstreamUnavailable(t *testing.T) {
	f := newFixture(t, room("r1", 1))
	manager := booking.New(logger.Discard(), brokenStore{f.db}, simple.New("id-"), booking.Conf{})

	_, err := manager.RoomAvailability(context.Background(), "r1", stay("2025-06-01", "2025-06-02"))
	if booking.IsUpstreamUnavailableError(err) == nil {
		t.Errorf("RoomAvailability() = %v, want UpstreamUnavailableError", err)
	}
}
