package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avstrong/innkeeper/internal/availability"
	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/logger"
	"github.com/avstrong/innkeeper/internal/payment"
	"github.com/avstrong/innkeeper/internal/storage/memory"
)

func date(month, day int) time.Time {
	return time.Date(2025, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func newDB(t *testing.T, units int) *memory.DB {
	t.Helper()

	db := memory.New(memory.Config{L: logger.Discard()})

	ctx, err := db.BeginTransaction(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	if err := db.SaveRooms(ctx, []*booking.Room{{ID: "r1", HotelID: "h1", Units: units, Capacity: 2}}); err != nil {
		t.Fatal(err)
	}

	if err := db.CommitTransaction(ctx); err != nil {
		t.Fatal(err)
	}

	return db
}

func reservation(id, key string, in, out time.Time, units int) *booking.Reservation {
	return &booking.Reservation{
		ID:               id,
		RoomID:           "r1",
		CheckIn:          in,
		CheckOut:         out,
		Units:            units,
		Status:           booking.StatusConfirmed,
		PaymentStatus:    payment.StatusPending,
		PaymentUpdatedAt: date(1, 1),
		IdempotencyKey:   key,
	}
}

func save(db *memory.DB, r *booking.Reservation) error {
	ctx, err := db.BeginTransaction(context.Background(), "")
	if err != nil {
		return err
	}

	if err := db.SaveReservation(ctx, r); err != nil {
		_ = db.RollbackTransaction(ctx)

		return err
	}

	return db.CommitTransaction(ctx)
}

func TestCommitTransaction_GuardsInventory(t *testing.T) {
	db := newDB(t, 2)

	if err := save(db, reservation("a", "k1", date(6, 1), date(6, 4), 2)); err != nil {
		t.Fatalf("first save: %v", err)
	}

	err := save(db, reservation("b", "k2", date(6, 3), date(6, 5), 1))
	if availability.IsInsufficientInventoryError(err) == nil {
		t.Fatalf("overlapping save error = %v, want InsufficientInventoryError", err)
	}

	if _, err := db.GetReservation(context.Background(), "b"); !errors.Is(err, booking.ErrRecordNotFound) {
		t.Errorf("rejected reservation was stored: %v", err)
	}

	if err := save(db, reservation("c", "k3", date(6, 4), date(6, 5), 2)); err != nil {
		t.Errorf("save starting on check-out day: %v", err)
	}
}

func TestCommitTransaction_StagedReservationsCountTogether(t *testing.T) {
	db := newDB(t, 1)

	ctx, _ := db.BeginTransaction(context.Background(), "")
	_ = db.SaveReservation(ctx, reservation("a", "k1", date(6, 1), date(6, 3), 1))
	_ = db.SaveReservation(ctx, reservation("b", "k2", date(6, 2), date(6, 4), 1))

	if err := db.CommitTransaction(ctx); availability.IsInsufficientInventoryError(err) == nil {
		t.Fatalf("CommitTransaction() = %v, want InsufficientInventoryError", err)
	}

	if _, err := db.GetReservation(context.Background(), "a"); err == nil {
		t.Error("partial commit: reservation a stored")
	}
}

func TestCommitTransaction_DuplicateIdempotencyKey(t *testing.T) {
	db := newDB(t, 5)

	if err := save(db, reservation("a", "same", date(6, 1), date(6, 2), 1)); err != nil {
		t.Fatal(err)
	}

	err := save(db, reservation("b", "same", date(6, 1), date(6, 2), 1))
	if !errors.Is(err, booking.ErrDuplicateIdempotencyKey) {
		t.Fatalf("save error = %v, want ErrDuplicateIdempotencyKey", err)
	}

	ctx := booking.NewContextWithIdempotencyKey(context.Background(), "same")

	got, err := db.GetReservationByIdempotencyKey(ctx)
	if err != nil || got.ID != "a" {
		t.Errorf("GetReservationByIdempotencyKey() = %v, %v", got, err)
	}
}

func TestRollbackTransaction(t *testing.T) {
	db := newDB(t, 1)

	ctx, _ := db.BeginTransaction(context.Background(), "")
	_ = db.SaveReservation(ctx, reservation("a", "k1", date(6, 1), date(6, 2), 1))

	if err := db.RollbackTransaction(ctx); err != nil {
		t.Fatal(err)
	}

	if err := db.CommitTransaction(ctx); !errors.Is(err, memory.ErrUnknownTransaction) {
		t.Errorf("commit after rollback = %v, want ErrUnknownTransaction", err)
	}

	if err := db.SaveReservation(context.Background(), reservation("x", "", date(6, 1), date(6, 2), 1)); !errors.Is(err, memory.ErrNoTransaction) {
		t.Errorf("save without transaction = %v", err)
	}
}

func TestUpdateReservationStatus(t *testing.T) {
	db := newDB(t, 1)
	ctx := context.Background()

	_ = save(db, reservation("a", "k1", date(6, 1), date(6, 3), 1))

	if _, err := db.UpdateReservationStatus(ctx, "a", booking.StatusCheckedIn, booking.StatusCheckedOut, date(6, 1)); !errors.Is(err, booking.ErrConflict) {
		t.Errorf("stale update = %v, want ErrConflict", err)
	}

	updated, err := db.UpdateReservationStatus(ctx, "a", booking.StatusConfirmed, booking.StatusCancelled, date(6, 1))
	if err != nil || updated.Status != booking.StatusCancelled {
		t.Fatalf("UpdateReservationStatus() = %v, %v", updated, err)
	}

	active, _ := db.ListActiveReservations(ctx, "r1", availability.NewStay(date(6, 1), date(6, 3)))
	if len(active) != 0 {
		t.Errorf("cancelled reservation still active: %v", active)
	}

	all, _ := db.ListReservations(ctx, "r1", availability.NewStay(date(6, 1), date(6, 3)))
	if len(all) != 1 {
		t.Errorf("ListReservations() returned %d, want 1", len(all))
	}
}

func TestApplyPaymentEvent(t *testing.T) {
	db := newDB(t, 1)
	ctx := context.Background()

	_ = save(db, reservation("a", "k1", date(6, 1), date(6, 3), 1))

	paid := &payment.Event{ID: "evt_1", ReservationID: "a", Status: payment.StatusPaid, OccurredAt: date(1, 3)}

	got, applied, err := db.ApplyPaymentEvent(ctx, paid, date(1, 3))
	if err != nil || !applied || got.PaymentStatus != payment.StatusPaid {
		t.Fatalf("ApplyPaymentEvent() = %v, %v, %v", got, applied, err)
	}

	if _, applied, _ := db.ApplyPaymentEvent(ctx, paid, date(1, 4)); applied {
		t.Error("redelivered event applied twice")
	}

	stale := &payment.Event{ID: "evt_0", ReservationID: "a", Status: payment.StatusFailed, OccurredAt: date(1, 2)}

	got, applied, _ = db.ApplyPaymentEvent(ctx, stale, date(1, 4))
	if applied || got.PaymentStatus != payment.StatusPaid {
		t.Errorf("stale event changed payment status to %v", got.PaymentStatus)
	}

	missing := &payment.Event{ID: "evt_2", ReservationID: "nope", Status: payment.StatusPaid, OccurredAt: date(1, 3)}
	if _, _, err := db.ApplyPaymentEvent(ctx, missing, date(1, 4)); !errors.Is(err, booking.ErrRecordNotFound) {
		t.Errorf("unknown reservation = %v, want ErrRecordNotFound", err)
	}
}

func TestApplyPaymentEvent_AbandonedSession(t *testing.T) {
	db := newDB(t, 1)
	ctx := context.Background()

	if err := save(db, reservation("a", "k1", date(6, 1), date(6, 3), 1)); err != nil {
		t.Fatal(err)
	}

	for _, sessionID := range []string{"cs_a", "cs_b"} {
		if err := db.SetCheckoutSession(ctx, "a", sessionID, date(1, 2)); err != nil {
			t.Fatal(err)
		}
	}

	steps := []struct {
		event       *payment.Event
		wantApplied bool
		wantStatus  payment.Status
	}{
		{&payment.Event{ID: "evt_paid_b", ReservationID: "a", SessionID: "cs_b", Status: payment.StatusPaid, OccurredAt: date(1, 3)}, true, payment.StatusPaid},
		{&payment.Event{ID: "evt_expired_a", ReservationID: "a", SessionID: "cs_a", Status: payment.StatusFailed, OccurredAt: date(1, 5)}, false, payment.StatusPaid},
		{&payment.Event{ID: "evt_failed_b", ReservationID: "a", SessionID: "cs_b", Status: payment.StatusFailed, OccurredAt: date(1, 6)}, false, payment.StatusPaid},
		{&payment.Event{ID: "evt_refund", ReservationID: "a", Status: payment.StatusRefunded, OccurredAt: date(1, 7)}, true, payment.StatusRefunded},
	}

	for _, step := range steps {
		_, applied, err := db.ApplyPaymentEvent(ctx, step.event, date(1, 8))
		if err != nil || applied != step.wantApplied {
			t.Fatalf("%s: applied = %v, err = %v, want applied %v", step.event.ID, applied, err, step.wantApplied)
		}

		stored, err := db.GetReservation(ctx, "a")
		if err != nil {
			t.Fatal(err)
		}

		if stored.PaymentStatus != step.wantStatus {
			t.Fatalf("%s: payment status = %q, want %q", step.event.ID, stored.PaymentStatus, step.wantStatus)
		}
	}
}
