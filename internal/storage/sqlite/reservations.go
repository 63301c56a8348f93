package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avstrong/innkeeper/internal/availability"
	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/payment"
)

const reservationColumns = `
  id, room_id, hotel_id, check_in, check_out, units, guests, guest_name, guest_email, guest_phone,
  status, payment_status, payment_updated_at, total_cents, currency, promo_code, checkout_session_id,
  idempotency_key, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanReservation(row scanner) (*booking.Reservation, error) {
	var (
		r                booking.Reservation
		checkIn          string
		checkOut         string
		paymentUpdatedAt string
		createdAt        string
		updatedAt        string
		idempotencyKey   sql.NullString
	)

	if err := row.Scan(
		&r.ID,
		&r.RoomID,
		&r.HotelID,
		&checkIn,
		&checkOut,
		&r.Units,
		&r.Guests,
		&r.Guest.Name,
		&r.Guest.Email,
		&r.Guest.Phone,
		&r.Status,
		&r.PaymentStatus,
		&paymentUpdatedAt,
		&r.TotalCents,
		&r.Currency,
		&r.PromoCode,
		&r.CheckoutSessionID,
		&idempotencyKey,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var err error

	if r.CheckIn, err = availability.ParseDay(checkIn); err != nil {
		return nil, fmt.Errorf("reservation %s check_in: %w", r.ID, err)
	}

	if r.CheckOut, err = availability.ParseDay(checkOut); err != nil {
		return nil, fmt.Errorf("reservation %s check_out: %w", r.ID, err)
	}

	for _, ts := range []struct {
		dst *time.Time
		src string
	}{
		{&r.PaymentUpdatedAt, paymentUpdatedAt},
		{&r.CreatedAt, createdAt},
		{&r.UpdatedAt, updatedAt},
	} {
		if *ts.dst, err = parseTime(ts.src); err != nil {
			return nil, fmt.Errorf("reservation %s timestamp: %w", r.ID, err)
		}
	}

	r.IdempotencyKey = idempotencyKey.String

	return &r, nil
}

func (db *DB) queryReservations(ctx context.Context, query string, args ...any) ([]*booking.Reservation, error) {
	rows, err := db.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	reservations := []*booking.Reservation{}

	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}

		reservations = append(reservations, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}

	return reservations, nil
}

func (db *DB) SaveRooms(ctx context.Context, rooms []*booking.Room) error {
	query := `
INSERT INTO rooms (id, hotel_id, name, units, capacity, nightly_price, currency)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  hotel_id = excluded.hotel_id,
  name = excluded.name,
  units = excluded.units,
  capacity = excluded.capacity,
  nightly_price = excluded.nightly_price,
  currency = excluded.currency;`

	for _, room := range rooms {
		if _, err := db.conn(ctx).ExecContext(
			ctx,
			query,
			room.ID,
			room.HotelID,
			room.Name,
			room.Units,
			room.Capacity,
			room.NightlyPrice,
			room.Currency,
		); err != nil {
			return fmt.Errorf("save room %s: %w", room.ID, err)
		}
	}

	return nil
}

func (db *DB) GetRoom(ctx context.Context, roomID string) (*booking.Room, error) {
	var room booking.Room

	err := db.conn(ctx).QueryRowContext(
		ctx,
		"SELECT id, hotel_id, name, units, capacity, nightly_price, currency FROM rooms WHERE id = ?",
		roomID,
	).Scan(&room.ID, &room.HotelID, &room.Name, &room.Units, &room.Capacity, &room.NightlyPrice, &room.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", roomID, booking.ErrRecordNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}

	return &room, nil
}

func (db *DB) ListRooms(ctx context.Context, hotelID string) ([]*booking.Room, error) {
	rows, err := db.conn(ctx).QueryContext(
		ctx,
		"SELECT id, hotel_id, name, units, capacity, nightly_price, currency FROM rooms WHERE hotel_id = ? ORDER BY id",
		hotelID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*booking.Room

	for rows.Next() {
		var room booking.Room
		if err := rows.Scan(&room.ID, &room.HotelID, &room.Name, &room.Units, &room.Capacity, &room.NightlyPrice, &room.Currency); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}

		rooms = append(rooms, &room)
	}

	return rooms, rows.Err()
}

func (db *DB) ListActiveReservations(ctx context.Context, roomID string, stay availability.Stay) ([]*booking.Reservation, error) {
	return db.queryReservations(
		ctx,
		"SELECT"+reservationColumns+`
FROM reservations
WHERE room_id = ? AND check_in < ? AND check_out > ? AND status != ?
ORDER BY check_in, id`,
		roomID,
		stay.To.Format(availability.DateLayout),
		stay.From.Format(availability.DateLayout),
		string(booking.StatusCancelled),
	)
}

func (db *DB) ListReservations(ctx context.Context, roomID string, stay availability.Stay) ([]*booking.Reservation, error) {
	return db.queryReservations(
		ctx,
		"SELECT"+reservationColumns+`
FROM reservations
WHERE room_id = ? AND check_in < ? AND check_out > ?
ORDER BY check_in, id`,
		roomID,
		stay.To.Format(availability.DateLayout),
		stay.From.Format(availability.DateLayout),
	)
}

func (db *DB) GetReservation(ctx context.Context, id string) (*booking.Reservation, error) {
	r, err := scanReservation(db.conn(ctx).QueryRowContext(ctx, "SELECT"+reservationColumns+" FROM reservations WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, booking.ErrRecordNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}

	return r, nil
}

func (db *DB) GetReservationByIdempotencyKey(ctx context.Context) (*booking.Reservation, error) {
	key, ok := booking.IdempotencyKeyFromContext(ctx)
	if !ok || key == "" {
		return nil, booking.ErrIdempotencyKey
	}

	r, err := scanReservation(db.conn(ctx).QueryRowContext(ctx, "SELECT"+reservationColumns+" FROM reservations WHERE idempotency_key = ?", key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrRecordNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get reservation by idempotency key: %w", err)
	}

	return r, nil
}

// SaveReservation re-reads the room's reservations inside the caller's
// IMMEDIATE transaction and inserts only if the stay still fits.
func (db *DB) SaveReservation(ctx context.Context, r *booking.Reservation) error {
	tx, ok := transactionFromContext(ctx)
	if !ok {
		return ErrTransactionNotFoundInCtx
	}

	room, err := db.GetRoom(ctx, r.RoomID)
	if err != nil {
		return err
	}

	// A retry of a committed intake must find its reservation, not a full room.
	if r.IdempotencyKey != "" {
		var exists int

		err := tx.QueryRowContext(ctx, "SELECT 1 FROM reservations WHERE idempotency_key = ?", r.IdempotencyKey).Scan(&exists)
		if err == nil {
			return booking.ErrDuplicateIdempotencyKey
		}

		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("look up idempotency key: %w", err)
		}
	}

	active, err := db.ListActiveReservations(ctx, r.RoomID, r.Stay())
	if err != nil {
		return err
	}

	if err := availability.Admit(room.Units, booking.Intervals(active), r.Stay(), r.Units); err != nil {
		return err
	}

	var idempotencyKey sql.NullString
	if r.IdempotencyKey != "" {
		idempotencyKey = sql.NullString{String: r.IdempotencyKey, Valid: true}
	}

	_, err = tx.ExecContext(
		ctx,
		"INSERT INTO reservations ("+reservationColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		r.ID,
		r.RoomID,
		r.HotelID,
		r.CheckIn.Format(availability.DateLayout),
		r.CheckOut.Format(availability.DateLayout),
		r.Units,
		r.Guests,
		r.Guest.Name,
		r.Guest.Email,
		r.Guest.Phone,
		string(r.Status),
		string(r.PaymentStatus),
		formatTime(r.PaymentUpdatedAt),
		r.TotalCents,
		r.Currency,
		r.PromoCode,
		r.CheckoutSessionID,
		idempotencyKey,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return booking.ErrDuplicateIdempotencyKey
	}

	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", r.ID, err)
	}

	return nil
}

func (db *DB) SaveEvent(ctx context.Context, event *booking.ChangeEvent) error {
	_, err := db.conn(ctx).ExecContext(
		ctx,
		`
INSERT OR IGNORE INTO change_events (id, kind, reservation_id, room_id, hotel_id, status, payment_status, check_in, check_out, at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		event.ID,
		string(event.Kind),
		event.ReservationID,
		event.RoomID,
		event.HotelID,
		string(event.Status),
		string(event.PaymentStatus),
		event.CheckIn.Format(availability.DateLayout),
		event.CheckOut.Format(availability.DateLayout),
		formatTime(event.At),
	)
	if err != nil {
		return fmt.Errorf("save change event %s: %w", event.ID, err)
	}

	return nil
}

func (db *DB) UpdateReservationStatus(
	ctx context.Context,
	id string,
	from, to booking.Status,
	at time.Time,
) (*booking.Reservation, error) {
	var updated *booking.Reservation

	err := db.inTransaction(ctx, func(ctx context.Context) error {
		res, err := db.conn(ctx).ExecContext(
			ctx,
			"UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
			string(to),
			formatTime(at),
			id,
			string(from),
		)
		if err != nil {
			return fmt.Errorf("update reservation %s status: %w", id, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update reservation %s status: %w", id, err)
		}

		current, err := db.GetReservation(ctx, id)
		if err != nil {
			return err
		}

		if affected == 0 {
			return fmt.Errorf("reservation %s is %s, expected %s: %w", id, current.Status, from, booking.ErrConflict)
		}

		updated = current

		return nil
	})

	return updated, err
}

func (db *DB) SetCheckoutSession(ctx context.Context, id, sessionID string, at time.Time) error {
	res, err := db.conn(ctx).ExecContext(
		ctx,
		"UPDATE reservations SET checkout_session_id = ?, updated_at = ? WHERE id = ?",
		sessionID,
		formatTime(at),
		id,
	)
	if err != nil {
		return fmt.Errorf("set checkout session for %s: %w", id, err)
	}

	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("reservation %s: %w", id, booking.ErrRecordNotFound)
	}

	return nil
}

// ApplyPaymentEvent records the event id and the new payment status in one
// transaction. The primary key on payment_events makes redelivery a no-op.
func (db *DB) ApplyPaymentEvent(
	ctx context.Context,
	event *payment.Event,
	at time.Time,
) (*booking.Reservation, bool, error) {
	var (
		current *booking.Reservation
		applied bool
	)

	err := db.inTransaction(ctx, func(ctx context.Context) error {
		var err error

		current, err = db.GetReservation(ctx, event.ReservationID)
		if err != nil {
			return err
		}

		res, err := db.conn(ctx).ExecContext(
			ctx,
			"INSERT OR IGNORE INTO payment_events (id, reservation_id, processed_at) VALUES (?, ?, ?)",
			event.ID,
			event.ReservationID,
			formatTime(at),
		)
		if err != nil {
			return fmt.Errorf("record payment event %s: %w", event.ID, err)
		}

		if affected, err := res.RowsAffected(); err != nil || affected == 0 {
			return err
		}

		if !current.AcceptsPayment(event) {
			db.l.LogInfo("Payment event %v does not move the payment of %v from %v", event.ID, current.ID, current.PaymentStatus)

			return nil
		}

		if _, err := db.conn(ctx).ExecContext(
			ctx,
			"UPDATE reservations SET payment_status = ?, payment_updated_at = ?, updated_at = ? WHERE id = ?",
			string(event.Status),
			formatTime(event.OccurredAt),
			formatTime(at),
			current.ID,
		); err != nil {
			return fmt.Errorf("update payment status of %s: %w", current.ID, err)
		}

		current.PaymentStatus = event.Status
		current.PaymentUpdatedAt = event.OccurredAt.UTC()
		current.UpdatedAt = at.UTC()
		applied = true

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return current, applied, nil
}
