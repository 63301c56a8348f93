package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/avstrong/innkeeper/internal/availability"
	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/logger"
	"github.com/avstrong/innkeeper/internal/payment"
)

type Config struct {
	L *logger.Logger
}

// transaction stages writes until commit. Nothing staged is visible to
// readers, so rollback only has to forget it.
type transaction struct {
	id                       int64
	roomModifications        map[string]*booking.Room
	reservationModifications []*booking.Reservation
	eventModifications       []*booking.ChangeEvent
}

type DB struct {
	mu                         sync.Mutex
	l                          *logger.Logger
	rooms                      map[string]*booking.Room
	reservations               map[string]*booking.Reservation
	roomReservations           map[string][]string
	events                     []*booking.ChangeEvent
	transactions               map[int64]*transaction
	nextTrxID                  int64
	reservationIdempotencyKeys map[string]string
	paymentEvents              map[string]struct{}
}

func New(conf Config) *DB {
	//nolint:exhaustruct
	return &DB{
		l:                          conf.L,
		rooms:                      make(map[string]*booking.Room),
		reservations:               make(map[string]*booking.Reservation),
		roomReservations:           make(map[string][]string),
		transactions:               make(map[int64]*transaction),
		reservationIdempotencyKeys: make(map[string]string),
		paymentEvents:              make(map[string]struct{}),
	}
}

func (db *DB) BeginTransaction(ctx context.Context, _ string) (context.Context, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextTrxID++
	trxID := db.nextTrxID

	db.transactions[trxID] = &transaction{
		id:                trxID,
		roomModifications: make(map[string]*booking.Room),
	}

	return withTransaction(ctx, trxID), nil
}

// trx must be called with db.mu held.
func (db *DB) trx(ctx context.Context) (*transaction, error) {
	trxID, ok := transactionFromContext(ctx)
	if !ok {
		return nil, ErrNoTransaction
	}

	trx, exists := db.transactions[trxID]
	if !exists {
		return nil, fmt.Errorf("transaction %d: %w", trxID, ErrUnknownTransaction)
	}

	return trx, nil
}

// CommitTransaction applies staged writes only after every staged
// reservation still fits its room next to what is already stored. Either
// everything is applied or nothing is.
func (db *DB) CommitTransaction(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	trx, err := db.trx(ctx)
	if err != nil {
		return err
	}

	delete(db.transactions, trx.id)

	if err := db.admit(trx); err != nil {
		return err
	}

	for id, room := range trx.roomModifications {
		db.rooms[id] = room
	}

	for _, reservation := range trx.reservationModifications {
		db.reservations[reservation.ID] = reservation
		db.roomReservations[reservation.RoomID] = append(db.roomReservations[reservation.RoomID], reservation.ID)

		if reservation.IdempotencyKey != "" {
			db.reservationIdempotencyKeys[reservation.IdempotencyKey] = reservation.ID
		}
	}

	db.events = append(db.events, trx.eventModifications...)

	return nil
}

func (db *DB) admit(trx *transaction) error {
	staged := make(map[string][]availability.Interval)

	for _, reservation := range trx.reservationModifications {
		if _, ok := db.reservationIdempotencyKeys[reservation.IdempotencyKey]; ok && reservation.IdempotencyKey != "" {
			return booking.ErrDuplicateIdempotencyKey
		}

		room, ok := trx.roomModifications[reservation.RoomID]
		if !ok {
			room, ok = db.rooms[reservation.RoomID]
		}

		if !ok {
			return fmt.Errorf("room %s: %w", reservation.RoomID, booking.ErrRecordNotFound)
		}

		stay := reservation.Stay()
		intervals := append(booking.Intervals(db.overlapping(reservation.RoomID, stay, true)), staged[room.ID]...)

		if err := availability.Admit(room.Units, intervals, stay, reservation.Units); err != nil {
			return err
		}

		staged[room.ID] = append(staged[room.ID], reservation.Interval())
	}

	return nil
}

func (db *DB) RollbackTransaction(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	trx, err := db.trx(ctx)
	if err != nil {
		return err
	}

	delete(db.transactions, trx.id)

	return nil
}

func (db *DB) SaveRooms(ctx context.Context, rooms []*booking.Room) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	trx, err := db.trx(ctx)
	if err != nil {
		return err
	}

	for _, room := range rooms {
		cp := *room
		trx.roomModifications[room.ID] = &cp
	}

	return nil
}

func (db *DB) SaveReservation(ctx context.Context, reservation *booking.Reservation) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	trx, err := db.trx(ctx)
	if err != nil {
		return err
	}

	for _, staged := range trx.reservationModifications {
		if staged.ID == reservation.ID {
			return nil
		}
	}

	cp := *reservation
	trx.reservationModifications = append(trx.reservationModifications, &cp)

	return nil
}

// SaveEvent stages the event when ctx carries a transaction and appends it
// right away otherwise.
func (db *DB) SaveEvent(ctx context.Context, event *booking.ChangeEvent) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := transactionFromContext(ctx); !ok {
		db.events = append(db.events, event)

		return nil
	}

	trx, err := db.trx(ctx)
	if err != nil {
		return err
	}

	trx.eventModifications = append(trx.eventModifications, event)

	return nil
}

func (db *DB) Events(_ context.Context) []*booking.ChangeEvent {
	db.mu.Lock()
	defer db.mu.Unlock()

	return slices.Clone(db.events)
}

func (db *DB) GetRoom(_ context.Context, roomID string) (*booking.Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	room, ok := db.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, booking.ErrRecordNotFound)
	}

	cp := *room

	return &cp, nil
}

func (db *DB) ListRooms(_ context.Context, hotelID string) ([]*booking.Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var rooms []*booking.Room

	for _, room := range db.rooms {
		if room.HotelID == hotelID {
			cp := *room
			rooms = append(rooms, &cp)
		}
	}

	slices.SortFunc(rooms, func(a, b *booking.Room) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return rooms, nil
}

// overlapping must be called with db.mu held. It returns the stored
// reservations themselves, not copies.
func (db *DB) overlapping(roomID string, stay availability.Stay, activeOnly bool) []*booking.Reservation {
	var out []*booking.Reservation

	for _, id := range db.roomReservations[roomID] {
		reservation := db.reservations[id]

		if activeOnly && !reservation.Status.HoldsInventory() {
			continue
		}

		if stay.Overlaps(reservation.CheckIn, reservation.CheckOut) {
			out = append(out, reservation)
		}
	}

	return out
}

func copies(reservations []*booking.Reservation) []*booking.Reservation {
	out := make([]*booking.Reservation, 0, len(reservations))

	for _, reservation := range reservations {
		cp := *reservation
		out = append(out, &cp)
	}

	slices.SortStableFunc(out, func(a, b *booking.Reservation) int {
		return a.CheckIn.Compare(b.CheckIn)
	})

	return out
}

func (db *DB) ListActiveReservations(_ context.Context, roomID string, stay availability.Stay) ([]*booking.Reservation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return copies(db.overlapping(roomID, stay, true)), nil
}

func (db *DB) ListReservations(_ context.Context, roomID string, stay availability.Stay) ([]*booking.Reservation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return copies(db.overlapping(roomID, stay, false)), nil
}

func (db *DB) GetReservation(_ context.Context, id string) (*booking.Reservation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	reservation, ok := db.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, booking.ErrRecordNotFound)
	}

	cp := *reservation

	return &cp, nil
}

func (db *DB) GetReservationByIdempotencyKey(ctx context.Context) (*booking.Reservation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key, ok := booking.IdempotencyKeyFromContext(ctx)
	if !ok || key == "" {
		return nil, booking.ErrIdempotencyKey
	}

	id, exists := db.reservationIdempotencyKeys[key]
	if !exists {
		return nil, booking.ErrRecordNotFound
	}

	cp := *db.reservations[id]

	return &cp, nil
}

func (db *DB) UpdateReservationStatus(
	_ context.Context,
	id string,
	from, to booking.Status,
	at time.Time,
) (*booking.Reservation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	reservation, ok := db.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, booking.ErrRecordNotFound)
	}

	if reservation.Status != from {
		return nil, fmt.Errorf("reservation %s is %s, expected %s: %w", id, reservation.Status, from, booking.ErrConflict)
	}

	reservation.Status = to
	reservation.UpdatedAt = at

	cp := *reservation

	return &cp, nil
}

func (db *DB) SetCheckoutSession(_ context.Context, id, sessionID string, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	reservation, ok := db.reservations[id]
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, booking.ErrRecordNotFound)
	}

	reservation.CheckoutSessionID = sessionID
	reservation.UpdatedAt = at

	return nil
}

func (db *DB) ApplyPaymentEvent(
	_ context.Context,
	event *payment.Event,
	at time.Time,
) (*booking.Reservation, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	reservation, ok := db.reservations[event.ReservationID]
	if !ok {
		return nil, false, fmt.Errorf("reservation %s: %w", event.ReservationID, booking.ErrRecordNotFound)
	}

	if _, seen := db.paymentEvents[event.ID]; seen {
		cp := *reservation

		return &cp, false, nil
	}

	db.paymentEvents[event.ID] = struct{}{}

	if !reservation.AcceptsPayment(event) {
		db.l.LogInfo("Payment event %v does not move the payment of %v from %v", event.ID, reservation.ID, reservation.PaymentStatus)

		cp := *reservation

		return &cp, false, nil
	}

	reservation.PaymentStatus = event.Status
	reservation.PaymentUpdatedAt = event.OccurredAt
	reservation.UpdatedAt = at

	cp := *reservation

	return &cp, true, nil
}
