// Package postgres stores rooms and reservations through gorm. Intake
// serialises per room by locking the room row before the inventory check.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/avstrong/innkeeper/internal/availability"
	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/logger"
	"github.com/avstrong/innkeeper/internal/payment"
)

var ErrTransactionNotFoundInCtx = errors.New("no postgres transaction found in ctx")

type Config struct {
	L   *logger.Logger
	DSN string
}

type DB struct {
	l  *logger.Logger
	db *gorm.DB
}

func Open(conf Config) (*DB, error) {
	db, err := gorm.Open(postgres.Open(conf.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.AutoMigrate(&roomModel{}, &reservationModel{}, &changeEventModel{}, &paymentEventModel{}); err != nil {
		return nil, fmt.Errorf("migrate postgres schema: %w", err)
	}

	return &DB{l: conf.L, db: db}, nil
}

func (db *DB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// conn returns the transaction carried by ctx, or a session on the pool.
func (db *DB) conn(ctx context.Context) *gorm.DB {
	if tx, ok := transactionFromContext(ctx); ok {
		return tx.WithContext(ctx)
	}

	return db.db.WithContext(ctx)
}

func isolation(level string) sql.IsolationLevel {
	switch strings.ToUpper(level) {
	case "SERIALIZABLE":
		return sql.LevelSerializable
	case "REPEATABLE READ":
		return sql.LevelRepeatableRead
	default:
		return sql.LevelReadCommitted
	}
}

func (db *DB) BeginTransaction(ctx context.Context, level string) (context.Context, error) {
	tx := db.db.WithContext(ctx).Begin(&sql.TxOptions{Isolation: isolation(level)})
	if tx.Error != nil {
		return ctx, fmt.Errorf("begin postgres transaction: %w", tx.Error)
	}

	return withTransaction(ctx, tx), nil
}

func (db *DB) CommitTransaction(ctx context.Context) error {
	tx, ok := transactionFromContext(ctx)
	if !ok {
		return ErrTransactionNotFoundInCtx
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit postgres transaction: %w", err)
	}

	return nil
}

func (db *DB) RollbackTransaction(ctx context.Context) error {
	tx, ok := transactionFromContext(ctx)
	if !ok {
		return ErrTransactionNotFoundInCtx
	}

	if err := tx.Rollback().Error; err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback postgres transaction: %w", err)
	}

	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, booking.ErrRecordNotFound)
	}

	return fmt.Errorf("%s: %w", what, err)
}

func (db *DB) SaveRooms(ctx context.Context, rooms []*booking.Room) error {
	models := make([]*roomModel, 0, len(rooms))
	for _, room := range rooms {
		models = append(models, fromRoom(room))
	}

	err := db.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"hotel_id", "name", "units", "capacity", "nightly_price", "currency"}),
	}).Create(&models).Error
	if err != nil {
		return fmt.Errorf("save rooms: %w", err)
	}

	return nil
}

func (db *DB) GetRoom(ctx context.Context, roomID string) (*booking.Room, error) {
	var m roomModel
	if err := db.conn(ctx).First(&m, "id = ?", roomID).Error; err != nil {
		return nil, notFound(err, "room "+roomID)
	}

	return m.toRoom(), nil
}

func (db *DB) ListRooms(ctx context.Context, hotelID string) ([]*booking.Room, error) {
	var models []roomModel
	if err := db.conn(ctx).Where("hotel_id = ?", hotelID).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	rooms := make([]*booking.Room, 0, len(models))
	for i := range models {
		rooms = append(rooms, models[i].toRoom())
	}

	return rooms, nil
}

func toReservations(models []reservationModel) ([]*booking.Reservation, error) {
	reservations := make([]*booking.Reservation, 0, len(models))

	for i := range models {
		r, err := models[i].toReservation()
		if err != nil {
			return nil, err
		}

		reservations = append(reservations, r)
	}

	return reservations, nil
}

func (db *DB) overlapping(ctx context.Context, roomID string, stay availability.Stay) *gorm.DB {
	return db.conn(ctx).
		Where("room_id = ? AND check_in < ? AND check_out > ?", roomID, stay.To, stay.From).
		Order("check_in, id")
}

func (db *DB) ListActiveReservations(ctx context.Context, roomID string, stay availability.Stay) ([]*booking.Reservation, error) {
	var models []reservationModel

	err := db.overlapping(ctx, roomID, stay).
		Where("status <> ?", string(booking.StatusCancelled)).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}

	return toReservations(models)
}

func (db *DB) ListReservations(ctx context.Context, roomID string, stay availability.Stay) ([]*booking.Reservation, error) {
	var models []reservationModel
	if err := db.overlapping(ctx, roomID, stay).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}

	return toReservations(models)
}

func (db *DB) GetReservation(ctx context.Context, id string) (*booking.Reservation, error) {
	var m reservationModel
	if err := db.conn(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "reservation "+id)
	}

	return m.toReservation()
}

func (db *DB) GetReservationByIdempotencyKey(ctx context.Context) (*booking.Reservation, error) {
	key, ok := booking.IdempotencyKeyFromContext(ctx)
	if !ok || key == "" {
		return nil, booking.ErrIdempotencyKey
	}

	var m reservationModel

	err := db.conn(ctx).First(&m, "idempotency_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, booking.ErrRecordNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("get reservation by idempotency key: %w", err)
	}

	return m.toReservation()
}

// SaveReservation takes the room row lock first. Any other intake for the
// same room waits on it, then re-reads reservations committed meanwhile.
func (db *DB) SaveReservation(ctx context.Context, r *booking.Reservation) error {
	tx, ok := transactionFromContext(ctx)
	if !ok {
		return ErrTransactionNotFoundInCtx
	}

	var room roomModel
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&room, "id = ?", r.RoomID).Error; err != nil {
		return notFound(err, "room "+r.RoomID)
	}

	// A retry of a committed intake must find its reservation, not a full room.
	if r.IdempotencyKey != "" {
		var n int64
		if err := tx.WithContext(ctx).Model(&reservationModel{}).Where("idempotency_key = ?", r.IdempotencyKey).Count(&n).Error; err != nil {
			return fmt.Errorf("look up idempotency key: %w", err)
		}

		if n > 0 {
			return booking.ErrDuplicateIdempotencyKey
		}
	}

	active, err := db.ListActiveReservations(ctx, r.RoomID, r.Stay())
	if err != nil {
		return err
	}

	if err := availability.Admit(room.Units, booking.Intervals(active), r.Stay(), r.Units); err != nil {
		return err
	}

	m, err := fromReservation(r)
	if err != nil {
		return err
	}

	err = tx.WithContext(ctx).Create(m).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return booking.ErrDuplicateIdempotencyKey
	}

	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", r.ID, err)
	}

	return nil
}

func (db *DB) SaveEvent(ctx context.Context, event *booking.ChangeEvent) error {
	m := &changeEventModel{
		ID:            event.ID,
		Kind:          string(event.Kind),
		ReservationID: event.ReservationID,
		RoomID:        event.RoomID,
		HotelID:       event.HotelID,
		Status:        string(event.Status),
		PaymentStatus: string(event.PaymentStatus),
		CheckIn:       event.CheckIn,
		CheckOut:      event.CheckOut,
		At:            event.At,
	}

	if err := db.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error; err != nil {
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
	res := db.conn(ctx).
		Model(&reservationModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": at})
	if res.Error != nil {
		return nil, fmt.Errorf("update reservation %s status: %w", id, res.Error)
	}

	current, err := db.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("reservation %s is %s, expected %s: %w", id, current.Status, from, booking.ErrConflict)
	}

	return current, nil
}

func (db *DB) SetCheckoutSession(ctx context.Context, id, sessionID string, at time.Time) error {
	res := db.conn(ctx).
		Model(&reservationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"checkout_session_id": sessionID, "updated_at": at})
	if res.Error != nil {
		return fmt.Errorf("set checkout session for %s: %w", id, res.Error)
	}

	if res.RowsAffected == 0 {
		return fmt.Errorf("reservation %s: %w", id, booking.ErrRecordNotFound)
	}

	return nil
}

// ApplyPaymentEvent locks the reservation row, records the event id and
// moves the payment status forward in one transaction.
func (db *DB) ApplyPaymentEvent(
	ctx context.Context,
	event *payment.Event,
	at time.Time,
) (*booking.Reservation, bool, error) {
	var (
		current *booking.Reservation
		applied bool
	)

	err := db.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var m reservationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, "id = ?", event.ReservationID).Error; err != nil {
			return notFound(err, "reservation "+event.ReservationID)
		}

		var err error
		if current, err = m.toReservation(); err != nil {
			return err
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&paymentEventModel{
			ID:            event.ID,
			ReservationID: event.ReservationID,
			ProcessedAt:   at,
		})
		if res.Error != nil {
			return fmt.Errorf("record payment event %s: %w", event.ID, res.Error)
		}

		if res.RowsAffected == 0 {
			return nil
		}

		if !current.AcceptsPayment(event) {
			db.l.LogInfo("Payment event %v does not move the payment of %v from %v", event.ID, current.ID, current.PaymentStatus)

			return nil
		}

		err = tx.Model(&reservationModel{}).Where("id = ?", current.ID).Updates(map[string]any{
			"payment_status":     string(event.Status),
			"payment_updated_at": event.OccurredAt,
			"updated_at":         at,
		}).Error
		if err != nil {
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
