package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/avstrong/innkeeper/internal/availability"
	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/payment"
)

type roomModel struct {
	ID           string  `gorm:"primaryKey"`
	HotelID      string  `gorm:"not null;index"`
	Name         string  `gorm:"not null"`
	Units        int     `gorm:"not null"`
	Capacity     int     `gorm:"not null"`
	NightlyPrice float64 `gorm:"not null"`
	Currency     string  `gorm:"not null"`
}

func (roomModel) TableName() string { return "rooms" }

func (m *roomModel) toRoom() *booking.Room {
	return &booking.Room{
		ID:           m.ID,
		HotelID:      m.HotelID,
		Name:         m.Name,
		Units:        m.Units,
		Capacity:     m.Capacity,
		NightlyPrice: m.NightlyPrice,
		Currency:     m.Currency,
	}
}

func fromRoom(r *booking.Room) *roomModel {
	return &roomModel{
		ID:           r.ID,
		HotelID:      r.HotelID,
		Name:         r.Name,
		Units:        r.Units,
		Capacity:     r.Capacity,
		NightlyPrice: r.NightlyPrice,
		Currency:     r.Currency,
	}
}

type reservationModel struct {
	ID                string         `gorm:"primaryKey"`
	RoomID            string         `gorm:"not null;index:idx_reservations_room_stay,priority:1"`
	HotelID           string         `gorm:"not null"`
	CheckIn           time.Time      `gorm:"type:date;not null;index:idx_reservations_room_stay,priority:2"`
	CheckOut          time.Time      `gorm:"type:date;not null"`
	Units             int            `gorm:"not null"`
	Guests            int            `gorm:"not null"`
	Guest             datatypes.JSON `gorm:"type:jsonb"`
	Status            string         `gorm:"not null;index"`
	PaymentStatus     string         `gorm:"not null"`
	PaymentUpdatedAt  time.Time      `gorm:"not null"`
	TotalCents        int64          `gorm:"not null"`
	Currency          string         `gorm:"not null"`
	PromoCode         string
	CheckoutSessionID string
	IdempotencyKey    *string `gorm:"uniqueIndex"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (reservationModel) TableName() string { return "reservations" }

func (m *reservationModel) toReservation() (*booking.Reservation, error) {
	var guest booking.Guest
	if len(m.Guest) > 0 {
		if err := json.Unmarshal(m.Guest, &guest); err != nil {
			return nil, fmt.Errorf("decode guest of reservation %s: %w", m.ID, err)
		}
	}

	r := &booking.Reservation{
		ID:                m.ID,
		RoomID:            m.RoomID,
		HotelID:           m.HotelID,
		CheckIn:           availability.Day(m.CheckIn),
		CheckOut:          availability.Day(m.CheckOut),
		Units:             m.Units,
		Guests:            m.Guests,
		Guest:             guest,
		Status:            booking.Status(m.Status),
		PaymentStatus:     payment.Status(m.PaymentStatus),
		PaymentUpdatedAt:  m.PaymentUpdatedAt.UTC(),
		TotalCents:        m.TotalCents,
		Currency:          m.Currency,
		PromoCode:         m.PromoCode,
		CheckoutSessionID: m.CheckoutSessionID,
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}

	if m.IdempotencyKey != nil {
		r.IdempotencyKey = *m.IdempotencyKey
	}

	return r, nil
}

func fromReservation(r *booking.Reservation) (*reservationModel, error) {
	guest, err := json.Marshal(r.Guest)
	if err != nil {
		return nil, fmt.Errorf("encode guest of reservation %s: %w", r.ID, err)
	}

	m := &reservationModel{
		ID:                r.ID,
		RoomID:            r.RoomID,
		HotelID:           r.HotelID,
		CheckIn:           r.CheckIn,
		CheckOut:          r.CheckOut,
		Units:             r.Units,
		Guests:            r.Guests,
		Guest:             datatypes.JSON(guest),
		Status:            string(r.Status),
		PaymentStatus:     string(r.PaymentStatus),
		PaymentUpdatedAt:  r.PaymentUpdatedAt,
		TotalCents:        r.TotalCents,
		Currency:          r.Currency,
		PromoCode:         r.PromoCode,
		CheckoutSessionID: r.CheckoutSessionID,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}

	if r.IdempotencyKey != "" {
		key := r.IdempotencyKey
		m.IdempotencyKey = &key
	}

	return m, nil
}

type changeEventModel struct {
	ID            string `gorm:"primaryKey"`
	Kind          string `gorm:"not null"`
	ReservationID string `gorm:"not null;index"`
	RoomID        string `gorm:"not null"`
	HotelID       string `gorm:"not null"`
	Status        string
	PaymentStatus string
	CheckIn       time.Time `gorm:"type:date"`
	CheckOut      time.Time `gorm:"type:date"`
	At            time.Time `gorm:"not null;index"`
}

func (changeEventModel) TableName() string { return "change_events" }

type paymentEventModel struct {
	ID            string    `gorm:"primaryKey"`
	ReservationID string    `gorm:"not null;index"`
	ProcessedAt   time.Time `gorm:"not null"`
}

func (paymentEventModel) TableName() string { return "payment_events" }
