package booking

import (
	"time"

	"github.com/avstrong/innkeeper/internal/availability"
	"github.com/avstrong/innkeeper/internal/payment"
)

type Status string

const (
	StatusConfirmed  Status = "confirmed"
	StatusCheckedIn  Status = "checked_in"
	StatusCheckedOut Status = "checked_out"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusConfirmed: {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn: {StatusCheckedOut},
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}

	return false
}

// HoldsInventory is false only for cancelled reservations. Checked-out stays
// keep counting against their own nights.
func (s Status) HoldsInventory() bool {
	return s != StatusCancelled
}

type Room struct {
	ID           string  `json:"id"`
	HotelID      string  `json:"hotel_id"`
	Name         string  `json:"name"`
	Units        int     `json:"units"`
	Capacity     int     `json:"capacity"`
	NightlyPrice float64 `json:"nightly_price"`
	Currency     string  `json:"currency"`
}

// UnitsFor is how many units guests need given the per-unit capacity.
func (r *Room) UnitsFor(guests int) int {
	if guests < 1 || r.Capacity < 1 {
		return 1
	}

	return (guests + r.Capacity - 1) / r.Capacity
}

type Guest struct {
	Name  string `json:"name"  validate:"required,max=200"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"omitempty,max=32"`
}

type Reservation struct {
	ID                string         `json:"id"`
	RoomID            string         `json:"room_id"`
	HotelID           string         `json:"hotel_id"`
	CheckIn           time.Time      `json:"check_in"`
	CheckOut          time.Time      `json:"check_out"`
	Units             int            `json:"units"`
	Guests            int            `json:"guests"`
	Guest             Guest          `json:"guest"`
	Status            Status         `json:"status"`
	PaymentStatus     payment.Status `json:"payment_status"`
	PaymentUpdatedAt  time.Time      `json:"payment_updated_at"`
	TotalCents        int64          `json:"total_cents"`
	Currency          string         `json:"currency"`
	PromoCode         string         `json:"promo_code,omitempty"`
	CheckoutSessionID string         `json:"checkout_session_id,omitempty"`
	IdempotencyKey    string         `json:"-"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (r *Reservation) Stay() availability.Stay {
	return availability.NewStay(r.CheckIn, r.CheckOut)
}

func (r *Reservation) Interval() availability.Interval {
	return availability.Interval{CheckIn: r.CheckIn, CheckOut: r.CheckOut, Units: r.Units}
}

// AcceptsPayment decides whether a new gateway event may replace the stored
// payment status. Events older than the stored status are ignored, as are
// failures of a checkout session other than the current one: an abandoned
// session expiring later must not undo the payment of its successor.
func (r *Reservation) AcceptsPayment(e *payment.Event) bool {
	if e.OccurredAt.Before(r.PaymentUpdatedAt) {
		return false
	}

	if e.Status == payment.StatusFailed && e.SessionID != "" && e.SessionID != r.CheckoutSessionID {
		return false
	}

	return r.PaymentStatus.CanMoveTo(e.Status)
}

// Intervals keeps only reservations that hold inventory.
func Intervals(reservations []*Reservation) []availability.Interval {
	intervals := make([]availability.Interval, 0, len(reservations))

	for _, r := range reservations {
		if r.Status.HoldsInventory() {
			intervals = append(intervals, r.Interval())
		}
	}

	return intervals
}

type ReservationInput struct {
	RoomID    string `json:"room_id"    validate:"required,max=64"`
	CheckIn   string `json:"check_in"   validate:"required,datetime=2006-01-02"`
	CheckOut  string `json:"check_out"  validate:"required,datetime=2006-01-02"`
	Units     int    `json:"units"      validate:"min=1,max=50"`
	Guests    int    `json:"guests"     validate:"min=1,max=200"`
	Guest     Guest  `json:"guest"`
	PromoCode string `json:"promo_code" validate:"omitempty,alphanum,max=32"`
}

type ChangeKind string

const (
	ChangeCreated ChangeKind = "reservation.created"
	ChangeStatus  ChangeKind = "reservation.status"
	ChangePayment ChangeKind = "reservation.payment"
)

// ChangeEvent is what the admin console's live view receives.
type ChangeEvent struct {
	ID            string         `json:"id"`
	Kind          ChangeKind     `json:"kind"`
	ReservationID string         `json:"reservation_id"`
	RoomID        string         `json:"room_id"`
	HotelID       string         `json:"hotel_id"`
	Status        Status         `json:"status"`
	PaymentStatus payment.Status `json:"payment_status"`
	CheckIn       time.Time      `json:"check_in"`
	CheckOut      time.Time      `json:"check_out"`
	At            time.Time      `json:"at"`
}

type RoomAvailability struct {
	Room        *Room               `json:"room"`
	Result      availability.Result `json:"result"`
	UnitsNeeded int                 `json:"units_needed"`
	Fits        bool                `json:"fits"`
}
