// Package payment talks to the hosted checkout gateway: it opens checkout
// sessions and verifies the webhook events the gateway sends back.
package payment

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusRefunded:
		return true
	default:
		return false
	}
}

// CanMoveTo reports whether a stored status may be replaced by next. Money
// that arrived stays paid until it is refunded, and a refund is final.
func (s Status) CanMoveTo(next Status) bool {
	switch s {
	case StatusPaid:
		return next == StatusRefunded
	case StatusRefunded:
		return false
	default:
		return next == StatusPaid || next == StatusFailed
	}
}

var (
	ErrGateway          = errors.New("payment gateway error")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnhandledEvent   = errors.New("unhandled webhook event")
	ErrMalformedEvent   = errors.New("malformed webhook event")
)

type SessionRequest struct {
	ReservationID string
	AmountCents   int64
	Currency      string
	Description   string
	CustomerEmail string
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Event is a verified gateway notification about one reservation.
type Event struct {
	ID            string
	Type          string
	ReservationID string
	// SessionID is set for checkout session events only.
	SessionID     string
	Status        Status
	OccurredAt    time.Time
}
