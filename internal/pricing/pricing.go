// Package pricing turns a room rate and a stay into amounts in minor currency
// units. Every conversion from a fractional amount uses math.Round.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidQuote     = errors.New("invalid quote input")
	ErrPromoCodeExpired = errors.New("promo code expired")
	ErrUnknownPromoCode = errors.New("unknown promo code")
)

type Mode string

const (
	ModeFull    Mode = "full"
	ModeDeposit Mode = "deposit"
)

type Quote struct {
	SubtotalCents int64  `json:"subtotal_cents"`
	DiscountCents int64  `json:"discount_cents"`
	TotalCents    int64  `json:"total_cents"`
	PromoCode     string `json:"promo_code,omitempty"`
	at            time.Time
}

// Adjustment changes a quote after the subtotal is known.
type Adjustment interface {
	Apply(q *Quote) error
}

func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100)) //nolint:gomnd
}

// NewQuote prices units rooms for nights nights at nightly per unit and runs
// the adjustments in order. now is what promo expiry is checked against.
func NewQuote(nightly float64, nights, units int, now time.Time, adjustments ...Adjustment) (*Quote, error) {
	if nightly < 0 || nights < 1 || units < 1 {
		return nil, fmt.Errorf("nightly %v, nights %d, units %d: %w", nightly, nights, units, ErrInvalidQuote)
	}

	subtotal := ToCents(nightly * float64(nights) * float64(units))

	q := &Quote{
		SubtotalCents: subtotal,
		TotalCents:    subtotal,
		at:            now.UTC(),
	}

	for _, adjustment := range adjustments {
		if err := adjustment.Apply(q); err != nil {
			return nil, fmt.Errorf("apply adjustment: %w", err)
		}
	}

	if q.TotalCents < 0 {
		q.TotalCents = 0
	}

	q.DiscountCents = q.SubtotalCents - q.TotalCents

	return q, nil
}

// Due is what the guest pays now: the whole total or a deposit share of it.
func Due(totalCents int64, mode Mode, depositPercent int) (int64, error) {
	switch mode {
	case ModeFull, "":
		return totalCents, nil
	case ModeDeposit:
		if depositPercent < 1 || depositPercent > 100 {
			return 0, fmt.Errorf("deposit percent %d: %w", depositPercent, ErrInvalidQuote)
		}

		return int64(math.Round(float64(totalCents) * float64(depositPercent) / 100)), nil //nolint:gomnd
	default:
		return 0, fmt.Errorf("payment mode %q: %w", mode, ErrInvalidQuote)
	}
}
