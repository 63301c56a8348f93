package pricing

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type PromoCode struct {
	Code               string
	DiscountPercentage float64
	ValidThrough       time.Time
}

func (p *PromoCode) Apply(q *Quote) error {
	if q.at.After(p.ValidThrough) {
		return fmt.Errorf("promo code %s expired: %w", p.Code, ErrPromoCodeExpired)
	}

	q.TotalCents -= int64(math.Round(float64(q.TotalCents) * p.DiscountPercentage / 100)) //nolint:gomnd
	q.PromoCode = p.Code

	return nil
}

// Catalog holds the promo codes the property currently honours.
type Catalog struct {
	codes map[string]*PromoCode
}

// ParseCatalog reads "CODE:PERCENT:YYYY-MM-DD" entries separated by commas.
// A code stays valid through the end of its last day.
func ParseCatalog(entries string) (*Catalog, error) {
	c := &Catalog{codes: make(map[string]*PromoCode)}

	for _, entry := range strings.Split(entries, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 3 { //nolint:gomnd
			return nil, fmt.Errorf("promo entry %q: %w", entry, ErrInvalidQuote)
		}

		percent, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || percent <= 0 || percent > 100 {
			return nil, fmt.Errorf("promo %q percentage %q: %w", parts[0], parts[1], ErrInvalidQuote)
		}

		last, err := time.Parse("2006-01-02", parts[2])
		if err != nil {
			return nil, fmt.Errorf("promo %q date %q: %w", parts[0], parts[2], ErrInvalidQuote)
		}

		code := strings.ToUpper(parts[0])
		c.codes[code] = &PromoCode{
			Code:               code,
			DiscountPercentage: percent,
			ValidThrough:       last.Add(24*time.Hour - time.Nanosecond),
		}
	}

	return c, nil
}

// Lookup returns no adjustment for an empty code.
func (c *Catalog) Lookup(code string) (Adjustment, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, nil //nolint:nilnil
	}

	if c != nil {
		if promo, ok := c.codes[code]; ok {
			return promo, nil
		}
	}

	return nil, fmt.Errorf("promo code %s: %w", code, ErrUnknownPromoCode)
}
