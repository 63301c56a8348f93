// Package availability computes how many units of a room stay free over a
// stay. Everything in here is a pure function of its arguments.
package availability

import (
	"fmt"
	"iter"
	"time"
)

const DateLayout = "2006-01-02"

// Day returns the calendar date of t as UTC midnight. The date is read in t's
// own location so 2025-06-01T23:30-05:00 stays June 1st.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Days yields every calendar day from from through to inclusive.
func Days(from, to time.Time) (iter.Seq[time.Time], error) {
	from, to = Day(from), Day(to)
	if from.After(to) {
		return nil, &InvalidRangeError{From: from, To: to, Reason: "start is after end"}
	}

	return func(yield func(time.Time) bool) {
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			if !yield(d) {
				return
			}
		}
	}, nil
}

// Stay is a half-open run of nights: From is the first night, To is the
// departure day and is not occupied.
type Stay struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func NewStay(from, to time.Time) Stay {
	return Stay{From: Day(from), To: Day(to)}
}

func (s Stay) Validate() error {
	if !Day(s.To).After(Day(s.From)) {
		return &InvalidRangeError{From: Day(s.From), To: Day(s.To), Reason: "stay must be at least one night"}
	}

	return nil
}

// ValidateLength is Validate plus an upper bound on the number of nights.
// A maxNights below one disables the bound.
func (s Stay) ValidateLength(maxNights int) error {
	if err := s.Validate(); err != nil {
		return err
	}

	if maxNights > 0 && s.NightCount() > maxNights {
		return &InvalidRangeError{
			From:   Day(s.From),
			To:     Day(s.To),
			Reason: fmt.Sprintf("stay must not be longer than %d nights", maxNights),
		}
	}

	return nil
}

// NightCount is zero or negative for stays that fail Validate.
func (s Stay) NightCount() int {
	return int(Day(s.To).Sub(Day(s.From)).Hours() / 24) //nolint:gomnd
}

// Nights yields the occupied days of the stay. It yields nothing for an
// invalid stay.
func (s Stay) Nights() iter.Seq[time.Time] {
	if s.Validate() != nil {
		return func(func(time.Time) bool) {}
	}

	days, _ := Days(s.From, Day(s.To).AddDate(0, 0, -1))

	return days
}

// Overlaps reports whether the stay shares at least one night with [from, to).
func (s Stay) Overlaps(from, to time.Time) bool {
	return Day(from).Before(Day(s.To)) && Day(s.From).Before(Day(to))
}

// Shift moves the whole stay by n days.
func (s Stay) Shift(n int) Stay {
	return Stay{From: Day(s.From).AddDate(0, 0, n), To: Day(s.To).AddDate(0, 0, n)}
}

func (s Stay) String() string {
	return Day(s.From).Format(DateLayout) + ".." + Day(s.To).Format(DateLayout)
}
