package availability

import "time"

type Result struct {
	Total      int       `json:"total"`
	PeakBooked int       `json:"peak_booked"`
	PeakDay    time.Time `json:"peak_day"`
	Remaining  int       `json:"remaining"`
	Nights     int       `json:"nights"`
	Available  bool      `json:"available"`
}

// Reduce finds the busiest night of the stay and reports what is left of the
// room's inventory on it. A room is only as free as its fullest night.
//
// When stored reservations already exceed total the result is still returned
// together with an *InvariantViolationError.
func Reduce(total int, intervals []Interval, stay Stay) (Result, error) {
	if err := stay.Validate(); err != nil {
		return Result{}, err
	}

	res := Result{Total: total, PeakDay: Day(stay.From)}

	for _, load := range Loads(intervals, stay) {
		res.Nights++

		if load.Booked > res.PeakBooked {
			res.PeakBooked = load.Booked
			res.PeakDay = load.Day
		}
	}

	res.Remaining = total - res.PeakBooked
	res.Available = res.Remaining > 0

	if res.Remaining < 0 {
		return res, &InvariantViolationError{Total: total, Booked: res.PeakBooked, Day: res.PeakDay}
	}

	return res, nil
}

// Admit checks that requested more units fit on every night of the stay next
// to the given intervals. Storage backends run the same check inside their
// write transaction, so a pre-check rejection and a lost race look identical.
func Admit(total int, intervals []Interval, stay Stay, requested int) error {
	if requested < 1 {
		return ErrInvalidUnits
	}

	res, err := Reduce(total, intervals, stay)
	if err != nil {
		return err
	}

	if res.Remaining < requested {
		return &InsufficientInventoryError{Requested: requested, Remaining: res.Remaining}
	}

	return nil
}

// Suggest slides want forward one day at a time, up to horizon days, and
// returns at most limit stays of the same length that would be admitted.
func Suggest(total int, intervals []Interval, want Stay, units, horizon, limit int) []Stay {
	if want.Validate() != nil || units < 1 || limit < 1 {
		return nil
	}

	var stays []Stay

	for shift := 1; shift <= horizon && len(stays) < limit; shift++ {
		candidate := want.Shift(shift)

		if Admit(total, intervals, candidate, units) == nil {
			stays = append(stays, candidate)
		}
	}

	return stays
}
