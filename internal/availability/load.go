package availability

import "time"

// Interval is the part of a reservation that occupies inventory. Callers pass
// only reservations that still hold units (anything but cancelled).
type Interval struct {
	CheckIn  time.Time
	CheckOut time.Time
	Units    int
}

func (i Interval) covers(day time.Time) bool {
	return !day.Before(Day(i.CheckIn)) && day.Before(Day(i.CheckOut))
}

// BookedOn sums the units of every interval with CheckIn <= day < CheckOut.
func BookedOn(intervals []Interval, day time.Time) int {
	day = Day(day)

	var booked int

	for _, interval := range intervals {
		if interval.covers(day) {
			booked += interval.Units
		}
	}

	return booked
}

type DayLoad struct {
	Day    time.Time `json:"day"`
	Booked int       `json:"booked"`
}

// Loads returns the booked units for every night of the stay using a
// difference array over clipped interval endpoints. The sums match BookedOn
// night by night.
func Loads(intervals []Interval, stay Stay) []DayLoad {
	nights := stay.NightCount()
	if nights <= 0 {
		return nil
	}

	from, to := Day(stay.From), Day(stay.To)
	deltas := make([]int, nights+1)

	for _, interval := range intervals {
		start, end := Day(interval.CheckIn), Day(interval.CheckOut)
		if start.Before(from) {
			start = from
		}

		if end.After(to) {
			end = to
		}

		if !start.Before(end) {
			continue
		}

		deltas[dayOffset(from, start)] += interval.Units
		deltas[dayOffset(from, end)] -= interval.Units
	}

	loads := make([]DayLoad, 0, nights)
	running := 0

	for i := range nights {
		running += deltas[i]
		loads = append(loads, DayLoad{Day: from.AddDate(0, 0, i), Booked: running})
	}

	return loads
}

func dayOffset(from, day time.Time) int {
	return int(day.Sub(from).Hours() / 24) //nolint:gomnd
}
