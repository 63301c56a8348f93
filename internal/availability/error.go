package availability

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidUnits = errors.New("requested units must be at least 1")

type InvalidRangeError struct {
	From   time.Time
	To     time.Time
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range %s..%s: %s", e.From.Format(DateLayout), e.To.Format(DateLayout), e.Reason)
}

func IsInvalidRangeError(err error) *InvalidRangeError {
	if err == nil {
		return nil
	}

	var rangeErr *InvalidRangeError

	if errors.As(err, &rangeErr) {
		return rangeErr
	}

	return nil
}

// InsufficientInventoryError carries the smallest number of units free on any
// night of the stay so the caller can offer a reduced quantity.
type InsufficientInventoryError struct {
	Requested int
	Remaining int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory: requested %d, remaining %d", e.Requested, e.Remaining)
}

func IsInsufficientInventoryError(err error) *InsufficientInventoryError {
	if err == nil {
		return nil
	}

	var inventoryErr *InsufficientInventoryError

	if errors.As(err, &inventoryErr) {
		return inventoryErr
	}

	return nil
}

// InvariantViolationError means stored reservations already exceed the room
// inventory on Day. It points at corrupted data, never at a sold-out room.
type InvariantViolationError struct {
	Total  int
	Booked int
	Day    time.Time
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf(
		"inventory invariant violated on %s: %d units booked of %d",
		e.Day.Format(DateLayout),
		e.Booked,
		e.Total,
	)
}

func IsInvariantViolationError(err error) *InvariantViolationError {
	if err == nil {
		return nil
	}

	var violation *InvariantViolationError

	if errors.As(err, &violation) {
		return violation
	}

	return nil
}
