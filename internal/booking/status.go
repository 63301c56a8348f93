package booking

import (
	"context"
	"errors"
)

func (m *Manager) CheckIn(ctx context.Context, id string) (*Reservation, error) {
	return m.transition(ctx, id, StatusCheckedIn)
}

func (m *Manager) CheckOut(ctx context.Context, id string) (*Reservation, error) {
	return m.transition(ctx, id, StatusCheckedOut)
}

// Cancel releases the reservation's units back to the room.
func (m *Manager) Cancel(ctx context.Context, id string) (*Reservation, error) {
	return m.transition(ctx, id, StatusCancelled)
}

// transition moves the reservation to status to. The store applies it only
// if nobody changed the status since it was read.
func (m *Manager) transition(ctx context.Context, id string, to Status) (*Reservation, error) {
	current, err := m.storage.GetReservation(ctx, id)
	if err != nil {
		return nil, upstream("get reservation", err)
	}

	if !current.Status.CanTransitionTo(to) {
		return nil, &TransitionError{From: current.Status, To: to}
	}

	updated, err := m.storage.UpdateReservationStatus(ctx, id, current.Status, to, m.now())
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, m.conflictAsTransition(ctx, id, to, err)
		}

		return nil, upstream("update reservation status", err)
	}

	event, err := m.buildEvent(ctx, ChangeStatus, updated)
	if err != nil {
		m.l.LogErrorf("Could not build change event for reservation %v: %v", id, err.Error())

		return updated, nil
	}

	m.publish(ctx, event)

	return updated, nil
}

// conflictAsTransition re-reads a reservation that changed under us so the
// caller gets a TransitionError naming the status that won.
func (m *Manager) conflictAsTransition(ctx context.Context, id string, to Status, cause error) error {
	latest, err := m.storage.GetReservation(ctx, id)
	if err != nil {
		return cause
	}

	return &TransitionError{From: latest.Status, To: to}
}
