package booking

import (
	"context"
	"fmt"

	"github.com/avstrong/innkeeper/internal/availability"
)

func (m *Manager) roomResult(ctx context.Context, room *Room, stay availability.Stay) (availability.Result, []*Reservation, error) {
	active, err := m.storage.ListActiveReservations(ctx, room.ID, stay)
	if err != nil {
		return availability.Result{}, nil, upstream("list reservations", err)
	}

	res, err := availability.Reduce(room.Units, Intervals(active), stay)
	if violation := availability.IsInvariantViolationError(err); violation != nil {
		m.l.LogErrorf("Room %v is overbooked: %v", room.ID, violation.Error())
	}

	return res, active, err
}

// RoomAvailability reports how many units of the room are free on every
// night of the stay.
func (m *Manager) RoomAvailability(ctx context.Context, roomID string, stay availability.Stay) (*availability.Result, error) {
	if err := m.checkStay(stay); err != nil {
		return nil, err
	}

	room, err := m.storage.GetRoom(ctx, roomID)
	if err != nil {
		return nil, upstream("get room", err)
	}

	res, _, err := m.roomResult(ctx, room, stay)
	if err != nil {
		return nil, err
	}

	return &res, nil
}

// HotelAvailability evaluates every room of the hotel for a party of guests.
// An overbooked room is reported as unavailable instead of failing the whole
// listing.
func (m *Manager) HotelAvailability(
	ctx context.Context,
	hotelID string,
	stay availability.Stay,
	guests int,
) ([]*RoomAvailability, error) {
	if err := m.checkStay(stay); err != nil {
		return nil, err
	}

	if guests < 1 {
		inputErr := newInputError()
		inputErr.addError("guests", "must be at least 1")

		return nil, inputErr
	}

	rooms, err := m.storage.ListRooms(ctx, hotelID)
	if err != nil {
		return nil, upstream("list rooms", err)
	}

	if len(rooms) == 0 {
		return nil, fmt.Errorf("hotel %s: %w", hotelID, ErrRecordNotFound)
	}

	out := make([]*RoomAvailability, 0, len(rooms))

	for _, room := range rooms {
		res, _, err := m.roomResult(ctx, room, stay)
		if err != nil && availability.IsInvariantViolationError(err) == nil {
			return nil, err
		}

		needed := room.UnitsFor(guests)

		out = append(out, &RoomAvailability{
			Room:        room,
			Result:      res,
			UnitsNeeded: needed,
			Fits:        res.Remaining >= needed,
		})
	}

	return out, nil
}

// SuggestStays offers stays of the same length starting after the wanted one
// that would admit units more units.
func (m *Manager) SuggestStays(ctx context.Context, roomID string, stay availability.Stay, units int) ([]availability.Stay, error) {
	if err := m.checkStay(stay); err != nil {
		return nil, err
	}

	if units < 1 {
		return nil, availability.ErrInvalidUnits
	}

	room, err := m.storage.GetRoom(ctx, roomID)
	if err != nil {
		return nil, upstream("get room", err)
	}

	horizon := m.conf.SuggestHorizon
	window := availability.NewStay(stay.From, stay.To.AddDate(0, 0, horizon))

	active, err := m.storage.ListActiveReservations(ctx, room.ID, window)
	if err != nil {
		return nil, upstream("list reservations", err)
	}

	stays := availability.Suggest(room.Units, Intervals(active), stay, units, horizon, m.conf.SuggestLimit)
	if stays == nil {
		stays = []availability.Stay{}
	}

	return stays, nil
}

// RoomLoads returns the booked units per night for the admin calendar.
func (m *Manager) RoomLoads(ctx context.Context, roomID string, stay availability.Stay) ([]availability.DayLoad, error) {
	if err := m.checkStay(stay); err != nil {
		return nil, err
	}

	if _, err := m.storage.GetRoom(ctx, roomID); err != nil {
		return nil, upstream("get room", err)
	}

	active, err := m.storage.ListActiveReservations(ctx, roomID, stay)
	if err != nil {
		return nil, upstream("list reservations", err)
	}

	return availability.Loads(Intervals(active), stay), nil
}

func (m *Manager) ListReservations(ctx context.Context, roomID string, stay availability.Stay) ([]*Reservation, error) {
	if err := m.checkStay(stay); err != nil {
		return nil, err
	}

	reservations, err := m.storage.ListReservations(ctx, roomID, stay)
	if err != nil {
		return nil, upstream("list reservations", err)
	}

	return reservations, nil
}

func (m *Manager) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	reservation, err := m.storage.GetReservation(ctx, id)
	if err != nil {
		return nil, upstream("get reservation", err)
	}

	return reservation, nil
}
