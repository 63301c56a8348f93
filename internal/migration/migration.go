// Package migration seeds the demo property.
package migration

import (
	"context"
	"fmt"

	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/logger"
)

type storage interface {
	BeginTransaction(ctx context.Context, level string) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
	SaveRooms(ctx context.Context, rooms []*booking.Room) error
}

const DemoHotelID = "harbor"

func DemoRooms(currency string) []*booking.Room {
	return []*booking.Room{
		{
			ID:           "harbor-single",
			HotelID:      DemoHotelID,
			Name:         "Single",
			Units:        4,
			Capacity:     1,
			NightlyPrice: 79,
			Currency:     currency,
		},
		{
			ID:           "harbor-double",
			HotelID:      DemoHotelID,
			Name:         "Double",
			Units:        6,
			Capacity:     2,
			NightlyPrice: 119.5,
			Currency:     currency,
		},
		{
			ID:           "harbor-family",
			HotelID:      DemoHotelID,
			Name:         "Family suite",
			Units:        2,
			Capacity:     4,
			NightlyPrice: 210,
			Currency:     currency,
		},
	}
}

// Up upserts rooms in a single transaction, so running it twice is harmless.
func Up(ctx context.Context, l *logger.Logger, storage storage, rooms []*booking.Room) (err error) {
	ctx, err = storage.BeginTransaction(ctx, "")
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := storage.RollbackTransaction(ctx); rbErr != nil {
				l.LogErrorf("Could not rollback migration transaction after panic %v", p)
			}

			l.LogInfo("Migration transaction has been roll backed after panic")

			panic(p)
		}

		if err != nil {
			if rbErr := storage.RollbackTransaction(ctx); rbErr != nil {
				l.LogErrorf("Could not rollback migration transaction after error %v", rbErr.Error())
			}

			l.LogInfo("Migration transaction has been roll backed after error")

			return
		}

		if err = storage.CommitTransaction(ctx); err != nil {
			l.LogErrorf("Could not commit migration transaction, err %v", err.Error())

			return
		}

		l.LogInfo("Migration transaction has been committed, %v rooms", len(rooms))
	}()

	if err = storage.SaveRooms(ctx, rooms); err != nil {
		return fmt.Errorf("save rooms to storage: %w", err)
	}

	return nil
}
