package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/avstrong/innkeeper/internal/app"
	"github.com/avstrong/innkeeper/internal/availability"
	"github.com/avstrong/innkeeper/internal/booking"
	"github.com/avstrong/innkeeper/internal/config"
)

type AvailabilityOutput struct {
	Stay  availability.Stay           `json:"stay"`
	Rooms []*booking.RoomAvailability `json:"rooms"`
}

func availabilityCmd() *cobra.Command {
	var roomID string
	var hotelID string
	var from string
	var to string
	var guests int

	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Show free units for a room or a whole hotel",
		RunE: func(cmd *cobra.Command, args []string) error {
			if roomID != "" && hotelID != "" {
				return fmt.Errorf("use either --room or --hotel, not both")
			}

			if roomID == "" && hotelID == "" {
				return fmt.Errorf("--room or --hotel is required")
			}

			stay, err := parseStay(from, to)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			output, err := queryAvailability(cmd.Context(), cfg, roomID, hotelID, stay, guests)
			if err != nil {
				return err
			}

			if wantJSON() {
				return writeJSON(cmd.OutOrStdout(), output)
			}

			return renderAvailability(cmd.OutOrStdout(), output)
		},
	}

	cmd.Flags().StringVar(&roomID, "room", "", "Room ID")
	cmd.Flags().StringVar(&hotelID, "hotel", "", "Hotel ID")
	cmd.Flags().StringVar(&from, "from", "", "First night (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Departure day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&guests, "guests", 1, "Party size for --hotel")

	return cmd
}

func parseStay(from, to string) (availability.Stay, error) {
	first, err := availability.ParseDay(from)
	if err != nil {
		return availability.Stay{}, fmt.Errorf("invalid --from %q (expected YYYY-MM-DD)", from)
	}

	departure, err := availability.ParseDay(to)
	if err != nil {
		return availability.Stay{}, fmt.Errorf("invalid --to %q (expected YYYY-MM-DD)", to)
	}

	stay := availability.NewStay(first, departure)

	return stay, stay.Validate()
}

func queryAvailability(
	ctx context.Context,
	cfg config.Config,
	roomID, hotelID string,
	stay availability.Stay,
	guests int,
) (*AvailabilityOutput, error) {
	l := newLogger(cfg, os.Stderr, false)

	storage, closeStorage, err := app.OpenStorage(l, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	defer closeStorage()

	// A fresh memory store only knows the demo property.
	if cfg.Storage.Driver == config.DriverMemory && cfg.Storage.SeedDemo {
		if err := app.Seed(ctx, l, cfg, storage); err != nil {
			return nil, err
		}
	}

	manager, err := app.NewManager(l, cfg, storage, nil)
	if err != nil {
		return nil, err
	}

	output := &AvailabilityOutput{Stay: stay}

	if hotelID != "" {
		output.Rooms, err = manager.HotelAvailability(ctx, hotelID, stay, guests)

		return output, err
	}

	room, err := storage.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	res, err := manager.RoomAvailability(ctx, roomID, stay)
	if err != nil {
		return nil, err
	}

	output.Rooms = []*booking.RoomAvailability{{
		Room:        room,
		Result:      *res,
		UnitsNeeded: 1,
		Fits:        res.Available,
	}}

	return output, nil
}

func renderAvailability(w io.Writer, output *AvailabilityOutput) error {
	fmt.Fprintf(w, "Stay: %s (%d nights)\n", output.Stay, output.Stay.NightCount())

	if len(output.Rooms) == 0 {
		fmt.Fprintln(w, "No rooms.")

		return nil
	}

	writer := tabwriter.NewWriter(w, 2, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "ROOM\tNAME\tTOTAL\tREMAINING\tBUSIEST NIGHT\tFITS")

	for _, ra := range output.Rooms {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%s\t%t\n",
			ra.Room.ID,
			ra.Room.Name,
			ra.Result.Total,
			ra.Result.Remaining,
			ra.Result.PeakDay.Format(availability.DateLayout),
			ra.Fits,
		)
	}

	return writer.Flush()
}
