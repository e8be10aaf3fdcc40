package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
)

var (
	seedSpotsPerLot     int
	seedMotorcycleEvery int
)

var sampleLots = []domain.ParkingLotDTO{
	{Name: "Main Campus Lot", Location: "Main Building, Block A", Description: "Primary lot for students and staff"},
	{Name: "Library Lot", Location: "Central Library", Description: "Spaces reserved for library visitors"},
	{Name: "Administration Lot", Location: "Administration Building", Description: "Staff and visitor parking"},
	{Name: "Laboratories Lot", Location: "Laboratories, Block B", Description: "Parking for laboratory users"},
	{Name: "Cafeteria Lot", Location: "Student Wellness Center", Description: "Short stay parking"},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create sample parking lots and spots when none exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		created, err := seed(cmd.Context(), a.services(nil, nil), seedSpotsPerLot, seedMotorcycleEvery)
		if err != nil {
			return err
		}
		if created == 0 {
			cmd.Println("parking lots already exist, nothing to do")
			return nil
		}
		cmd.Printf("created %d parking lots with %d spots each\n", created, seedSpotsPerLot)
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedSpotsPerLot, "spots-per-lot", 20, "spots created in every sample lot")
	seedCmd.Flags().IntVar(&seedMotorcycleEvery, "motorcycle-every", 5, "every n-th spot is a motorcycle spot (0 disables)")
}

// seed is idempotent: it does nothing when any lot exists.
func seed(ctx context.Context, svc services, spotsPerLot, motorcycleEvery int) (int, error) {
	existing, err := svc.lots.ListLots(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}

	for _, dto := range sampleLots {
		lot, err := svc.lots.CreateLot(ctx, dto)
		if err != nil {
			return 0, fmt.Errorf("create lot %q: %w", dto.Name, err)
		}
		for i := 1; i <= spotsPerLot; i++ {
			spotType := domain.SpotTypeCar
			if motorcycleEvery > 0 && i%motorcycleEvery == 0 {
				spotType = domain.SpotTypeMotorcycle
			}
			if _, err := svc.spots.CreateSpot(ctx, domain.CreateParkingSpotDTO{LotID: lot.ID, SpotType: spotType}, 0); err != nil {
				return 0, fmt.Errorf("create spot in %q: %w", dto.Name, err)
			}
		}
	}
	return len(sampleLots), nil
}
