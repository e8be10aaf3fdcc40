package domain

import "time"

type ParkingLot struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Location    string    `json:"location"`
	Description string    `json:"description,omitempty"`
	TotalSpots  int       `json:"total_spots"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ParkingLotDTO struct {
	Name        string `json:"name" binding:"required"`
	Location    string `json:"location" binding:"required"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

// StatusCounts is a per-status tally of active spots.
type StatusCounts struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	Occupied    int `json:"occupied"`
	Reserved    int `json:"reserved"`
	Maintenance int `json:"maintenance"`
}

// Add tallies n spots in status s.
func (c *StatusCounts) Add(s SpotStatus, n int) {
	c.Total += n
	switch s {
	case StatusFree:
		c.Available += n
	case StatusOccupied:
		c.Occupied += n
	case StatusReserved:
		c.Reserved += n
	case StatusMaintenance:
		c.Maintenance += n
	}
}

type LotStats struct {
	LotID int `json:"lot_id"`
	StatusCounts
	OccupancyRate float64                   `json:"occupancy_rate"`
	BySpotType    map[SpotType]StatusCounts `json:"by_spot_type"`
}

// SpotCount is one aggregate row: number of active spots with a type and status.
type SpotCount struct {
	SpotType SpotType
	Status   SpotStatus
	Count    int
}

// NewLotStats folds aggregate rows into lot statistics.
func NewLotStats(lotID int, rows []SpotCount) LotStats {
	stats := LotStats{LotID: lotID, BySpotType: map[SpotType]StatusCounts{}}
	for _, r := range rows {
		stats.Add(r.Status, r.Count)
		byType := stats.BySpotType[r.SpotType]
		byType.Add(r.Status, r.Count)
		stats.BySpotType[r.SpotType] = byType
	}
	if stats.Total > 0 {
		stats.OccupancyRate = float64(stats.Occupied) / float64(stats.Total) * 100
	}
	return stats
}
