package domain

import (
	"fmt"
	"time"

	"gopkg.in/guregu/null.v4"
)

// SpotStatus is the closed set of occupancy states a spot can be in.
type SpotStatus string

const (
	StatusFree        SpotStatus = "free"
	StatusOccupied    SpotStatus = "occupied"
	StatusReserved    SpotStatus = "reserved"
	StatusMaintenance SpotStatus = "maintenance"
)

// AllSpotStatuses lists every status in a stable order.
var AllSpotStatuses = []SpotStatus{StatusFree, StatusOccupied, StatusReserved, StatusMaintenance}

// allowedTransitions is the directed edge table of the spot state machine.
var allowedTransitions = map[SpotStatus][]SpotStatus{
	StatusFree:        {StatusOccupied, StatusReserved, StatusMaintenance},
	StatusOccupied:    {StatusFree, StatusMaintenance},
	StatusReserved:    {StatusOccupied, StatusFree},
	StatusMaintenance: {StatusFree},
}

func (s SpotStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to SpotStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Display returns the external code. Unknown values map to "available".
func (s SpotStatus) Display() string {
	switch s {
	case StatusOccupied, StatusReserved, StatusMaintenance:
		return string(s)
	default:
		return "available"
	}
}

// ParseSpotStatus accepts an internal code.
func ParseSpotStatus(v string) (SpotStatus, error) {
	s := SpotStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown spot status %q", v)
	}
	return s, nil
}

// ParseDisplayStatus accepts an external display code.
func ParseDisplayStatus(v string) (SpotStatus, error) {
	if v == "available" {
		return StatusFree, nil
	}
	if v == string(StatusFree) {
		return "", fmt.Errorf("unknown display status %q", v)
	}
	return ParseSpotStatus(v)
}

// ParseAnyStatus accepts either vocabulary.
func ParseAnyStatus(v string) (SpotStatus, error) {
	if s, err := ParseSpotStatus(v); err == nil {
		return s, nil
	}
	return ParseDisplayStatus(v)
}

type SpotType string

const (
	SpotTypeCar        SpotType = "car"
	SpotTypeMotorcycle SpotType = "motorcycle"
)

func (t SpotType) Valid() bool {
	return t == SpotTypeCar || t == SpotTypeMotorcycle
}

// SpotCode builds the human readable code once the id is known.
func SpotCode(t SpotType, id int) string {
	if t == SpotTypeMotorcycle {
		return fmt.Sprintf("MOTO-%d", id)
	}
	return fmt.Sprintf("CAR-%d", id)
}

type ParkingSpot struct {
	ID               int        `json:"id"`
	LotID            int        `json:"lot_id"`
	Code             string     `json:"code"`
	SpotType         SpotType   `json:"spot_type"`
	Status           SpotStatus `json:"status"`
	ReservedBy       null.Int   `json:"reserved_by"`
	LastStatusSource string     `json:"last_status_source,omitempty"`
	IsActive         bool       `json:"is_active"`
	CreatedBy        null.Int   `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ReservedByUser reports whether the spot currently holds a reservation for userID.
func (s *ParkingSpot) ReservedByUser(userID int) bool {
	return s.Status == StatusReserved && s.ReservedBy.Valid && int(s.ReservedBy.Int64) == userID
}

type CreateParkingSpotDTO struct {
	LotID    int      `json:"lot_id" binding:"required"`
	SpotType SpotType `json:"spot_type" binding:"required"`
}

type UpdateParkingSpotDTO struct {
	LotID    *int      `json:"lot_id"`
	SpotType *SpotType `json:"spot_type"`
	IsActive *bool     `json:"is_active"`
}

type UpdateSpotStatusDTO struct {
	Status      string `json:"status" binding:"required"`
	Description string `json:"description"`
}

type ParkingSpotFilter struct {
	LotID    *int        `form:"lotId"`
	Status   *SpotStatus `form:"-"`
	SpotType *SpotType   `form:"-"`
	IsActive *bool       `form:"isActive"`
	Page     int         `form:"page"`
	Limit    int         `form:"limit"`
}

// SpotStatusUpdate carries the conditional write for one transition.
type SpotStatusUpdate struct {
	SpotID     int
	From       SpotStatus
	To         SpotStatus
	ReservedBy null.Int
	Source     string
}

// SpotResponse is the boundary representation with the display code.
type SpotResponse struct {
	ID         int       `json:"id"`
	LotID      int       `json:"lot_id"`
	Code       string    `json:"code"`
	SpotType   SpotType  `json:"spot_type"`
	Status     string    `json:"status"`
	StatusCode string    `json:"status_code"`
	ReservedBy null.Int  `json:"reserved_by"`
	IsActive   bool      `json:"is_active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (s *ParkingSpot) ToResponse() SpotResponse {
	return SpotResponse{
		ID:         s.ID,
		LotID:      s.LotID,
		Code:       s.Code,
		SpotType:   s.SpotType,
		Status:     s.Status.Display(),
		StatusCode: string(s.Status),
		ReservedBy: s.ReservedBy,
		IsActive:   s.IsActive,
		UpdatedAt:  s.UpdatedAt,
	}
}
