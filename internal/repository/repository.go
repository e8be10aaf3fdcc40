package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
)

var ErrNotFound = errors.New("record not found")
var ErrDuplicateEntry = errors.New("record already exists")

// ErrStaleStatus means a conditional status write lost against a concurrent writer.
var ErrStaleStatus = errors.New("spot status changed concurrently")

// ErrActiveSessionExists means the user already has an open session.
var ErrActiveSessionExists = errors.New("user already has an open session")

// ErrSessionClosed means a close was attempted on a session that already has an end time.
var ErrSessionClosed = errors.New("session already closed")

// TxManager runs fn inside one transaction. Repositories pick the transaction up from ctx.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByID(ctx context.Context, id int) (*domain.User, error)
}

type ParkingLotRepository interface {
	Create(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error)
	FindByID(ctx context.Context, id int) (*domain.ParkingLot, error)
	FindAll(ctx context.Context) ([]domain.ParkingLot, error)
	Update(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error)
	// Delete removes the lot together with its spots and their sessions.
	Delete(ctx context.Context, id int) error
	// RecalculateTotalSpots stores and returns the number of active spots in the lot.
	RecalculateTotalSpots(ctx context.Context, lotID int) (int, error)
}

type ParkingSpotRepository interface {
	Create(ctx context.Context, spot *domain.ParkingSpot) (*domain.ParkingSpot, error)
	FindByID(ctx context.Context, id int) (*domain.ParkingSpot, error)
	Find(ctx context.Context, filter domain.ParkingSpotFilter) ([]domain.ParkingSpot, int, error)
	// FindActiveByStatuses returns active spots in any of the given statuses; all active spots when empty.
	FindActiveByStatuses(ctx context.Context, statuses []domain.SpotStatus) ([]domain.ParkingSpot, error)
	// UpdateStatus writes upd.To only if the stored status is still upd.From.
	// Returns ErrStaleStatus when the precondition fails and ErrNotFound when the spot is gone.
	UpdateStatus(ctx context.Context, upd domain.SpotStatusUpdate) (*domain.ParkingSpot, error)
	Update(ctx context.Context, spot *domain.ParkingSpot) (*domain.ParkingSpot, error)
	Delete(ctx context.Context, id int) error
	CountByLot(ctx context.Context, lotID int) ([]domain.SpotCount, error)
}

type ParkingSessionRepository interface {
	// Create returns ErrActiveSessionExists if the user already holds an open session.
	Create(ctx context.Context, session *domain.ParkingSession) (*domain.ParkingSession, error)
	FindByID(ctx context.Context, id int) (*domain.ParkingSession, error)
	FindActiveByUser(ctx context.Context, userID int) (*domain.ParkingSession, error)
	FindActiveBySpot(ctx context.Context, spotID int) (*domain.ParkingSession, error)
	// Close sets end time, duration, amount and notes if the session is still open.
	Close(ctx context.Context, session *domain.ParkingSession) (*domain.ParkingSession, error)
	Find(ctx context.Context, filter domain.ParkingSessionFilter) ([]domain.ParkingSession, int, error)
	Stats(ctx context.Context, lotID *int, since time.Time) (*domain.SessionStats, error)
}
