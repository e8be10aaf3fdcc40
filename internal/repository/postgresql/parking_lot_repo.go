package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

type pgParkingLotRepository struct {
	db *sql.DB
}

func NewPgParkingLotRepository(db *sql.DB) repository.ParkingLotRepository {
	return &pgParkingLotRepository{db: db}
}

const lotColumns = `id, name, location, description, total_spots, is_active, created_at, updated_at`

func scanLot(row interface{ Scan(...any) error }) (*domain.ParkingLot, error) {
	lot := &domain.ParkingLot{}
	if err := row.Scan(&lot.ID, &lot.Name, &lot.Location, &lot.Description, &lot.TotalSpots,
		&lot.IsActive, &lot.CreatedAt, &lot.UpdatedAt); err != nil {
		return nil, err
	}
	lot.CreatedAt = lot.CreatedAt.In(time.UTC)
	lot.UpdatedAt = lot.UpdatedAt.In(time.UTC)
	return lot, nil
}

func (r *pgParkingLotRepository) Create(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error) {
	query := `INSERT INTO parking_lots (name, location, description, is_active)
	           VALUES ($1, $2, $3, $4)
	           RETURNING id, total_spots, created_at, updated_at`
	err := conn(ctx, r.db).QueryRowContext(ctx, query, lot.Name, lot.Location, lot.Description, lot.IsActive).
		Scan(&lot.ID, &lot.TotalSpots, &lot.CreatedAt, &lot.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, fmt.Errorf("%w: parking lot %q", repository.ErrDuplicateEntry, lot.Name)
		}
		return nil, fmt.Errorf("ParkingLotRepository.Create: %w", err)
	}
	lot.CreatedAt = lot.CreatedAt.In(time.UTC)
	lot.UpdatedAt = lot.UpdatedAt.In(time.UTC)
	return lot, nil
}

func (r *pgParkingLotRepository) FindByID(ctx context.Context, id int) (*domain.ParkingLot, error) {
	query := `SELECT ` + lotColumns + ` FROM parking_lots WHERE id = $1`
	lot, err := scanLot(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingLotRepository.FindByID: %w", err)
	}
	return lot, nil
}

func (r *pgParkingLotRepository) FindAll(ctx context.Context) ([]domain.ParkingLot, error) {
	query := `SELECT ` + lotColumns + ` FROM parking_lots ORDER BY name`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ParkingLotRepository.FindAll: %w", err)
	}
	defer rows.Close()

	var lots []domain.ParkingLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("ParkingLotRepository.FindAll (scanning row): %w", err)
		}
		lots = append(lots, *lot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingLotRepository.FindAll (rows error): %w", err)
	}
	return lots, nil
}

func (r *pgParkingLotRepository) Update(ctx context.Context, lot *domain.ParkingLot) (*domain.ParkingLot, error) {
	query := `UPDATE parking_lots
	           SET name = $1, location = $2, description = $3, is_active = $4, updated_at = CURRENT_TIMESTAMP
	           WHERE id = $5
	           RETURNING total_spots, updated_at`
	err := conn(ctx, r.db).QueryRowContext(ctx, query, lot.Name, lot.Location, lot.Description, lot.IsActive, lot.ID).
		Scan(&lot.TotalSpots, &lot.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingLotRepository.Update: %w", err)
	}
	lot.UpdatedAt = lot.UpdatedAt.In(time.UTC)
	return lot, nil
}

func (r *pgParkingLotRepository) Delete(ctx context.Context, id int) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM parking_lots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ParkingLotRepository.Delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ParkingLotRepository.Delete (checking rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgParkingLotRepository) RecalculateTotalSpots(ctx context.Context, lotID int) (int, error) {
	query := `UPDATE parking_lots
	           SET total_spots = (SELECT COUNT(*) FROM parking_spots WHERE lot_id = $1 AND is_active),
	               updated_at = CURRENT_TIMESTAMP
	           WHERE id = $1
	           RETURNING total_spots`
	var total int
	if err := conn(ctx, r.db).QueryRowContext(ctx, query, lotID).Scan(&total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("ParkingLotRepository.RecalculateTotalSpots: %w", err)
	}
	return total, nil
}
