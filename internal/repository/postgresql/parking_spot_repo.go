package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/nando3d2000/parking-project-backend/internal/domain"
	"github.com/nando3d2000/parking-project-backend/internal/repository"
)

type pgParkingSpotRepository struct {
	db *sql.DB
}

func NewPgParkingSpotRepository(db *sql.DB) repository.ParkingSpotRepository {
	return &pgParkingSpotRepository{db: db}
}

var spotColumns = []string{
	"id", "lot_id", "code", "spot_type", "status", "reserved_by", "last_status_source",
	"is_active", "created_by", "created_at", "updated_at",
}

const spotColumnList = `id, lot_id, code, spot_type, status, reserved_by, last_status_source,
	is_active, created_by, created_at, updated_at`

func scanSpot(row interface{ Scan(...any) error }) (*domain.ParkingSpot, error) {
	spot := &domain.ParkingSpot{}
	var source sql.NullString
	if err := row.Scan(&spot.ID, &spot.LotID, &spot.Code, &spot.SpotType, &spot.Status, &spot.ReservedBy,
		&source, &spot.IsActive, &spot.CreatedBy, &spot.CreatedAt, &spot.UpdatedAt); err != nil {
		return nil, err
	}
	if source.Valid {
		spot.LastStatusSource = source.String
	}
	spot.CreatedAt = spot.CreatedAt.In(time.UTC)
	spot.UpdatedAt = spot.UpdatedAt.In(time.UTC)
	return spot, nil
}

func (r *pgParkingSpotRepository) Create(ctx context.Context, spot *domain.ParkingSpot) (*domain.ParkingSpot, error) {
	query := `INSERT INTO parking_spots (lot_id, code, spot_type, status, is_active, created_by)
	           VALUES ($1, $2, $3, $4, $5, $6)
	           RETURNING id, created_at, updated_at`
	err := conn(ctx, r.db).QueryRowContext(ctx, query,
		spot.LotID, spot.Code, spot.SpotType, spot.Status, spot.IsActive, spot.CreatedBy,
	).Scan(&spot.ID, &spot.CreatedAt, &spot.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, fmt.Errorf("%w: parking spot %q", repository.ErrDuplicateEntry, spot.Code)
		}
		return nil, fmt.Errorf("ParkingSpotRepository.Create: %w", err)
	}
	spot.CreatedAt = spot.CreatedAt.In(time.UTC)
	spot.UpdatedAt = spot.UpdatedAt.In(time.UTC)
	return spot, nil
}

func (r *pgParkingSpotRepository) FindByID(ctx context.Context, id int) (*domain.ParkingSpot, error) {
	query := `SELECT ` + spotColumnList + ` FROM parking_spots WHERE id = $1`
	spot, err := scanSpot(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingSpotRepository.FindByID: %w", err)
	}
	return spot, nil
}

func (r *pgParkingSpotRepository) Find(ctx context.Context, filter domain.ParkingSpotFilter) ([]domain.ParkingSpot, int, error) {
	where := squirrel.And{}
	if filter.LotID != nil {
		where = append(where, squirrel.Eq{"lot_id": *filter.LotID})
	}
	if filter.Status != nil {
		where = append(where, squirrel.Eq{"status": *filter.Status})
	}
	if filter.SpotType != nil {
		where = append(where, squirrel.Eq{"spot_type": *filter.SpotType})
	}
	if filter.IsActive != nil {
		where = append(where, squirrel.Eq{"is_active": *filter.IsActive})
	}

	countQuery, args, err := psql.Select("COUNT(*)").From("parking_spots").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("ParkingSpotRepository.Find (build count): %w", err)
	}
	var total int
	if err := conn(ctx, r.db).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ParkingSpotRepository.Find (count): %w", err)
	}

	builder := psql.Select(spotColumns...).From("parking_spots").Where(where).OrderBy("lot_id", "id")
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
		if filter.Page > 1 {
			builder = builder.Offset(uint64((filter.Page - 1) * filter.Limit))
		}
	}
	spots, err := r.query(ctx, builder)
	if err != nil {
		return nil, 0, fmt.Errorf("ParkingSpotRepository.Find: %w", err)
	}
	return spots, total, nil
}

func (r *pgParkingSpotRepository) FindActiveByStatuses(ctx context.Context, statuses []domain.SpotStatus) ([]domain.ParkingSpot, error) {
	builder := psql.Select(spotColumns...).From("parking_spots").Where(squirrel.Eq{"is_active": true}).OrderBy("id")
	if len(statuses) > 0 {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		builder = builder.Where(squirrel.Eq{"status": values})
	}
	spots, err := r.query(ctx, builder)
	if err != nil {
		return nil, fmt.Errorf("ParkingSpotRepository.FindActiveByStatuses: %w", err)
	}
	return spots, nil
}

func (r *pgParkingSpotRepository) query(ctx context.Context, builder squirrel.SelectBuilder) ([]domain.ParkingSpot, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spots []domain.ParkingSpot
	for rows.Next() {
		spot, err := scanSpot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		spots = append(spots, *spot)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return spots, nil
}

func (r *pgParkingSpotRepository) UpdateStatus(ctx context.Context, upd domain.SpotStatusUpdate) (*domain.ParkingSpot, error) {
	query := `UPDATE parking_spots
	           SET status = $1, reserved_by = $2, last_status_source = $3, updated_at = CURRENT_TIMESTAMP
	           WHERE id = $4 AND status = $5
	           RETURNING ` + spotColumnList
	spot, err := scanSpot(conn(ctx, r.db).QueryRowContext(ctx, query,
		upd.To, upd.ReservedBy, upd.Source, upd.SpotID, upd.From))
	if err == nil {
		return spot, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ParkingSpotRepository.UpdateStatus: %w", err)
	}

	// Nothing matched: either the spot is gone or its status moved on.
	var exists bool
	if err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM parking_spots WHERE id = $1)`, upd.SpotID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("ParkingSpotRepository.UpdateStatus (checking existence): %w", err)
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	return nil, repository.ErrStaleStatus
}

func (r *pgParkingSpotRepository) Update(ctx context.Context, spot *domain.ParkingSpot) (*domain.ParkingSpot, error) {
	query := `UPDATE parking_spots
	           SET lot_id = $1, code = $2, spot_type = $3, is_active = $4, updated_at = CURRENT_TIMESTAMP
	           WHERE id = $5
	           RETURNING updated_at`
	err := conn(ctx, r.db).QueryRowContext(ctx, query, spot.LotID, spot.Code, spot.SpotType, spot.IsActive, spot.ID).
		Scan(&spot.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		if _, ok := uniqueViolation(err); ok {
			return nil, fmt.Errorf("%w: parking spot %q", repository.ErrDuplicateEntry, spot.Code)
		}
		return nil, fmt.Errorf("ParkingSpotRepository.Update: %w", err)
	}
	spot.UpdatedAt = spot.UpdatedAt.In(time.UTC)
	return spot, nil
}

func (r *pgParkingSpotRepository) Delete(ctx context.Context, id int) error {
	result, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM parking_spots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.Delete: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ParkingSpotRepository.Delete (checking rows affected): %w", err)
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *pgParkingSpotRepository) CountByLot(ctx context.Context, lotID int) ([]domain.SpotCount, error) {
	query, args, err := psql.Select("spot_type", "status", "COUNT(*)").
		From("parking_spots").
		Where(squirrel.Eq{"lot_id": lotID, "is_active": true}).
		GroupBy("spot_type", "status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ParkingSpotRepository.CountByLot (build query): %w", err)
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ParkingSpotRepository.CountByLot: %w", err)
	}
	defer rows.Close()

	var counts []domain.SpotCount
	for rows.Next() {
		var c domain.SpotCount
		if err := rows.Scan(&c.SpotType, &c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("ParkingSpotRepository.CountByLot (scanning row): %w", err)
		}
		counts = append(counts, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("ParkingSpotRepository.CountByLot (rows error): %w", err)
	}
	return counts, nil
}
