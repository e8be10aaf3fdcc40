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

const openSessionConstraint = "parking_sessions_one_open_per_user"

type pgParkingSessionRepository struct {
	db *sql.DB
}

func NewPgParkingSessionRepository(db *sql.DB) repository.ParkingSessionRepository {
	return &pgParkingSessionRepository{db: db}
}

var sessionColumns = []string{
	"s.id", "s.user_id", "s.spot_id", "p.lot_id", "s.start_time", "s.end_time", "s.session_type",
	"s.duration_minutes", "s.total_amount::float8", "s.notes", "s.created_at", "s.updated_at",
}

func sessionSelect(columns ...string) squirrel.SelectBuilder {
	return psql.Select(columns...).
		From("parking_sessions s").
		Join("parking_spots p ON p.id = s.spot_id")
}

func scanSession(row interface{ Scan(...any) error }) (*domain.ParkingSession, error) {
	s := &domain.ParkingSession{}
	if err := row.Scan(&s.ID, &s.UserID, &s.SpotID, &s.LotID, &s.StartTime, &s.EndTime, &s.SessionType,
		&s.DurationMinutes, &s.TotalAmount, &s.Notes, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.StartTime = s.StartTime.In(time.UTC)
	if s.EndTime.Valid {
		s.EndTime.Time = s.EndTime.Time.In(time.UTC)
	}
	s.CreatedAt = s.CreatedAt.In(time.UTC)
	s.UpdatedAt = s.UpdatedAt.In(time.UTC)
	return s, nil
}

func (r *pgParkingSessionRepository) Create(ctx context.Context, session *domain.ParkingSession) (*domain.ParkingSession, error) {
	query := `INSERT INTO parking_sessions (user_id, spot_id, start_time, session_type, notes)
	           VALUES ($1, $2, $3, $4, $5)
	           RETURNING id, created_at, updated_at`
	err := conn(ctx, r.db).QueryRowContext(ctx, query,
		session.UserID, session.SpotID, session.StartTime, session.SessionType, session.Notes,
	).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == openSessionConstraint {
				return nil, repository.ErrActiveSessionExists
			}
			return nil, fmt.Errorf("%w: parking session", repository.ErrDuplicateEntry)
		}
		return nil, fmt.Errorf("ParkingSessionRepository.Create: %w", err)
	}
	session.CreatedAt = session.CreatedAt.In(time.UTC)
	session.UpdatedAt = session.UpdatedAt.In(time.UTC)
	return session, nil
}

func (r *pgParkingSessionRepository) FindByID(ctx context.Context, id int) (*domain.ParkingSession, error) {
	return r.findOne(ctx, "FindByID", squirrel.Eq{"s.id": id})
}

func (r *pgParkingSessionRepository) FindActiveByUser(ctx context.Context, userID int) (*domain.ParkingSession, error) {
	return r.findOne(ctx, "FindActiveByUser", squirrel.And{squirrel.Eq{"s.user_id": userID}, squirrel.Eq{"s.end_time": nil}})
}

func (r *pgParkingSessionRepository) FindActiveBySpot(ctx context.Context, spotID int) (*domain.ParkingSession, error) {
	return r.findOne(ctx, "FindActiveBySpot", squirrel.And{squirrel.Eq{"s.spot_id": spotID}, squirrel.Eq{"s.end_time": nil}})
}

func (r *pgParkingSessionRepository) findOne(ctx context.Context, op string, where squirrel.Sqlizer) (*domain.ParkingSession, error) {
	query, args, err := sessionSelect(sessionColumns...).Where(where).OrderBy("s.start_time DESC").Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("ParkingSessionRepository.%s (build query): %w", op, err)
	}
	session, err := scanSession(conn(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("ParkingSessionRepository.%s: %w", op, err)
	}
	return session, nil
}

func (r *pgParkingSessionRepository) Close(ctx context.Context, session *domain.ParkingSession) (*domain.ParkingSession, error) {
	query := `UPDATE parking_sessions
	           SET end_time = $1, duration_minutes = $2, total_amount = $3, notes = $4, updated_at = CURRENT_TIMESTAMP
	           WHERE id = $5 AND end_time IS NULL
	           RETURNING updated_at`
	err := conn(ctx, r.db).QueryRowContext(ctx, query,
		session.EndTime, session.DurationMinutes, session.TotalAmount, session.Notes, session.ID,
	).Scan(&session.UpdatedAt)
	if err == nil {
		session.UpdatedAt = session.UpdatedAt.In(time.UTC)
		return session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ParkingSessionRepository.Close: %w", err)
	}

	var exists bool
	if err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM parking_sessions WHERE id = $1)`, session.ID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("ParkingSessionRepository.Close (checking existence): %w", err)
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	return nil, repository.ErrSessionClosed
}

func sessionFilterWhere(filter domain.ParkingSessionFilter) squirrel.And {
	where := squirrel.And{}
	switch filter.Status {
	case domain.SessionFilterActive:
		where = append(where, squirrel.Eq{"s.end_time": nil})
	case domain.SessionFilterCompleted:
		where = append(where, squirrel.NotEq{"s.end_time": nil})
	}
	if filter.LotID != nil {
		where = append(where, squirrel.Eq{"p.lot_id": *filter.LotID})
	}
	if filter.UserID != nil {
		where = append(where, squirrel.Eq{"s.user_id": *filter.UserID})
	}
	if filter.StartDate != nil {
		where = append(where, squirrel.GtOrEq{"s.start_time": *filter.StartDate})
	}
	if filter.EndDate != nil {
		where = append(where, squirrel.LtOrEq{"s.start_time": *filter.EndDate})
	}
	return where
}

func (r *pgParkingSessionRepository) Find(ctx context.Context, filter domain.ParkingSessionFilter) ([]domain.ParkingSession, int, error) {
	filter.Normalize()
	where := sessionFilterWhere(filter)

	countQuery, args, err := sessionSelect("COUNT(*)").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("ParkingSessionRepository.Find (build count): %w", err)
	}
	var total int
	if err := conn(ctx, r.db).QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ParkingSessionRepository.Find (count): %w", err)
	}

	query, args, err := sessionSelect(sessionColumns...).
		Where(where).
		OrderBy("s.start_time DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset())).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("ParkingSessionRepository.Find (build query): %w", err)
	}
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ParkingSessionRepository.Find: %w", err)
	}
	defer rows.Close()

	var sessions []domain.ParkingSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ParkingSessionRepository.Find (scanning row): %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ParkingSessionRepository.Find (rows error): %w", err)
	}
	return sessions, total, nil
}

func (r *pgParkingSessionRepository) Stats(ctx context.Context, lotID *int, since time.Time) (*domain.SessionStats, error) {
	builder := sessionSelect(
		"COUNT(*)",
		"COUNT(*) FILTER (WHERE s.end_time IS NULL)",
		"COUNT(*) FILTER (WHERE s.end_time IS NOT NULL)",
		"COALESCE(AVG(s.duration_minutes) FILTER (WHERE s.end_time IS NOT NULL), 0)::float8",
	).Where(squirrel.GtOrEq{"s.start_time": since})
	if lotID != nil {
		builder = builder.Where(squirrel.Eq{"p.lot_id": *lotID})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ParkingSessionRepository.Stats (build query): %w", err)
	}

	stats := &domain.SessionStats{LotID: lotID}
	if err := conn(ctx, r.db).QueryRowContext(ctx, query, args...).
		Scan(&stats.Total, &stats.Active, &stats.Completed, &stats.AverageDurationMinutes); err != nil {
		return nil, fmt.Errorf("ParkingSessionRepository.Stats: %w", err)
	}
	return stats, nil
}
