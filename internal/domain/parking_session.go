package domain

import (
	"fmt"
	"time"

	"gopkg.in/guregu/null.v4"
)

type SessionType string

const (
	SessionWalkIn   SessionType = "walk_in"
	SessionReserved SessionType = "reserved"
)

type ParkingSession struct {
	ID              int         `json:"id"`
	UserID          int         `json:"user_id"`
	SpotID          int         `json:"spot_id"`
	LotID           int         `json:"lot_id"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         null.Time   `json:"end_time"`
	SessionType     SessionType `json:"session_type"`
	DurationMinutes null.Int    `json:"duration_minutes"`
	TotalAmount     null.Float  `json:"total_amount"`
	Notes           null.String `json:"notes"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`

	Spot *ParkingSpot `json:"spot,omitempty"`
}

func (s *ParkingSession) IsOpen() bool {
	return !s.EndTime.Valid
}

// Duration computes the elapsed time, using now for an open session.
func (s *ParkingSession) Duration(now time.Time) SessionDuration {
	end := now
	if s.EndTime.Valid {
		end = s.EndTime.Time
	}
	return NewSessionDuration(s.StartTime, end)
}

// SessionDuration is the whole-minute duration of a session.
type SessionDuration struct {
	TotalMinutes int64  `json:"total_minutes"`
	Hours        int64  `json:"hours"`
	Minutes      int64  `json:"minutes"`
	Formatted    string `json:"formatted"`
}

func NewSessionDuration(start, end time.Time) SessionDuration {
	ms := end.Sub(start).Milliseconds()
	total := ms / 60000
	if ms < 0 && ms%60000 != 0 {
		total-- // floor, not truncate
	}
	hours := total / 60
	minutes := total % 60
	if minutes < 0 {
		hours--
		minutes += 60
	}
	return SessionDuration{
		TotalMinutes: total,
		Hours:        hours,
		Minutes:      minutes,
		Formatted:    fmt.Sprintf("%dh %dm", hours, minutes),
	}
}

// SessionView is a session together with its live duration.
type SessionView struct {
	ParkingSession
	Duration SessionDuration `json:"duration"`
}

func NewSessionView(s *ParkingSession, now time.Time) SessionView {
	return SessionView{ParkingSession: *s, Duration: s.Duration(now)}
}

type StartSessionDTO struct {
	SpotID int    `json:"spot_id" binding:"required"`
	Notes  string `json:"notes"`
}

type EndSessionDTO struct {
	TotalAmount *float64 `json:"total_amount"`
	Notes       *string  `json:"notes"`
}

type SessionStatusFilter string

const (
	SessionFilterActive    SessionStatusFilter = "active"
	SessionFilterCompleted SessionStatusFilter = "completed"
	SessionFilterAll       SessionStatusFilter = "all"
)

type ParkingSessionFilter struct {
	Status    SessionStatusFilter `form:"status"`
	LotID     *int                `form:"lotId"`
	UserID    *int                `form:"userId"`
	StartDate *time.Time          `form:"-"`
	EndDate   *time.Time          `form:"-"`
	Page      int                 `form:"page"`
	Limit     int                 `form:"limit"`
}

// Normalize applies paging defaults.
func (f *ParkingSessionFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 10
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Status == "" {
		f.Status = SessionFilterAll
	}
}

func (f *ParkingSessionFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type SessionStats struct {
	Period                 string  `json:"period"`
	LotID                  *int    `json:"lot_id,omitempty"`
	Total                  int     `json:"total"`
	Active                 int     `json:"active"`
	Completed              int     `json:"completed"`
	AverageDurationMinutes float64 `json:"average_duration_minutes"`
}

// StatsPeriodStart returns the lower bound for a "1d", "7d" or "30d" period.
func StatsPeriodStart(period string, now time.Time) (time.Time, error) {
	switch period {
	case "1d":
		return now.AddDate(0, 0, -1), nil
	case "", "7d":
		return now.AddDate(0, 0, -7), nil
	case "30d":
		return now.AddDate(0, 0, -30), nil
	}
	return time.Time{}, fmt.Errorf("unsupported period %q", period)
}

type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

func NewPage[T any](items []T, total, page, limit int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Page[T]{Items: items, Total: total, Page: page, Limit: limit, TotalPages: pages}
}
