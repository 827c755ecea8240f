// Package attendance persists attendance records. A record is written exactly
// once per successful submission and never mutated here afterwards.
package attendance

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"

	"presensi/internal/punctuality"
)

// Record is one proof-of-presence event tied to a schedule slot.
type Record struct {
	ID              string             `json:"id"`
	ScheduleID      string             `json:"schedule_id"`
	TeacherID       string             `json:"teacher_id"`
	Date            string             `json:"date"` // YYYY-MM-DD
	Time            string             `json:"time"` // HH:MM
	Status          punctuality.Status `json:"status"`
	LatenessMinutes int                `json:"lateness_minutes"`
	PhotoURL        string             `json:"photo_url,omitempty"`
	Latitude        *float64           `json:"latitude,omitempty"`
	Longitude       *float64           `json:"longitude,omitempty"`
	DistanceMeters  *int               `json:"distance_meters,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

// MissedSlot is a slot that saw no check-in on a given date.
type MissedSlot struct {
	ScheduleID string
	TeacherID  string
}

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new record.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records
			(id, schedule_id, teacher_id, date, time, status, lateness_minutes,
			 photo_url, latitude, longitude, distance_meters)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at
	`, rec.ID, rec.ScheduleID, rec.TeacherID, rec.Date, rec.Time, rec.Status,
		rec.LatenessMinutes, nullStr(rec.PhotoURL), rec.Latitude, rec.Longitude, rec.DistanceMeters)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ListForTeacher returns a teacher's records, newest first, optionally
// bounded by an inclusive date range.
func (r *Repository) ListForTeacher(ctx context.Context, teacherID, from, to string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, schedule_id, teacher_id, date, time, status, lateness_minutes,
		       COALESCE(photo_url, ''), latitude, longitude, distance_meters, created_at
		FROM attendance_records
		WHERE teacher_id = $1`
	args := []any{teacherID}
	if from != "" {
		args = append(args, from)
		query += ` AND date >= $2`
	}
	if to != "" {
		args = append(args, to)
		if from != "" {
			query += ` AND date <= $3`
		} else {
			query += ` AND date <= $2`
		}
	}
	query += ` ORDER BY date DESC, time DESC LIMIT $` + itoa(len(args)+1) + ` OFFSET $` + itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.ScheduleID, &rec.TeacherID, &rec.Date, &rec.Time,
			&rec.Status, &rec.LatenessMinutes, &rec.PhotoURL,
			&rec.Latitude, &rec.Longitude, &rec.DistanceMeters, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Exists reports whether the slot already has a record on the date.
func (r *Repository) Exists(ctx context.Context, scheduleID, date string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM attendance_records WHERE schedule_id = $1 AND date = $2
		)
	`, scheduleID, date).Scan(&exists)
	return exists, err
}

// MissedSlots returns the slots scheduled on the given weekday that have no
// record for the date. Used by the absent sweep.
func (r *Repository) MissedSlots(ctx context.Context, date string, day time.Weekday) ([]MissedSlot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.teacher_id
		FROM schedules s
		LEFT JOIN attendance_records ar ON ar.schedule_id = s.id AND ar.date = $1
		WHERE s.day_of_week = $2 AND ar.id IS NULL
		ORDER BY s.teacher_id, s.start_time
	`, date, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []MissedSlot
	for rows.Next() {
		var m MissedSlot
		if err := rows.Scan(&m.ScheduleID, &m.TeacherID); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// InsertAbsent writes the absence record for a slot that saw no check-in.
func (r *Repository) InsertAbsent(ctx context.Context, scheduleID, teacherID, date string) (Record, error) {
	return r.Insert(ctx, Record{
		ScheduleID: scheduleID,
		TeacherID:  teacherID,
		Date:       date,
		Time:       "00:00",
		Status:     punctuality.StatusAbsent,
	})
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func itoa(i int) string { return strconv.Itoa(i) }
