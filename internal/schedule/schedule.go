// Package schedule reads the teaching slots eligible for check-in. The slot
// data is owned elsewhere; this package never writes it.
package schedule

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Slot is one scheduled teaching period, an immutable snapshot fetched per
// check-in session.
type Slot struct {
	ID          string       `json:"id"`
	TeacherID   string       `json:"teacher_id"`
	SubjectName string       `json:"subject_name"`
	ClassName   string       `json:"class_name"`
	StartTime   string       `json:"start_time"` // HH:MM
	EndTime     string       `json:"end_time"`   // HH:MM
	Day         time.Weekday `json:"day_of_week"`
}

// Repository reads slots from Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const slotColumns = `
	s.id, s.teacher_id, sub.name, cls.name,
	to_char(s.start_time, 'HH24:MI'), to_char(s.end_time, 'HH24:MI'), s.day_of_week
	FROM schedules s
	JOIN subjects sub ON sub.id = s.subject_id
	JOIN classes cls ON cls.id = s.class_id`

// ListSlotsFor returns a teacher's slots on the given weekday, ordered by
// start time.
func (r *Repository) ListSlotsFor(ctx context.Context, teacherID string, day time.Weekday) ([]Slot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+slotColumns+`
		WHERE s.teacher_id = $1 AND s.day_of_week = $2
		ORDER BY s.start_time
	`, teacherID, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlots(rows)
}

// GetSlot returns a single slot, or nil when it does not exist.
func (r *Repository) GetSlot(ctx context.Context, id string) (*Slot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+slotColumns+`
		WHERE s.id = $1
	`, id)
	var s Slot
	var day int
	if err := row.Scan(&s.ID, &s.TeacherID, &s.SubjectName, &s.ClassName, &s.StartTime, &s.EndTime, &day); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Day = time.Weekday(day)
	return &s, nil
}

func scanSlots(rows *sql.Rows) ([]Slot, error) {
	var res []Slot
	for rows.Next() {
		var s Slot
		var day int
		if err := rows.Scan(&s.ID, &s.TeacherID, &s.SubjectName, &s.ClassName, &s.StartTime, &s.EndTime, &day); err != nil {
			return nil, err
		}
		s.Day = time.Weekday(day)
		res = append(res, s)
	}
	return res, rows.Err()
}
