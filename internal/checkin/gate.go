// Package checkin drives one attendance check-in: the session that owns the
// geo verdict, camera session and captured photo, and the all-or-nothing
// gate that turns them into a persisted record.
package checkin

import (
	"context"
	"fmt"
	"time"

	"presensi/internal/attendance"
	"presensi/internal/capture"
	"presensi/internal/geo"
	"presensi/internal/metrics"
	"presensi/internal/punctuality"
	"presensi/internal/schedule"
)

// ObjectStorage stores a photo payload under a unique name and returns a
// retrievable public reference.
type ObjectStorage interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// RecordStore persists attendance records.
type RecordStore interface {
	Insert(ctx context.Context, rec attendance.Record) (attendance.Record, error)
}

// Submission is everything the gate inspects before emitting a record.
type Submission struct {
	TeacherID string
	Slot      *schedule.Slot
	Verdict   *geo.Verdict
	Photo     *capture.Photo
}

// Gate is the sole enforcement point of the record invariant: a record is
// only constructible from a selected slot, a valid geo verdict and a
// captured photo.
type Gate struct {
	storage ObjectStorage
	records RecordStore
	now     func() time.Time
}

func NewGate(storage ObjectStorage, records RecordStore) *Gate {
	return &Gate{storage: storage, records: records, now: time.Now}
}

// Check evaluates each precondition independently and returns the unmet set.
func (g *Gate) Check(sub Submission) []Requirement {
	var missing []Requirement
	if sub.Slot == nil {
		missing = append(missing, RequirementSlot)
	}
	if sub.Verdict == nil || !sub.Verdict.Valid {
		missing = append(missing, RequirementGeo)
	}
	if sub.Photo == nil || len(sub.Photo.Payload) == 0 {
		missing = append(missing, RequirementPhoto)
	}
	return missing
}

// Submit runs the full sequence: gate, upload, punctuality, persist. On any
// downstream failure it aborts without clearing anything, so a retry needs
// no recapture. The record is assembled exactly once and never mutated.
func (g *Gate) Submit(ctx context.Context, sub Submission) (attendance.Record, error) {
	if missing := g.Check(sub); len(missing) > 0 {
		for _, r := range missing {
			metrics.SubmissionRejects.WithLabelValues(string(r)).Inc()
		}
		return attendance.Record{}, &PreconditionError{Missing: missing}
	}

	now := g.now()
	name := fmt.Sprintf("%s_%d.jpg", sub.TeacherID, now.UnixMilli())
	photoURL, err := g.storage.Upload(ctx, name, sub.Photo.Payload)
	if err != nil {
		return attendance.Record{}, &UploadError{Err: err}
	}

	scheduled, err := punctuality.ParseTimeOfDay(sub.Slot.StartTime)
	if err != nil {
		return attendance.Record{}, fmt.Errorf("slot start time: %w", err)
	}
	status, lateness := punctuality.Evaluate(scheduled, punctuality.FromClock(now))

	rec := attendance.Record{
		ScheduleID:      sub.Slot.ID,
		TeacherID:       sub.TeacherID,
		Date:            now.Format("2006-01-02"),
		Time:            now.Format("15:04"),
		Status:          status,
		LatenessMinutes: lateness,
		PhotoURL:        photoURL,
		DistanceMeters:  sub.Verdict.DistanceMeters,
	}
	if pos := sub.Verdict.Position; pos != nil {
		rec.Latitude = &pos.Latitude
		rec.Longitude = &pos.Longitude
	}

	saved, err := g.records.Insert(ctx, rec)
	if err != nil {
		return attendance.Record{}, &PersistError{Err: err}
	}
	metrics.Checkins.WithLabelValues(string(saved.Status)).Inc()
	return saved, nil
}
