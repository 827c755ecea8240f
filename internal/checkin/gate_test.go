package checkin

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"presensi/internal/attendance"
	"presensi/internal/capture"
	"presensi/internal/device"
	"presensi/internal/geo"
	"presensi/internal/punctuality"
	"presensi/internal/schedule"
)

type fakeStorage struct {
	names []string
	err   error
}

func (s *fakeStorage) Upload(_ context.Context, name string, _ []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.names = append(s.names, name)
	return "https://cdn.test/" + name, nil
}

type fakeRecords struct {
	inserted []attendance.Record
	err      error
}

func (r *fakeRecords) Insert(_ context.Context, rec attendance.Record) (attendance.Record, error) {
	if r.err != nil {
		return attendance.Record{}, r.err
	}
	rec.ID = fmt.Sprintf("rec-%d", len(r.inserted)+1)
	rec.CreatedAt = time.Now()
	r.inserted = append(r.inserted, rec)
	return rec, nil
}

func intPtr(i int) *int { return &i }

func validSubmission() Submission {
	return Submission{
		TeacherID: "teacher-1",
		Slot:      &schedule.Slot{ID: "slot-1", TeacherID: "teacher-1", StartTime: "07:00", EndTime: "08:30"},
		Verdict: &geo.Verdict{
			Valid:          true,
			DistanceMeters: intPtr(80),
			Position:       &device.Position{Latitude: -2.9789, Longitude: 104.7315},
		},
		Photo: &capture.Photo{Payload: []byte("jpeg-bytes"), PreviewDataURL: "data:image/jpeg;base64,x"},
	}
}

func TestGateCheckEnumeratesMissing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Submission)
		want   []Requirement
	}{
		{"all present", func(s *Submission) {}, nil},
		{"no slot", func(s *Submission) { s.Slot = nil }, []Requirement{RequirementSlot}},
		{"no verdict", func(s *Submission) { s.Verdict = nil }, []Requirement{RequirementGeo}},
		{"invalid verdict", func(s *Submission) { s.Verdict.Valid = false }, []Requirement{RequirementGeo}},
		{"no photo", func(s *Submission) { s.Photo = nil }, []Requirement{RequirementPhoto}},
		{"empty payload", func(s *Submission) { s.Photo.Payload = nil }, []Requirement{RequirementPhoto}},
		{"slot and photo missing", func(s *Submission) { s.Slot = nil; s.Photo = nil },
			[]Requirement{RequirementSlot, RequirementPhoto}},
		{"everything missing", func(s *Submission) { s.Slot = nil; s.Verdict = nil; s.Photo = nil },
			[]Requirement{RequirementSlot, RequirementGeo, RequirementPhoto}},
	}
	g := NewGate(&fakeStorage{}, &fakeRecords{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := validSubmission()
			tt.mutate(&sub)
			got := g.Check(sub)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Check() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGateSubmitBlockedReportsExactSet(t *testing.T) {
	records := &fakeRecords{}
	g := NewGate(&fakeStorage{}, records)

	sub := validSubmission()
	sub.Photo = nil
	_, err := g.Submit(context.Background(), sub)

	var perr *PreconditionError
	if !errors.As(err, &perr) {
		t.Fatalf("Submit() error = %v, want PreconditionError", err)
	}
	if !reflect.DeepEqual(perr.Missing, []Requirement{RequirementPhoto}) {
		t.Errorf("missing = %v, want exactly the photo requirement", perr.Missing)
	}
	if len(records.inserted) != 0 {
		t.Error("blocked submission must not persist anything")
	}
}

func TestGateSubmitEndToEnd(t *testing.T) {
	storage := &fakeStorage{}
	records := &fakeRecords{}
	g := NewGate(storage, records)
	g.now = func() time.Time {
		return time.Date(2026, 8, 28, 7, 5, 0, 0, time.Local)
	}

	rec, err := g.Submit(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if rec.Status != punctuality.StatusLate || rec.LatenessMinutes != 5 {
		t.Errorf("status = %v lateness = %d, want late by 5", rec.Status, rec.LatenessMinutes)
	}
	if rec.DistanceMeters == nil || *rec.DistanceMeters != 80 {
		t.Errorf("distance = %v, want 80", rec.DistanceMeters)
	}
	if rec.Date != "2026-08-28" || rec.Time != "07:05" {
		t.Errorf("date/time = %s %s, want 2026-08-28 07:05", rec.Date, rec.Time)
	}
	if rec.Latitude == nil || rec.Longitude == nil {
		t.Error("record must carry the sampled coordinates")
	}
	if len(records.inserted) != 1 {
		t.Fatalf("persisted %d records, want exactly 1", len(records.inserted))
	}
	if len(storage.names) != 1 {
		t.Fatalf("uploaded %d payloads, want exactly 1", len(storage.names))
	}
	wantName := fmt.Sprintf("teacher-1_%d.jpg", g.now().UnixMilli())
	if storage.names[0] != wantName {
		t.Errorf("upload name = %q, want %q (unique per submitter and instant)", storage.names[0], wantName)
	}
	if rec.PhotoURL != "https://cdn.test/"+wantName {
		t.Errorf("photo url = %q, want the storage reference", rec.PhotoURL)
	}
}

func TestGateSubmitOnTime(t *testing.T) {
	records := &fakeRecords{}
	g := NewGate(&fakeStorage{}, records)
	g.now = func() time.Time {
		return time.Date(2026, 8, 28, 6, 55, 0, 0, time.Local)
	}

	rec, err := g.Submit(context.Background(), validSubmission())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec.Status != punctuality.StatusOnTime || rec.LatenessMinutes != 0 {
		t.Errorf("status = %v lateness = %d, want on time with 0", rec.Status, rec.LatenessMinutes)
	}
}

func TestGateSubmitUploadFailure(t *testing.T) {
	records := &fakeRecords{}
	g := NewGate(&fakeStorage{err: errors.New("bucket gone")}, records)

	_, err := g.Submit(context.Background(), validSubmission())
	var uerr *UploadError
	if !errors.As(err, &uerr) {
		t.Fatalf("Submit() error = %v, want UploadError", err)
	}
	if len(records.inserted) != 0 {
		t.Error("upload failure must leave no partial record")
	}
}

func TestGateSubmitPersistFailure(t *testing.T) {
	storage := &fakeStorage{}
	g := NewGate(storage, &fakeRecords{err: errors.New("insert rejected")})

	_, err := g.Submit(context.Background(), validSubmission())
	var perr *PersistError
	if !errors.As(err, &perr) {
		t.Fatalf("Submit() error = %v, want PersistError", err)
	}
}
