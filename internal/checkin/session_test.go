package checkin

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"presensi/internal/camera"
	"presensi/internal/device"
	"presensi/internal/geo"
	"presensi/internal/punctuality"
	"presensi/internal/schedule"
)

const (
	siteLat = -2.979616780962736
	siteLon = 104.73174075157662
)

func testSessionConfig() Config {
	return Config{
		Target:       geo.Target{Latitude: siteLat, Longitude: siteLon, RadiusMeters: 150},
		Camera:       camera.Config{AcquireWait: 2 * time.Second, BindAttempts: 15, BindBackoff: 5 * time.Millisecond},
		PositionWait: 2 * time.Second,
	}
}

// positionAt returns a coordinate the given number of meters north of the
// site.
func positionAt(meters float64) device.Position {
	return device.Position{
		Latitude:  siteLat + meters/6371000*180/math.Pi,
		Longitude: siteLon,
	}
}

func slotAt(start string) *schedule.Slot {
	return &schedule.Slot{ID: "slot-1", TeacherID: "teacher-1", SubjectName: "Mathematics", ClassName: "10-A", StartTime: start, EndTime: "08:30"}
}

func testFrame(seed uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: seed, G: uint8(x * 16), B: uint8(y * 16), A: 255})
		}
	}
	return img
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func startedSession(t *testing.T, storage *fakeStorage, records *fakeRecords) (*Session, *Gate) {
	t.Helper()
	gate := NewGate(storage, records)
	s := NewSession("teacher-1", testSessionConfig(), gate)
	t.Cleanup(s.Close)

	s.MountView()
	s.Start()
	s.DeliverPosition(positionAt(80))
	if err := s.DeliverFrame(testFrame(10)); err != nil {
		t.Fatalf("DeliverFrame() error = %v", err)
	}
	waitFor(t, "camera ready", func() bool { return s.camera.State() == camera.StateReady })
	waitFor(t, "geo verdict", func() bool { return s.Snapshot().Geo != nil })
	return s, gate
}

func TestSessionEndToEnd(t *testing.T) {
	storage := &fakeStorage{}
	records := &fakeRecords{}
	s, gate := startedSession(t, storage, records)
	gate.now = func() time.Time {
		return time.Date(2026, 8, 28, 7, 5, 0, 0, time.Local)
	}

	snap := s.Snapshot()
	if !snap.Geo.Valid || snap.Geo.DistanceMeters == nil || *snap.Geo.DistanceMeters != 80 {
		t.Fatalf("geo verdict = %+v, want valid at 80m", snap.Geo)
	}
	if !snap.PreviewBound {
		t.Error("preview should be bound once mounted and ready")
	}

	if _, err := s.Capture(); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	s.SelectSlot(slotAt("07:00"))

	rec, err := s.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec.Status != punctuality.StatusLate || rec.LatenessMinutes != 5 {
		t.Errorf("status = %v lateness = %d, want late by 5", rec.Status, rec.LatenessMinutes)
	}
	if rec.DistanceMeters == nil || *rec.DistanceMeters != 80 {
		t.Errorf("distance = %v, want 80", rec.DistanceMeters)
	}
	if len(records.inserted) != 1 {
		t.Fatalf("persisted %d records, want exactly 1", len(records.inserted))
	}

	// Full success releases the capture session and clears the photo.
	if got := s.camera.State(); got != camera.StateIdle {
		t.Errorf("camera state after submit = %v, want idle", got)
	}
	after := s.Snapshot()
	if after.PhotoCaptured || after.Slot != nil {
		t.Error("photo and slot must be cleared after a successful submit")
	}
}

func TestSessionUploadFailureKeepsState(t *testing.T) {
	storage := &fakeStorage{err: errors.New("cdn down")}
	records := &fakeRecords{}
	s, _ := startedSession(t, storage, records)

	if _, err := s.Capture(); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	s.SelectSlot(slotAt("07:00"))

	_, err := s.Submit(context.Background())
	var uerr *UploadError
	if !errors.As(err, &uerr) {
		t.Fatalf("Submit() error = %v, want UploadError", err)
	}

	// Camera and photo survive so the user can retry without recapturing.
	if got := s.camera.State(); got != camera.StateReady {
		t.Errorf("camera state = %v, want ready after failed upload", got)
	}
	if !s.Snapshot().PhotoCaptured {
		t.Fatal("photo must be retained after a failed upload")
	}

	storage.err = nil
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("retry Submit() error = %v", err)
	}
	if len(records.inserted) != 1 {
		t.Errorf("persisted %d records, want exactly 1", len(records.inserted))
	}
}

func TestSessionPreconditionsEnumerated(t *testing.T) {
	s, _ := startedSession(t, &fakeStorage{}, &fakeRecords{})

	// Geo is valid, but no slot is selected and no photo captured.
	_, err := s.Submit(context.Background())
	var perr *PreconditionError
	if !errors.As(err, &perr) {
		t.Fatalf("Submit() error = %v, want PreconditionError", err)
	}
	want := []Requirement{RequirementSlot, RequirementPhoto}
	if len(perr.Missing) != 2 || perr.Missing[0] != want[0] || perr.Missing[1] != want[1] {
		t.Errorf("missing = %v, want %v", perr.Missing, want)
	}
}

func TestSessionRetakeDiscardsPhoto(t *testing.T) {
	s, _ := startedSession(t, &fakeStorage{}, &fakeRecords{})

	first, err := s.Capture()
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	s.Retake()
	if s.Snapshot().PhotoCaptured {
		t.Fatal("retake must discard the captured photo")
	}

	if err := s.DeliverFrame(testFrame(11)); err != nil {
		t.Fatalf("DeliverFrame() error = %v", err)
	}
	second, err := s.Capture()
	if err != nil {
		t.Fatalf("Capture() after retake error = %v", err)
	}
	if bytes.Equal(first.Payload, second.Payload) {
		t.Error("retaken photo must be byte-distinct from the discarded one")
	}
}

func TestSessionRetakeRestartsIdleCamera(t *testing.T) {
	s, _ := startedSession(t, &fakeStorage{}, &fakeRecords{})

	s.camera.Stop()
	s.Retake()
	waitFor(t, "camera restarting", func() bool { return s.camera.State() == camera.StateStarting })

	if err := s.DeliverFrame(testFrame(12)); err != nil {
		t.Fatalf("DeliverFrame() after restart error = %v", err)
	}
	waitFor(t, "camera ready again", func() bool { return s.camera.State() == camera.StateReady })
}

func TestSessionCloseStopsStream(t *testing.T) {
	s, _ := startedSession(t, &fakeStorage{}, &fakeRecords{})

	s.Close()
	if got := s.camera.State(); got != camera.StateIdle {
		t.Fatalf("camera state after close = %v, want idle", got)
	}
	if err := s.DeliverFrame(testFrame(13)); !errors.Is(err, device.ErrStreamReleased) {
		t.Errorf("DeliverFrame() after close error = %v, want ErrStreamReleased", err)
	}
	s.Close() // idempotent
}

func TestSessionGeoFailure(t *testing.T) {
	gate := NewGate(&fakeStorage{}, &fakeRecords{})
	s := NewSession("teacher-1", testSessionConfig(), gate)
	t.Cleanup(s.Close)
	s.Start()
	s.FailPosition(device.ClassifyPositionError("PermissionDenied"))

	waitFor(t, "geo verdict", func() bool { return s.Snapshot().Geo != nil })
	snap := s.Snapshot()
	if snap.Geo.Valid || snap.Geo.DistanceMeters != nil {
		t.Errorf("verdict = %+v, want invalid with no distance", snap.Geo)
	}
	if snap.Geo.Message != "location permission denied" {
		t.Errorf("message = %q, want the classified reason", snap.Geo.Message)
	}
}

func TestSessionCameraFailureClassified(t *testing.T) {
	gate := NewGate(&fakeStorage{}, &fakeRecords{})
	s := NewSession("teacher-1", testSessionConfig(), gate)
	t.Cleanup(s.Close)
	s.MountView()
	s.Start()
	s.FailCamera(device.ClassifyCameraError("NotReadableError"))

	waitFor(t, "camera error", func() bool { return s.camera.State() == camera.StateError })
	snap := s.Snapshot()
	if snap.CameraError != "camera is in use by another application" {
		t.Errorf("camera error = %q, want the busy message", snap.CameraError)
	}
}
