package checkin

import (
	"context"
	"errors"
	"image"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"presensi/internal/attendance"
	"presensi/internal/camera"
	"presensi/internal/capture"
	"presensi/internal/device"
	"presensi/internal/geo"
	"presensi/internal/metrics"
	"presensi/internal/schedule"
)

// Config bounds the device acquisitions of one session.
type Config struct {
	Target       geo.Target
	Camera       camera.Config
	PositionWait time.Duration
}

// PreviewSurface stands in for the client's preview element. It exists only
// once the client reports the element mounted, which is what makes the bind
// retry in the camera controller necessary.
type PreviewSurface struct {
	mu     sync.Mutex
	stream device.Stream
}

func (s *PreviewSurface) Attach(st device.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = st
}

func (s *PreviewSurface) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = nil
}

// Bound reports whether a live stream is attached.
func (s *PreviewSurface) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Session owns one check-in attempt end to end: the position fix, the camera
// session, the captured photo and the slot selection. The session is the
// single owner of the active device stream; every exit path releases it.
type Session struct {
	ID        string
	TeacherID string

	cfg       Config
	gate      *Gate
	validator *geo.Validator

	camera *camera.Controller

	mu       sync.Mutex
	position *device.RemotePosition
	cam      *device.RemoteCamera
	surface  *PreviewSurface
	verdict  *geo.Verdict
	photo    *capture.Photo
	slot     *schedule.Slot
	closed   bool
	lastSeen time.Time
}

// sessionCamera lets the controller always open against the session's
// current remote camera, which Retake may have replaced.
type sessionCamera struct{ s *Session }

func (c sessionCamera) Open(ctx context.Context, constraints device.Constraints) (device.Stream, error) {
	c.s.mu.Lock()
	cam := c.s.cam
	c.s.mu.Unlock()
	return cam.Open(ctx, constraints)
}

// NewSession creates an idle session for one teacher.
func NewSession(teacherID string, cfg Config, gate *Gate) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		TeacherID: teacherID,
		cfg:       cfg,
		gate:      gate,
		position:  device.NewRemotePosition(),
		cam:       device.NewRemoteCamera(),
		lastSeen:  time.Now(),
	}
	s.validator = geo.NewValidator(cfg.Target, s.position)
	s.camera = camera.New(sessionCamera{s}, s.currentSurface, cfg.Camera)
	return s
}

func (s *Session) currentSurface() camera.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.surface == nil {
		return nil
	}
	return s.surface
}

// Start launches the geofence check and the camera acquisition. The two run
// concurrently and are causally independent.
func (s *Session) Start() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PositionWait)
		defer cancel()
		verdict := s.validator.Check(ctx)
		s.mu.Lock()
		s.verdict = &verdict
		s.mu.Unlock()
		metrics.GeoVerdicts.WithLabelValues(geoOutcome(verdict)).Inc()
	}()
	go s.startCamera()
}

func (s *Session) startCamera() {
	if err := s.camera.Start(context.Background()); err != nil && !errors.Is(err, camera.ErrStopped) {
		var derr *device.Error
		if errors.As(err, &derr) {
			metrics.CameraFailures.WithLabelValues(string(derr.Reason)).Inc()
		}
		log.Printf("session %s: camera start failed: %v", s.ID, err)
	}
}

// DeliverPosition feeds the one-shot position fix from the client device.
func (s *Session) DeliverPosition(pos device.Position) {
	s.touch()
	s.position.Deliver(pos)
}

// FailPosition records a classified geolocation failure from the client.
func (s *Session) FailPosition(err *device.Error) {
	s.touch()
	s.position.Fail(err)
}

// DeliverFrame feeds the newest preview frame from the client device.
func (s *Session) DeliverFrame(frame image.Image) error {
	s.touch()
	s.mu.Lock()
	cam := s.cam
	s.mu.Unlock()
	return cam.Deliver(frame)
}

// FailCamera records a classified acquisition failure from the client.
func (s *Session) FailCamera(err *device.Error) {
	s.touch()
	s.mu.Lock()
	cam := s.cam
	s.mu.Unlock()
	cam.Fail(err)
}

// MountView reports that the client's preview element exists, resolving the
// bind race. Idempotent.
func (s *Session) MountView() {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.surface == nil {
		s.surface = &PreviewSurface{}
	}
}

// SelectSlot records the eligible slot the user picked; nil clears it.
func (s *Session) SelectSlot(slot *schedule.Slot) {
	s.touch()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot = slot
}

// Capture freezes one frame from the live stream into a new photo,
// invalidating any previous one. Fails with capture.ErrNotReady while the
// stream has no decodable frame, leaving the previous photo untouched.
func (s *Session) Capture() (*capture.Photo, error) {
	s.touch()
	stream := s.camera.Stream()
	if stream == nil {
		return nil, capture.ErrNotReady
	}
	photo, err := capture.Take(stream)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.photo = photo
	s.mu.Unlock()
	return photo, nil
}

// Retake discards the captured photo and, when the camera was left idle,
// restarts it with a fresh acquisition.
func (s *Session) Retake() {
	s.touch()
	s.mu.Lock()
	s.photo = nil
	restart := s.camera.State() == camera.StateIdle
	if restart {
		s.cam = device.NewRemoteCamera()
	}
	s.mu.Unlock()
	if restart {
		go s.startCamera()
	}
}

// Submit runs the gate over the session's current state. On full success the
// camera is stopped and the photo and slot are cleared; on any failure the
// session state survives intact for a retry.
func (s *Session) Submit(ctx context.Context) (attendance.Record, error) {
	s.touch()
	s.mu.Lock()
	sub := Submission{TeacherID: s.TeacherID, Slot: s.slot, Verdict: s.verdict, Photo: s.photo}
	s.mu.Unlock()

	rec, err := s.gate.Submit(ctx, sub)
	if err != nil {
		return attendance.Record{}, err
	}

	s.camera.Stop()
	s.mu.Lock()
	s.photo = nil
	s.slot = nil
	s.mu.Unlock()
	return rec, nil
}

// Close tears the session down, synchronously stopping the active stream so
// no live camera indicator outlasts the view. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.camera.Stop()
}

// Status is a point-in-time snapshot for the status surface.
type Status struct {
	ID            string         `json:"id"`
	CameraState   camera.State   `json:"camera_state"`
	CameraError   string         `json:"camera_error,omitempty"`
	Geo           *geo.Verdict   `json:"geo,omitempty"`
	PreviewBound  bool           `json:"preview_bound"`
	PhotoCaptured bool           `json:"photo_captured"`
	PhotoPreview  string         `json:"photo_preview,omitempty"`
	Slot          *schedule.Slot `json:"slot,omitempty"`
}

// Snapshot reports the session's current state.
func (s *Session) Snapshot() Status {
	s.touch()
	st := Status{
		ID:          s.ID,
		CameraState: s.camera.State(),
	}
	if derr := s.camera.Err(); derr != nil {
		st.CameraError = derr.Message
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Geo = s.verdict
	st.PreviewBound = s.surface != nil && s.surface.Bound()
	if s.photo != nil {
		st.PhotoCaptured = true
		st.PhotoPreview = s.photo.PreviewDataURL
	}
	st.Slot = s.slot
	return st
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) expired(ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastSeen) > ttl
}

func geoOutcome(v geo.Verdict) string {
	switch {
	case v.Valid:
		return "valid"
	case v.DistanceMeters != nil:
		return "invalid"
	default:
		return "error"
	}
}
