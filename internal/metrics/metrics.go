// Package metrics exposes the engine's Prometheus counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Checkins counts persisted attendance records by status.
	Checkins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presensi_checkins_total",
		Help: "Attendance records persisted, by punctuality status.",
	}, []string{"status"})

	// GeoVerdicts counts geofence checks by outcome.
	GeoVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presensi_geo_verdicts_total",
		Help: "Geofence verdicts, by outcome (valid, invalid, error).",
	}, []string{"outcome"})

	// CameraFailures counts camera session failures by classified reason.
	CameraFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presensi_camera_failures_total",
		Help: "Camera session failures, by classified reason.",
	}, []string{"reason"})

	// SubmissionRejects counts submissions blocked by the precondition gate.
	SubmissionRejects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presensi_submission_rejects_total",
		Help: "Submissions blocked by the gate, by missing requirement.",
	}, []string{"requirement"})
)

func init() {
	prometheus.MustRegister(Checkins, GeoVerdicts, CameraFailures, SubmissionRejects)
}
