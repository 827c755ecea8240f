package geo

import (
	"context"
	"math"
	"testing"

	"presensi/internal/device"
)

const (
	siteLat = -2.979616780962736
	siteLon = 104.73174075157662
)

func TestDistanceSymmetry(t *testing.T) {
	pairs := [][4]float64{
		{siteLat, siteLon, -3.0000965401243174, 104.8085441647851},
		{0, 0, 0, 1},
		{51.5007, -0.1246, 40.6892, -74.0445},
		{-89.9, 170, 89.9, -170},
	}
	for _, p := range pairs {
		ab := Distance(p[0], p[1], p[2], p[3])
		ba := Distance(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-6 {
			t.Errorf("Distance not symmetric: %v vs %v for %v", ab, ba, p)
		}
	}
}

func TestDistanceZero(t *testing.T) {
	if d := Distance(siteLat, siteLon, siteLat, siteLon); d != 0 {
		t.Errorf("Distance(A,A) = %v, want 0", d)
	}
}

// latOffset returns the latitude delta in degrees that moves a point the
// given number of meters along a meridian.
func latOffset(meters float64) float64 {
	return meters / 6371000 * 180 / math.Pi
}

func TestClassifyBoundary(t *testing.T) {
	v := NewValidator(Target{Latitude: siteLat, Longitude: siteLon, RadiusMeters: 150}, nil)

	atRadius := v.Classify(device.Position{Latitude: siteLat + latOffset(150), Longitude: siteLon})
	if !atRadius.Valid {
		t.Fatalf("sample at the tolerance radius should be valid: %+v", atRadius)
	}
	if atRadius.DistanceMeters == nil || *atRadius.DistanceMeters != 150 {
		t.Errorf("distance = %v, want 150", atRadius.DistanceMeters)
	}

	beyond := v.Classify(device.Position{Latitude: siteLat + latOffset(151), Longitude: siteLon})
	if beyond.Valid {
		t.Fatalf("sample one meter beyond the radius should be invalid: %+v", beyond)
	}
	if beyond.DistanceMeters == nil || *beyond.DistanceMeters != 151 {
		t.Errorf("distance = %v, want 151", beyond.DistanceMeters)
	}
}

type failingProvider struct{ err *device.Error }

func (p failingProvider) CurrentPosition(context.Context) (device.Position, error) {
	return device.Position{}, p.err
}

func TestCheckFailureVerdict(t *testing.T) {
	v := NewValidator(
		Target{Latitude: siteLat, Longitude: siteLon, RadiusMeters: 150},
		failingProvider{&device.Error{Reason: device.ReasonPermissionDenied, Message: "location permission denied"}},
	)
	verdict := v.Check(context.Background())
	if verdict.Valid {
		t.Fatal("failed fix must yield an invalid verdict")
	}
	if verdict.DistanceMeters != nil {
		t.Errorf("failed fix must carry no distance, got %d", *verdict.DistanceMeters)
	}
	if verdict.Message != "location permission denied" {
		t.Errorf("message = %q, want the classified reason", verdict.Message)
	}
}

func TestCheckTimeout(t *testing.T) {
	pos := device.NewRemotePosition()
	v := NewValidator(Target{Latitude: siteLat, Longitude: siteLon, RadiusMeters: 150}, pos)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	verdict := v.Check(ctx)
	if verdict.Valid || verdict.DistanceMeters != nil {
		t.Fatalf("timed-out fix must be invalid with no distance: %+v", verdict)
	}
}
