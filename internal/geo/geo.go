// Package geo validates a device position fix against a fixed target
// coordinate within a tolerance radius.
package geo

import (
	"context"
	"fmt"
	"math"

	"presensi/internal/device"
)

// earthRadiusM is the mean Earth radius used by the haversine formula.
const earthRadiusM = 6371000

// Target is the fixed site coordinate and its tolerance radius.
type Target struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters int
}

// Verdict is the outcome of one position check. It is recomputed whole each
// time a sample arrives; no history is kept.
type Verdict struct {
	Valid          bool             `json:"valid"`
	DistanceMeters *int             `json:"distance_meters,omitempty"`
	Message        string           `json:"message"`
	Position       *device.Position `json:"position,omitempty"`
}

// Distance returns the great-circle distance in meters between two
// coordinates given in degrees, using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// Validator performs the one-shot geofence check.
type Validator struct {
	target   Target
	provider device.PositionProvider
}

func NewValidator(target Target, provider device.PositionProvider) *Validator {
	return &Validator{target: target, provider: provider}
}

// Check requests one position fix and classifies it against the target. The
// check is taken at a single point in time; the returned verdict stays
// authoritative until the user re-triggers it.
func (v *Validator) Check(ctx context.Context) Verdict {
	pos, err := v.provider.CurrentPosition(ctx)
	if err != nil {
		return Verdict{Valid: false, Message: err.Error()}
	}
	return v.Classify(pos)
}

// Classify computes the verdict for an already-obtained position sample.
func (v *Validator) Classify(pos device.Position) Verdict {
	d := int(math.Round(Distance(pos.Latitude, pos.Longitude, v.target.Latitude, v.target.Longitude)))
	if d <= v.target.RadiusMeters {
		return Verdict{
			Valid:          true,
			DistanceMeters: &d,
			Message:        fmt.Sprintf("location valid (%dm from site)", d),
			Position:       &pos,
		}
	}
	return Verdict{
		Valid:          false,
		DistanceMeters: &d,
		Message:        fmt.Sprintf("too far from site (%dm, limit %dm)", d, v.target.RadiusMeters),
		Position:       &pos,
	}
}
