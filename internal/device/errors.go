package device

import "fmt"

// Reason classifies a device capability failure.
type Reason string

const (
	ReasonPermissionDenied Reason = "permission_denied"
	ReasonUnavailable      Reason = "device_unavailable"
	ReasonBusy             Reason = "device_busy"
	ReasonUnsupported      Reason = "unsupported_constraints"
)

// Error is a classified device failure carrying a user-facing message.
// All device errors are recoverable by user retry.
type Error struct {
	Reason  Reason
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// ClassifyCameraError maps a getUserMedia error name reported by the client
// device to a classified failure with a distinct user-facing message.
func ClassifyCameraError(name string) *Error {
	switch name {
	case "NotAllowedError":
		return &Error{Reason: ReasonPermissionDenied, Message: "camera permission denied; allow camera access in the browser"}
	case "NotFoundError":
		return &Error{Reason: ReasonUnavailable, Message: "no camera found on this device"}
	case "NotReadableError":
		return &Error{Reason: ReasonBusy, Message: "camera is in use by another application"}
	case "OverconstrainedError":
		return &Error{Reason: ReasonUnsupported, Message: "camera settings are not supported by this device"}
	default:
		return &Error{Reason: ReasonUnavailable, Message: "failed to access the camera"}
	}
}

// ClassifyPositionError maps a geolocation failure reported by the client.
func ClassifyPositionError(name string) *Error {
	switch name {
	case "PermissionDenied", "permission_denied":
		return &Error{Reason: ReasonPermissionDenied, Message: "location permission denied"}
	case "Unsupported", "unsupported":
		return &Error{Reason: ReasonUnsupported, Message: "geolocation is not supported on this device"}
	default:
		return &Error{Reason: ReasonUnavailable, Message: "could not get a position fix; make sure GPS is on"}
	}
}
