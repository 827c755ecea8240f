package checkin

import "strings"

// Requirement names one submission precondition.
type Requirement string

const (
	RequirementSlot  Requirement = "schedule_slot"
	RequirementGeo   Requirement = "valid_location"
	RequirementPhoto Requirement = "photo"
)

// PreconditionError enumerates every unmet requirement independently; they
// are never collapsed into one generic failure.
type PreconditionError struct {
	Missing []Requirement
}

func (e *PreconditionError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, r := range e.Missing {
		parts[i] = string(r)
	}
	return "submission blocked, missing: " + strings.Join(parts, ", ")
}

// UploadError reports a rejected photo upload. The captured photo and camera
// session survive it so the user can resubmit without recapturing.
type UploadError struct{ Err error }

func (e *UploadError) Error() string { return "photo upload failed: " + e.Err.Error() }
func (e *UploadError) Unwrap() error { return e.Err }

// PersistError reports a rejected record write, after a successful upload.
// Prior captured state is kept intact, same as UploadError.
type PersistError struct{ Err error }

func (e *PersistError) Error() string { return "saving attendance failed: " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }
