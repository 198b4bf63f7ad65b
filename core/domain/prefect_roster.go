// Package domain contains the core roster and attendance types.
package domain

import (
	"time"
)

// =============================================================================
// Identity
// =============================================================================

// Identity is the authenticated operator of the current session.
type Identity struct {
	Email string `json:"email"`
}

// =============================================================================
// Prefect
// =============================================================================

// Prefect is a roster member tracked for attendance.
//
// ID is immutable once assigned: the remote store assigns it when reachable,
// otherwise the repository generates a "P"-prefixed local id. TotalAttendance
// converges on the number of attendance records referencing the prefect; it
// may lag under concurrent marking from another session.
type Prefect struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Profile         map[string]string `json:"profile,omitempty"`
	TotalAttendance int               `json:"totalAttendance"`

	// Provenance, stamped by the repository rather than the caller.
	CreatedAt string `json:"createdAt,omitempty"`
	CreatedBy string `json:"createdBy,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

// PrefectUpdate carries partial profile edits. Nil fields are left untouched.
type PrefectUpdate struct {
	Name            *string           `json:"name,omitempty"`
	Profile         map[string]string `json:"profile,omitempty"`
	TotalAttendance *int              `json:"totalAttendance,omitempty"`
}

// Empty reports whether the update would change nothing.
func (u *PrefectUpdate) Empty() bool {
	return u == nil || (u.Name == nil && u.Profile == nil && u.TotalAttendance == nil)
}

// =============================================================================
// Attendance
// =============================================================================

// AttendanceRecord marks one prefect present on one calendar day.
//
// Records are immutable and keyed by (Date, PrefectID); re-marking the same
// pair overwrites the same record instead of creating a second one. Date is
// omitted from the local persisted form because the attendance map is already
// keyed by date.
type AttendanceRecord struct {
	PrefectID string `json:"prefectId"`
	Date      string `json:"date,omitempty"`
	Timestamp string `json:"timestamp"`
	MarkedBy  string `json:"markedBy,omitempty"`
}

// AttendanceKey derives the deterministic composite document key that makes
// marking idempotent at the storage layer: one record per prefect per day.
func AttendanceKey(date, prefectID string) string {
	return date + "_" + prefectID
}

// =============================================================================
// Roster events
// =============================================================================

// RosterEventKind classifies a roster mutation.
type RosterEventKind string

const (
	RosterPrefectAdded   RosterEventKind = "prefect_added"
	RosterPrefectUpdated RosterEventKind = "prefect_updated"
	RosterPrefectDeleted RosterEventKind = "prefect_deleted"
	RosterAttendanceMark RosterEventKind = "attendance_marked"
)

// RosterEvent announces a successful remote mutation to other sessions.
// The channel is advisory: subscribers re-read the roster, they never apply
// the event as a delta.
type RosterEvent struct {
	Kind      RosterEventKind `json:"kind"`
	PrefectID string          `json:"prefectId,omitempty"`
	Date      string          `json:"date,omitempty"`
	At        string          `json:"at"`
}

// =============================================================================
// Clock helpers
// =============================================================================

// isoMillis matches the JavaScript Date.toISOString wire format the original
// data set was written with, millisecond precision and a literal Z.
const isoMillis = "2006-01-02T15:04:05.000Z"

// NowISO returns the current instant as an ISO 8601 string.
func NowISO() string {
	return time.Now().UTC().Format(isoMillis)
}

// Today returns the current calendar day as YYYY-MM-DD.
func Today() string {
	return time.Now().UTC().Format("2006-01-02")
}
