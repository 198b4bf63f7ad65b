package out

import (
	"prefect_server/core/domain"
)

// LocalStore is the on-device fallback cache. All operations are synchronous
// and total: reads of missing or corrupt entries yield the empty collection,
// write failures are swallowed after logging. Callers get whole-collection
// read/replace only, so multi-step updates are read-modify-write sequences
// the repository serializes.
type LocalStore interface {
	ReadPrefects() []domain.Prefect
	WritePrefects(prefects []domain.Prefect)

	// ReadAttendance returns the full attendance map keyed by YYYY-MM-DD.
	// Records carry their Date restored from the key.
	ReadAttendance() map[string][]domain.AttendanceRecord
	WriteAttendance(attendance map[string][]domain.AttendanceRecord)

	// Auth sentinel for fallback-authentication mode.
	ReadAuthFlag() bool
	WriteAuthFlag(authenticated bool)

	Close() error
}
