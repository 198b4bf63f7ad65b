package out

import (
	"context"

	"prefect_server/core/domain"
)

// RemoteStore is the networked document store, source of truth when
// reachable. Every method except CurrentIdentity may fail with a store or
// auth error; the synchronized repository decides whether to fall back.
type RemoteStore interface {
	// CheckAuthenticated reflects the current authentication state. It
	// touches the store so an unreachable backend reports an error rather
	// than a stale true.
	CheckAuthenticated(ctx context.Context) (bool, error)

	// Login verifies operator credentials against the store and records the
	// resulting identity for the session.
	Login(ctx context.Context, email, password string) (*domain.Identity, error)

	// Logout clears the session identity.
	Logout(ctx context.Context) error

	// CurrentIdentity returns the last-known identity without a network
	// round trip. Nil when unauthenticated.
	CurrentIdentity() *domain.Identity

	// AddPrefect stores a new prefect, assigns a fresh id and stamps
	// creation provenance. Returns the assigned id.
	AddPrefect(ctx context.Context, p *domain.Prefect) (string, error)

	// ListPrefects returns the full roster. No pagination.
	ListPrefects(ctx context.Context) ([]domain.Prefect, error)

	// UpdatePrefect applies a partial update and stamps update provenance.
	// Fails with a not-found error when the id is absent.
	UpdatePrefect(ctx context.Context, id string, upd *domain.PrefectUpdate) error

	// DeletePrefect removes the prefect and, best effort, its attendance
	// documents.
	DeletePrefect(ctx context.Context, id string) error

	// MarkAttendance upserts the record under its composite key, so
	// re-marking the same prefect and date overwrites rather than
	// duplicates.
	MarkAttendance(ctx context.Context, rec *domain.AttendanceRecord) error

	// AttendanceExists probes for a record by its composite key.
	AttendanceExists(ctx context.Context, date, prefectID string) (bool, error)

	// ListAttendanceByDate returns all records for one calendar day.
	ListAttendanceByDate(ctx context.Context, date string) ([]domain.AttendanceRecord, error)

	// IncrementAttendanceCount bumps a prefect's counter atomically on the
	// store side, avoiding the read-increment-write race.
	IncrementAttendanceCount(ctx context.Context, id string, delta int) error
}
