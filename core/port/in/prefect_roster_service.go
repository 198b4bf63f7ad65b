package in

import (
	"context"

	"prefect_server/core/domain"
)

// RosterService is the backend-agnostic API the UI layer calls. Every
// operation is safe to call without knowing which backend serviced it.
type RosterService interface {
	// === Authentication ===
	CheckAuth(ctx context.Context) bool
	Login(ctx context.Context, email, password string) (*domain.Identity, error)
	Logout(ctx context.Context) error
	GetCurrentUser() *domain.Identity

	// === Roster ===
	GetPrefects(ctx context.Context) ([]domain.Prefect, error)
	AddPrefect(ctx context.Context, req *AddPrefectRequest) (*domain.Prefect, error)
	UpdatePrefect(ctx context.Context, id string, req *UpdatePrefectRequest) error
	DeletePrefect(ctx context.Context, id string) error

	// === Attendance ===
	// MarkAttendance derives date and timestamp from the clock. It returns
	// false when the prefect is already marked for today; that is a benign
	// no-op, not an error.
	MarkAttendance(ctx context.Context, prefectID string) (bool, error)
	GetAttendanceByDate(ctx context.Context, date string) ([]domain.AttendanceRecord, error)

	// === Reconciliation ===
	// SyncToRemote pushes the entire local cache into the remote store,
	// best effort per item.
	SyncToRemote(ctx context.Context) (*SyncReport, error)

	// === Live updates ===
	// SubscribePrefects delivers the full current roster after every remote
	// mutation, including ones made by other operators. Repeated snapshot
	// delivery is expected.
	SubscribePrefects(ctx context.Context, onChange func([]domain.Prefect)) (func(), error)
}

// =============================================================================
// Request/Response Types
// =============================================================================

type AddPrefectRequest struct {
	Name    string            `json:"name" validate:"required,max=200"`
	Profile map[string]string `json:"profile,omitempty"`
}

type UpdatePrefectRequest struct {
	Name    *string           `json:"name,omitempty"`
	Profile map[string]string `json:"profile,omitempty"`
}

// SyncReport summarizes one reconciliation run. Errors holds one message per
// failed item; a failing item never aborts the remaining items.
type SyncReport struct {
	PrefectsSynced    int               `json:"prefectsSynced"`
	PrefectsSkipped   int               `json:"prefectsSkipped"`
	PrefectsFailed    int               `json:"prefectsFailed"`
	AttendanceSynced  int               `json:"attendanceSynced"`
	AttendanceSkipped int               `json:"attendanceSkipped"`
	AttendanceFailed  int               `json:"attendanceFailed"`
	// RemappedIDs records local ids the remote store replaced during
	// re-creation, old id to new id. The local cache keeps the old ids;
	// rewriting history is deliberately out of scope.
	RemappedIDs map[string]string `json:"remappedIds,omitempty"`
	Errors      []string          `json:"errors,omitempty"`
}

// Failed reports whether any item failed to sync.
func (r *SyncReport) Failed() bool {
	return r.PrefectsFailed > 0 || r.AttendanceFailed > 0
}
