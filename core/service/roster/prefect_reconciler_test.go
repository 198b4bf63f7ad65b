package roster

import (
	"context"
	"strings"
	"testing"

	"prefect_server/core/domain"
	"prefect_server/core/port/in"
	"prefect_server/pkg/apperr"
)

func TestSyncToRemoteRequiresRemote(t *testing.T) {
	env := newTestEnv(nil)
	if _, err := env.repo.SyncToRemote(context.Background()); err == nil {
		t.Fatal("expected error without a remote store")
	}

	remote := newFakeRemoteStore()
	remote.setDown(true)
	env = newTestEnv(remote)
	_, err := env.repo.SyncToRemote(context.Background())
	if err == nil {
		t.Fatal("expected error while remote store unreachable")
	}
	if appErr := apperr.AsAppError(err); appErr.Code != apperr.CodeStoreUnreachable {
		t.Errorf("error code = %s, want %s", appErr.Code, apperr.CodeStoreUnreachable)
	}
}

func TestSyncToRemotePushesLocalState(t *testing.T) {
	remote := newFakeRemoteStore()
	env := newTestEnv(remote)
	ctx := context.Background()

	// Build up offline state: two prefects and their attendance.
	remote.setDown(true)
	p1, err := env.repo.AddPrefect(ctx, &in.AddPrefectRequest{Name: "Alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := env.repo.AddPrefect(ctx, &in.AddPrefectRequest{Name: "Bob"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range []string{p1.ID, p2.ID} {
		if _, err := env.repo.MarkAttendance(ctx, id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	remote.setDown(false)

	report, err := env.repo.SyncToRemote(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.PrefectsSynced != 2 || report.PrefectsFailed != 0 {
		t.Errorf("prefects synced/failed = %d/%d, want 2/0", report.PrefectsSynced, report.PrefectsFailed)
	}
	if report.AttendanceSynced != 2 || report.AttendanceFailed != 0 {
		t.Errorf("attendance synced/failed = %d/%d, want 2/0", report.AttendanceSynced, report.AttendanceFailed)
	}
	if report.Failed() {
		t.Error("report should not be marked failed")
	}

	// Local ids were remapped to remote-assigned ones.
	for _, oldID := range []string{p1.ID, p2.ID} {
		newID, ok := report.RemappedIDs[oldID]
		if !ok {
			t.Errorf("no remap recorded for %s", oldID)
			continue
		}
		if !strings.HasPrefix(newID, "remote-") {
			t.Errorf("remapped id %q should be remote-assigned", newID)
		}
		if _, ok := remote.prefects[newID]; !ok {
			t.Errorf("remote store missing re-created prefect %s", newID)
		}
	}

	// Attendance records landed under their composite keys with the
	// original prefect ids; history is not rewritten.
	if _, ok := remote.attendance[domain.AttendanceKey(testDate, p1.ID)]; !ok {
		t.Errorf("remote store missing attendance record for %s", p1.ID)
	}
}

func TestSyncToRemoteSkipsExisting(t *testing.T) {
	remote := newFakeRemoteStore()
	env := newTestEnv(remote)
	ctx := context.Background()

	p, err := env.repo.AddPrefect(ctx, &in.AddPrefectRequest{Name: "Carol"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := env.repo.MarkAttendance(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Everything already lives remotely; the run should be a pure no-op.
	report, err := env.repo.SyncToRemote(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.PrefectsSkipped != 1 || report.PrefectsSynced != 0 {
		t.Errorf("prefects skipped/synced = %d/%d, want 1/0", report.PrefectsSkipped, report.PrefectsSynced)
	}
	if report.AttendanceSkipped != 1 || report.AttendanceSynced != 0 {
		t.Errorf("attendance skipped/synced = %d/%d, want 1/0", report.AttendanceSkipped, report.AttendanceSynced)
	}
	if len(report.RemappedIDs) != 0 {
		t.Errorf("remaps = %v, want none", report.RemappedIDs)
	}
}

func TestSyncToRemoteOneFailureDoesNotAbort(t *testing.T) {
	remote := newFakeRemoteStore()
	env := newTestEnv(remote)
	ctx := context.Background()

	remote.setDown(true)
	names := []string{"Dana", "Elle", "Finn"}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		p, err := env.repo.AddPrefect(ctx, &in.AddPrefectRequest{Name: name})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, p.ID)
	}
	if _, err := env.repo.MarkAttendance(ctx, ids[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	remote.setDown(false)

	// The middle prefect refuses to sync; the others must still land.
	remote.failAddNames["Elle"] = true

	report, err := env.repo.SyncToRemote(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.PrefectsSynced != 2 {
		t.Errorf("prefects synced = %d, want 2", report.PrefectsSynced)
	}
	if report.PrefectsFailed != 1 {
		t.Errorf("prefects failed = %d, want 1", report.PrefectsFailed)
	}
	if report.AttendanceSynced != 1 {
		t.Errorf("attendance synced = %d, want 1", report.AttendanceSynced)
	}
	if !report.Failed() {
		t.Error("report should be marked failed")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], ids[1]) {
		t.Errorf("errors = %v, want one naming %s", report.Errors, ids[1])
	}
}
