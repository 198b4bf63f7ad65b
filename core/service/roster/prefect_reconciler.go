package roster

import (
	"context"
	"fmt"
	"sort"

	"prefect_server/core/domain"
	"prefect_server/core/port/in"
	"prefect_server/pkg/apperr"
)

// =============================================================================
// Bulk Reconciler
// =============================================================================

// SyncToRemote pushes everything the local cache holds into the remote store.
// Best effort per item: one failing item is counted and skipped, never aborts
// the run. Items are pushed directly rather than through the breaker; the
// operator asked for this run explicitly and wants a per-item verdict, not a
// fast-fail.
//
// Prefects the remote store does not know are re-created there, which assigns
// them fresh ids. The old-to-new mapping is reported; local history keeps the
// old ids.
func (r *Repository) SyncToRemote(ctx context.Context) (*in.SyncReport, error) {
	if r.remote == nil {
		return nil, apperr.StoreUnreachable("remote", nil)
	}
	if !r.detector.Probe(ctx) {
		return nil, apperr.StoreUnreachable("remote", nil)
	}

	report := &in.SyncReport{RemappedIDs: make(map[string]string)}

	remotePrefects, err := r.remote.ListPrefects(ctx)
	if err != nil {
		return nil, err
	}
	remoteIDs := make(map[string]bool, len(remotePrefects))
	for _, p := range remotePrefects {
		remoteIDs[p.ID] = true
	}

	r.mu.Lock()
	localPrefects := r.local.ReadPrefects()
	attendance := r.local.ReadAttendance()
	r.mu.Unlock()

	for _, p := range localPrefects {
		if remoteIDs[p.ID] {
			report.PrefectsSkipped++
			continue
		}
		pushed := p
		if _, err := r.remote.AddPrefect(ctx, &pushed); err != nil {
			report.PrefectsFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("prefect %s: %v", p.ID, err))
			continue
		}
		report.PrefectsSynced++
		if pushed.ID != p.ID {
			report.RemappedIDs[p.ID] = pushed.ID
		}
	}

	// Deterministic order so repeated runs report identically.
	dates := make([]string, 0, len(attendance))
	for date := range attendance {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	for _, date := range dates {
		for _, rec := range attendance[date] {
			exists, err := r.remote.AttendanceExists(ctx, date, rec.PrefectID)
			if err == nil && exists {
				report.AttendanceSkipped++
				continue
			}
			// A failed probe is not fatal; the upsert is idempotent anyway.
			pushed := domain.AttendanceRecord{
				PrefectID: rec.PrefectID,
				Date:      date,
				Timestamp: rec.Timestamp,
				MarkedBy:  rec.MarkedBy,
			}
			if err := r.remote.MarkAttendance(ctx, &pushed); err != nil {
				report.AttendanceFailed++
				report.Errors = append(report.Errors, fmt.Sprintf("attendance %s: %v", domain.AttendanceKey(date, rec.PrefectID), err))
				continue
			}
			report.AttendanceSynced++
		}
	}

	r.log.WithBackend("remote").WithFields(map[string]any{
		"prefects_synced":    report.PrefectsSynced,
		"prefects_skipped":   report.PrefectsSkipped,
		"prefects_failed":    report.PrefectsFailed,
		"attendance_synced":  report.AttendanceSynced,
		"attendance_skipped": report.AttendanceSkipped,
		"attendance_failed":  report.AttendanceFailed,
	}).Info("reconciliation run complete")

	return report, nil
}
