// Package localstore implements the on-device fallback store on pebble.
package localstore

import (
	"fmt"
	"sync"

	"prefect_server/core/domain"
	"prefect_server/core/port/out"
	"prefect_server/pkg/logger"

	"github.com/cockroachdb/pebble"
	"github.com/goccy/go-json"
)

// Persisted entry keys. The layout mirrors the collections callers see:
// a whole prefect array, a whole attendance map, and the auth sentinel.
const (
	keyPrefects   = "prefects"
	keyAttendance = "attendance"
	keyAuthFlag   = "prefectAuth"
)

// PebbleAdapter implements out.LocalStore using a pebble database.
//
// The contract is total: reads of missing or malformed entries return the
// empty collection, write failures are logged and swallowed. The adapter is
// the cache of last resort; it must never take the caller down with it.
type PebbleAdapter struct {
	mu  sync.Mutex
	db  *pebble.DB
	log *logger.Logger
}

// NewPebbleAdapter opens (or creates) the pebble database at path.
func NewPebbleAdapter(path string) (*PebbleAdapter, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store at %s: %w", path, err)
	}

	return &PebbleAdapter{
		db:  db,
		log: logger.Default().WithBackend("local"),
	}, nil
}

// Close flushes and closes the database.
func (a *PebbleAdapter) Close() error {
	return a.db.Close()
}

// =============================================================================
// Prefects
// =============================================================================

// ReadPrefects returns the cached roster, empty when absent or corrupt.
func (a *PebbleAdapter) ReadPrefects() []domain.Prefect {
	a.mu.Lock()
	defer a.mu.Unlock()

	var prefects []domain.Prefect
	if !a.readJSON(keyPrefects, &prefects) {
		return []domain.Prefect{}
	}
	if prefects == nil {
		return []domain.Prefect{}
	}
	return prefects
}

// WritePrefects replaces the cached roster.
func (a *PebbleAdapter) WritePrefects(prefects []domain.Prefect) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if prefects == nil {
		prefects = []domain.Prefect{}
	}
	a.writeJSON(keyPrefects, prefects)
}

// =============================================================================
// Attendance
// =============================================================================

// ReadAttendance returns the full attendance map. Records are stored without
// their date (the map key already carries it); the date is restored here so
// callers always see complete records.
func (a *PebbleAdapter) ReadAttendance() map[string][]domain.AttendanceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	attendance := make(map[string][]domain.AttendanceRecord)
	if !a.readJSON(keyAttendance, &attendance) {
		return map[string][]domain.AttendanceRecord{}
	}

	for date, records := range attendance {
		for i := range records {
			records[i].Date = date
		}
		attendance[date] = records
	}
	return attendance
}

// WriteAttendance replaces the full attendance map, stripping the redundant
// date field from each record before encoding.
func (a *PebbleAdapter) WriteAttendance(attendance map[string][]domain.AttendanceRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stripped := make(map[string][]domain.AttendanceRecord, len(attendance))
	for date, records := range attendance {
		out := make([]domain.AttendanceRecord, len(records))
		for i, rec := range records {
			rec.Date = ""
			out[i] = rec
		}
		stripped[date] = out
	}
	a.writeJSON(keyAttendance, stripped)
}

// =============================================================================
// Auth sentinel
// =============================================================================

// ReadAuthFlag reports whether fallback authentication has been granted.
func (a *PebbleAdapter) ReadAuthFlag() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	value, closer, err := a.db.Get([]byte(keyAuthFlag))
	if err != nil {
		return false
	}
	defer closer.Close()
	return string(value) == "true"
}

// WriteAuthFlag sets or clears the fallback auth sentinel.
func (a *PebbleAdapter) WriteAuthFlag(authenticated bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	if authenticated {
		err = a.db.Set([]byte(keyAuthFlag), []byte("true"), pebble.Sync)
	} else {
		err = a.db.Delete([]byte(keyAuthFlag), pebble.Sync)
	}
	if err != nil {
		a.log.WithError(err).Warn("Failed to write auth sentinel")
	}
}

// =============================================================================
// Encoding helpers
// =============================================================================

// readJSON decodes the entry at key into v. Returns false when the entry is
// absent or does not decode; malformed content is treated as absent.
func (a *PebbleAdapter) readJSON(key string, v any) bool {
	value, closer, err := a.db.Get([]byte(key))
	if err != nil {
		if err != pebble.ErrNotFound {
			a.log.WithError(err).Warn("Failed to read local entry %q", key)
		}
		return false
	}
	defer closer.Close()

	if err := json.Unmarshal(value, v); err != nil {
		a.log.WithError(err).Warn("Malformed local entry %q, treating as absent", key)
		return false
	}
	return true
}

func (a *PebbleAdapter) writeJSON(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		a.log.WithError(err).Warn("Failed to encode local entry %q", key)
		return
	}
	if err := a.db.Set([]byte(key), data, pebble.Sync); err != nil {
		a.log.WithError(err).Warn("Failed to write local entry %q", key)
	}
}

// Ensure PebbleAdapter implements the port
var _ out.LocalStore = (*PebbleAdapter)(nil)
