// Package roster implements the synchronized repository: one roster and
// attendance API routed to the remote document store when it is reachable and
// to the local key-value cache when it is not. Callers never learn which
// backend serviced a call except through the health surface.
package roster

import (
	"context"
	"sync"

	"prefect_server/core/domain"
	"prefect_server/core/port/in"
	"prefect_server/core/port/out"
	"prefect_server/pkg/apperr"
	"prefect_server/pkg/logger"
	"prefect_server/pkg/snowflake"
)

// =============================================================================
// Repository
// =============================================================================

// Repository routes every operation to the preferred backend and mirrors
// successful remote state into the local store, so the cache is warm the
// moment the remote store drops away.
//
// The local store only offers whole-collection read/replace, so every local
// mutation is a read-modify-write sequence; mu serializes those sequences.
type Repository struct {
	remote   out.RemoteStore // nil when deployed without a remote store
	local    out.LocalStore
	notifier out.RosterNotifier
	detector *BackendDetector
	idgen    *snowflake.Generator
	log      *logger.Logger

	// fallbackSecret authenticates operators while the remote store is
	// unreachable. Empty disables fallback login entirely.
	fallbackSecret string

	mu sync.Mutex

	// Clock hooks, overridden in tests.
	nowISO func() string
	today  func() string
}

// Config wires a Repository.
type Config struct {
	Remote         out.RemoteStore
	Local          out.LocalStore
	Notifier       out.RosterNotifier
	Detector       *BackendDetector
	IDGen          *snowflake.Generator
	FallbackSecret string
	Logger         *logger.Logger
}

func NewRepository(cfg Config) *Repository {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Repository{
		remote:         cfg.Remote,
		local:          cfg.Local,
		notifier:       cfg.Notifier,
		detector:       cfg.Detector,
		idgen:          cfg.IDGen,
		fallbackSecret: cfg.FallbackSecret,
		log:            log,
		nowISO:         domain.NowISO,
		today:          domain.Today,
	}
}

var _ in.RosterService = (*Repository)(nil)

// attemptWithFallback runs the remote form of an operation when the backend
// looks available, falling back to the local form when it fails. A not-found
// or auth answer from the remote store is an answer, not an outage, and is
// returned as-is.
func attemptWithFallback[T any](ctx context.Context, r *Repository, op string, remote func(context.Context) (T, error), local func() (T, error)) (T, error) {
	if r.remote != nil && r.detector.RemoteAvailable(ctx) {
		var result T
		err := r.detector.Execute(func() error {
			var innerErr error
			result, innerErr = remote(ctx)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if apperr.IsNotFound(err) || apperr.IsAuthError(err) {
			return result, err
		}
		r.log.WithBackend("remote").WithError(err).Warn("%s failed on remote store, using local store", op)
	}
	return local()
}

// operatorEmail returns the best-known actor for provenance stamps.
func (r *Repository) operatorEmail() string {
	if r.remote != nil {
		if id := r.remote.CurrentIdentity(); id != nil {
			return id.Email
		}
	}
	return "unknown"
}

// publishChange announces a successful remote mutation. Delivery failure is
// logged and dropped; the notifier is advisory.
func (r *Repository) publishChange(ctx context.Context, kind domain.RosterEventKind, prefectID, date string) {
	if r.notifier == nil {
		return
	}
	event := domain.RosterEvent{
		Kind:      kind,
		PrefectID: prefectID,
		Date:      date,
		At:        r.nowISO(),
	}
	if err := r.notifier.PublishRosterChanged(ctx, event); err != nil {
		r.log.WithError(err).Debug("roster event publish failed")
	}
}

// =============================================================================
// Authentication
// =============================================================================

// CheckAuth reports whether the current session is authenticated against
// whichever backend is active: the remote store's live state when reachable,
// the local auth sentinel otherwise.
func (r *Repository) CheckAuth(ctx context.Context) bool {
	ok, _ := attemptWithFallback(ctx, r, "check auth",
		func(ctx context.Context) (bool, error) {
			return r.remote.CheckAuthenticated(ctx)
		},
		func() (bool, error) {
			return r.local.ReadAuthFlag(), nil
		},
	)
	return ok
}

// Login authenticates against the remote store first. When the store is
// unreachable, or rejects the credentials, the shared fallback secret still
// admits an operator so attendance can be taken offline; fallback sessions
// are recorded in the local auth sentinel.
func (r *Repository) Login(ctx context.Context, email, password string) (*domain.Identity, error) {
	if email == "" {
		return nil, apperr.MissingField("email")
	}
	if password == "" {
		return nil, apperr.MissingField("password")
	}

	if r.remote != nil && r.detector.RemoteAvailable(ctx) {
		var identity *domain.Identity
		err := r.detector.Execute(func() error {
			var innerErr error
			identity, innerErr = r.remote.Login(ctx, email, password)
			return innerErr
		})
		if err == nil {
			return identity, nil
		}
		r.log.WithBackend("remote").WithError(err).Warn("remote login failed, trying fallback secret")
	}

	if r.fallbackSecret != "" && password == r.fallbackSecret {
		r.local.WriteAuthFlag(true)
		r.log.WithBackend("local").WithField("operator", email).Info("fallback login accepted")
		return &domain.Identity{Email: email}, nil
	}
	return nil, apperr.InvalidCredentials()
}

// Logout ends the session on both backends. Remote failure is logged and
// swallowed; the local sentinel is always cleared so the operator is never
// stuck signed in.
func (r *Repository) Logout(ctx context.Context) error {
	if r.remote != nil {
		if err := r.remote.Logout(ctx); err != nil {
			r.log.WithBackend("remote").WithError(err).Warn("remote logout failed")
		}
	}
	r.local.WriteAuthFlag(false)
	return nil
}

// GetCurrentUser returns the remote session identity, nil when running in
// fallback mode or unauthenticated.
func (r *Repository) GetCurrentUser() *domain.Identity {
	if r.remote == nil {
		return nil
	}
	return r.remote.CurrentIdentity()
}

// =============================================================================
// Roster
// =============================================================================

// GetPrefects returns the full roster. Remote reads refresh the local cache
// on the way through.
func (r *Repository) GetPrefects(ctx context.Context) ([]domain.Prefect, error) {
	return attemptWithFallback(ctx, r, "get prefects",
		func(ctx context.Context) ([]domain.Prefect, error) {
			prefects, err := r.remote.ListPrefects(ctx)
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			r.local.WritePrefects(prefects)
			r.mu.Unlock()
			return prefects, nil
		},
		func() ([]domain.Prefect, error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.local.ReadPrefects(), nil
		},
	)
}

// AddPrefect creates a prefect on the active backend. Remote creation is
// mirrored into the local cache; local-only creation assigns a "P"-prefixed
// id that a later reconciliation run will remap.
func (r *Repository) AddPrefect(ctx context.Context, req *in.AddPrefectRequest) (*domain.Prefect, error) {
	if req == nil || req.Name == "" {
		return nil, apperr.MissingField("name")
	}

	p := &domain.Prefect{
		Name:            req.Name,
		Profile:         req.Profile,
		TotalAttendance: 0,
	}

	return attemptWithFallback(ctx, r, "add prefect",
		func(ctx context.Context) (*domain.Prefect, error) {
			if _, err := r.remote.AddPrefect(ctx, p); err != nil {
				return nil, err
			}
			r.appendPrefectLocal(*p)
			r.publishChange(ctx, domain.RosterPrefectAdded, p.ID, "")
			return p, nil
		},
		func() (*domain.Prefect, error) {
			p.ID = r.idgen.PrefectID()
			p.CreatedAt = r.nowISO()
			p.CreatedBy = r.operatorEmail()
			r.appendPrefectLocal(*p)
			return p, nil
		},
	)
}

func (r *Repository) appendPrefectLocal(p domain.Prefect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefects := r.local.ReadPrefects()
	r.local.WritePrefects(append(prefects, p))
}

// UpdatePrefect applies a partial edit. A not-found answer from the active
// backend surfaces to the caller; only store failures divert to the cache.
func (r *Repository) UpdatePrefect(ctx context.Context, id string, req *in.UpdatePrefectRequest) error {
	if id == "" {
		return apperr.MissingField("id")
	}
	upd := &domain.PrefectUpdate{}
	if req != nil {
		upd.Name = req.Name
		upd.Profile = req.Profile
	}
	if upd.Empty() {
		return apperr.BadRequest("update contains no changes")
	}

	_, err := attemptWithFallback(ctx, r, "update prefect",
		func(ctx context.Context) (struct{}, error) {
			if err := r.remote.UpdatePrefect(ctx, id, upd); err != nil {
				return struct{}{}, err
			}
			// Mirror into the cache with our own stamps; the next remote
			// read replaces them with the authoritative ones.
			if localErr := r.applyPrefectUpdateLocal(id, upd); localErr != nil {
				r.log.WithBackend("local").WithError(localErr).Warn("cache mirror of prefect update missed")
			}
			r.publishChange(ctx, domain.RosterPrefectUpdated, id, "")
			return struct{}{}, nil
		},
		func() (struct{}, error) {
			return struct{}{}, r.applyPrefectUpdateLocal(id, upd)
		},
	)
	return err
}

func (r *Repository) applyPrefectUpdateLocal(id string, upd *domain.PrefectUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefects := r.local.ReadPrefects()
	for i := range prefects {
		if prefects[i].ID != id {
			continue
		}
		if upd.Name != nil {
			prefects[i].Name = *upd.Name
		}
		if upd.Profile != nil {
			prefects[i].Profile = upd.Profile
		}
		if upd.TotalAttendance != nil {
			prefects[i].TotalAttendance = *upd.TotalAttendance
		}
		prefects[i].UpdatedAt = r.nowISO()
		prefects[i].UpdatedBy = r.operatorEmail()
		r.local.WritePrefects(prefects)
		return nil
	}
	return apperr.NotFound("prefect")
}

// DeletePrefect removes the prefect from the active backend and always
// performs local cleanup, cascading to the prefect's attendance records. It
// reports not-found only when no backend knew the id.
func (r *Repository) DeletePrefect(ctx context.Context, id string) error {
	if id == "" {
		return apperr.MissingField("id")
	}

	remoteDeleted := false
	if r.remote != nil && r.detector.RemoteAvailable(ctx) {
		err := r.detector.Execute(func() error {
			return r.remote.DeletePrefect(ctx, id)
		})
		switch {
		case err == nil:
			remoteDeleted = true
		case apperr.IsNotFound(err):
			// The id may be a local-only prefect; fall through to cleanup.
		default:
			r.log.WithBackend("remote").WithError(err).Warn("delete prefect failed on remote store, using local store")
		}
	}

	localDeleted := r.deletePrefectLocal(id)
	if !remoteDeleted && !localDeleted {
		return apperr.NotFound("prefect")
	}
	if remoteDeleted {
		r.publishChange(ctx, domain.RosterPrefectDeleted, id, "")
	}
	return nil
}

// deletePrefectLocal removes the prefect and every attendance record that
// references it from the cache. Returns whether the prefect existed.
func (r *Repository) deletePrefectLocal(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefects := r.local.ReadPrefects()
	kept := prefects[:0]
	found := false
	for _, p := range prefects {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if found {
		r.local.WritePrefects(kept)
	}

	attendance := r.local.ReadAttendance()
	changed := false
	for date, records := range attendance {
		remaining := records[:0]
		for _, rec := range records {
			if rec.PrefectID == id {
				changed = true
				continue
			}
			remaining = append(remaining, rec)
		}
		if len(remaining) == 0 {
			delete(attendance, date)
		} else {
			attendance[date] = remaining
		}
	}
	if changed {
		r.local.WriteAttendance(attendance)
	}
	return found
}

// =============================================================================
// Attendance
// =============================================================================

// MarkAttendance records the prefect present today. Marking is idempotent:
// a second mark the same day returns false and changes nothing, including
// the attendance counter.
func (r *Repository) MarkAttendance(ctx context.Context, prefectID string) (bool, error) {
	if prefectID == "" {
		return false, apperr.MissingField("prefectId")
	}

	date := r.today()
	rec := domain.AttendanceRecord{
		PrefectID: prefectID,
		Date:      date,
		Timestamp: r.nowISO(),
		MarkedBy:  r.operatorEmail(),
	}

	return attemptWithFallback(ctx, r, "mark attendance",
		func(ctx context.Context) (bool, error) {
			exists, err := r.remote.AttendanceExists(ctx, date, prefectID)
			if err != nil {
				return false, err
			}
			if exists {
				return false, nil
			}
			if err := r.remote.MarkAttendance(ctx, &rec); err != nil {
				return false, err
			}
			// Counter drift is tolerable, a failed mark is not.
			if err := r.remote.IncrementAttendanceCount(ctx, prefectID, 1); err != nil {
				r.log.WithBackend("remote").WithError(err).Warn("attendance counter increment failed")
			}
			r.markAttendanceLocal(rec)
			r.publishChange(ctx, domain.RosterAttendanceMark, prefectID, date)
			return true, nil
		},
		func() (bool, error) {
			return r.markAttendanceLocal(rec), nil
		},
	)
}

// markAttendanceLocal upserts the record into the cache and bumps the cached
// counter when the record was new. Returns whether a record was added.
func (r *Repository) markAttendanceLocal(rec domain.AttendanceRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	attendance := r.local.ReadAttendance()
	for _, existing := range attendance[rec.Date] {
		if existing.PrefectID == rec.PrefectID {
			return false
		}
	}
	if attendance == nil {
		attendance = make(map[string][]domain.AttendanceRecord)
	}
	attendance[rec.Date] = append(attendance[rec.Date], rec)
	r.local.WriteAttendance(attendance)

	prefects := r.local.ReadPrefects()
	for i := range prefects {
		if prefects[i].ID == rec.PrefectID {
			prefects[i].TotalAttendance++
			r.local.WritePrefects(prefects)
			break
		}
	}
	return true
}

// GetAttendanceByDate returns all records for one calendar day, refreshing
// that day's cache entry on remote reads.
func (r *Repository) GetAttendanceByDate(ctx context.Context, date string) ([]domain.AttendanceRecord, error) {
	if date == "" {
		return nil, apperr.MissingField("date")
	}

	return attemptWithFallback(ctx, r, "get attendance",
		func(ctx context.Context) ([]domain.AttendanceRecord, error) {
			records, err := r.remote.ListAttendanceByDate(ctx, date)
			if err != nil {
				return nil, err
			}
			r.mu.Lock()
			attendance := r.local.ReadAttendance()
			if attendance == nil {
				attendance = make(map[string][]domain.AttendanceRecord)
			}
			if len(records) == 0 {
				delete(attendance, date)
			} else {
				attendance[date] = records
			}
			r.local.WriteAttendance(attendance)
			r.mu.Unlock()
			return records, nil
		},
		func() ([]domain.AttendanceRecord, error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			records := r.local.ReadAttendance()[date]
			if records == nil {
				records = []domain.AttendanceRecord{}
			}
			return records, nil
		},
	)
}

// =============================================================================
// Live updates
// =============================================================================

// SubscribePrefects re-reads the roster on every roster event and hands the
// snapshot to onChange. Subscribers get whole snapshots, never deltas.
func (r *Repository) SubscribePrefects(ctx context.Context, onChange func([]domain.Prefect)) (func(), error) {
	if r.notifier == nil {
		return func() {}, nil
	}
	return r.notifier.Subscribe(ctx, func(domain.RosterEvent) {
		prefects, err := r.GetPrefects(ctx)
		if err != nil {
			r.log.WithError(err).Warn("roster refresh after event failed")
			return
		}
		onChange(prefects)
	})
}
