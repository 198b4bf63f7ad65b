package roster

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"prefect_server/core/domain"
	"prefect_server/core/port/out"
	"prefect_server/pkg/apperr"
	"prefect_server/pkg/logger"
	"prefect_server/pkg/snowflake"
)

// =============================================================================
// In-memory remote store
// =============================================================================

type fakeRemoteStore struct {
	mu       sync.Mutex
	down     bool
	identity *domain.Identity

	prefects   map[string]domain.Prefect
	attendance map[string]domain.AttendanceRecord
	nextID     int

	// failAddNames makes AddPrefect fail for specific prefect names.
	failAddNames map[string]bool

	addCalls  int
	markCalls int
}

var _ out.RemoteStore = (*fakeRemoteStore)(nil)

func newFakeRemoteStore() *fakeRemoteStore {
	return &fakeRemoteStore{
		identity:     &domain.Identity{Email: "admin@prefectsystem.com"},
		prefects:     make(map[string]domain.Prefect),
		attendance:   make(map[string]domain.AttendanceRecord),
		failAddNames: make(map[string]bool),
	}
}

func (f *fakeRemoteStore) unreachable() error {
	return apperr.StoreUnreachable("fake", fmt.Errorf("connection refused"))
}

func (f *fakeRemoteStore) CheckAuthenticated(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, f.unreachable()
	}
	return f.identity != nil, nil
}

func (f *fakeRemoteStore) Login(ctx context.Context, email, password string) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unreachable()
	}
	if password != "remote-password" {
		return nil, apperr.InvalidCredentials()
	}
	f.identity = &domain.Identity{Email: email}
	return f.identity, nil
}

func (f *fakeRemoteStore) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return f.unreachable()
	}
	f.identity = nil
	return nil
}

func (f *fakeRemoteStore) CurrentIdentity() *domain.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity
}

func (f *fakeRemoteStore) AddPrefect(ctx context.Context, p *domain.Prefect) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.down {
		return "", f.unreachable()
	}
	if f.failAddNames[p.Name] {
		return "", f.unreachable()
	}
	f.nextID++
	p.ID = fmt.Sprintf("remote-%03d", f.nextID)
	p.CreatedAt = "2024-01-15T08:00:00.000Z"
	if f.identity != nil {
		p.CreatedBy = f.identity.Email
	}
	f.prefects[p.ID] = *p
	return p.ID, nil
}

func (f *fakeRemoteStore) ListPrefects(ctx context.Context) ([]domain.Prefect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unreachable()
	}
	out := make([]domain.Prefect, 0, len(f.prefects))
	for _, p := range f.prefects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRemoteStore) UpdatePrefect(ctx context.Context, id string, upd *domain.PrefectUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return f.unreachable()
	}
	p, ok := f.prefects[id]
	if !ok {
		return apperr.NotFound("prefect")
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Profile != nil {
		p.Profile = upd.Profile
	}
	if upd.TotalAttendance != nil {
		p.TotalAttendance = *upd.TotalAttendance
	}
	f.prefects[id] = p
	return nil
}

func (f *fakeRemoteStore) DeletePrefect(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return f.unreachable()
	}
	if _, ok := f.prefects[id]; !ok {
		return apperr.NotFound("prefect")
	}
	delete(f.prefects, id)
	for key, rec := range f.attendance {
		if rec.PrefectID == id {
			delete(f.attendance, key)
		}
	}
	return nil
}

func (f *fakeRemoteStore) MarkAttendance(ctx context.Context, rec *domain.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	if f.down {
		return f.unreachable()
	}
	f.attendance[domain.AttendanceKey(rec.Date, rec.PrefectID)] = *rec
	return nil
}

func (f *fakeRemoteStore) AttendanceExists(ctx context.Context, date, prefectID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, f.unreachable()
	}
	_, ok := f.attendance[domain.AttendanceKey(date, prefectID)]
	return ok, nil
}

func (f *fakeRemoteStore) ListAttendanceByDate(ctx context.Context, date string) ([]domain.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, f.unreachable()
	}
	var out []domain.AttendanceRecord
	for _, rec := range f.attendance {
		if rec.Date == date {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrefectID < out[j].PrefectID })
	return out, nil
}

func (f *fakeRemoteStore) IncrementAttendanceCount(ctx context.Context, id string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return f.unreachable()
	}
	p, ok := f.prefects[id]
	if !ok {
		return apperr.NotFound("prefect")
	}
	p.TotalAttendance += delta
	f.prefects[id] = p
	return nil
}

func (f *fakeRemoteStore) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// =============================================================================
// In-memory local store
// =============================================================================

type fakeLocalStore struct {
	mu         sync.Mutex
	prefects   []domain.Prefect
	attendance map[string][]domain.AttendanceRecord
	authFlag   bool
}

var _ out.LocalStore = (*fakeLocalStore)(nil)

func newFakeLocalStore() *fakeLocalStore {
	return &fakeLocalStore{attendance: make(map[string][]domain.AttendanceRecord)}
}

func (f *fakeLocalStore) ReadPrefects() []domain.Prefect {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Prefect(nil), f.prefects...)
}

func (f *fakeLocalStore) WritePrefects(prefects []domain.Prefect) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefects = append([]domain.Prefect(nil), prefects...)
}

func (f *fakeLocalStore) ReadAttendance() map[string][]domain.AttendanceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(map[string][]domain.AttendanceRecord, len(f.attendance))
	for date, records := range f.attendance {
		copied[date] = append([]domain.AttendanceRecord(nil), records...)
	}
	return copied
}

func (f *fakeLocalStore) WriteAttendance(attendance map[string][]domain.AttendanceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(map[string][]domain.AttendanceRecord, len(attendance))
	for date, records := range attendance {
		copied[date] = append([]domain.AttendanceRecord(nil), records...)
	}
	f.attendance = copied
}

func (f *fakeLocalStore) ReadAuthFlag() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authFlag
}

func (f *fakeLocalStore) WriteAuthFlag(authenticated bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authFlag = authenticated
}

func (f *fakeLocalStore) Close() error { return nil }

// =============================================================================
// Recording notifier
// =============================================================================

type fakeNotifier struct {
	mu          sync.Mutex
	events      []domain.RosterEvent
	subscribers []func(domain.RosterEvent)
}

var _ out.RosterNotifier = (*fakeNotifier)(nil)

func (f *fakeNotifier) PublishRosterChanged(ctx context.Context, event domain.RosterEvent) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	subs := append([]func(domain.RosterEvent){}, f.subscribers...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(event)
	}
	return nil
}

func (f *fakeNotifier) Subscribe(ctx context.Context, fn func(domain.RosterEvent)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers = append(f.subscribers, fn)
	return func() {}, nil
}

func (f *fakeNotifier) kinds() []domain.RosterEventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RosterEventKind, len(f.events))
	for i, e := range f.events {
		out[i] = e.Kind
	}
	return out
}

// =============================================================================
// Harness
// =============================================================================

const (
	testDate = "2024-01-15"
	testNow  = "2024-01-15T09:00:00.000Z"
)

type testEnv struct {
	repo     *Repository
	remote   *fakeRemoteStore
	local    *fakeLocalStore
	notifier *fakeNotifier
}

func newTestEnv(remote *fakeRemoteStore) *testEnv {
	log := logger.New(logger.Config{Level: logger.LevelFatal, Output: io.Discard, Service: "test"})
	local := newFakeLocalStore()
	notifier := &fakeNotifier{}

	var remoteStore out.RemoteStore
	if remote != nil {
		remoteStore = remote
	}
	detector := NewBackendDetector(remoteStore, DetectorConfig{
		OpenTimeout:         time.Minute,
		MaxHalfOpenRequests: 1,
	}, log)

	gen, err := snowflake.NewGenerator(1)
	if err != nil {
		panic(err)
	}

	repo := NewRepository(Config{
		Remote:         remoteStore,
		Local:          local,
		Notifier:       notifier,
		Detector:       detector,
		IDGen:          gen,
		FallbackSecret: "prefect2024",
		Logger:         log,
	})
	repo.nowISO = func() string { return testNow }
	repo.today = func() string { return testDate }

	return &testEnv{repo: repo, remote: remote, local: local, notifier: notifier}
}
