package roster

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"prefect_server/core/port/out"
	"prefect_server/pkg/apperr"
	"prefect_server/pkg/logger"
)

// =============================================================================
// Backend Detector
// =============================================================================

// BackendDetector decides, per operation, whether the remote store should be
// attempted. It wraps the remote store in a circuit breaker so that a dead
// backend stops costing a network timeout on every call; while the breaker is
// open the repository runs purely against the local store until the cooldown
// elapses and a probe succeeds.
type BackendDetector struct {
	remote out.RemoteStore
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
}

// DetectorConfig carries the breaker tuning knobs.
type DetectorConfig struct {
	// OpenTimeout is how long the breaker stays open before allowing
	// half-open probes.
	OpenTimeout time.Duration
	// MaxHalfOpenRequests is how many probes may run while half-open.
	MaxHalfOpenRequests int
	// ConsecutiveFailures is how many store failures in a row open the
	// breaker. Zero means the default of 5.
	ConsecutiveFailures uint32
}

func NewBackendDetector(remote out.RemoteStore, cfg DetectorConfig, log *logger.Logger) *BackendDetector {
	d := &BackendDetector{
		remote: remote,
		log:    log,
	}

	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        "remote-store",
		MaxRequests: uint32(cfg.MaxHalfOpenRequests),
		Interval:    60 * time.Second,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithBackend("remote").Info("circuit breaker %s: %s -> %s", name, from, to)
		},
		// Application-level answers are answers, not outages: a missing
		// document or a rejected credential must not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || apperr.IsNotFound(err) || apperr.IsAuthError(err)
		},
	}
	d.cb = gobreaker.NewCircuitBreaker(settings)
	return d
}

// RemoteAvailable reports whether the remote store is worth attempting right
// now. It is re-evaluated on every call; availability is never cached beyond
// what the breaker itself remembers.
func (d *BackendDetector) RemoteAvailable(ctx context.Context) bool {
	if d.remote == nil {
		return false
	}
	return d.cb.State() != gobreaker.StateOpen
}

// Execute runs one remote operation through the breaker so its outcome feeds
// the failure counters.
func (d *BackendDetector) Execute(fn func() error) error {
	_, err := d.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Probe performs an active reachability check against the remote store,
// routed through the breaker. It is what the health endpoint and the
// reconciler use before committing to a remote-only code path.
func (d *BackendDetector) Probe(ctx context.Context) bool {
	if d.remote == nil {
		return false
	}
	err := d.Execute(func() error {
		_, err := d.remote.CheckAuthenticated(ctx)
		return err
	})
	return err == nil
}
