package roster

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"prefect_server/pkg/apperr"
	"prefect_server/pkg/logger"
)

func newTestDetector(remote *fakeRemoteStore, threshold uint32) *BackendDetector {
	log := logger.New(logger.Config{Level: logger.LevelFatal, Output: io.Discard, Service: "test"})
	return NewBackendDetector(remote, DetectorConfig{
		OpenTimeout:         time.Minute,
		MaxHalfOpenRequests: 1,
		ConsecutiveFailures: threshold,
	}, log)
}

func TestDetectorNilRemote(t *testing.T) {
	log := logger.New(logger.Config{Level: logger.LevelFatal, Output: io.Discard, Service: "test"})
	d := NewBackendDetector(nil, DetectorConfig{OpenTimeout: time.Minute, MaxHalfOpenRequests: 1}, log)

	ctx := context.Background()
	if d.RemoteAvailable(ctx) {
		t.Error("no remote store should never be available")
	}
	if d.Probe(ctx) {
		t.Error("probe without a remote store should fail")
	}
}

func TestDetectorOpensAfterConsecutiveFailures(t *testing.T) {
	remote := newFakeRemoteStore()
	remote.setDown(true)
	d := newTestDetector(remote, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !d.RemoteAvailable(ctx) {
			t.Fatalf("breaker opened early after %d failures", i)
		}
		if d.Probe(ctx) {
			t.Fatal("probe against a down store should fail")
		}
	}

	if d.RemoteAvailable(ctx) {
		t.Fatal("breaker should be open after the failure threshold")
	}
	err := d.Execute(func() error { return nil })
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("execute while open = %v, want ErrOpenState", err)
	}
}

func TestDetectorRecoversAfterCooldown(t *testing.T) {
	remote := newFakeRemoteStore()
	remote.setDown(true)
	log := logger.New(logger.Config{Level: logger.LevelFatal, Output: io.Discard, Service: "test"})
	d := NewBackendDetector(remote, DetectorConfig{
		OpenTimeout:         10 * time.Millisecond,
		MaxHalfOpenRequests: 1,
		ConsecutiveFailures: 1,
	}, log)
	ctx := context.Background()

	if d.Probe(ctx) {
		t.Fatal("probe against a down store should fail")
	}
	if d.RemoteAvailable(ctx) {
		t.Fatal("breaker should be open")
	}

	remote.setDown(false)
	time.Sleep(20 * time.Millisecond)

	if !d.Probe(ctx) {
		t.Fatal("half-open probe against a recovered store should succeed")
	}
	if !d.RemoteAvailable(ctx) {
		t.Fatal("breaker should close after a successful probe")
	}
}

func TestDetectorIgnoresApplicationAnswers(t *testing.T) {
	remote := newFakeRemoteStore()
	d := newTestDetector(remote, 2)
	ctx := context.Background()

	// Rejected credentials and missing documents are answers from a healthy
	// store; they must never count toward opening the breaker.
	for i := 0; i < 10; i++ {
		_ = d.Execute(func() error { return apperr.InvalidCredentials() })
		_ = d.Execute(func() error { return apperr.NotFound("prefect") })
	}
	if !d.RemoteAvailable(ctx) {
		t.Error("application-level errors should not open the breaker")
	}
}
