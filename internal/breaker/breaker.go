// Package breaker guards the downstream endpoint with a counter-backed
// circuit breaker. Counters live in a shared store so multiple forwarder
// processes observe the same state.
package breaker

import (
	"context"
	"fmt"
	"log"
	"time"

	"pos-forwarder/internal/clock"
)

// CounterStore persists breaker counters and timestamps. Incr must be atomic
// across processes so concurrent failures are never lost.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
	SetTime(ctx context.Context, key string, t time.Time) error
	GetTime(ctx context.Context, key string) (time.Time, error)
	Del(ctx context.Context, keys ...string) error
}

// Config tunes a Breaker.
type Config struct {
	Enabled          bool
	FailureThreshold int64
	Cooldown         time.Duration
}

// Breaker is a three-state failure guard keyed by service name. Open/closed
// is derived from the stored counter and last-failure timestamp; there is no
// separate half-open flag. Once the cooldown has elapsed the state is reset
// and the next attempt passes through as a trial.
type Breaker struct {
	service string
	store   CounterStore
	clock   clock.Clock
	cfg     Config
}

// New constructs a Breaker for the named service.
func New(service string, store CounterStore, clk clock.Clock, cfg Config) *Breaker {
	if clk == nil {
		clk = clock.System{}
	}
	return &Breaker{
		service: service,
		store:   store,
		clock:   clk,
		cfg:     cfg,
	}
}

func (b *Breaker) failuresKey() string {
	return fmt.Sprintf("breaker:%s:failures", b.service)
}

func (b *Breaker) lastFailureKey() string {
	return fmt.Sprintf("breaker:%s:last_failure", b.service)
}

// Allow reports whether traffic may flow. It returns false only while the
// failure count has reached the threshold and the cooldown since the last
// failure has not yet elapsed. Cooldown expiry transparently resets state.
func (b *Breaker) Allow(ctx context.Context) (bool, error) {
	if !b.cfg.Enabled {
		return true, nil
	}

	failures, err := b.store.Get(ctx, b.failuresKey())
	if err != nil {
		return false, fmt.Errorf("breaker failure count read failed: %w", err)
	}
	if failures < b.cfg.FailureThreshold {
		return true, nil
	}

	lastFailure, err := b.store.GetTime(ctx, b.lastFailureKey())
	if err != nil {
		return false, fmt.Errorf("breaker last-failure read failed: %w", err)
	}
	if lastFailure.IsZero() || b.clock.Now().Sub(lastFailure) >= b.cfg.Cooldown {
		if err := b.Reset(ctx); err != nil {
			return false, err
		}
		log.Printf("CIRCUIT_BREAKER_TRIAL: service=%s cooldown=%v elapsed", b.service, b.cfg.Cooldown)
		return true, nil
	}

	return false, nil
}

// RecordFailure increments the shared counter and stamps the failure time.
// Callers must only invoke it for retryable failure classes.
func (b *Breaker) RecordFailure(ctx context.Context) error {
	if !b.cfg.Enabled {
		return nil
	}

	count, err := b.store.Incr(ctx, b.failuresKey())
	if err != nil {
		return fmt.Errorf("breaker failure increment failed: %w", err)
	}
	if err := b.store.SetTime(ctx, b.lastFailureKey(), b.clock.Now()); err != nil {
		return fmt.Errorf("breaker failure stamp failed: %w", err)
	}

	if count >= b.cfg.FailureThreshold {
		log.Printf("CIRCUIT_BREAKER_OPENED: service=%s failures=%d threshold=%d",
			b.service, count, b.cfg.FailureThreshold)
	} else {
		log.Printf("CIRCUIT_BREAKER_FAILURE: service=%s failures=%d threshold=%d",
			b.service, count, b.cfg.FailureThreshold)
	}
	return nil
}

// Reset clears the counter and timestamp after a successful delivery.
func (b *Breaker) Reset(ctx context.Context) error {
	if !b.cfg.Enabled {
		return nil
	}
	if err := b.store.Del(ctx, b.failuresKey(), b.lastFailureKey()); err != nil {
		return fmt.Errorf("breaker reset failed: %w", err)
	}
	log.Printf("CIRCUIT_BREAKER_RESET: service=%s", b.service)
	return nil
}
