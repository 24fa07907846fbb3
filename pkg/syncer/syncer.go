// Package syncer owns the policy around the time source resolver: when to
// re-resolve, how hard to retry a failed resolve, and how the resulting
// device-clock offset is published to calculation passes. The resolver
// itself stays policy-free.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/maypok86/otter/v2"

	"github.com/codeGROOVE-dev/offclock/pkg/timesource"
)

// Resolver is the slice of timesource.Resolver the syncer needs.
type Resolver interface {
	Resolve(ctx context.Context) (timesource.Result, error)
}

// Status is the published outcome of the most recent sync. Offset is how
// far true time runs ahead of the device clock; it is zero (device clock
// trusted as-is, zero confidence) when Err is set.
type Status struct {
	SyncedAt time.Time
	Source   string
	Offset   time.Duration
	Err      error
}

// Offline reports whether the last sync exhausted every time source.
func (s Status) Offline() bool {
	return s.Err != nil
}

type cacheEntry struct {
	SyncedAt  time.Time
	ExpiresAt time.Time
	Source    string
	Offset    time.Duration
}

const cacheKey = "reference-offset"

// Syncer resolves a reference time, converts it to a device-clock offset,
// and caches the offset under a TTL so display ticks and concurrent
// requests do not burn provider rate limits. Status has a single writer
// (Sync); reads go through the mutex.
type Syncer struct {
	resolver Resolver
	logger   *slog.Logger
	cache    *otter.Cache[string, cacheEntry]
	ttl      time.Duration
	attempts uint
	mu       sync.RWMutex
	status   Status
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithTTL sets how long a resolved offset stays fresh (default 15m).
func WithTTL(ttl time.Duration) Option {
	return func(s *Syncer) {
		s.ttl = ttl
	}
}

// WithAttempts sets how many times a failed resolve is retried end to end
// (default 3). Retries re-run the whole provider chain; individual
// providers are still tried once per pass.
func WithAttempts(n uint) Option {
	return func(s *Syncer) {
		s.attempts = n
	}
}

// New creates a Syncer around resolver.
func New(resolver Resolver, logger *slog.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		resolver: resolver,
		logger:   logger,
		ttl:      15 * time.Minute,
		attempts: 3,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.cache = otter.Must(&otter.Options[string, cacheEntry]{
		MaximumSize:      16,
		ExpiryCalculator: otter.ExpiryWriting[string, cacheEntry](s.ttl),
	})
	return s
}

// Sync refreshes the published Status. A cached offset younger than the
// TTL short-circuits the network entirely. On total source failure the
// status records the error with a zero offset so callers degrade to the
// raw device clock.
func (s *Syncer) Sync(ctx context.Context) error {
	if entry, ok := s.cache.GetIfPresent(cacheKey); ok && time.Now().Before(entry.ExpiresAt) {
		s.publish(Status{
			Offset:   entry.Offset,
			Source:   entry.Source,
			SyncedAt: entry.SyncedAt,
		})
		s.logger.Debug("sync served from cache",
			"source", entry.Source, "offset", entry.Offset, "expires_at", entry.ExpiresAt)
		return nil
	}

	var res timesource.Result
	var lastErr error
	err := retry.Do(
		func() error {
			var err error
			res, err = s.resolver.Resolve(ctx)
			if err != nil {
				lastErr = err
				return err
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(100*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("time sync failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		s.publish(Status{Source: "offline", SyncedAt: time.Now(), Err: lastErr})
		return fmt.Errorf("time sync failed: %w", lastErr)
	}

	now := time.Now()
	status := Status{
		Offset:   res.Timestamp.Sub(now),
		Source:   res.Source,
		SyncedAt: now,
	}
	s.cache.Set(cacheKey, cacheEntry{
		Offset:    status.Offset,
		Source:    status.Source,
		SyncedAt:  status.SyncedAt,
		ExpiresAt: now.Add(s.ttl),
	})
	s.publish(status)
	s.logger.Info("time synced", "source", status.Source, "offset", status.Offset)
	return nil
}

// Status returns the most recently published sync outcome.
func (s *Syncer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Now is the trusted reference instant: the device clock corrected by the
// last resolved offset. Before any successful sync it is plain device time.
func (s *Syncer) Now() time.Time {
	return time.Now().Add(s.Status().Offset)
}

// Run re-syncs at the given interval until ctx is cancelled, starting with
// an immediate sync. The ticker is always stopped on return.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	if err := s.Sync(ctx); err != nil {
		s.logger.Warn("initial sync failed, continuing on device clock", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Warn("periodic sync failed", "error", err)
			}
		}
	}
}

func (s *Syncer) publish(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}
