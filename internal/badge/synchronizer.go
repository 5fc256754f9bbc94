package badge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.io/infrasutra/postbox/internal/auth"
	"github.io/infrasutra/postbox/internal/metrics"
	"github.io/infrasutra/postbox/internal/store"
)

const (
	DefaultInterval     = 2 * time.Second
	DefaultQueryTimeout = 5 * time.Second
)

// Counter answers count queries; mailbox.Service and the HTTP client both
// satisfy it.
type Counter interface {
	FetchCount(ctx context.Context, filter store.Filter) (int, error)
}

// IdentityFunc reports the current identity; it is consulted before every
// pass.
type IdentityFunc func() auth.Identity

type Option func(*Synchronizer)

func WithInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithQueryTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Synchronizer polls the three badge counts for one identity and writes them
// to a Store.
type Synchronizer struct {
	counter  Counter
	identity IdentityFunc
	badges   *Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	trigger  chan struct{}
	now      func() time.Time
}

func NewSynchronizer(counter Counter, identity IdentityFunc, badges *Store, logger *slog.Logger, opts ...Option) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{
		counter:  counter,
		identity: identity,
		badges:   badges,
		logger:   logger,
		interval: DefaultInterval,
		timeout:  DefaultQueryTimeout,
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Trigger asks for an extra pass as soon as possible. Calls made while one
// is already pending collapse into it.
func (s *Synchronizer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run syncs immediately and then on every interval tick or trigger until ctx
// is done (nil is returned) or the identity is no longer signed in
// (auth.ErrSignedOut).
func (s *Synchronizer) Run(ctx context.Context) error {
	owner, err := s.identity().Require()
	if err != nil {
		return err
	}
	writer, err := s.badges.Claim()
	if err != nil {
		return err
	}
	defer writer.Release()

	s.pass(ctx, writer, owner)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.trigger:
		}
		current, err := s.identity().Require()
		if err != nil {
			return err
		}
		if current != owner {
			return fmt.Errorf("identity changed from %s: %w", owner, auth.ErrSignedOut)
		}
		s.pass(ctx, writer, owner)
	}
}

// pass runs the three counts concurrently. Each result is written as soon as
// it arrives; a failed query keeps the previous value.
func (s *Synchronizer) pass(ctx context.Context, writer *Writer, owner string) {
	metrics.SyncPasses.Inc()
	var wg sync.WaitGroup
	for _, kind := range Kinds {
		wg.Add(1)
		go func(kind Kind) {
			defer wg.Done()
			queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			value, err := s.counter.FetchCount(queryCtx, kind.Filter(owner))
			if err != nil {
				if ctx.Err() == nil {
					metrics.SyncFailures.WithLabelValues(string(kind)).Inc()
					s.logger.Warn("badge count", "kind", kind, "owner", owner, "error", err)
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			writer.Set(kind, value, s.now())
		}(kind)
	}
	wg.Wait()
}

// FetchCounts computes all three counters once, outside any Store.
func FetchCounts(ctx context.Context, counter Counter, owner string) (Counts, error) {
	counts := Counts{UpdatedAt: time.Now()}
	for _, kind := range Kinds {
		value, err := counter.FetchCount(ctx, kind.Filter(owner))
		if err != nil {
			return Counts{}, fmt.Errorf("count %s: %w", kind, err)
		}
		counts.set(kind, value)
	}
	return counts, nil
}
