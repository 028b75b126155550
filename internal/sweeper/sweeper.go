package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/lingo/internal/metrics"
)

const DefaultInterval = time.Hour

// Expirer deletes tokens that went stale before now.
type Expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically purges expired session tokens.
type Sweeper struct {
	mu       sync.RWMutex
	store    Expirer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

type Option func(*Sweeper)

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func New(store Expirer, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		logger:   logger,
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the sweep loop. The first sweep runs one interval after Start.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("expiry sweeper started", "interval", s.interval)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *Sweeper) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	s.logger.Info("expiry sweeper stopped")
}

// RunOnce performs a single sweep. Errors are logged and returned; they do
// not stop the loop.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		s.metrics.SweepFailed()
		s.logger.Error("sweep expired tokens", "error", err)
		return 0, err
	}
	s.metrics.TokensSwept(n)
	if n > 0 {
		s.logger.Info("swept expired tokens", "removed", n)
	} else {
		s.logger.Debug("sweep found no expired tokens")
	}
	return n, nil
}
