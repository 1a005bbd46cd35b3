// Package poller waits for remotely fetched media to become playable.
package poller

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// DefaultInterval is the fixed delay between cache status checks.
const DefaultInterval = 2 * time.Second

// ErrTimeout is returned when the asset did not become ready within the configured timeout.
var ErrTimeout = errors.New("timed out waiting for media to become ready")

// StatusChecker reports whether a remote asset is ready.
type StatusChecker interface {
	CacheStatus(ctx context.Context, remoteID string) (bool, error)
}

// TickerFunc starts a ticker and returns its channel and stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Delay between checks (DefaultInterval if zero)
	Timeout  time.Duration // Overall wait bound; zero waits until ctx is done
}

// Poller polls the backend until an asset is ready.
type Poller struct {
	checker   StatusChecker
	config    Config
	newTicker TickerFunc
}

// Option configures a Poller.
type Option func(*Poller)

// WithTicker replaces the wall-clock ticker, mainly for tests.
func WithTicker(f TickerFunc) Option {
	return func(p *Poller) {
		p.newTicker = f
	}
}

// New creates a poller backed by checker.
func New(checker StatusChecker, config Config, opts ...Option) *Poller {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	p := &Poller{
		checker:   checker,
		config:    config,
		newTicker: wallTicker,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AwaitReady blocks until the asset identified by remoteID is ready.
// Transport errors during a check are logged and polling continues.
// It returns early only when ctx is done or the configured timeout elapses.
func (p *Poller) AwaitReady(ctx context.Context, remoteID string) error {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	ticks, stop := p.newTicker(p.config.Interval)
	defer stop()

	attempt := 0
	for {
		attempt++
		ready, err := p.checker.CacheStatus(ctx, remoteID)
		switch {
		case err != nil && ctx.Err() == nil:
			zlog.Warn().Err(err).Msgf("poller: cache status check failed, retrying: id=%s attempt=%d", remoteID, attempt)
		case ready:
			zlog.Debug().Msgf("poller: media ready: id=%s attempts=%d", remoteID, attempt)
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && p.config.Timeout > 0 {
				return errors.Wrapf(ErrTimeout, "id=%s after %d attempts", remoteID, attempt)
			}
			return errors.Wrapf(ctx.Err(), "waiting for %s", remoteID)
		case <-ticks:
		}
	}
}

func wallTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}
