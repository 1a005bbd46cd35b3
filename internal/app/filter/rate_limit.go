package filter

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimitConfig represents the configuration for RateLimitFilter.
type RateLimitConfig struct {
	Requests  int `yaml:"requests" mapstructure:"requests" default:"30" validate:"gte=1"`
	WindowSec int `yaml:"window_sec" mapstructure:"window_sec" default:"60" validate:"gte=1"`
	Burst     int `yaml:"burst" mapstructure:"burst" default:"5" validate:"gte=1"`
}

// RateLimitFilter limits how often a single user may issue voice commands.
// Platform playback events are never limited.
type RateLimitFilter struct {
	config *RateLimitConfig
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimitFilter creates a new rate limit filter.
func NewRateLimitFilter(now func() time.Time) *RateLimitFilter {
	return &RateLimitFilter{now: now}
}

func (f *RateLimitFilter) Name() string {
	return "rate_limit_filter"
}

func (f *RateLimitFilter) Description() string {
	return "Limits voice commands per user with a token bucket"
}

func (f *RateLimitFilter) ReturnCodes() []string {
	return []string{CodeRateLimited}
}

func (f *RateLimitFilter) ValidateConfig(settings map[string]any) error {
	var config RateLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}

	f.mu.Lock()
	f.config = &config
	f.limiters = make(map[string]*rate.Limiter)
	f.mu.Unlock()

	zlog.Info().Msgf("rate limit filter config: %+v", config)
	return nil
}

func (f *RateLimitFilter) AppliesTo(req Request) bool {
	return req.IsUserInitiated()
}

func (f *RateLimitFilter) Check(ctx context.Context, req Request) Result {
	if f.config == nil {
		return Accept()
	}

	now := time.Now
	if f.now != nil {
		now = f.now
	}
	if !f.limiter(req.UserID).AllowN(now(), 1) {
		zlog.Warn().Msgf("rate limited: user=%s", req.UserID)
		return Reject(CodeRateLimited)
	}
	return Accept()
}

func (f *RateLimitFilter) limiter(userID string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[userID]
	if !ok {
		window := time.Duration(f.config.WindowSec) * time.Second
		every := window / time.Duration(f.config.Requests)
		l = rate.NewLimiter(rate.Every(every), f.config.Burst)
		f.limiters[userID] = l
	}
	return l
}

func init() {
	Register("rate_limit_filter", func() Filter {
		return &RateLimitFilter{}
	})
}
