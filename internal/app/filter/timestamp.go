package filter

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// TimestampConfig represents the configuration for TimestampFilter.
type TimestampConfig struct {
	ToleranceSec int `yaml:"tolerance_sec" mapstructure:"tolerance_sec" default:"150" validate:"gte=1,lte=3600"`
}

// TimestampFilter rejects requests whose timestamp is too far from now,
// which guards against replayed requests.
type TimestampFilter struct {
	config *TimestampConfig
	now    func() time.Time
}

// NewTimestampFilter creates a new timestamp filter.
func NewTimestampFilter(now func() time.Time) *TimestampFilter {
	return &TimestampFilter{now: now}
}

func (f *TimestampFilter) Name() string {
	return "timestamp_filter"
}

func (f *TimestampFilter) Description() string {
	return "Checks that the request timestamp is within the tolerance window"
}

func (f *TimestampFilter) ReturnCodes() []string {
	return []string{CodeStaleRequest}
}

func (f *TimestampFilter) ValidateConfig(settings map[string]any) error {
	var config TimestampConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("timestamp filter config: %+v", config)
	return nil
}

func (f *TimestampFilter) AppliesTo(req Request) bool {
	return true
}

func (f *TimestampFilter) Check(ctx context.Context, req Request) Result {
	// If config is not set, accept all requests
	if f.config == nil {
		return Accept()
	}
	if req.Timestamp.IsZero() {
		return Reject(CodeStaleRequest)
	}

	now := time.Now
	if f.now != nil {
		now = f.now
	}
	skew := now().Sub(req.Timestamp)
	if skew < 0 {
		skew = -skew
	}
	if skew > time.Duration(f.config.ToleranceSec)*time.Second {
		zlog.Warn().Msgf("rejected stale request: request_id=%s skew=%s", req.RequestID, skew)
		return Reject(CodeStaleRequest)
	}
	return Accept()
}

func init() {
	Register("timestamp_filter", func() Filter {
		return &TimestampFilter{}
	})
}
