// Package filter provides the filter chain for inbound platform requests.
package filter

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Rejection codes.
const (
	CodeIdentityMismatch = "identity_mismatch"
	CodeStaleRequest     = "stale_request"
	CodeRateLimited      = "rate_limited"
)

// Request represents the envelope fields filters inspect.
type Request struct {
	ApplicationID string
	UserID        string
	RequestID     string
	RequestType   string // e.g. "IntentRequest", "AudioPlayer.PlaybackNearlyFinished"
	Timestamp     time.Time
}

// IsUserInitiated reports whether the request came from the user speaking,
// as opposed to a platform playback event.
func (r Request) IsUserInitiated() bool {
	return !strings.HasPrefix(r.RequestType, "AudioPlayer.") && r.RequestType != "SessionEndedRequest"
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "identity_mismatch", "rate_limited"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for request filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the filter configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter should be applied to the request.
	AppliesTo(req Request) bool
	// Check performs the filter check.
	Check(ctx context.Context, req Request) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}

// New creates a registered filter and applies its settings.
func New(name string, settings map[string]any) (Filter, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, errors.Newf("unknown filter %q", name)
	}
	f := factory()
	if err := f.ValidateConfig(settings); err != nil {
		return nil, errors.Wrapf(err, "filter %s", name)
	}
	return f, nil
}

// decodeSettings decodes settings into out, applies defaults and validates.
func decodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
