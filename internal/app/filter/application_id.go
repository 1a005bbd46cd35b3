package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"
)

// ApplicationIDConfig represents the configuration for ApplicationIDFilter.
type ApplicationIDConfig struct {
	ApplicationID string `mapstructure:"application_id" validate:"required"`
}

// ApplicationIDFilter rejects requests addressed to a different skill.
type ApplicationIDFilter struct {
	applicationID string
}

// NewApplicationIDFilter creates a filter that only accepts applicationID.
func NewApplicationIDFilter(applicationID string) *ApplicationIDFilter {
	return &ApplicationIDFilter{applicationID: applicationID}
}

func (f *ApplicationIDFilter) Name() string {
	return "application_id_filter"
}

func (f *ApplicationIDFilter) Description() string {
	return "Checks that the request is addressed to the configured skill"
}

func (f *ApplicationIDFilter) ReturnCodes() []string {
	return []string{CodeIdentityMismatch}
}

func (f *ApplicationIDFilter) ValidateConfig(settings map[string]any) error {
	var config ApplicationIDConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.applicationID = config.ApplicationID
	return nil
}

func (f *ApplicationIDFilter) AppliesTo(req Request) bool {
	return true
}

func (f *ApplicationIDFilter) Check(ctx context.Context, req Request) Result {
	if f.applicationID == "" || req.ApplicationID != f.applicationID {
		zlog.Warn().Msgf("rejected request for foreign application: application_id=%s request_id=%s", req.ApplicationID, req.RequestID)
		return Reject(CodeIdentityMismatch)
	}
	return Accept()
}

func init() {
	Register("application_id_filter", func() Filter {
		return &ApplicationIDFilter{}
	})
}
