package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunequeue/internal/domain/track"
)

// CodeDurationLimit is returned for songs outside the configured bounds.
const CodeDurationLimit = "duration_limit_exceeded"

// DurationLimitConfig represents the configuration for DurationLimitFilter.
type DurationLimitConfig struct {
	MinMinutes float64 `mapstructure:"min_minutes" default:"0" validate:"gte=0"`
	MaxMinutes float64 `mapstructure:"max_minutes" validate:"gte=0"`
}

// DurationLimitFilter checks if the song duration is within allowed limits.
// Songs of unknown duration pass.
type DurationLimitFilter struct {
	config *DurationLimitConfig
}

// NewDurationLimitFilter creates a new duration limit filter.
func NewDurationLimitFilter() *DurationLimitFilter {
	return &DurationLimitFilter{}
}

func (f *DurationLimitFilter) Name() string {
	return "duration_limit_filter"
}

func (f *DurationLimitFilter) Description() string {
	return "Checks if song duration is within allowed limits"
}

func (f *DurationLimitFilter) ReturnCodes() []string {
	return []string{CodeDurationLimit}
}

func (f *DurationLimitFilter) Configure(settings map[string]any) error {
	var config DurationLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	// max_minutes of 0 means no upper limit
	if config.MaxMinutes > 0 && config.MinMinutes > config.MaxMinutes {
		return errors.New("min_minutes cannot be greater than max_minutes")
	}
	f.config = &config
	zlog.Info().Msgf("duration limit filter config: %+v", config)
	return nil
}

func (f *DurationLimitFilter) Check(_ context.Context, rec track.Record) Result {
	if f.config == nil || rec.Duration <= 0 {
		return Accept()
	}

	minutes := rec.Duration.Minutes()
	if minutes < f.config.MinMinutes {
		return Reject(CodeDurationLimit)
	}
	if f.config.MaxMinutes > 0 && minutes > f.config.MaxMinutes {
		return Reject(CodeDurationLimit)
	}
	return Accept()
}

func init() {
	Register("duration_limit_filter", func() Filter {
		return NewDurationLimitFilter()
	})
}
