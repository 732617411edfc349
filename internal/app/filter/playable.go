package filter

import (
	"context"
	"strings"

	"github.com/osa030/tunequeue/internal/domain/track"
)

// Codes returned by PlayableFilter.
const (
	CodeNoSource      = "no_source"
	CodeSchemeBlocked = "scheme_not_allowed"
)

// PlayableConfig represents the configuration for PlayableFilter.
type PlayableConfig struct {
	Schemes []string `mapstructure:"schemes" validate:"dive,oneof=http https file"`
}

// PlayableFilter rejects songs without an audio source, and optionally
// songs whose source uses a scheme that is not allowed.
type PlayableFilter struct {
	schemes []string
}

// NewPlayableFilter creates a new PlayableFilter.
func NewPlayableFilter() *PlayableFilter {
	return &PlayableFilter{}
}

func (f *PlayableFilter) Name() string {
	return "playable_filter"
}

func (f *PlayableFilter) Description() string {
	return "Checks that the song resolves to an audio source"
}

func (f *PlayableFilter) ReturnCodes() []string {
	return []string{CodeNoSource, CodeSchemeBlocked}
}

func (f *PlayableFilter) Configure(settings map[string]any) error {
	var config PlayableConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.schemes = config.Schemes
	return nil
}

func (f *PlayableFilter) Check(_ context.Context, rec track.Record) Result {
	src, err := rec.SourceURL()
	if err != nil {
		return Reject(CodeNoSource)
	}
	if len(f.schemes) == 0 {
		return Accept()
	}

	scheme := "file"
	if i := strings.Index(src, "://"); i > 0 {
		scheme = strings.ToLower(src[:i])
	}
	for _, s := range f.schemes {
		if s == scheme {
			return Accept()
		}
	}
	return Reject(CodeSchemeBlocked)
}

func init() {
	Register("playable_filter", func() Filter {
		return NewPlayableFilter()
	})
}
