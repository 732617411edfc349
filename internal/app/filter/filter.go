// Package filter provides the admission chain songs pass before they are
// queued through the control API.
package filter

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/tunequeue/internal/domain/track"
)

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "duration_limit_exceeded", "no_source"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for admission filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// Configure validates and applies the filter settings.
	Configure(settings map[string]any) error
	// Check performs the filter check.
	Check(ctx context.Context, rec track.Record) Result
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

// Names returns the registered filter names in order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeSettings fills out from settings, applies defaults and validates.
func decodeSettings(settings map[string]any, out any) error {
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
