package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunequeue/internal/domain/track"
)

// Settings configures one filter of a chain.
type Settings struct {
	Enabled  bool
	Settings map[string]any
}

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Build creates a chain from the enabled entries of configs. Unknown filter
// names are an error.
func Build(configs map[string]Settings) (*Chain, error) {
	c := NewChain()
	for _, name := range Names() {
		cfg, ok := configs[name]
		if !ok || !cfg.Enabled {
			continue
		}
		f := registry[name]()
		if err := f.Configure(cfg.Settings); err != nil {
			return nil, errors.Wrapf(err, "filter %s", name)
		}
		c.Add(f)
		zlog.Info().Msgf("filter: %s enabled", name)
	}
	for name := range configs {
		if _, ok := registry[name]; !ok {
			return nil, errors.Newf("unknown filter %q", name)
		}
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the record. A nil chain accepts
// everything.
func (c *Chain) Execute(ctx context.Context, rec track.Record) Result {
	if c == nil {
		return Accept()
	}
	for _, f := range c.filters {
		result := f.Check(ctx, rec)
		if !result.Accepted {
			zlog.Debug().Msgf("filter: %s rejected %q (%s)", f.Name(), rec.ID, result.Code)
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
