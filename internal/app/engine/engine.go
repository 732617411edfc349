package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunequeue/internal/domain/track"
)

var (
	// ErrResource marks failures of the underlying audio resource.
	ErrResource = errors.New("audio resource failure")
	// ErrSuperseded is returned by Load and Seek when their guard reports
	// that a newer load has been requested in the meantime.
	ErrSuperseded = errors.New("load superseded")
)

// LoadOption customizes a Load or Seek call.
type LoadOption func(*loadOptions)

type loadOptions struct {
	guard func() bool
}

// WithGuard makes Load and Seek check fresh once they own the resource slot.
// When fresh reports false the call is abandoned before the resource is
// touched.
func WithGuard(fresh func() bool) LoadOption {
	return func(o *loadOptions) { o.guard = fresh }
}

// Engine wraps at most one live Resource. Every operation acquires a
// single-slot semaphore, so a load always finishes tearing down the previous
// resource before the next one is created.
type Engine struct {
	backend Backend
	mode    Mode

	slot chan struct{}
	res  Resource // guarded by slot
	live atomic.Bool
}

// New creates an engine on top of backend.
func New(backend Backend, mode Mode) *Engine {
	return &Engine{
		backend: backend,
		mode:    mode,
		slot:    make(chan struct{}, 1),
	}
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() { <-e.slot }

// Loaded reports whether a resource is alive. It does not wait for the slot.
func (e *Engine) Loaded() bool {
	return e.live.Load()
}

// Load tears down the current resource and creates one for rec, playing
// immediately. Teardown failures are logged and never block the new load.
func (e *Engine) Load(ctx context.Context, rec track.Record, opts ...LoadOption) (Status, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := e.acquire(ctx); err != nil {
		return Status{}, err
	}
	defer e.release()

	if o.guard != nil && !o.guard() {
		return Status{}, ErrSuperseded
	}

	e.teardownLocked(ctx)

	url, err := rec.SourceURL()
	if err != nil {
		zlog.Error().Err(err).Msgf("engine: cannot load %q", rec.ID)
		return Status{}, err
	}

	if err := e.backend.Configure(ctx, e.mode); err != nil {
		zlog.Warn().Err(err).Msg("engine: failed to configure audio mode")
	}

	start := time.Now()
	res, err := e.backend.Create(ctx, url, true)
	if err != nil {
		return Status{}, errors.Mark(errors.Wrapf(err, "failed to create resource for %q", rec.ID), ErrResource)
	}
	e.res = res
	e.live.Store(true)

	st, err := res.Status(ctx)
	if err != nil {
		// The resource exists and plays; only the initial duration is unknown.
		zlog.Warn().Err(err).Msgf("engine: initial status failed for %q", rec.ID)
		st = Status{IsLoaded: true, IsPlaying: true}
	}
	zlog.Debug().Msgf("engine: loaded %q in %v (duration=%v)", rec.ID, time.Since(start), st.Duration)
	return st, nil
}

// teardownLocked stops and unloads the current resource, logging failures.
// The handle is dropped whatever happens. Must be called with the slot held.
func (e *Engine) teardownLocked(ctx context.Context) {
	res := e.res
	if res == nil {
		return
	}
	e.res = nil
	e.live.Store(false)

	st, err := res.Status(ctx)
	if err != nil {
		zlog.Warn().Err(err).Msg("engine: status before teardown failed")
	} else if st.IsLoaded && st.IsPlaying {
		if err := res.Stop(ctx); err != nil {
			zlog.Warn().Err(err).Msg("engine: stop before teardown failed")
		}
	}

	if err := res.Unload(ctx); err != nil {
		zlog.Warn().Err(err).Msg("engine: unload failed")
	}
}

// Unload releases the current resource, if any.
func (e *Engine) Unload(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	e.teardownLocked(ctx)
	return nil
}

// Status reports the state of the current resource. Without one it returns
// the zero Status.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	return withResource(ctx, e, "status", func(r Resource) (Status, error) {
		return r.Status(ctx)
	})
}

// Play resumes the current resource.
func (e *Engine) Play(ctx context.Context) error {
	return e.control(ctx, "play", func(r Resource) error { return r.Play(ctx) })
}

// Pause pauses the current resource.
func (e *Engine) Pause(ctx context.Context) error {
	return e.control(ctx, "pause", func(r Resource) error { return r.Pause(ctx) })
}

// Stop pauses and rewinds the current resource without unloading it.
func (e *Engine) Stop(ctx context.Context) error {
	return e.control(ctx, "stop", func(r Resource) error { return r.Stop(ctx) })
}

// Seek moves the current resource to position. No-op without a resource.
func (e *Engine) Seek(ctx context.Context, position time.Duration, opts ...LoadOption) error {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	superseded := false
	err := e.control(ctx, "seek", func(r Resource) error {
		if o.guard != nil && !o.guard() {
			superseded = true
			return nil
		}
		return r.SetPosition(ctx, position.Milliseconds())
	})
	if superseded {
		return ErrSuperseded
	}
	return err
}

func (e *Engine) control(ctx context.Context, op string, fn func(Resource) error) error {
	_, err := withResource(ctx, e, op, func(r Resource) (struct{}, error) {
		return struct{}{}, fn(r)
	})
	return err
}

func withResource[T any](ctx context.Context, e *Engine, op string, fn func(Resource) (T, error)) (T, error) {
	var zero T
	if err := e.acquire(ctx); err != nil {
		return zero, err
	}
	defer e.release()

	if e.res == nil {
		return zero, nil
	}
	v, err := fn(e.res)
	if err != nil {
		return zero, errors.Mark(errors.Wrapf(err, "%s failed", op), ErrResource)
	}
	return v, nil
}
