// Package enginetest provides an in-memory engine.Backend for tests.
package enginetest

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tunequeue/internal/app/engine"
)

// Backend records every resource it creates. Set the exported fields before
// handing it to an engine.
type Backend struct {
	// Duration reported by created resources.
	Duration time.Duration
	// CreateErr, when set, makes Create fail for every url.
	CreateErr error
	// BeforeCreate runs before a resource is created, outside the lock. Tests
	// use it to block or reorder loads.
	BeforeCreate func(ctx context.Context, url string) error

	mu         sync.Mutex
	modes      []engine.Mode
	resources  []*Resource
	createURLs []string
}

// NewBackend returns a backend whose resources last d.
func NewBackend(d time.Duration) *Backend {
	return &Backend{Duration: d}
}

func (b *Backend) Configure(_ context.Context, mode engine.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modes = append(b.modes, mode)
	return nil
}

func (b *Backend) Create(ctx context.Context, url string, autoplay bool) (engine.Resource, error) {
	if b.BeforeCreate != nil {
		if err := b.BeforeCreate(ctx, url); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.createURLs = append(b.createURLs, url)
	if b.CreateErr != nil {
		return nil, b.CreateErr
	}
	r := &Resource{URL: url, loaded: true, playing: autoplay, duration: b.Duration}
	b.resources = append(b.resources, r)
	return r, nil
}

// Creates returns the urls passed to Create, in order, failed ones included.
func (b *Backend) Creates() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.createURLs...)
}

// Modes returns the modes passed to Configure.
func (b *Backend) Modes() []engine.Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]engine.Mode(nil), b.modes...)
}

// Resources returns every resource created so far.
func (b *Backend) Resources() []*Resource {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Resource(nil), b.resources...)
}

// Last returns the most recently created resource, or nil.
func (b *Backend) Last() *Resource {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.resources) == 0 {
		return nil
	}
	return b.resources[len(b.resources)-1]
}

// Resource is a fake stream. Position only moves through SetPosition,
// Advance and Finish.
type Resource struct {
	URL string

	mu       sync.Mutex
	loaded   bool
	playing  bool
	finished bool
	position time.Duration
	duration time.Duration
	unloads  int
	failNext error
}

var errUnloaded = errors.New("resource unloaded")

// FailNext makes the next call on the resource return err.
func (r *Resource) FailNext(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

func (r *Resource) check() error {
	if err := r.failNext; err != nil {
		r.failNext = nil
		return err
	}
	if !r.loaded {
		return errUnloaded
	}
	return nil
}

func (r *Resource) Status(context.Context) (engine.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return engine.Status{}, err
	}
	return engine.Status{
		IsLoaded:  r.loaded,
		IsPlaying: r.playing,
		DidFinish: r.finished,
		Position:  r.position,
		Duration:  r.duration,
	}, nil
}

func (r *Resource) Play(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	r.playing = true
	r.finished = false
	return nil
}

func (r *Resource) Pause(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	r.playing = false
	return nil
}

func (r *Resource) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	r.playing = false
	r.position = 0
	return nil
}

func (r *Resource) SetPosition(_ context.Context, millis int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(); err != nil {
		return err
	}
	r.position = time.Duration(millis) * time.Millisecond
	return nil
}

func (r *Resource) Unload(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unloads++
	if err := r.failNext; err != nil {
		r.failNext = nil
		r.loaded = false
		return err
	}
	r.loaded = false
	r.playing = false
	return nil
}

// Advance moves the playhead forward as if d of audio had played.
func (r *Resource) Advance(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position += d
}

// Finish marks the stream as played to the end.
func (r *Resource) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	r.playing = false
	r.position = r.duration
}

// Playing reports whether the fake is currently playing.
func (r *Resource) Playing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

// Position reports the fake playhead.
func (r *Resource) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

// Unloads reports how many times Unload was called.
func (r *Resource) Unloads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unloads
}
