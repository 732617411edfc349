package beepaudio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/osa030/tunequeue/internal/app/engine"
)

var errUnloaded = errors.New("resource unloaded")

// sink is the mixer resources attach to.
type sink interface {
	Lock()
	Unlock()
	Play(s ...beep.Streamer)
	Clear()
}

// speakerSink is the system speaker.
type speakerSink struct{}

func (speakerSink) Lock()                   { speaker.Lock() }
func (speakerSink) Unlock()                 { speaker.Unlock() }
func (speakerSink) Play(s ...beep.Streamer) { speaker.Play(s...) }
func (speakerSink) Clear()                  { speaker.Clear() }

// resource is one decoded stream attached to the speaker mixer. Once the
// stream drains, the mixer drops it; play and stop re-attach it.
type resource struct {
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	out      sink

	// Written by the mixer callback, which runs under the sink lock, so
	// these never take mu.
	finished atomic.Bool
	attached atomic.Bool

	mu     sync.Mutex
	closed bool
}

func newResource(s beep.StreamSeekCloser, format beep.Format, rate beep.SampleRate, out sink) *resource {
	var src beep.Streamer = s
	if format.SampleRate != rate {
		src = beep.Resample(resampleQuality, format.SampleRate, rate, s)
	}
	return &resource{
		streamer: s,
		format:   format,
		ctrl:     &beep.Ctrl{Streamer: src},
		out:      out,
	}
}

// enqueue attaches the stream to the mixer.
func (r *resource) enqueue() {
	r.finished.Store(false)
	r.attached.Store(true)
	r.out.Play(beep.Seq(r.ctrl, beep.Callback(func() {
		r.finished.Store(true)
		r.attached.Store(false)
	})))
}

func (r *resource) Status(context.Context) (engine.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return engine.Status{}, errUnloaded
	}

	r.out.Lock()
	pos := r.streamer.Position()
	length := r.streamer.Len()
	paused := r.ctrl.Paused
	r.out.Unlock()

	finished := r.finished.Load()
	return engine.Status{
		IsLoaded:  true,
		IsPlaying: !paused && !finished,
		DidFinish: finished,
		Position:  r.format.SampleRate.D(pos),
		Duration:  r.format.SampleRate.D(length),
	}, nil
}

func (r *resource) Play(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errUnloaded
	}

	if !r.attached.Load() {
		r.out.Lock()
		err := r.streamer.Seek(0)
		r.ctrl.Paused = false
		r.out.Unlock()
		if err != nil {
			return errors.Wrap(err, "rewind failed")
		}
		r.enqueue()
		return nil
	}

	r.out.Lock()
	r.ctrl.Paused = false
	r.out.Unlock()
	return nil
}

func (r *resource) Pause(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errUnloaded
	}
	r.out.Lock()
	r.ctrl.Paused = true
	r.out.Unlock()
	return nil
}

func (r *resource) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errUnloaded
	}

	r.out.Lock()
	r.ctrl.Paused = true
	err := r.streamer.Seek(0)
	r.out.Unlock()
	if err != nil {
		return errors.Wrap(err, "rewind failed")
	}
	if !r.attached.Load() {
		r.enqueue()
	}
	return nil
}

func (r *resource) SetPosition(_ context.Context, millis int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errUnloaded
	}

	r.out.Lock()
	n := r.format.SampleRate.N(time.Duration(millis) * time.Millisecond)
	n = min(max(n, 0), r.streamer.Len())
	err := r.streamer.Seek(n)
	r.out.Unlock()
	if err != nil {
		return errors.Wrap(err, "seek failed")
	}
	if !r.attached.Load() && n < r.streamer.Len() {
		r.enqueue()
	}
	return nil
}

func (r *resource) Unload(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	r.out.Lock()
	r.ctrl.Streamer = nil
	r.out.Unlock()
	r.out.Clear()
	return r.streamer.Close()
}
