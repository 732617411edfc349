package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunequeue/internal/app/engine"
	"github.com/osa030/tunequeue/internal/app/notification"
	"github.com/osa030/tunequeue/internal/app/queue"
	"github.com/osa030/tunequeue/internal/domain/track"
)

// ErrClosed is returned by operations on a closed coordinator.
var ErrClosed = errors.New("coordinator closed")

// Engine is the part of engine.Engine the coordinator drives.
type Engine interface {
	Load(ctx context.Context, rec track.Record, opts ...engine.LoadOption) (engine.Status, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, position time.Duration, opts ...engine.LoadOption) error
	Unload(ctx context.Context) error
	Status(ctx context.Context) (engine.Status, error)
	Loaded() bool
}

// Config holds coordinator configuration.
type Config struct {
	Monitor Monitor // Defaults to PollMonitor with DefaultPollInterval
}

// Coordinator keeps the queue, the engine and the published snapshot
// consistent. Its lock is never held across engine calls; instead every load
// is tagged with a generation and results of superseded loads are dropped.
type Coordinator struct {
	mu        sync.RWMutex
	snap      Snapshot
	gen       uint64 // bumped by every load, unload and clear
	loadingID string // song of the in-flight load, "" if none
	stopWatch func()
	closed    bool

	store   *queue.Store
	engine  Engine
	monitor Monitor
	notify  *notification.Manager[Snapshot]

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a coordinator over store and eng.
func New(store *queue.Store, eng Engine, config Config) *Coordinator {
	if config.Monitor == nil {
		config.Monitor = PollMonitor{Interval: DefaultPollInterval}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		snap:    initialSnapshot(),
		store:   store,
		engine:  eng,
		monitor: config.Monitor,
		notify:  notification.NewManager[Snapshot](),
		ctx:     ctx,
		cancel:  cancel,
	}
	tracks, idx := store.View()
	c.snap = transition(c.snap, queueChanged(tracks, idx))
	return c
}

// Snapshot returns the current published state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Subscribe registers for snapshot updates. Slow readers only see the latest.
func (c *Coordinator) Subscribe() (string, <-chan notification.Notice[Snapshot]) {
	return c.notify.Subscribe()
}

// Unsubscribe cancels a subscription.
func (c *Coordinator) Unsubscribe(id string) {
	c.notify.Unsubscribe(id)
}

// applyLocked runs ev through transition, resyncs the queue view and
// broadcasts. Broadcasting under the lock keeps notices in order.
func (c *Coordinator) applyLocked(evs ...event) {
	for _, ev := range evs {
		c.snap = transition(c.snap, ev)
	}
	tracks, idx := c.store.View()
	c.snap = transition(c.snap, queueChanged(tracks, idx))
	c.notify.Broadcast(c.snap)
}

func (c *Coordinator) fresh(gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gen == c.gen && !c.closed
}

// Hydrate restores the persisted queue. It selects but does not play the
// restored current song.
func (c *Coordinator) Hydrate(ctx context.Context) error {
	c.store.Hydrate(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	var cur *track.Record
	if rec, ok := c.store.Current(); ok {
		cur = &rec
	}
	c.applyLocked(event{kind: evHydrated, record: cur})
	zlog.Info().Msgf("playback: hydrated %d tracks (current=%d)", len(c.snap.Queue), c.snap.CurrentIndex)
	return nil
}

// SetSong makes rec the current song and plays it, queueing it first if
// needed. Asking again for the song that is already loaded or loading does
// nothing. Load failures are reported through Snapshot.LastError.
func (c *Coordinator) SetSong(ctx context.Context, rec track.Record) error {
	return c.setSong(ctx, rec, false)
}

func (c *Coordinator) setSong(ctx context.Context, rec track.Record, force bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !force && c.snap.Current != nil && c.snap.Current.ID == rec.ID &&
		(c.engine.Loaded() || c.loadingID == rec.ID) {
		c.mu.Unlock()
		return nil
	}

	c.store.Focus(rec)
	c.gen++
	gen := c.gen
	c.loadingID = rec.ID
	c.stopWatchLocked()
	c.applyLocked(event{kind: evLoadStarted, record: &rec})
	c.mu.Unlock()

	zlog.Debug().Msgf("playback: loading %q (gen=%d)", rec.ID, gen)
	st, err := c.engine.Load(ctx, rec, engine.WithGuard(func() bool { return c.fresh(gen) }))

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		// A newer request owns the state now.
		return nil
	}
	c.loadingID = ""

	if err != nil {
		zlog.Error().Err(err).Msgf("playback: failed to load %q", rec.ID)
		c.applyLocked(event{kind: evLoadFailed, err: err})
		return nil
	}

	c.applyLocked(event{kind: evLoadSucceeded, status: st})
	c.startWatchLocked(gen)
	zlog.Info().Msgf("playback: playing %q (%s)", rec.DisplayName(), rec.ArtistLine())
	return nil
}

// Next plays the following song, wrapping to the start.
func (c *Coordinator) Next(ctx context.Context) error {
	return c.step(ctx, 1, false)
}

// Previous plays the preceding song, wrapping to the end.
func (c *Coordinator) Previous(ctx context.Context) error {
	return c.step(ctx, -1, false)
}

func (c *Coordinator) step(ctx context.Context, delta int, force bool) error {
	tracks, idx := c.store.View()
	n := len(tracks)
	if n == 0 {
		return nil
	}

	var target int
	switch {
	case idx < 0 && delta > 0:
		target = 0
	case idx < 0:
		target = n - 1
	default:
		target = ((idx+delta)%n + n) % n
	}
	return c.setSong(ctx, tracks[target], force)
}

// AddToQueue appends rec. It reports false when rec was already queued.
func (c *Coordinator) AddToQueue(_ context.Context, rec track.Record) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}

	added := c.store.Add(rec)
	if added {
		c.applyLocked()
	}
	return added, nil
}

// RemoveFromQueue drops id from the queue. Removing the current song moves
// playback to the song that takes its place; emptying the queue unloads.
func (c *Coordinator) RemoveFromQueue(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	res := c.store.Remove(id)
	switch {
	case !res.Removed:
		c.mu.Unlock()
		return nil

	case c.store.Len() == 0:
		c.resetLocked()
		c.mu.Unlock()
		return c.unloadEngine(ctx)

	case res.WasCurrent && res.Index >= 0:
		// The forced load below publishes the new queue and song together.
		next, ok := c.store.At(res.Index)
		c.mu.Unlock()
		if !ok {
			return nil
		}
		return c.setSong(ctx, next, true)

	default:
		c.applyLocked()
		c.mu.Unlock()
		return nil
	}
}

// ClearQueue empties the queue and unloads playback.
func (c *Coordinator) ClearQueue(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.store.Clear()
	c.resetLocked()
	c.mu.Unlock()
	return c.unloadEngine(ctx)
}

// Unload releases the audio resource and goes idle. The queue is kept.
func (c *Coordinator) Unload(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.resetLocked()
	c.mu.Unlock()
	return c.unloadEngine(ctx)
}

// resetLocked invalidates in-flight loads and publishes Idle.
func (c *Coordinator) resetLocked() {
	c.gen++
	c.loadingID = ""
	c.stopWatchLocked()
	c.applyLocked(event{kind: evUnloaded})
}

func (c *Coordinator) unloadEngine(ctx context.Context) error {
	if err := c.engine.Unload(ctx); err != nil {
		zlog.Warn().Err(err).Msg("playback: unload failed")
		return err
	}
	return nil
}

// Toggle flips between playing and paused. Without a loaded resource it
// restarts the current song instead.
func (c *Coordinator) Toggle(ctx context.Context) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	loading := c.loadingID != ""
	gen := c.gen
	c.mu.RUnlock()

	if loading {
		return nil
	}
	if !c.engine.Loaded() {
		rec, ok := c.store.Current()
		if !ok {
			return nil
		}
		return c.setSong(ctx, rec, true)
	}

	st, err := c.engine.Status(ctx)
	if err == nil {
		if st.IsPlaying {
			err = c.engine.Pause(ctx)
		} else {
			err = c.engine.Play(ctx)
		}
	}
	if err == nil {
		st, err = c.engine.Status(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	if err != nil {
		zlog.Error().Err(err).Msg("playback: toggle failed")
		c.applyLocked(event{kind: evFailed, err: err})
		return nil
	}
	c.applyLocked(event{kind: evStatus, status: st})
	return nil
}

// Seek moves the playhead. Negative targets go to the start and, once the
// duration is known, targets past the end go to the end. The new position
// is published before the engine confirms it.
func (c *Coordinator) Seek(ctx context.Context, target time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	// The loaded resource may already belong to the previous song.
	if !c.engine.Loaded() || c.loadingID != "" {
		c.mu.Unlock()
		return nil
	}
	pos := clampSeek(target, c.snap.Duration)
	gen := c.gen
	c.applyLocked(event{kind: evSeeked, position: pos})
	c.mu.Unlock()

	err := c.engine.Seek(ctx, pos, engine.WithGuard(func() bool { return c.fresh(gen) }))
	if errors.Is(err, engine.ErrSuperseded) {
		return nil
	}
	if err != nil {
		zlog.Error().Err(err).Msgf("playback: seek to %v failed", pos)
		c.mu.Lock()
		if gen == c.gen {
			c.applyLocked(event{kind: evFailed, err: err})
		}
		c.mu.Unlock()
	}
	return nil
}

// Stop pauses and rewinds the current song without unloading it.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	gen := c.gen
	c.mu.RUnlock()

	if !c.engine.Loaded() {
		return nil
	}
	err := c.engine.Stop(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	if err != nil {
		zlog.Error().Err(err).Msg("playback: stop failed")
		c.applyLocked(event{kind: evFailed, err: err})
		return nil
	}
	c.applyLocked(event{kind: evStopped})
	return nil
}

// Close stops monitoring, releases the resource and ends all subscriptions.
// The queue store is left to its owner.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	c.stopWatchLocked()
	c.cancel()
	c.mu.Unlock()

	c.notify.Close()
	return c.unloadEngine(ctx)
}

func (c *Coordinator) stopWatchLocked() {
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
}

func (c *Coordinator) startWatchLocked(gen uint64) {
	c.stopWatchLocked()
	c.stopWatch = c.monitor.Watch(c.ctx, c.engine.Status, func(st engine.Status) bool {
		return c.onStatus(gen, st)
	})
}

// onStatus handles one monitor sample. A finished song stops the loop and
// advances the queue; a single-song queue restarts its only song.
func (c *Coordinator) onStatus(gen uint64, st engine.Status) bool {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return false
	}
	c.applyLocked(event{kind: evStatus, status: st})
	if !st.DidFinish {
		c.mu.Unlock()
		return true
	}
	c.stopWatch = nil
	c.mu.Unlock()

	zlog.Debug().Msg("playback: song finished, advancing")
	if err := c.step(c.ctx, 1, true); err != nil && !errors.Is(err, ErrClosed) {
		zlog.Warn().Err(err).Msg("playback: auto-advance failed")
	}
	return false
}
