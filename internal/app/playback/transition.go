package playback

import (
	"time"

	"github.com/osa030/tunequeue/internal/app/engine"
	"github.com/osa030/tunequeue/internal/domain/track"
)

type eventKind int

const (
	evQueueChanged eventKind = iota
	evHydrated
	evLoadStarted
	evLoadSucceeded
	evLoadFailed
	evStatus
	evSeeked
	evStopped
	evUnloaded
	evFailed
)

// event is an input to transition. Only the fields relevant to kind are set.
type event struct {
	kind     eventKind
	record   *track.Record
	queue    []track.Record
	index    int
	status   engine.Status
	position time.Duration
	err      error
}

func queueChanged(tracks []track.Record, index int) event {
	return event{kind: evQueueChanged, queue: tracks, index: index}
}

// transition is the only place a Snapshot changes.
func transition(s Snapshot, ev event) Snapshot {
	switch ev.kind {
	case evQueueChanged:
		s.Queue = ev.queue
		s.CurrentIndex = ev.index
		if ev.index < 0 {
			s.Current = nil
		}

	case evHydrated:
		s.Current = ev.record
		s.State = StateIdle
		s.IsPlaying, s.IsLoading = false, false
		s.Position, s.Duration = 0, 0

	case evLoadStarted:
		s.Current = ev.record
		s.State = StateLoading
		s.IsLoading = true
		s.IsPlaying = false
		s.Position = 0
		s.Duration = ev.record.Duration

	case evLoadSucceeded:
		s.State = StatePlaying
		s.IsLoading = false
		s.IsPlaying = true
		s.Position = 0
		if ev.status.Duration > 0 {
			s.Duration = ev.status.Duration
		}
		s.LastError = ""

	case evLoadFailed:
		s.State = StateIdle
		s.IsLoading = false
		s.IsPlaying = false
		s.Position = 0
		s.LastError = ev.err.Error()

	case evStatus:
		if s.State != StatePlaying && s.State != StatePaused {
			return s
		}
		s.IsPlaying = ev.status.IsPlaying
		s.State = playingState(s.IsPlaying)
		s.Position = ev.status.Position
		if ev.status.Duration > 0 {
			s.Duration = ev.status.Duration
		}

	case evSeeked:
		s.Position = ev.position

	case evStopped:
		s.IsPlaying = false
		s.Position = 0
		if s.State == StatePlaying {
			s.State = StatePaused
		}

	case evUnloaded:
		s.State = StateIdle
		s.IsPlaying, s.IsLoading = false, false
		s.Position, s.Duration = 0, 0

	case evFailed:
		s.LastError = ev.err.Error()
	}
	return s
}

func playingState(playing bool) State {
	if playing {
		return StatePlaying
	}
	return StatePaused
}

// clampSeek keeps a seek target inside the song. A zero duration means
// the length is unknown, so only the lower bound applies.
func clampSeek(target, duration time.Duration) time.Duration {
	if target < 0 {
		return 0
	}
	if duration > 0 && target > duration {
		return duration
	}
	return target
}
