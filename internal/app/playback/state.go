// Package playback coordinates the play queue with the audio engine and
// publishes a consolidated view of both.
package playback

import (
	"slices"
	"time"

	"github.com/osa030/tunequeue/internal/domain/track"
)

// State represents the playback state.
type State int

const (
	StateIdle    State = iota // No resource (nothing selected, stopped, or load failed)
	StateLoading              // Tearing down the old resource and creating the new one
	StatePlaying              // Resource loaded and playing
	StatePaused               // Resource loaded and paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// ParseState is the inverse of State.String. Unknown names map to
// StateIdle.
func ParseState(s string) State {
	for _, st := range []State{StateLoading, StatePlaying, StatePaused} {
		if st.String() == s {
			return st
		}
	}
	return StateIdle
}

// Snapshot is the consolidated view published to observers. Values are
// never mutated after publication.
type Snapshot struct {
	State        State
	Current      *track.Record // nil when no song is selected
	CurrentIndex int           // -1 when none
	Queue        []track.Record
	IsPlaying    bool
	IsLoading    bool
	Position     time.Duration
	Duration     time.Duration
	LastError    string // Most recent failure, cleared by a successful load
}

func initialSnapshot() Snapshot {
	return Snapshot{State: StateIdle, CurrentIndex: -1, Queue: []track.Record{}}
}

// IndexOf returns the queue position of id, or -1.
func (s Snapshot) IndexOf(id string) int {
	return slices.IndexFunc(s.Queue, func(r track.Record) bool { return r.ID == id })
}
