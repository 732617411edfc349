// Package engine owns the single live audio resource and serializes every
// operation on it.
package engine

import (
	"context"
	"time"
)

// Status is a point-in-time view of a resource.
type Status struct {
	IsLoaded  bool
	IsPlaying bool
	DidFinish bool // Reached the end of the stream
	Position  time.Duration
	Duration  time.Duration // 0 until known
}

// Mode describes how the platform should treat our audio session.
type Mode struct {
	PlaysInSilentMode       bool
	StaysActiveInBackground bool
	DuckOthers              bool
}

// Resource is one decoded, playable audio stream. Positions are expressed in
// milliseconds, the native unit of the backends.
type Resource interface {
	Status(ctx context.Context) (Status, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	// Stop pauses and rewinds to the start.
	Stop(ctx context.Context) error
	SetPosition(ctx context.Context, millis int64) error
	// Unload releases the stream. The resource is unusable afterwards.
	Unload(ctx context.Context) error
}

// Backend creates resources.
type Backend interface {
	Configure(ctx context.Context, mode Mode) error
	Create(ctx context.Context, url string, autoplay bool) (Resource, error)
}
