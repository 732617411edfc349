package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunequeue/internal/app/engine"
	"github.com/osa030/tunequeue/internal/app/engine/enginetest"
	"github.com/osa030/tunequeue/internal/domain/track"
)

func song(id string) track.Record {
	return track.Record{ID: id, Name: "Song " + id, MediaURL: "https://cdn/" + id + ".mp3"}
}

func newEngine(d time.Duration) (*engine.Engine, *enginetest.Backend) {
	b := enginetest.NewBackend(d)
	return engine.New(b, engine.Mode{PlaysInSilentMode: true, DuckOthers: true}), b
}

func TestEngine_LoadPlaysImmediately(t *testing.T) {
	ctx := context.Background()
	e, b := newEngine(3 * time.Minute)

	assert.False(t, e.Loaded())
	st, err := e.Load(ctx, song("a"))
	require.NoError(t, err)

	assert.True(t, e.Loaded())
	assert.True(t, st.IsLoaded)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, 3*time.Minute, st.Duration)
	assert.Equal(t, []string{"https://cdn/a.mp3"}, b.Creates())
	require.Len(t, b.Modes(), 1)
	assert.True(t, b.Modes()[0].PlaysInSilentMode)
}

func TestEngine_LoadReplacesPreviousResource(t *testing.T) {
	ctx := context.Background()
	e, b := newEngine(time.Minute)

	_, err := e.Load(ctx, song("a"))
	require.NoError(t, err)
	first := b.Last()

	_, err = e.Load(ctx, song("b"))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Unloads())
	assert.False(t, first.Playing())
	assert.True(t, b.Last().Playing())
	assert.Len(t, b.Resources(), 2)
}

func TestEngine_LoadWithoutSource(t *testing.T) {
	ctx := context.Background()
	e, b := newEngine(time.Minute)

	_, err := e.Load(ctx, song("a"))
	require.NoError(t, err)

	_, err = e.Load(ctx, track.Record{ID: "silent"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, track.ErrNoSource))
	assert.False(t, e.Loaded())
	assert.Equal(t, 1, b.Resources()[0].Unloads())
	assert.Len(t, b.Creates(), 1)
}

func TestEngine_CreateFailure(t *testing.T) {
	ctx := context.Background()
	e, b := newEngine(time.Minute)
	b.CreateErr = errors.New("decode failed")

	_, err := e.Load(ctx, song("a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrResource))
	assert.False(t, e.Loaded())

	st, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.Status{}, st)
}

func TestEngine_TeardownFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	e, b := newEngine(time.Minute)

	_, err := e.Load(ctx, song("a"))
	require.NoError(t, err)
	b.Last().FailNext(errors.New("status broken"))

	_, err = e.Load(ctx, song("b"))
	require.NoError(t, err)
	assert.True(t, e.Loaded())
	assert.Equal(t, "https://cdn/b.mp3", b.Last().URL)
	assert.Equal(t, 1, b.Resources()[0].Unloads())
}

func TestEngine_GuardAbandonsStaleLoad(t *testing.T) {
	ctx := context.Background()
	e, b := newEngine(time.Minute)

	_, err := e.Load(ctx, song("a"))
	require.NoError(t, err)

	_, err = e.Load(ctx, song("b"), engine.WithGuard(func() bool { return false }))
	require.ErrorIs(t, err, engine.ErrSuperseded)
	assert.True(t, e.Loaded())
	assert.Equal(t, 0, b.Last().Unloads())
	assert.Len(t, b.Creates(), 1)

	_, err = e.Load(ctx, song("b"), engine.WithGuard(func() bool { return true }))
	require.NoError(t, err)
	assert.Len(t, b.Creates(), 2)
}

func TestEngine_GuardAbandonsStaleSeek(t *testing.T) {
	ctx := context.Background()
	e, b := newEngine(time.Minute)

	_, err := e.Load(ctx, song("a"))
	require.NoError(t, err)
	res := b.Last()

	err = e.Seek(ctx, 30*time.Second, engine.WithGuard(func() bool { return false }))
	require.ErrorIs(t, err, engine.ErrSuperseded)
	assert.False(t, errors.Is(err, engine.ErrResource))
	assert.Equal(t, time.Duration(0), res.Position())

	require.NoError(t, e.Seek(ctx, 30*time.Second, engine.WithGuard(func() bool { return true })))
	assert.Equal(t, 30*time.Second, res.Position())
}

func TestEngine_ControlsWithoutResourceAreNoops(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(time.Minute)

	assert.NoError(t, e.Play(ctx))
	assert.NoError(t, e.Pause(ctx))
	assert.NoError(t, e.Stop(ctx))
	assert.NoError(t, e.Seek(ctx, time.Second))
	assert.NoError(t, e.Unload(ctx))
}

func TestEngine_Controls(t *testing.T) {
	ctx := context.Background()
	e, b := newEngine(time.Minute)

	_, err := e.Load(ctx, song("a"))
	require.NoError(t, err)
	res := b.Last()

	require.NoError(t, e.Pause(ctx))
	assert.False(t, res.Playing())

	require.NoError(t, e.Play(ctx))
	assert.True(t, res.Playing())

	require.NoError(t, e.Seek(ctx, 1500*time.Millisecond))
	assert.Equal(t, 1500*time.Millisecond, res.Position())

	require.NoError(t, e.Stop(ctx))
	assert.False(t, res.Playing())
	assert.Equal(t, time.Duration(0), res.Position())
	assert.True(t, e.Loaded())

	require.NoError(t, e.Unload(ctx))
	assert.False(t, e.Loaded())
	assert.Equal(t, 1, res.Unloads())
}

func TestEngine_ControlFailureIsResourceError(t *testing.T) {
	ctx := context.Background()
	e, b := newEngine(time.Minute)

	_, err := e.Load(ctx, song("a"))
	require.NoError(t, err)
	b.Last().FailNext(errors.New("device lost"))

	err = e.Pause(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrResource))
}

func TestEngine_AcquireHonoursContext(t *testing.T) {
	e, b := newEngine(time.Minute)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	b.BeforeCreate = func(ctx context.Context, _ string) error {
		close(entered)
		<-unblock
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.Load(context.Background(), song("a"))
		done <- err
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Status(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(unblock)
	require.NoError(t, <-done)
	assert.True(t, e.Loaded())
}
