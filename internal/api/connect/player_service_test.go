package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunequeue/internal/app/engine"
	"github.com/osa030/tunequeue/internal/app/engine/enginetest"
	"github.com/osa030/tunequeue/internal/app/filter"
	"github.com/osa030/tunequeue/internal/app/playback"
	"github.com/osa030/tunequeue/internal/app/queue"
	"github.com/osa030/tunequeue/internal/domain/playlist"
	"github.com/osa030/tunequeue/internal/domain/track"
	"github.com/osa030/tunequeue/internal/infra/kv"
)

const testToken = "secret"

type fakeSpotify struct {
	tracks    map[string]track.Record
	playlists map[string]playlist.Playlist
}

func (f *fakeSpotify) GetTrack(_ context.Context, id string) (track.Record, error) {
	if r, ok := f.tracks[id]; ok {
		return r, nil
	}
	return track.Record{}, errors.Newf("track %q not found", id)
}

func (f *fakeSpotify) GetPlaylist(_ context.Context, url string) (playlist.Playlist, error) {
	if p, ok := f.playlists[url]; ok {
		return p, nil
	}
	return playlist.Playlist{}, errors.Newf("playlist %q not found", url)
}

type server struct {
	coord   *playback.Coordinator
	backend *enginetest.Backend
	url     string
}

func newServer(t *testing.T, spotify SpotifyCatalog) *server {
	return newFilteredServer(t, spotify, nil)
}

func newFilteredServer(t *testing.T, spotify SpotifyCatalog, filters *filter.Chain) *server {
	t.Helper()
	store := queue.New(kv.NewMemory(), queue.Config{})
	backend := enginetest.NewBackend(3 * time.Minute)
	coord := playback.New(store, engine.New(backend, engine.Mode{}), playback.Config{
		Monitor: playback.PollMonitor{Interval: time.Hour},
	})

	path, handler := NewHandler(NewPlayerService(coord, spotify, filters),
		connect.WithInterceptors(NewTokenInterceptor(testToken)))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		_ = coord.Close(context.Background())
		_ = store.Close()
	})
	return &server{coord: coord, backend: backend, url: srv.URL}
}

func (s *server) client(opts ...connect.ClientOption) *Client {
	return NewClient(http.DefaultClient, s.url, opts...)
}

func song(id string) track.Record {
	return fullRecord(id)
}

func TestPlayerService_RejectsMissingToken(t *testing.T) {
	ctx := context.Background()
	s := newServer(t, nil)

	tests := []struct {
		name string
		opts []connect.ClientOption
	}{
		{name: "no token"},
		{name: "wrong token", opts: []connect.ClientOption{WithToken("nope")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.client(tt.opts...).State(ctx)
			require.Error(t, err)
			assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

			err = s.client(tt.opts...).Watch(ctx, func(playback.Snapshot) bool { return true })
			require.Error(t, err)
			assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
		})
	}
}

func TestPlayerService_QueueAndPlayback(t *testing.T) {
	ctx := context.Background()
	s := newServer(t, nil)
	c := s.client(WithToken(testToken))

	added, err := c.Add(ctx, song("a"))
	require.NoError(t, err)
	assert.True(t, added)
	added, err = c.Add(ctx, song("a"))
	require.NoError(t, err)
	assert.False(t, added)

	snap, err := c.SetSong(ctx, song("b"))
	require.NoError(t, err)
	assert.Equal(t, playback.StatePlaying, snap.State)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "b", snap.Current.ID)
	assert.Equal(t, 1, snap.CurrentIndex)
	assert.Len(t, snap.Queue, 2)

	snap, err = c.Toggle(ctx)
	require.NoError(t, err)
	assert.Equal(t, playback.StatePaused, snap.State)

	snap, err = c.Seek(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, snap.Position)

	snap, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", snap.Current.ID)

	snap, err = c.Previous(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", snap.Current.ID)

	snap, err = c.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), snap.Position)
	assert.False(t, snap.IsPlaying)

	snap, err = c.Remove(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, snap.Queue, 1)

	snap, err = c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, playback.StateIdle, snap.State)
	assert.Empty(t, snap.Queue)
	assert.Nil(t, snap.Current)
}

func TestPlayerService_InvalidRecord(t *testing.T) {
	s := newServer(t, nil)
	c := s.client(WithToken(testToken))

	_, err := c.Add(context.Background(), track.Record{Name: "no id"})
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestPlayerService_Watch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s := newServer(t, nil)
	c := s.client(WithToken(testToken))

	first := make(chan struct{})
	got := make(chan playback.Snapshot, 16)
	done := make(chan error, 1)
	go func() {
		n := 0
		done <- c.Watch(ctx, func(snap playback.Snapshot) bool {
			if n == 0 {
				close(first)
			}
			n++
			got <- snap
			return snap.State != playback.StatePlaying
		})
	}()

	select {
	case <-first:
	case <-ctx.Done():
		t.Fatal("no initial snapshot")
	}
	initial := <-got
	assert.Equal(t, playback.StateIdle, initial.State)

	_, err := c.SetSong(ctx, song("a"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("watch did not observe playback")
	}

	var last playback.Snapshot
	for len(got) > 0 {
		last = <-got
	}
	assert.Equal(t, playback.StatePlaying, last.State)
	require.NotNil(t, last.Current)
	assert.Equal(t, "a", last.Current.ID)
}

func TestPlayerService_Spotify(t *testing.T) {
	ctx := context.Background()
	noPreview := track.Record{ID: "spotify:track:3", Name: "No preview"}
	sp := &fakeSpotify{
		tracks: map[string]track.Record{"1": song("spotify:track:1")},
		playlists: map[string]playlist.Playlist{
			"https://open.spotify.com/playlist/p": {
				Name:    "mix",
				Records: []track.Record{song("spotify:track:1"), song("spotify:track:2"), noPreview},
			},
		},
	}
	s := newServer(t, sp)
	c := s.client(WithToken(testToken))

	rec, err := c.AddSpotifyTrack(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "spotify:track:1", rec.ID)

	// Track 1 is already queued.
	n, err := c.AddSpotifyPlaylist(ctx, "https://open.spotify.com/playlist/p")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := c.State(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Queue, 2)
	assert.Equal(t, "spotify:track:2", snap.Queue[1].ID)

	_, err = c.AddSpotifyTrack(ctx, "missing")
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestPlayerService_SpotifyDisabled(t *testing.T) {
	s := newServer(t, nil)
	c := s.client(WithToken(testToken))

	_, err := c.AddSpotifyTrack(context.Background(), "1")
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	_, err = c.AddSpotifyPlaylist(context.Background(), "https://open.spotify.com/playlist/p")
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))
}

func TestPlayerService_Filters(t *testing.T) {
	ctx := context.Background()
	limit := filter.NewDurationLimitFilter()
	require.NoError(t, limit.Configure(map[string]any{"max_minutes": 4}))

	long := song("long")
	long.Duration = 10 * time.Minute
	sp := &fakeSpotify{
		playlists: map[string]playlist.Playlist{
			"https://open.spotify.com/playlist/p": {
				Name:    "mix",
				Records: []track.Record{song("short"), long},
			},
		},
	}
	s := newFilteredServer(t, sp, filter.NewChain(filter.NewPlayableFilter(), limit))
	c := s.client(WithToken(testToken))

	_, err := c.Add(ctx, track.Record{ID: "silent", Name: "No source"})
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	_, err = c.SetSong(ctx, long)
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	n, err := c.AddSpotifyPlaylist(ctx, "https://open.spotify.com/playlist/p")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap, err := c.State(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, "short", snap.Queue[0].ID)
}
