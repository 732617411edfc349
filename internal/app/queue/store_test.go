package queue

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunequeue/internal/domain/track"
	"github.com/osa030/tunequeue/internal/infra/kv"
)

// failingKV fails every call.
type failingKV struct{}

func (failingKV) Get(context.Context, ...string) (map[string]string, error) {
	return nil, errors.New("disk on fire")
}
func (failingKV) Set(context.Context, map[string]string) error { return errors.New("disk on fire") }
func (failingKV) Close() error                                 { return nil }

func rec(id string) track.Record {
	return track.Record{ID: id, Name: "Song " + id, URL: "https://cdn/" + id + ".mp3"}
}

func ids(records []track.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func newStore(t *testing.T, ids ...string) (*Store, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	s := New(mem, Config{})
	for _, id := range ids {
		require.True(t, s.Add(rec(id)))
	}
	return s, mem
}

func TestStore_AddDeduplicates(t *testing.T) {
	s, _ := newStore(t, "a", "b")

	assert.False(t, s.Add(track.Record{ID: "a", Name: "different name"}))
	assert.True(t, s.Add(rec("c")))
	assert.False(t, s.Add(rec("b")))

	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Tracks()))
	assert.Equal(t, "Song a", s.Tracks()[0].Name, "existing entry must not be replaced")
	assert.Equal(t, -1, s.CurrentIndex())
}

func TestStore_Remove(t *testing.T) {
	tests := []struct {
		name        string
		queue       []string
		current     int
		remove      string
		wantQueue   []string
		wantRemoval Removal
	}{
		{
			name:        "before current shifts index",
			queue:       []string{"a", "b", "c"},
			current:     2,
			remove:      "a",
			wantQueue:   []string{"b", "c"},
			wantRemoval: Removal{Removed: true, Index: 1},
		},
		{
			name:        "after current keeps index",
			queue:       []string{"a", "b", "c"},
			current:     0,
			remove:      "c",
			wantQueue:   []string{"a", "b"},
			wantRemoval: Removal{Removed: true, Index: 0},
		},
		{
			name:        "current in middle points at successor",
			queue:       []string{"a", "b", "c"},
			current:     1,
			remove:      "b",
			wantQueue:   []string{"a", "c"},
			wantRemoval: Removal{Removed: true, WasCurrent: true, Index: 1},
		},
		{
			name:        "current at end clamps",
			queue:       []string{"a", "b", "c"},
			current:     2,
			remove:      "c",
			wantQueue:   []string{"a", "b"},
			wantRemoval: Removal{Removed: true, WasCurrent: true, Index: 1},
		},
		{
			name:        "only entry empties queue",
			queue:       []string{"a"},
			current:     0,
			remove:      "a",
			wantQueue:   []string{},
			wantRemoval: Removal{Removed: true, WasCurrent: true, Index: -1},
		},
		{
			name:        "no current stays none",
			queue:       []string{"a", "b"},
			current:     -1,
			remove:      "a",
			wantQueue:   []string{"b"},
			wantRemoval: Removal{Removed: true, Index: -1},
		},
		{
			name:        "absent id is a no-op",
			queue:       []string{"a", "b"},
			current:     1,
			remove:      "zzz",
			wantQueue:   []string{"a", "b"},
			wantRemoval: Removal{Index: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newStore(t, tt.queue...)
			require.True(t, s.Select(tt.current))

			got := s.Remove(tt.remove)

			assert.Equal(t, tt.wantRemoval, got)
			assert.Equal(t, tt.wantQueue, ids(s.Tracks()))
			assert.Equal(t, tt.wantRemoval.Index, s.CurrentIndex())
		})
	}
}

func TestStore_SelectBounds(t *testing.T) {
	s, _ := newStore(t, "a", "b")

	assert.True(t, s.Select(1))
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.ID)

	assert.False(t, s.Select(2))
	assert.False(t, s.Select(-2))
	assert.Equal(t, 1, s.CurrentIndex())

	assert.True(t, s.Select(-1))
	_, ok = s.Current()
	assert.False(t, ok)
}

func TestStore_Focus(t *testing.T) {
	s, _ := newStore(t, "a", "b")

	assert.Equal(t, 1, s.Focus(rec("b")))
	assert.Equal(t, 1, s.CurrentIndex())

	assert.Equal(t, 2, s.Focus(rec("c")))
	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Tracks()))
	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "c", cur.ID)
}

func TestStore_ClearAndLookups(t *testing.T) {
	s, _ := newStore(t, "a", "b", "c")
	require.True(t, s.Select(2))

	assert.Equal(t, 1, s.IndexOf("b"))
	assert.Equal(t, -1, s.IndexOf("nope"))
	r, ok := s.At(0)
	require.True(t, ok)
	assert.Equal(t, "a", r.ID)
	_, ok = s.At(3)
	assert.False(t, ok)

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, -1, s.CurrentIndex())
}

func TestStore_PersistAndHydrate(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t, "a", "b", "c")
	require.True(t, s.Select(1))
	require.NoError(t, s.Flush(ctx))

	values, err := mem.Get(ctx, KeyQueue, KeyCurrentIndex)
	require.NoError(t, err)
	assert.Equal(t, "1", values[KeyCurrentIndex])

	restored := New(mem, Config{})
	restored.Hydrate(ctx)

	assert.Equal(t, []string{"a", "b", "c"}, ids(restored.Tracks()))
	cur, ok := restored.Current()
	require.True(t, ok)
	assert.Equal(t, "b", cur.ID)
	assert.Equal(t, "https://cdn/b.mp3", cur.URL)
}

func TestStore_PersistsDurationInSeconds(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	s := New(mem, Config{})
	song := rec("a")
	song.Duration = 215 * time.Second
	require.True(t, s.Add(song))
	require.NoError(t, s.Flush(ctx))

	values, err := mem.Get(ctx, KeyQueue)
	require.NoError(t, err)
	assert.Contains(t, values[KeyQueue], `"duration":215`)

	restored := New(mem, Config{})
	restored.Hydrate(ctx)
	got, ok := restored.At(restored.IndexOf("a"))
	require.True(t, ok)
	assert.Equal(t, 215*time.Second, got.Duration)
}

func TestStore_Hydrate(t *testing.T) {
	tests := []struct {
		name        string
		values      map[string]string
		wantQueue   []string
		wantCurrent int
	}{
		{
			name:        "nothing persisted",
			values:      map[string]string{},
			wantQueue:   []string{},
			wantCurrent: -1,
		},
		{
			name:        "queue with index",
			values:      map[string]string{KeyQueue: `[{"id":"A"},{"id":"B"}]`, KeyCurrentIndex: "1"},
			wantQueue:   []string{"A", "B"},
			wantCurrent: 1,
		},
		{
			name:        "missing index defaults to none",
			values:      map[string]string{KeyQueue: `[{"id":"A"}]`},
			wantQueue:   []string{"A"},
			wantCurrent: -1,
		},
		{
			name:        "unparseable index defaults to none",
			values:      map[string]string{KeyQueue: `[{"id":"A"}]`, KeyCurrentIndex: "one"},
			wantQueue:   []string{"A"},
			wantCurrent: -1,
		},
		{
			name:        "out of range index defaults to none",
			values:      map[string]string{KeyQueue: `[{"id":"A"}]`, KeyCurrentIndex: "5"},
			wantQueue:   []string{"A"},
			wantCurrent: -1,
		},
		{
			name:        "malformed queue leaves store empty",
			values:      map[string]string{KeyQueue: `[{"id":`, KeyCurrentIndex: "0"},
			wantQueue:   []string{},
			wantCurrent: -1,
		},
		{
			name:        "duplicates are dropped",
			values:      map[string]string{KeyQueue: `[{"id":"A"},{"id":"B"},{"id":"A"}]`, KeyCurrentIndex: "1"},
			wantQueue:   []string{"A", "B"},
			wantCurrent: 1,
		},
		{
			name:        "index follows its song past dropped duplicates",
			values:      map[string]string{KeyQueue: `[{"id":"A"},{"id":"A"},{"id":"B"}]`, KeyCurrentIndex: "2"},
			wantQueue:   []string{"A", "B"},
			wantCurrent: 1,
		},
		{
			name:        "index on a duplicate points at the kept copy",
			values:      map[string]string{KeyQueue: `[{"id":"A"},{"id":"B"},{"id":"A"}]`, KeyCurrentIndex: "2"},
			wantQueue:   []string{"A", "B"},
			wantCurrent: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := kv.NewMemory()
			require.NoError(t, mem.Set(ctx, tt.values))

			s := New(mem, Config{})
			s.Hydrate(ctx)

			assert.Equal(t, tt.wantQueue, ids(s.Tracks()))
			assert.Equal(t, tt.wantCurrent, s.CurrentIndex())
		})
	}
}

func TestStore_PersistenceFailureKeepsQueueUsable(t *testing.T) {
	ctx := context.Background()
	// Keep the background writer out of the way so Flush performs the write.
	s := New(failingKV{}, Config{PersistDebounce: time.Hour})

	s.Hydrate(ctx)
	assert.Equal(t, 0, s.Len())

	assert.True(t, s.Add(rec("a")))
	assert.True(t, s.Select(0))

	err := s.Flush(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersistence))

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, "a", cur.ID)
}

func TestStore_FlushWritesLatestState(t *testing.T) {
	ctx := context.Background()
	s, mem := newStore(t, "a")
	s.Add(rec("b"))
	s.Remove("a")
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Close())

	values, err := mem.Get(ctx, KeyQueue)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"b","name":"Song b","url":"https://cdn/b.mp3"}]`, values[KeyQueue])
}
