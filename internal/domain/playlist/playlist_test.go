package playlist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/tunequeue/internal/domain/track"
)

func TestPlaylist_RecordIDs(t *testing.T) {
	tests := []struct {
		name     string
		records  []track.Record
		expected []string
	}{
		{
			name:     "empty playlist",
			records:  []track.Record{},
			expected: []string{},
		},
		{
			name:     "single record",
			records:  []track.Record{{ID: "song-1"}},
			expected: []string{"song-1"},
		},
		{
			name:     "multiple records keep order",
			records:  []track.Record{{ID: "song-3"}, {ID: "song-1"}, {ID: "song-2"}},
			expected: []string{"song-3", "song-1", "song-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Playlist{ID: "playlist-1", Records: tt.records}
			assert.Equal(t, tt.expected, p.RecordIDs())
		})
	}
}

func TestPlaylist_Playable(t *testing.T) {
	p := &Playlist{Records: []track.Record{
		{ID: "a", URL: "https://cdn/a.mp3"},
		{ID: "b"},
		{ID: "c", Sources: []track.Variant{{Link: "https://cdn/c.mp3"}}},
	}}

	playable := p.Playable()
	ids := make([]string, len(playable))
	for i, r := range playable {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestPlaylist_TotalDuration(t *testing.T) {
	tests := []struct {
		name     string
		records  []track.Record
		expected time.Duration
	}{
		{name: "empty playlist", records: nil, expected: 0},
		{
			name:     "unknown durations count as zero",
			records:  []track.Record{{ID: "a", Duration: 3 * time.Minute}, {ID: "b"}},
			expected: 3 * time.Minute,
		},
		{
			name: "sum of durations",
			records: []track.Record{
				{ID: "a", Duration: 3 * time.Minute},
				{ID: "b", Duration: 4*time.Minute + 30*time.Second},
			},
			expected: 7*time.Minute + 30*time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Playlist{Records: tt.records}
			assert.Equal(t, tt.expected, p.TotalDuration())
		})
	}
}
