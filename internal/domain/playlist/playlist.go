// Package playlist provides the Playlist domain entity: a named, ordered set
// of records fetched from a catalog and handed to the queue in one go.
package playlist

import (
	"time"

	"github.com/osa030/tunequeue/internal/domain/track"
)

// Playlist represents a catalog playlist.
type Playlist struct {
	ID          string         // Catalog playlist ID
	Name        string         // Playlist name
	Description string         // Playlist description
	URL         string         // Public URL
	Records     []track.Record // Songs in playlist order
}

// RecordIDs returns all record IDs in the playlist.
func (p *Playlist) RecordIDs() []string {
	ids := make([]string, len(p.Records))
	for i, r := range p.Records {
		ids[i] = r.ID
	}
	return ids
}

// Playable returns the records that resolve to an audio source, in order.
// Catalogs routinely return songs without a stream for the current market.
func (p *Playlist) Playable() []track.Record {
	out := make([]track.Record, 0, len(p.Records))
	for _, r := range p.Records {
		if _, err := r.SourceURL(); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// TotalDuration returns the summed duration of all records.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, r := range p.Records {
		total += r.Duration
	}
	return total
}
