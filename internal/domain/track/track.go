// Package track provides the Record domain entity: the normalized metadata of
// one playable song as handed over by a catalog.
package track

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tunequeue/internal/domain/text"
)

// ErrNoSource is returned when a record carries no usable audio location.
var ErrNoSource = errors.New("no audio source url")

const unknownArtist = "Unknown Artist"

// Variant is one rendition of an image or audio source. Catalogs are not
// consistent about the key that holds the address, so both are kept.
type Variant struct {
	Quality string `json:"quality,omitempty"`
	URL     string `json:"url,omitempty"`
	Link    string `json:"link,omitempty"`
}

// Location returns the address of the variant.
func (v Variant) Location() string {
	if v.Link != "" {
		return v.Link
	}
	return v.URL
}

// Record represents a song. ID is the only identity: two records with the
// same ID are the same song whatever the other fields say.
type Record struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Album    string        `json:"album,omitempty"`
	Artists  []string      `json:"artists,omitempty"`
	Duration time.Duration `json:"-"` // seconds in JSON

	Images  []Variant `json:"image,omitempty"`       // lowest to highest resolution
	Sources []Variant `json:"downloadUrl,omitempty"` // lowest to highest quality

	// Legacy single-location fields some catalog endpoints still return.
	MediaURL    string `json:"media_url,omitempty"`
	URL         string `json:"url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Seconds converts a catalog duration in seconds.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

type recordJSON Record

type recordWire struct {
	recordJSON
	Duration float64 `json:"duration,omitempty"`
}

// MarshalJSON writes the duration in seconds, the way catalogs send it.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordWire{recordJSON: recordJSON(r), Duration: r.Duration.Seconds()})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Record(w.recordJSON)
	r.Duration = Seconds(w.Duration)
	return nil
}

// Same reports whether both records denote the same song.
func (r *Record) Same(other *Record) bool {
	if r == nil || other == nil {
		return false
	}
	return r.ID == other.ID
}

// SourceURL resolves the audio location to play, preferring the best source
// variant, then the first one, then the legacy fields.
func (r *Record) SourceURL() (string, error) {
	candidates := make([]string, 0, 5)
	if n := len(r.Sources); n > 0 {
		candidates = append(candidates, r.Sources[n-1].Location(), r.Sources[0].Location())
	}
	candidates = append(candidates, r.MediaURL, r.URL, r.DownloadURL)

	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c, nil
		}
	}
	return "", errors.Wrapf(ErrNoSource, "track %q", r.ID)
}

// ImageURL returns the highest resolution artwork, or "" when there is none.
func (r *Record) ImageURL() string {
	for i := len(r.Images) - 1; i >= 0; i-- {
		if loc := r.Images[i].Location(); loc != "" {
			return loc
		}
	}
	return ""
}

// DisplayName returns the song name with catalog escapes decoded.
func (r *Record) DisplayName() string {
	return text.Decode(r.Name)
}

// ArtistLine joins the artist names for display.
func (r *Record) ArtistLine() string {
	names := make([]string, 0, len(r.Artists))
	for _, a := range r.Artists {
		if a = strings.TrimSpace(a); a != "" {
			names = append(names, a)
		}
	}
	if len(names) == 0 {
		return unknownArtist
	}
	return text.Decode(strings.Join(names, ", "))
}
