// Package catalog turns loosely shaped catalog API payloads into records.
package catalog

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunequeue/internal/domain/track"
)

// ErrInvalid is returned for payloads that do not describe a song.
var ErrInvalid = errors.New("invalid catalog record")

type rawVariant struct {
	Quality string `mapstructure:"quality"`
	URL     string `mapstructure:"url"`
	Link    string `mapstructure:"link"`
}

type rawRecord struct {
	ID             string       `mapstructure:"id"`
	Name           string       `mapstructure:"name"`
	Title          string       `mapstructure:"title"`
	Album          any          `mapstructure:"album"`
	Artists        any          `mapstructure:"artists"`
	PrimaryArtists any          `mapstructure:"primaryArtists"`
	Duration       float64      `mapstructure:"duration"` // seconds
	Image          []rawVariant `mapstructure:"image"`
	DownloadURL    []rawVariant `mapstructure:"downloadUrl"`
	MediaURL       string       `mapstructure:"media_url"`
	MediaURLCamel  string       `mapstructure:"mediaUrl"`
	URL            string       `mapstructure:"url"`
	LegacyDownload string       `mapstructure:"download_url"`
}

// stringToVariants accepts a bare url where a variant list is expected.
func stringToVariants(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf([]rawVariant{}) {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	if s == "" {
		return []rawVariant{}, nil
	}
	return []rawVariant{{URL: s}}, nil
}

// Decode converts one catalog object into a record. Numbers and strings are
// accepted interchangeably.
func Decode(obj map[string]any) (track.Record, error) {
	var raw rawRecord
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       stringToVariants,
		WeaklyTypedInput: true,
		Result:           &raw,
	})
	if err != nil {
		return track.Record{}, errors.Wrap(err, "failed to create decoder")
	}
	if err := dec.Decode(obj); err != nil {
		return track.Record{}, errors.Mark(errors.Wrap(err, "failed to decode record"), ErrInvalid)
	}

	raw.ID = strings.TrimSpace(raw.ID)
	if raw.ID == "" {
		return track.Record{}, errors.Wrap(ErrInvalid, "record has no id")
	}

	name := raw.Name
	if name == "" {
		name = raw.Title
	}

	mediaURL := raw.MediaURL
	if mediaURL == "" {
		mediaURL = raw.MediaURLCamel
	}

	artists := artistNames(raw.Artists)
	if len(artists) == 0 {
		artists = artistNames(raw.PrimaryArtists)
	}

	return track.Record{
		ID:          raw.ID,
		Name:        name,
		Album:       albumName(raw.Album),
		Artists:     artists,
		Duration:    track.Seconds(raw.Duration),
		Images:      variants(raw.Image),
		Sources:     variants(raw.DownloadURL),
		MediaURL:    mediaURL,
		URL:         raw.URL,
		DownloadURL: raw.LegacyDownload,
	}, nil
}

// DecodeJSON decodes a payload holding one record or a list of them, bare
// or wrapped in the usual {"data": ...} and {"results": [...]} envelopes.
// Entries that are not records are skipped.
func DecodeJSON(data []byte) ([]track.Record, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to parse catalog payload"), ErrInvalid)
	}

	items, single := unwrap(payload)
	if single != nil {
		rec, err := Decode(single)
		if err != nil {
			return nil, err
		}
		return []track.Record{rec}, nil
	}
	if items == nil {
		return nil, errors.Wrap(ErrInvalid, "payload shape not recognized")
	}

	out := make([]track.Record, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rec, err := Decode(obj)
		if err != nil {
			zlog.Debug().Err(err).Msgf("catalog: skipping entry %d", i)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func unwrap(payload any) ([]any, map[string]any) {
	switch t := payload.(type) {
	case []any:
		return t, nil
	case map[string]any:
		if data, ok := t["data"]; ok {
			switch d := data.(type) {
			case []any:
				return d, nil
			case map[string]any:
				if res, ok := d["results"].([]any); ok {
					return res, nil
				}
				if songs, ok := d["songs"].([]any); ok {
					return songs, nil
				}
				return nil, d
			}
		}
		if res, ok := t["results"].([]any); ok {
			return res, nil
		}
		return nil, t
	}
	return nil, nil
}

func variants(in []rawVariant) []track.Variant {
	out := make([]track.Variant, 0, len(in))
	for _, v := range in {
		if v.URL == "" && v.Link == "" {
			continue
		}
		out = append(out, track.Variant{Quality: v.Quality, URL: v.URL, Link: v.Link})
	}
	return out
}

// artistNames understands {primary:[{name}], all:[...]}, [{name}], []string
// and comma separated strings.
func artistNames(v any) []string {
	switch t := v.(type) {
	case string:
		return splitNames(t)
	case []any:
		var names []string
		for _, it := range t {
			switch a := it.(type) {
			case string:
				names = append(names, splitNames(a)...)
			case map[string]any:
				if n, ok := a["name"].(string); ok && strings.TrimSpace(n) != "" {
					names = append(names, strings.TrimSpace(n))
				}
			}
		}
		return names
	case map[string]any:
		if names := artistNames(t["primary"]); len(names) > 0 {
			return names
		}
		return artistNames(t["all"])
	}
	return nil
}

func splitNames(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

func albumName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if n, ok := t["name"].(string); ok {
			return n
		}
	}
	return ""
}
