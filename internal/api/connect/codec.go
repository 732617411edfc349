package connect

import (
	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/tunequeue/internal/app/playback"
	"github.com/osa030/tunequeue/internal/domain/track"
	"github.com/osa030/tunequeue/internal/infra/catalog"
)

// Records travel in the catalog shape (durations in seconds) so that any
// client able to talk to the catalog can talk to us.

func recordValue(r track.Record) map[string]any {
	m := map[string]any{
		"id":   r.ID,
		"name": r.Name,
	}
	if r.Album != "" {
		m["album"] = r.Album
	}
	if len(r.Artists) > 0 {
		artists := make([]any, len(r.Artists))
		for i, a := range r.Artists {
			artists[i] = a
		}
		m["artists"] = artists
	}
	if r.Duration > 0 {
		m["duration"] = r.Duration.Seconds()
	}
	if len(r.Images) > 0 {
		m["image"] = variantsValue(r.Images)
	}
	if len(r.Sources) > 0 {
		m["downloadUrl"] = variantsValue(r.Sources)
	}
	for k, v := range map[string]string{"media_url": r.MediaURL, "url": r.URL, "download_url": r.DownloadURL} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

func variantsValue(vs []track.Variant) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		m := map[string]any{}
		if v.Quality != "" {
			m["quality"] = v.Quality
		}
		if v.URL != "" {
			m["url"] = v.URL
		}
		if v.Link != "" {
			m["link"] = v.Link
		}
		out[i] = m
	}
	return out
}

// RecordToStruct encodes a record for the wire.
func RecordToStruct(r track.Record) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(recordValue(r))
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode record")
	}
	return s, nil
}

// StructToRecord decodes a wire record.
func StructToRecord(s *structpb.Struct) (track.Record, error) {
	if s == nil {
		return track.Record{}, errors.Wrap(catalog.ErrInvalid, "empty record")
	}
	return catalog.Decode(s.AsMap())
}

type wireState struct {
	State        string           `mapstructure:"state"`
	Current      map[string]any   `mapstructure:"current"`
	CurrentIndex int              `mapstructure:"currentIndex"`
	Queue        []map[string]any `mapstructure:"queue"`
	IsPlaying    bool             `mapstructure:"isPlaying"`
	IsLoading    bool             `mapstructure:"isLoading"`
	Position     float64          `mapstructure:"position"`
	Duration     float64          `mapstructure:"duration"`
	LastError    string           `mapstructure:"lastError"`
}

// SnapshotToStruct encodes a playback snapshot for the wire. Times are in
// seconds.
func SnapshotToStruct(s playback.Snapshot) (*structpb.Struct, error) {
	q := make([]any, len(s.Queue))
	for i, r := range s.Queue {
		q[i] = recordValue(r)
	}
	m := map[string]any{
		"state":        s.State.String(),
		"currentIndex": s.CurrentIndex,
		"queue":        q,
		"isPlaying":    s.IsPlaying,
		"isLoading":    s.IsLoading,
		"position":     s.Position.Seconds(),
		"duration":     s.Duration.Seconds(),
	}
	if s.Current != nil {
		m["current"] = recordValue(*s.Current)
	}
	if s.LastError != "" {
		m["lastError"] = s.LastError
	}

	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode state")
	}
	return out, nil
}

// StructToSnapshot decodes a wire snapshot.
func StructToSnapshot(s *structpb.Struct) (playback.Snapshot, error) {
	var w wireState
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{WeaklyTypedInput: true, Result: &w})
	if err != nil {
		return playback.Snapshot{}, errors.Wrap(err, "failed to create decoder")
	}
	if err := dec.Decode(s.AsMap()); err != nil {
		return playback.Snapshot{}, errors.Wrap(err, "failed to decode state")
	}

	snap := playback.Snapshot{
		State:        playback.ParseState(w.State),
		CurrentIndex: w.CurrentIndex,
		Queue:        make([]track.Record, 0, len(w.Queue)),
		IsPlaying:    w.IsPlaying,
		IsLoading:    w.IsLoading,
		Position:     track.Seconds(w.Position),
		Duration:     track.Seconds(w.Duration),
		LastError:    w.LastError,
	}
	for _, m := range w.Queue {
		r, err := catalog.Decode(m)
		if err != nil {
			return playback.Snapshot{}, err
		}
		snap.Queue = append(snap.Queue, r)
	}
	if w.Current != nil {
		r, err := catalog.Decode(w.Current)
		if err != nil {
			return playback.Snapshot{}, err
		}
		snap.Current = &r
	}
	return snap, nil
}
