// Package queue provides the persisted, deduplicated play queue.
package queue

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunequeue/internal/domain/track"
	"github.com/osa030/tunequeue/internal/infra/kv"
)

// Persistence keys.
const (
	KeyQueue        = "queue"
	KeyCurrentIndex = "currentIndex"
)

const writeTimeout = 10 * time.Second

// ErrPersistence marks failures to save or restore the queue.
var ErrPersistence = errors.New("queue persistence failed")

// Config holds store configuration.
type Config struct {
	PersistDebounce time.Duration // Delay before a mutation is written out
}

// Removal describes the outcome of Remove.
type Removal struct {
	Removed    bool // An entry with the id existed
	WasCurrent bool // The removed entry was the current song
	Index      int  // Current index after removal (-1 if none)
}

// snapshot is what gets written: the sequence number orders concurrent writers.
type snapshot struct {
	seq     uint64
	records []track.Record
	current int
}

// Store is an ordered list of records without duplicate IDs plus the index
// of the current song. Every mutation is written to the kv store in the
// background; callers never wait for durability.
type Store struct {
	mu      sync.RWMutex
	records []track.Record
	current int // -1 if none
	seq     uint64

	kv     kv.Store
	config Config

	saveMu    sync.Mutex
	saveTimer *time.Timer
	pending   *snapshot

	writeMu sync.Mutex
	written uint64
}

// New creates an empty store persisting to store.
func New(store kv.Store, config Config) *Store {
	return &Store{
		records: make([]track.Record, 0),
		current: -1,
		kv:      store,
		config:  config,
	}
}

// Add appends rec unless a record with the same ID is already queued.
func (s *Store) Add(rec track.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfLocked(rec.ID) >= 0 {
		return false
	}
	s.records = append(s.records, rec)
	s.persistLocked()
	return true
}

// Remove drops the record with the given id and keeps the current index on
// the same song when it survives. When the current song itself goes, the
// index stays put (now pointing at its successor) or clamps to the new end.
func (s *Store) Remove(id string) Removal {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return Removal{Index: s.current}
	}

	s.records = slices.Delete(s.records, idx, idx+1)
	res := Removal{Removed: true}

	switch {
	case s.current < 0:
	case idx < s.current:
		s.current--
	case idx == s.current:
		res.WasCurrent = true
		s.current = min(s.current, len(s.records)-1)
	}
	res.Index = s.current

	s.persistLocked()
	return res
}

// Clear empties the queue.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make([]track.Record, 0)
	s.current = -1
	s.persistLocked()
}

// Select makes index the current song. -1 deselects.
func (s *Store) Select(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < -1 || index >= len(s.records) {
		return false
	}
	if index == s.current {
		return true
	}
	s.current = index
	s.persistLocked()
	return true
}

// Focus makes rec the current song, appending it first when it is not
// queued yet. It returns the new current index.
func (s *Store) Focus(rec track.Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(rec.ID)
	if idx < 0 {
		s.records = append(s.records, rec)
		idx = len(s.records) - 1
	} else if idx == s.current {
		return idx
	}
	s.current = idx
	s.persistLocked()
	return idx
}

// IndexOf returns the position of id, or -1.
func (s *Store) IndexOf(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOfLocked(id)
}

func (s *Store) indexOfLocked(id string) int {
	return slices.IndexFunc(s.records, func(r track.Record) bool { return r.ID == id })
}

// At returns the record at index.
func (s *Store) At(index int) (track.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index < 0 || index >= len(s.records) {
		return track.Record{}, false
	}
	return s.records[index], true
}

// Current returns the current record, if any.
func (s *Store) Current() (track.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current < 0 {
		return track.Record{}, false
	}
	return s.records[s.current], true
}

// CurrentIndex returns the current index (-1 if none).
func (s *Store) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Len returns the number of queued records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Tracks returns a copy of the queue.
func (s *Store) Tracks() []track.Record {
	records, _ := s.View()
	return records
}

// View returns a copy of the queue together with the current index, read
// under one lock.
func (s *Store) View() ([]track.Record, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records), s.current
}

// Hydrate replaces the in-memory queue with the persisted one. Unreadable
// data is logged and leaves the store empty; it never fails the caller.
func (s *Store) Hydrate(ctx context.Context) {
	records, current, err := s.load(ctx)
	if err != nil {
		zlog.Warn().Err(err).Msg("queue: hydrate failed, starting empty")
		records, current = nil, -1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if records == nil {
		records = make([]track.Record, 0)
	}
	s.records = records
	s.current = current
	zlog.Info().Msgf("queue: hydrated %d tracks (current=%d)", len(records), current)
}

func (s *Store) load(ctx context.Context) ([]track.Record, int, error) {
	values, err := s.kv.Get(ctx, KeyQueue, KeyCurrentIndex)
	if err != nil {
		return nil, -1, errors.Mark(errors.Wrap(err, "failed to read queue"), ErrPersistence)
	}

	raw, ok := values[KeyQueue]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, -1, nil
	}

	var decoded []track.Record
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, -1, errors.Mark(errors.Wrap(err, "failed to parse queue"), ErrPersistence)
	}

	// The index refers to the persisted list, so resolve it to a song before
	// duplicates shift positions.
	currentID := ""
	if v, ok := values[KeyCurrentIndex]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 && n < len(decoded) {
			currentID = decoded[n].ID
		} else {
			zlog.Warn().Msgf("queue: ignoring persisted index %q", v)
		}
	}

	current := -1
	records := make([]track.Record, 0, len(decoded))
	seen := make(map[string]struct{}, len(decoded))
	for _, r := range decoded {
		if _, dup := seen[r.ID]; dup {
			zlog.Warn().Msgf("queue: dropping duplicate persisted track %q", r.ID)
			continue
		}
		seen[r.ID] = struct{}{}
		if currentID != "" && r.ID == currentID {
			current = len(records)
		}
		records = append(records, r)
	}
	return records, current, nil
}

// Persist schedules a write of the current state.
func (s *Store) Persist() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}

// persistLocked captures the state and hands it to the background writer.
// Must be called with mu held.
func (s *Store) persistLocked() {
	s.seq++
	snap := &snapshot{
		seq:     s.seq,
		records: slices.Clone(s.records),
		current: s.current,
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.pending = snap
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.config.PersistDebounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := s.flushPending(ctx); err != nil {
			zlog.Error().Err(err).Msg("queue: failed to save queue")
		}
	})
}

// Flush writes any pending state synchronously.
func (s *Store) Flush(ctx context.Context) error {
	s.saveMu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	s.saveMu.Unlock()

	return s.flushPending(ctx)
}

// Close flushes pending state.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return s.Flush(ctx)
}

// flushPending takes and writes the pending snapshot. Holding writeMu for
// the whole step means Flush also waits for a timer write already underway.
func (s *Store) flushPending(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.saveMu.Lock()
	snap := s.pending
	s.pending = nil
	s.saveMu.Unlock()

	if snap == nil {
		return nil
	}
	return s.write(ctx, snap)
}

// write must be called with writeMu held.
func (s *Store) write(ctx context.Context, snap *snapshot) error {
	// A newer snapshot already made it to disk.
	if snap.seq <= s.written {
		return nil
	}

	data, err := json.Marshal(snap.records)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to encode queue"), ErrPersistence)
	}

	err = s.kv.Set(ctx, map[string]string{
		KeyQueue:        string(data),
		KeyCurrentIndex: strconv.Itoa(snap.current),
	})
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to write queue"), ErrPersistence)
	}

	s.written = snap.seq
	return nil
}
