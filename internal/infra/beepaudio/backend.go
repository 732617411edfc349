// Package beepaudio plays remote audio through the system speaker with
// gopxl/beep. Streams are fetched fully into memory before decoding so
// they can be seeked.
package beepaudio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunequeue/internal/app/engine"
)

const resampleQuality = 4

// ErrTooLarge is returned when a source exceeds Config.MaxSourceBytes.
var ErrTooLarge = errors.New("audio source too large")

// Config holds the backend settings.
type Config struct {
	SampleRate     int
	Buffer         time.Duration
	HTTPTimeout    time.Duration
	MaxSourceBytes int64
}

// Backend implements engine.Backend.
type Backend struct {
	cfg    Config
	client *http.Client
	rate   beep.SampleRate

	initOnce sync.Once
	initErr  error

	modeMu sync.Mutex
	mode   engine.Mode
}

// New creates a backend. The speaker is initialised lazily on first Create.
func New(cfg Config) *Backend {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 100 * time.Millisecond
	}
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		rate:   beep.SampleRate(cfg.SampleRate),
	}
}

// Configure records the audio session mode. The speaker has no notion of
// silent switches or ducking, so the mode is only logged.
func (b *Backend) Configure(_ context.Context, mode engine.Mode) error {
	b.modeMu.Lock()
	defer b.modeMu.Unlock()
	if mode != b.mode {
		zlog.Debug().Msgf("beepaudio: audio mode silent=%v background=%v duck=%v",
			mode.PlaysInSilentMode, mode.StaysActiveInBackground, mode.DuckOthers)
	}
	b.mode = mode
	return nil
}

func (b *Backend) initSpeaker() error {
	b.initOnce.Do(func() {
		b.initErr = speaker.Init(b.rate, b.rate.N(b.cfg.Buffer))
		if b.initErr == nil {
			zlog.Debug().Msgf("beepaudio: speaker initialized with sample rate %d Hz, buffer %v", b.rate, b.cfg.Buffer)
		}
	})
	return b.initErr
}

// Create fetches and decodes src and hands it to the speaker.
func (b *Backend) Create(ctx context.Context, src string, autoplay bool) (engine.Resource, error) {
	data, contentType, err := b.fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	streamer, format, err := decode(data, contentType, src)
	if err != nil {
		return nil, err
	}
	zlog.Debug().Msgf("beepaudio: loaded %s (%s, %d Hz)", src, humanize.IBytes(uint64(len(data))), format.SampleRate)

	if err := b.initSpeaker(); err != nil {
		_ = streamer.Close()
		return nil, errors.Wrap(err, "failed to initialize speaker")
	}

	r := newResource(streamer, format, b.rate, speakerSink{})
	r.ctrl.Paused = !autoplay
	r.enqueue()
	return r, nil
}

// fetch reads the whole source into memory. Plain paths and file:// urls are
// read from disk.
func (b *Backend) fetch(ctx context.Context, src string) ([]byte, string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return nil, "", errors.Wrapf(err, "invalid source %q", src)
	}

	var (
		body        io.ReadCloser
		contentType string
	)
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, "", errors.Wrap(err, "failed to create request")
		}
		resp, err := b.client.Do(req)
		if err != nil {
			return nil, "", errors.Wrapf(err, "failed to fetch %s", src)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", errors.Newf("fetch %s: unexpected status %s", src, resp.Status)
		}
		body = resp.Body
		contentType = resp.Header.Get("Content-Type")
	case "file", "":
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, "", errors.Wrapf(err, "failed to open %s", u.Path)
		}
		body = f
	default:
		return nil, "", errors.Newf("unsupported source scheme %q", u.Scheme)
	}
	defer body.Close()

	var r io.Reader = body
	if b.cfg.MaxSourceBytes > 0 {
		r = io.LimitReader(body, b.cfg.MaxSourceBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to read %s", src)
	}
	if b.cfg.MaxSourceBytes > 0 && int64(len(data)) > b.cfg.MaxSourceBytes {
		return nil, "", errors.Wrapf(ErrTooLarge, "%s exceeds %s", src, humanize.IBytes(uint64(b.cfg.MaxSourceBytes)))
	}
	return data, contentType, nil
}

type codec int

const (
	codecMP3 codec = iota
	codecFLAC
	codecWAV
)

// detect picks a decoder from the content type, then the url extension.
// Unknown sources are treated as mp3, the format every catalog serves.
func detect(contentType, src string) codec {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "flac"):
		return codecFLAC
	case strings.Contains(ct, "wav"):
		return codecWAV
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return codecMP3
	}

	p := src
	if u, err := url.Parse(src); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".flac":
		return codecFLAC
	case ".wav", ".wave":
		return codecWAV
	}
	return codecMP3
}

// memFile lets the decoders seek over the fetched bytes.
type memFile struct {
	*bytes.Reader
}

func (memFile) Close() error { return nil }

func decode(data []byte, contentType, src string) (beep.StreamSeekCloser, beep.Format, error) {
	f := memFile{bytes.NewReader(data)}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	switch detect(contentType, src) {
	case codecFLAC:
		streamer, format, err = flac.Decode(f)
	case codecWAV:
		streamer, format, err = wav.Decode(f)
	default:
		streamer, format, err = mp3.Decode(f)
	}
	if err != nil {
		return nil, beep.Format{}, errors.Wrapf(err, "failed to decode %s", src)
	}
	return streamer, format, nil
}
