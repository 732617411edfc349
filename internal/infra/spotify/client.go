// Package spotify fetches songs and playlists from the Spotify Web API and
// converts them to queue records. Spotify only serves 30 second previews to
// third-party players, so the preview is the audio source.
package spotify

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/tunequeue/internal/domain/playlist"
	"github.com/osa030/tunequeue/internal/domain/track"
)

// IDPrefix is prepended to Spotify track IDs to keep them apart from other
// catalogs in the queue.
const IDPrefix = "spotify:track:"

const pageSize = 100

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Market       string
}

// Scopes are the permissions the refresh token must carry.
var Scopes = []string{
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistReadCollaborative,
}

// New creates a new Spotify client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(Scopes...),
	)

	// The refresh token alone is enough; oauth2 fetches access tokens on demand.
	httpClient := auth.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return newClient(spotify.New(httpClient), cfg.Market), nil
}

func newClient(sc *spotify.Client, market string) *Client {
	if market == "" {
		market = "JP"
	}
	return &Client{
		client:     sc,
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// GetTrack retrieves a song by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackID string) (track.Record, error) {
	id := extractTrackID(trackID)
	if id == "" {
		return track.Record{}, errors.New("invalid track ID")
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return track.Record{}, errors.Wrap(err, "failed to get track")
	}
	return convertTrack(result), nil
}

// GetPlaylist retrieves a playlist and all of its songs. Episodes and local
// files are skipped.
func (c *Client) GetPlaylist(ctx context.Context, playlistURL string) (playlist.Playlist, error) {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return playlist.Playlist{}, errors.New("invalid playlist URL")
	}

	var meta *spotify.FullPlaylist
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(playlistID),
			spotify.Fields("id,name,description,external_urls"),
			spotify.Market(c.market),
		)
		if err != nil {
			return err
		}
		meta = p
		return nil
	})
	if err != nil {
		return playlist.Playlist{}, errors.Wrap(err, "failed to get playlist")
	}

	pl := playlist.Playlist{
		ID:          string(meta.ID),
		Name:        meta.Name,
		Description: meta.Description,
		URL:         meta.ExternalURLs["spotify"],
	}
	if pl.ID == "" {
		pl.ID = playlistID
	}
	if pl.URL == "" {
		pl.URL = fmt.Sprintf("https://open.spotify.com/playlist/%s", playlistID)
	}

	for offset := 0; ; offset += pageSize {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
				spotify.Limit(pageSize),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return playlist.Playlist{}, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				pl.Records = append(pl.Records, convertTrack(item.Track.Track))
			}
		}
		if len(page.Items) < pageSize {
			break
		}
	}
	return pl, nil
}

// convertTrack converts a Spotify FullTrack to a record.
func convertTrack(t *spotify.FullTrack) track.Record {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}

	// Spotify lists artwork largest first; records want it the other way round.
	images := make([]track.Variant, 0, len(t.Album.Images))
	for _, img := range slices.Backward(t.Album.Images) {
		images = append(images, track.Variant{
			Quality: fmt.Sprintf("%vx%v", img.Width, img.Height),
			URL:     img.URL,
		})
	}

	var sources []track.Variant
	if t.PreviewURL != "" {
		sources = []track.Variant{{Quality: "preview", URL: t.PreviewURL}}
	}

	return track.Record{
		ID:       IDPrefix + string(t.ID),
		Name:     t.Name,
		Album:    t.Album.Name,
		Artists:  artists,
		Duration: time.Duration(t.Duration) * time.Millisecond,
		Images:   images,
		Sources:  sources,
	}
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se spotify.Error
	if errors.As(err, &se) {
		return se.Status == 429 || se.Status >= 500
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractID pulls the ID out of a spotify:<kind>:ID URI or an
// open.spotify.com/<kind>/ID URL. Anything else is assumed to be an ID.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)
	if id, ok := strings.CutPrefix(input, "spotify:"+kind+":"); ok {
		return id
	}

	// Also covers localized paths such as open.spotify.com/intl-ja/track/ID.
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/"+kind+"/") {
		parts := strings.Split(input, "/"+kind+"/")
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}
	return input
}

func extractPlaylistID(input string) string { return extractID(input, "playlist") }

func extractTrackID(input string) string { return extractID(input, "track") }
