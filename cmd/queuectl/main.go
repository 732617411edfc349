// Package main provides the tunequeue control CLI.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/tunequeue/internal/api/connect"
	"github.com/osa030/tunequeue/internal/app/playback"
	"github.com/osa030/tunequeue/internal/domain/track"
	"github.com/osa030/tunequeue/internal/infra/catalog"
)

var (
	app    = kingpin.New("queuectl", "tunequeue control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8090").String()
	token  = app.Flag("token", "Control token (or set TUNEQUEUE_TOKEN env)").Envar("TUNEQUEUE_TOKEN").String()

	statusCmd = app.Command("status", "Show the playback state")

	playCmd    = app.Command("play", "Play a song, queueing it if needed")
	playSource = playCmd.Arg("record", "Catalog JSON, a JSON file or - for stdin").Required().String()

	addCmd    = app.Command("add", "Queue every song of a catalog payload")
	addSource = addCmd.Arg("records", "Catalog JSON, a JSON file or - for stdin").Required().String()

	removeCmd = app.Command("remove", "Remove a song from the queue")
	removeID  = removeCmd.Arg("id", "Song ID").Required().String()

	clearCmd  = app.Command("clear", "Clear the queue")
	nextCmd   = app.Command("next", "Play the next song")
	prevCmd   = app.Command("prev", "Play the previous song").Alias("previous")
	toggleCmd = app.Command("toggle", "Toggle play/pause")
	stopCmd   = app.Command("stop", "Pause and rewind")

	seekCmd = app.Command("seek", "Seek within the current song")
	seekTo  = seekCmd.Arg("position", "Target position (e.g. 1m30s)").Required().Duration()

	watchCmd = app.Command("watch", "Print every state change")

	spotifyTrackCmd = app.Command("spotify-track", "Queue a Spotify track")
	spotifyTrackID  = spotifyTrackCmd.Arg("track", "Spotify track ID or URL").Required().String()

	spotifyPlaylistCmd = app.Command("spotify-playlist", "Queue a Spotify playlist")
	spotifyPlaylistURL = spotifyPlaylistCmd.Arg("url", "Spotify playlist URL").Required().String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	var opts []connect.ClientOption
	if *token != "" {
		opts = append(opts, apiconnect.WithToken(*token))
	}
	client := apiconnect.NewClient(http.DefaultClient, strings.TrimRight(*server, "/"), opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = show(client.State(ctx))
	case playCmd.FullCommand():
		err = play(ctx, client, *playSource)
	case addCmd.FullCommand():
		err = add(ctx, client, *addSource)
	case removeCmd.FullCommand():
		err = show(client.Remove(ctx, *removeID))
	case clearCmd.FullCommand():
		err = show(client.Clear(ctx))
	case nextCmd.FullCommand():
		err = show(client.Next(ctx))
	case prevCmd.FullCommand():
		err = show(client.Previous(ctx))
	case toggleCmd.FullCommand():
		err = show(client.Toggle(ctx))
	case stopCmd.FullCommand():
		err = show(client.Stop(ctx))
	case seekCmd.FullCommand():
		err = show(client.Seek(ctx, *seekTo))
	case watchCmd.FullCommand():
		err = watch(ctx, client)
	case spotifyTrackCmd.FullCommand():
		var rec track.Record
		rec, err = client.AddSpotifyTrack(ctx, *spotifyTrackID)
		if err == nil {
			fmt.Printf("Queued: %s - %s\n", rec.DisplayName(), rec.ArtistLine())
		}
	case spotifyPlaylistCmd.FullCommand():
		var n int
		n, err = client.AddSpotifyPlaylist(ctx, *spotifyPlaylistURL)
		if err == nil {
			fmt.Printf("Queued %d tracks\n", n)
		}
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// readRecords decodes src, which is inline JSON, a file path or - for stdin.
func readRecords(src string) ([]track.Record, error) {
	var data []byte
	var err error
	switch trimmed := strings.TrimSpace(src); {
	case trimmed == "-":
		data, err = io.ReadAll(os.Stdin)
	case strings.HasPrefix(trimmed, "{"), strings.HasPrefix(trimmed, "["):
		data = []byte(trimmed)
	default:
		data, err = os.ReadFile(trimmed)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read records")
	}

	records, err := catalog.DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("no records found")
	}
	return records, nil
}

func play(ctx context.Context, client *apiconnect.Client, src string) error {
	records, err := readRecords(src)
	if err != nil {
		return err
	}
	if len(records) > 1 {
		for _, r := range records[1:] {
			if _, err := client.Add(ctx, r); err != nil {
				return err
			}
		}
	}
	return show(client.SetSong(ctx, records[0]))
}

func add(ctx context.Context, client *apiconnect.Client, src string) error {
	records, err := readRecords(src)
	if err != nil {
		return err
	}
	for _, r := range records {
		added, err := client.Add(ctx, r)
		if err != nil {
			return err
		}
		if added {
			fmt.Printf("Queued: %s - %s\n", r.DisplayName(), r.ArtistLine())
		} else {
			fmt.Printf("Already queued: %s\n", r.ID)
		}
	}
	return nil
}

func watch(ctx context.Context, client *apiconnect.Client) error {
	fmt.Println("Watching state (Ctrl+C to exit)...")
	err := client.Watch(ctx, func(s playback.Snapshot) bool {
		fmt.Printf("[%s] %s\n", time.Now().Format(time.TimeOnly), summary(s))
		return true
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func summary(s playback.Snapshot) string {
	if s.Current == nil {
		return fmt.Sprintf("%s (queue: %d)", formatState(s.State), len(s.Queue))
	}
	line := fmt.Sprintf("%s %s - %s  %s / %s  (%d/%d)",
		formatState(s.State), s.Current.DisplayName(), s.Current.ArtistLine(),
		formatClock(s.Position), formatClock(s.Duration), s.CurrentIndex+1, len(s.Queue))
	if s.LastError != "" {
		line += "  error: " + s.LastError
	}
	return line
}

func show(s playback.Snapshot, err error) error {
	if err != nil {
		return err
	}

	fmt.Println("\n=== PLAYBACK STATE ===")
	fmt.Printf("State: %s\n", formatState(s.State))
	if s.Current != nil {
		fmt.Println("\nCurrent Song:")
		fmt.Printf("  ID: %s\n", s.Current.ID)
		fmt.Printf("  Name: %s\n", s.Current.DisplayName())
		fmt.Printf("  Artists: %s\n", s.Current.ArtistLine())
		if s.Current.Album != "" {
			fmt.Printf("  Album: %s\n", s.Current.Album)
		}
		fmt.Printf("  Position: %s / %s\n", formatClock(s.Position), formatClock(s.Duration))
	} else {
		fmt.Println("\nNo song selected")
	}
	if s.LastError != "" {
		fmt.Printf("\nLast Error: %s\n", s.LastError)
	}

	fmt.Printf("\nQueue (%d):\n", len(s.Queue))
	for i, r := range s.Queue {
		marker := " "
		if i == s.CurrentIndex {
			marker = ">"
		}
		fmt.Printf("%s %3d  %s - %s\n", marker, i+1, r.DisplayName(), r.ArtistLine())
	}
	fmt.Println()
	return nil
}

func formatState(state playback.State) string {
	switch state {
	case playback.StateIdle:
		return "⏹  Idle"
	case playback.StateLoading:
		return "⏳ Loading"
	case playback.StatePlaying:
		return "▶️  Playing"
	case playback.StatePaused:
		return "⏸  Paused"
	default:
		return "❓ Unknown"
	}
}

func formatClock(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
