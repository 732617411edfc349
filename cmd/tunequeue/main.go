// Package main provides the tunequeue server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/tunequeue/internal/api/connect"
	"github.com/osa030/tunequeue/internal/app/engine"
	"github.com/osa030/tunequeue/internal/app/filter"
	"github.com/osa030/tunequeue/internal/app/playback"
	"github.com/osa030/tunequeue/internal/app/queue"
	"github.com/osa030/tunequeue/internal/infra/beepaudio"
	"github.com/osa030/tunequeue/internal/infra/config"
	"github.com/osa030/tunequeue/internal/infra/kv"
	"github.com/osa030/tunequeue/internal/infra/logger"
	"github.com/osa030/tunequeue/internal/infra/spotify"
)

const shutdownTimeout = 10 * time.Second

var (
	app        = kingpin.New("tunequeue", "tunequeue playback server")
	configPath = app.Flag("config", "Path to config file").Default("config/tunequeue.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	serveCmd = app.Command("serve", "Start the server (default)").Default()
	queueCmd = app.Command("queue", "Print the persisted queue and exit")
	clearCmd = app.Command("clear", "Clear the persisted queue and exit")

	listFiltersCmd = app.Command("list-filters", "List available admission filters and exit")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	closeLog, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closeLog()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	switch command {
	case serveCmd.FullCommand():
		err = run(cfg)
	case queueCmd.FullCommand():
		err = printQueue(cfg)
	case clearCmd.FullCommand():
		err = clearQueue(cfg)
	}
	if err != nil {
		zlog.Error().Msgf("%s failed: %v", command, err)
		closeLog()
		os.Exit(1)
	}
}

// openStore opens the persisted queue. The caller closes both values,
// store first.
func openStore(ctx context.Context, cfg *config.Config) (*queue.Store, *kv.SQLite, error) {
	db, err := kv.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	zlog.Info().Msgf("Using database %s", db.Path())

	store := queue.New(db, queue.Config{PersistDebounce: cfg.Storage.PersistDebounce()})
	store.Hydrate(ctx)
	return store, db, nil
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	db, err := kv.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	zlog.Info().Msgf("Using database %s", db.Path())

	store := queue.New(db, queue.Config{PersistDebounce: cfg.Storage.PersistDebounce()})
	defer func() {
		if err := store.Close(); err != nil {
			zlog.Error().Err(err).Msg("Failed to flush queue")
		}
	}()

	backend := beepaudio.New(beepaudio.Config{
		SampleRate:     cfg.Playback.SampleRate,
		Buffer:         cfg.Playback.Buffer(),
		HTTPTimeout:    cfg.Playback.HTTPTimeout(),
		MaxSourceBytes: cfg.Playback.MaxSourceBytes(),
	})
	eng := engine.New(backend, engine.Mode{
		PlaysInSilentMode:       cfg.Playback.SilentMode,
		StaysActiveInBackground: cfg.Playback.Background,
		DuckOthers:              cfg.Playback.DuckOthers,
	})

	coord := playback.New(store, eng, playback.Config{
		Monitor: playback.PollMonitor{Interval: cfg.Playback.PollInterval()},
	})
	if err := coord.Hydrate(ctx); err != nil {
		return errors.Wrap(err, "failed to restore queue")
	}

	var catalog apiconnect.SpotifyCatalog
	if cfg.Spotify.Enabled() {
		client, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			RefreshToken: cfg.Spotify.RefreshToken,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return errors.Wrap(err, "failed to create Spotify client")
		}
		catalog = client
		zlog.Info().Msgf("Spotify enabled: market=%s", cfg.Spotify.Market)
	} else {
		zlog.Info().Msg("Spotify not configured, spotify procedures disabled")
	}

	filters, err := buildFilters(cfg)
	if err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	var opts []connect.HandlerOption
	if cfg.Server.Token != "" {
		opts = append(opts, connect.WithInterceptors(apiconnect.NewTokenInterceptor(cfg.Server.Token)))
	} else {
		zlog.Warn().Msg("No control token configured, the API is open")
	}

	mux := http.NewServeMux()
	path, handler := apiconnect.NewHandler(apiconnect.NewPlayerService(coord, catalog, filters), opts...)
	mux.Handle(path, handler)

	// h2c (HTTP/2 cleartext) is needed for streaming without TLS
	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}

	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Closing the coordinator ends WatchState streams so Shutdown does not
	// wait on them.
	if err := coord.Close(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to stop playback: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")
	return nil
}

func printQueue(cfg *config.Config) error {
	store, db, err := openStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	records, current := store.View()
	if len(records) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}
	for i, r := range records {
		marker := " "
		if i == current {
			marker = ">"
		}
		fmt.Printf("%s %3d  %-24s  %s - %s\n", marker, i, r.ID, r.DisplayName(), r.ArtistLine())
	}
	return nil
}

func clearQueue(cfg *config.Config) error {
	store, db, err := openStore(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n := store.Len()
	store.Clear()
	if err := store.Close(); err != nil {
		return err
	}
	fmt.Printf("Cleared %d tracks\n", n)
	return nil
}

func buildFilters(cfg *config.Config) (*filter.Chain, error) {
	settings := make(map[string]filter.Settings, len(cfg.Filters))
	for name, f := range cfg.Filters {
		settings[name] = filter.Settings{Enabled: f.Enabled, Settings: f.Settings}
	}
	return filter.Build(settings)
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	registry := filter.GetRegistered()
	for _, name := range filter.Names() {
		f := registry[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-24s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// sh -c allows redirection and pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
