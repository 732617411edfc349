// Package main provides the Spotify authorization helper. It walks through
// the OAuth flow once and prints the refresh token tunequeue needs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/tunequeue/internal/infra/logger"
	"github.com/osa030/tunequeue/internal/infra/spotify"
)

var (
	app          = kingpin.New("tunequeue-auth", "Spotify authorization helper for tunequeue")
	clientID     = app.Flag("client-id", "Spotify Client ID").Envar("SPOTIFY_CLIENT_ID").Required().String()
	clientSecret = app.Flag("client-secret", "Spotify Client Secret").Envar("SPOTIFY_CLIENT_SECRET").Required().String()
	port         = app.Flag("port", "Callback server port").Default("8888").Int()
	timeout      = app.Flag("timeout", "How long to wait for the browser").Default("5m").Duration()
)

const page = `<!DOCTYPE html>
<html>
<head><title>tunequeue - Authorization Complete</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 20vh;">
    <h1>Authorization Complete</h1>
    <p>You can close this window and return to the terminal.</p>
</body>
</html>
`

// callback completes the flow and hands the token to tokens.
type callback struct {
	auth   *spotifyauth.Authenticator
	state  string
	tokens chan<- *oauth2.Token
}

func (c *callback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if st := r.FormValue("state"); st != c.state {
		http.Error(w, "State mismatch", http.StatusForbidden)
		zlog.Warn().Msgf("auth: state mismatch: %q", st)
		return
	}

	token, err := c.auth.Token(r.Context(), c.state, r)
	if err != nil {
		http.Error(w, "Failed to get token", http.StatusForbidden)
		zlog.Error().Err(err).Msg("auth: failed to get token")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, page)

	select {
	case c.tokens <- token:
	default:
	}
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	closeLog, err := logger.Init(logger.Config{Output: "stderr", Level: "info"})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closeLog()

	token, err := authorize()
	if err != nil {
		zlog.Error().Msgf("Authorization failed: %v", err)
		closeLog()
		os.Exit(1)
	}

	fmt.Println("")
	fmt.Println("=== Authorization Successful ===")
	fmt.Println("")
	fmt.Println("Add this to your tunequeue.yaml:")
	fmt.Println("")
	fmt.Println("spotify:")
	fmt.Printf("  refresh_token: %q\n", token.RefreshToken)
	fmt.Println("")
	fmt.Println("Or set as environment variable:")
	fmt.Printf("export SPOTIFY_REFRESH_TOKEN=%q\n", token.RefreshToken)
}

func authorize() (*oauth2.Token, error) {
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", *port)
	tokens := make(chan *oauth2.Token, 1)
	cb := &callback{
		auth: spotifyauth.New(
			spotifyauth.WithRedirectURL(redirectURI),
			spotifyauth.WithClientID(*clientID),
			spotifyauth.WithClientSecret(*clientSecret),
			spotifyauth.WithScopes(spotify.Scopes...),
		),
		state:  uuid.NewString(),
		tokens: tokens,
	}

	mux := http.NewServeMux()
	mux.Handle("/callback", cb)
	server := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", *port), Handler: mux}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			zlog.Warn().Msgf("Failed to shutdown server: %v", err)
		}
	}()

	fmt.Println("Please visit the following URL to authorize tunequeue:")
	fmt.Println("")
	fmt.Println(cb.auth.AuthURL(cb.state))
	fmt.Println("")
	fmt.Println("Waiting for authorization...")

	select {
	case token := <-tokens:
		return token, nil
	case err := <-serverErrCh:
		return nil, errors.Wrap(err, "callback server failed")
	case <-time.After(*timeout):
		return nil, errors.Newf("no authorization within %s", *timeout)
	}
}
