package connect

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/osa030/tunequeue/internal/app/playback"
	"github.com/osa030/tunequeue/internal/domain/track"
)

// WithToken attaches the control token to every call made by a client.
func WithToken(token string) connect.ClientOption {
	return connect.WithInterceptors(&tokenSetter{token: token})
}

// Client is a typed PlayerService client.
type Client struct {
	getState           *connect.Client[emptypb.Empty, structpb.Struct]
	setSong            *connect.Client[structpb.Struct, structpb.Struct]
	addToQueue         *connect.Client[structpb.Struct, wrapperspb.BoolValue]
	removeFromQueue    *connect.Client[wrapperspb.StringValue, structpb.Struct]
	clearQueue         *connect.Client[emptypb.Empty, structpb.Struct]
	next               *connect.Client[emptypb.Empty, structpb.Struct]
	previous           *connect.Client[emptypb.Empty, structpb.Struct]
	toggle             *connect.Client[emptypb.Empty, structpb.Struct]
	stop               *connect.Client[emptypb.Empty, structpb.Struct]
	seek               *connect.Client[wrapperspb.DoubleValue, structpb.Struct]
	addSpotifyTrack    *connect.Client[wrapperspb.StringValue, structpb.Struct]
	addSpotifyPlaylist *connect.Client[wrapperspb.StringValue, wrapperspb.Int32Value]
	watchState         *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewClient creates a client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	return &Client{
		getState:           connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ProcedureGetState, opts...),
		setSong:            connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ProcedureSetSong, opts...),
		addToQueue:         connect.NewClient[structpb.Struct, wrapperspb.BoolValue](httpClient, baseURL+ProcedureAddToQueue, opts...),
		removeFromQueue:    connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+ProcedureRemoveFromQueue, opts...),
		clearQueue:         connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ProcedureClearQueue, opts...),
		next:               connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ProcedureNext, opts...),
		previous:           connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ProcedurePrevious, opts...),
		toggle:             connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ProcedureToggle, opts...),
		stop:               connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ProcedureStop, opts...),
		seek:               connect.NewClient[wrapperspb.DoubleValue, structpb.Struct](httpClient, baseURL+ProcedureSeek, opts...),
		addSpotifyTrack:    connect.NewClient[wrapperspb.StringValue, structpb.Struct](httpClient, baseURL+ProcedureAddSpotifyTrack, opts...),
		addSpotifyPlaylist: connect.NewClient[wrapperspb.StringValue, wrapperspb.Int32Value](httpClient, baseURL+ProcedureAddSpotifyPlaylist, opts...),
		watchState:         connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ProcedureWatchState, opts...),
	}
}

func callState[Req any](ctx context.Context, c *connect.Client[Req, structpb.Struct], msg *Req) (playback.Snapshot, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return playback.Snapshot{}, err
	}
	return StructToSnapshot(resp.Msg)
}

// State returns the current snapshot.
func (c *Client) State(ctx context.Context) (playback.Snapshot, error) {
	return callState(ctx, c.getState, &emptypb.Empty{})
}

// SetSong plays rec.
func (c *Client) SetSong(ctx context.Context, rec track.Record) (playback.Snapshot, error) {
	msg, err := RecordToStruct(rec)
	if err != nil {
		return playback.Snapshot{}, err
	}
	return callState(ctx, c.setSong, msg)
}

// Add queues rec and reports whether it was new.
func (c *Client) Add(ctx context.Context, rec track.Record) (bool, error) {
	msg, err := RecordToStruct(rec)
	if err != nil {
		return false, err
	}
	resp, err := c.addToQueue.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return false, err
	}
	return resp.Msg.GetValue(), nil
}

// Remove drops the song with the given id.
func (c *Client) Remove(ctx context.Context, id string) (playback.Snapshot, error) {
	return callState(ctx, c.removeFromQueue, wrapperspb.String(id))
}

// Clear empties the queue.
func (c *Client) Clear(ctx context.Context) (playback.Snapshot, error) {
	return callState(ctx, c.clearQueue, &emptypb.Empty{})
}

// Next plays the next song.
func (c *Client) Next(ctx context.Context) (playback.Snapshot, error) {
	return callState(ctx, c.next, &emptypb.Empty{})
}

// Previous plays the previous song.
func (c *Client) Previous(ctx context.Context) (playback.Snapshot, error) {
	return callState(ctx, c.previous, &emptypb.Empty{})
}

// Toggle flips play and pause.
func (c *Client) Toggle(ctx context.Context) (playback.Snapshot, error) {
	return callState(ctx, c.toggle, &emptypb.Empty{})
}

// Stop pauses and rewinds.
func (c *Client) Stop(ctx context.Context) (playback.Snapshot, error) {
	return callState(ctx, c.stop, &emptypb.Empty{})
}

// Seek moves the playhead to position.
func (c *Client) Seek(ctx context.Context, position time.Duration) (playback.Snapshot, error) {
	return callState(ctx, c.seek, wrapperspb.Double(position.Seconds()))
}

// AddSpotifyTrack queues a Spotify track by ID or URL.
func (c *Client) AddSpotifyTrack(ctx context.Context, idOrURL string) (track.Record, error) {
	resp, err := c.addSpotifyTrack.CallUnary(ctx, connect.NewRequest(wrapperspb.String(idOrURL)))
	if err != nil {
		return track.Record{}, err
	}
	return StructToRecord(resp.Msg)
}

// AddSpotifyPlaylist queues a Spotify playlist and returns how many songs
// were added.
func (c *Client) AddSpotifyPlaylist(ctx context.Context, url string) (int, error) {
	resp, err := c.addSpotifyPlaylist.CallUnary(ctx, connect.NewRequest(wrapperspb.String(url)))
	if err != nil {
		return 0, err
	}
	return int(resp.Msg.GetValue()), nil
}

// Watch calls fn with every published snapshot until fn returns false, ctx
// ends or the server closes the stream.
func (c *Client) Watch(ctx context.Context, fn func(playback.Snapshot) bool) error {
	stream, err := c.watchState.CallServerStream(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		snap, err := StructToSnapshot(stream.Msg())
		if err != nil {
			return err
		}
		if !fn(snap) {
			return nil
		}
	}
	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) && connect.CodeOf(err) != connect.CodeCanceled {
		return err
	}
	return nil
}
