// Package connect exposes the playback coordinator over Connect RPC. Messages
// are protobuf well-known types, so no generated code is needed.
package connect

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/osa030/tunequeue/internal/app/filter"
	"github.com/osa030/tunequeue/internal/app/playback"
	"github.com/osa030/tunequeue/internal/domain/playlist"
	"github.com/osa030/tunequeue/internal/domain/track"
	"github.com/osa030/tunequeue/internal/infra/catalog"
)

// ServiceName is the fully-qualified name of the PlayerService.
const ServiceName = "tunequeue.v1.PlayerService"

// Procedure paths.
const (
	ProcedureGetState           = "/" + ServiceName + "/GetState"
	ProcedureSetSong            = "/" + ServiceName + "/SetSong"
	ProcedureAddToQueue         = "/" + ServiceName + "/AddToQueue"
	ProcedureRemoveFromQueue    = "/" + ServiceName + "/RemoveFromQueue"
	ProcedureClearQueue         = "/" + ServiceName + "/ClearQueue"
	ProcedureNext               = "/" + ServiceName + "/Next"
	ProcedurePrevious           = "/" + ServiceName + "/Previous"
	ProcedureToggle             = "/" + ServiceName + "/Toggle"
	ProcedureStop               = "/" + ServiceName + "/Stop"
	ProcedureSeek               = "/" + ServiceName + "/Seek"
	ProcedureAddSpotifyTrack    = "/" + ServiceName + "/AddSpotifyTrack"
	ProcedureAddSpotifyPlaylist = "/" + ServiceName + "/AddSpotifyPlaylist"
	ProcedureWatchState         = "/" + ServiceName + "/WatchState"
)

// ErrSpotifyDisabled is returned by the Spotify procedures when no
// credentials are configured.
var ErrSpotifyDisabled = errors.New("spotify is not configured")

// ErrRejected marks songs refused by the admission filters.
var ErrRejected = errors.New("rejected by filter")

// SpotifyCatalog looks songs up on Spotify.
type SpotifyCatalog interface {
	GetTrack(ctx context.Context, trackID string) (track.Record, error)
	GetPlaylist(ctx context.Context, playlistURL string) (playlist.Playlist, error)
}

// PlayerService implements the PlayerService RPC.
type PlayerService struct {
	coord   *playback.Coordinator
	spotify SpotifyCatalog // nil when disabled
	filters *filter.Chain  // nil accepts everything
}

// NewPlayerService creates a new PlayerService. spotify and filters may be
// nil.
func NewPlayerService(coord *playback.Coordinator, spotify SpotifyCatalog, filters *filter.Chain) *PlayerService {
	return &PlayerService{coord: coord, spotify: spotify, filters: filters}
}

// admit runs the admission chain on rec.
func (s *PlayerService) admit(ctx context.Context, rec track.Record) error {
	if r := s.filters.Execute(ctx, rec); !r.Accepted {
		return errors.Mark(errors.Newf("%q rejected: %s", rec.ID, r.Code), ErrRejected)
	}
	return nil
}

// enqueue admits and queues rec.
func (s *PlayerService) enqueue(ctx context.Context, rec track.Record) (bool, error) {
	if err := s.admit(ctx, rec); err != nil {
		return false, err
	}
	return s.coord.AddToQueue(ctx, rec)
}

// NewHandler builds the HTTP handler serving every procedure. Mount it at
// the returned path.
func NewHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(ProcedureGetState, connect.NewUnaryHandler(ProcedureGetState, svc.GetState, opts...))
	mux.Handle(ProcedureSetSong, connect.NewUnaryHandler(ProcedureSetSong, svc.SetSong, opts...))
	mux.Handle(ProcedureAddToQueue, connect.NewUnaryHandler(ProcedureAddToQueue, svc.AddToQueue, opts...))
	mux.Handle(ProcedureRemoveFromQueue, connect.NewUnaryHandler(ProcedureRemoveFromQueue, svc.RemoveFromQueue, opts...))
	mux.Handle(ProcedureClearQueue, connect.NewUnaryHandler(ProcedureClearQueue, svc.ClearQueue, opts...))
	mux.Handle(ProcedureNext, connect.NewUnaryHandler(ProcedureNext, svc.Next, opts...))
	mux.Handle(ProcedurePrevious, connect.NewUnaryHandler(ProcedurePrevious, svc.Previous, opts...))
	mux.Handle(ProcedureToggle, connect.NewUnaryHandler(ProcedureToggle, svc.Toggle, opts...))
	mux.Handle(ProcedureStop, connect.NewUnaryHandler(ProcedureStop, svc.Stop, opts...))
	mux.Handle(ProcedureSeek, connect.NewUnaryHandler(ProcedureSeek, svc.Seek, opts...))
	mux.Handle(ProcedureAddSpotifyTrack, connect.NewUnaryHandler(ProcedureAddSpotifyTrack, svc.AddSpotifyTrack, opts...))
	mux.Handle(ProcedureAddSpotifyPlaylist, connect.NewUnaryHandler(ProcedureAddSpotifyPlaylist, svc.AddSpotifyPlaylist, opts...))
	mux.Handle(ProcedureWatchState, connect.NewServerStreamHandler(ProcedureWatchState, svc.WatchState, opts...))
	return "/" + ServiceName + "/", mux
}

// toConnectError maps domain errors to RPC codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, playback.ErrClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, catalog.ErrInvalid):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, ErrSpotifyDisabled), errors.Is(err, ErrRejected):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// stateResponse runs op and answers with the resulting snapshot.
func (s *PlayerService) stateResponse(op func() error) (*connect.Response[structpb.Struct], error) {
	if op != nil {
		if err := op(); err != nil {
			return nil, toConnectError(err)
		}
	}
	st, err := SnapshotToStruct(s.coord.Snapshot())
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(st), nil
}

// GetState returns the current snapshot.
func (s *PlayerService) GetState(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.stateResponse(nil)
}

// SetSong plays the given record, queueing it if needed.
func (s *PlayerService) SetSong(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	rec, err := StructToRecord(req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	return s.stateResponse(func() error {
		// Songs already queued were admitted when they were added.
		if s.coord.Snapshot().IndexOf(rec.ID) < 0 {
			if err := s.admit(ctx, rec); err != nil {
				return err
			}
		}
		return s.coord.SetSong(ctx, rec)
	})
}

// AddToQueue appends the given record. The response is false for duplicates.
func (s *PlayerService) AddToQueue(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[wrapperspb.BoolValue], error) {
	rec, err := StructToRecord(req.Msg)
	if err != nil {
		return nil, toConnectError(err)
	}
	added, err := s.enqueue(ctx, rec)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(wrapperspb.Bool(added)), nil
}

// RemoveFromQueue removes the record with the given id.
func (s *PlayerService) RemoveFromQueue(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	return s.stateResponse(func() error { return s.coord.RemoveFromQueue(ctx, req.Msg.GetValue()) })
}

// ClearQueue empties the queue and stops playback.
func (s *PlayerService) ClearQueue(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.stateResponse(func() error { return s.coord.ClearQueue(ctx) })
}

// Next plays the next song.
func (s *PlayerService) Next(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.stateResponse(func() error { return s.coord.Next(ctx) })
}

// Previous plays the previous song.
func (s *PlayerService) Previous(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.stateResponse(func() error { return s.coord.Previous(ctx) })
}

// Toggle flips play and pause.
func (s *PlayerService) Toggle(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.stateResponse(func() error { return s.coord.Toggle(ctx) })
}

// Stop pauses and rewinds.
func (s *PlayerService) Stop(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.stateResponse(func() error { return s.coord.Stop(ctx) })
}

// Seek moves the playhead to the given number of seconds.
func (s *PlayerService) Seek(
	ctx context.Context,
	req *connect.Request[wrapperspb.DoubleValue],
) (*connect.Response[structpb.Struct], error) {
	target := time.Duration(req.Msg.GetValue() * float64(time.Second))
	return s.stateResponse(func() error { return s.coord.Seek(ctx, target) })
}

// AddSpotifyTrack looks a song up on Spotify and queues it.
func (s *PlayerService) AddSpotifyTrack(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	if s.spotify == nil {
		return nil, toConnectError(ErrSpotifyDisabled)
	}
	rec, err := s.spotify.GetTrack(ctx, req.Msg.GetValue())
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	if _, err := s.enqueue(ctx, rec); err != nil {
		return nil, toConnectError(err)
	}
	if _, err := rec.SourceURL(); err != nil {
		zlog.Warn().Msgf("connect: spotify track %q has no preview and will not play", rec.ID)
	}

	out, err := RecordToStruct(rec)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(out), nil
}

// AddSpotifyPlaylist queues every playable song of a Spotify playlist and
// returns how many were added.
func (s *PlayerService) AddSpotifyPlaylist(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[wrapperspb.Int32Value], error) {
	if s.spotify == nil {
		return nil, toConnectError(ErrSpotifyDisabled)
	}
	pl, err := s.spotify.GetPlaylist(ctx, req.Msg.GetValue())
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}

	playable := pl.Playable()
	var added, rejected int32
	for _, rec := range playable {
		ok, err := s.enqueue(ctx, rec)
		switch {
		case errors.Is(err, ErrRejected):
			rejected++
		case err != nil:
			return nil, toConnectError(err)
		case ok:
			added++
		}
	}
	zlog.Info().Msgf("connect: playlist %q queued %d of %d songs (%d without audio, %d rejected)",
		pl.Name, added, len(pl.Records), len(pl.Records)-len(playable), rejected)
	return connect.NewResponse(wrapperspb.Int32(added)), nil
}

// WatchState streams the current snapshot followed by every change.
func (s *PlayerService) WatchState(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	id, notices := s.coord.Subscribe()
	defer s.coord.Unsubscribe(id)

	send := func(snap playback.Snapshot) error {
		msg, err := SnapshotToStruct(snap)
		if err != nil {
			return toConnectError(err)
		}
		return stream.Send(msg)
	}

	if err := send(s.coord.Snapshot()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notices:
			if !ok {
				return nil
			}
			if err := send(n.Value); err != nil {
				return err
			}
		}
	}
}
