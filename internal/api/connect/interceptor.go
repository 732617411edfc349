package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"
)

// TokenHeader is the header name for the control token.
const TokenHeader = "X-Control-Token"

// tokenInterceptor rejects calls that do not carry the configured token.
type tokenInterceptor struct {
	token string
}

// NewTokenInterceptor creates an interceptor that validates the control token
// on unary and streaming calls.
func NewTokenInterceptor(token string) connect.Interceptor {
	return &tokenInterceptor{token: token}
}

func (i *tokenInterceptor) valid(got string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(i.token)) == 1
}

func (i *tokenInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if !i.valid(req.Header().Get(TokenHeader)) {
			return nil, connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, req)
	}
}

func (i *tokenInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *tokenInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if !i.valid(conn.RequestHeader().Get(TokenHeader)) {
			return connect.NewError(connect.CodeUnauthenticated, nil)
		}
		return next(ctx, conn)
	}
}

// tokenSetter attaches the control token to outgoing calls.
type tokenSetter struct {
	token string
}

func (s *tokenSetter) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		req.Header().Set(TokenHeader, s.token)
		return next(ctx, req)
	}
}

func (s *tokenSetter) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(TokenHeader, s.token)
		return conn
	}
}

func (s *tokenSetter) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
