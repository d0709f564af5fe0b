package server

import (
	"context"
	"net"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	apperrors "github.com/windfall/prosody_service/internal/errors"
	"github.com/windfall/prosody_service/internal/middleware"
)

// UnaryLoggingInterceptor logs unary RPC calls.
func UnaryLoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		event := log.Info()
		switch code {
		case codes.OK:
		case codes.InvalidArgument, codes.Unauthenticated, codes.ResourceExhausted, codes.NotFound:
			event = log.Warn().Err(err)
		default:
			event = log.Error().Err(err)
		}
		event.
			Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("gRPC request")

		return resp, err
	}
}

// UnaryRecoveryInterceptor recovers from panics in unary handlers.
func UnaryRecoveryInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Str("method", info.FullMethod).
					Msg("gRPC panic recovered")
				err = apperrors.Internal("internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// StreamLoggingInterceptor logs streaming RPC calls.
func StreamLoggingInterceptor(log zerolog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		log.Info().
			Str("method", info.FullMethod).
			Bool("client_stream", info.IsClientStream).
			Bool("server_stream", info.IsServerStream).
			Msg("gRPC stream started")

		err := handler(srv, ss)

		if err != nil {
			log.Error().
				Err(err).
				Str("method", info.FullMethod).
				Msg("gRPC stream failed")
		} else {
			log.Info().
				Str("method", info.FullMethod).
				Msg("gRPC stream completed")
		}

		return err
	}
}

// StreamRecoveryInterceptor recovers from panics in stream handlers.
func StreamRecoveryInterceptor(log zerolog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Str("method", info.FullMethod).
					Msg("gRPC stream panic recovered")
				err = apperrors.Internal("internal server error")
			}
		}()
		return handler(srv, ss)
	}
}

// UnaryAuthInterceptor validates the bearer token in the "authorization"
// metadata and stores the user id in the context. Methods listed in public
// skip the check.
func UnaryAuthInterceptor(validator middleware.TokenValidator, public ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]bool, len(public))
	for _, m := range public {
		skip[m] = true
	}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if skip[info.FullMethod] {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}
		token, ok := middleware.BearerToken(values[0])
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "malformed authorization metadata")
		}
		userID, err := validator.ValidateToken(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
		}

		return handler(middleware.WithUserID(ctx, userID), req)
	}
}

// UnaryRateLimitInterceptor applies the HTTP rate limit to RPCs, keyed by
// user when authenticated and by peer address otherwise.
func UnaryRateLimitInterceptor(limiter middleware.Limiter, log zerolog.Logger, public ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]bool, len(public))
	for _, m := range public {
		skip[m] = true
	}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if skip[info.FullMethod] {
			return handler(ctx, req)
		}

		decision, err := limiter.Allow(ctx, peerIdentifier(ctx))
		if err != nil {
			log.Warn().Err(err).Msg("Rate limiter unavailable, allowing request")
			return handler(ctx, req)
		}
		grpc.SetHeader(ctx, metadata.Pairs(
			"x-ratelimit-limit", strconv.Itoa(decision.Limit),
			"x-ratelimit-remaining", strconv.Itoa(decision.Remaining),
			"x-ratelimit-reset", strconv.FormatInt(decision.ResetAt.Unix(), 10),
		))
		if !decision.Allowed {
			return nil, apperrors.RateLimit("Too many requests")
		}
		return handler(ctx, req)
	}
}

func peerIdentifier(ctx context.Context) string {
	if userID := middleware.GetUserID(ctx); userID != "" {
		return "user:" + userID
	}
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "ip:unknown"
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		host = p.Addr.String()
	}
	return "ip:" + host
}
