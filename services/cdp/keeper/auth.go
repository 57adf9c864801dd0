package keeper

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenHeader is the metadata key carrying the keeper shared secret.
const TokenHeader = "x-cdp-keeper-token"

// Authenticator evaluates the incoming RPC context.
type Authenticator interface {
	Authorize(ctx context.Context) error
}

type authenticatorFunc func(context.Context) error

func (f authenticatorFunc) Authorize(ctx context.Context) error { return f(ctx) }

// NewTokenAuthenticator accepts requests whose TokenHeader or authorization
// metadata carries secret, optionally as "Bearer <secret>". It returns nil
// when no secret is configured.
func NewTokenAuthenticator(secret string) Authenticator {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil
	}
	return authenticatorFunc(func(ctx context.Context) error {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return status.Error(codes.Unauthenticated, "keeper: missing metadata")
		}
		for _, value := range append(append([]string(nil), md.Get(TokenHeader)...), md.Get("authorization")...) {
			token := strings.TrimSpace(value)
			if scheme, rest, found := strings.Cut(token, " "); found && strings.EqualFold(scheme, "bearer") {
				token = strings.TrimSpace(rest)
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(trimmed)) == 1 {
				return nil
			}
		}
		return status.Error(codes.Unauthenticated, "keeper: invalid or missing token")
	})
}

func unaryAuth(auth Authenticator, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if auth != nil {
			if err := auth.Authorize(ctx); err != nil {
				logger.Warn("keeper call rejected", "method", info.FullMethod, "error", err)
				return nil, err
			}
		}
		return handler(ctx, req)
	}
}

// NewGRPCServer builds a gRPC server exposing svc with token auth and
// OpenTelemetry instrumentation. A nil auth accepts every caller.
func NewGRPCServer(svc KeeperServer, auth Authenticator, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unaryAuth(auth, logger)),
	}, opts...)
	srv := grpc.NewServer(opts...)
	Register(srv, svc)
	return srv
}
