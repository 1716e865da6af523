package auth

import (
	"chat-relay/errors"
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Methods that do not require a token.
var publicMethods = map[string]struct{}{
	healthpb.Health_Check_FullMethodName: {},
	healthpb.Health_Watch_FullMethodName: {},
}

type contextKey string

const ViewerIDKey contextKey = "viewer_id"

// WithViewerID stores the authenticated viewer in the context.
func WithViewerID(ctx context.Context, viewerID string) context.Context {
	return context.WithValue(ctx, ViewerIDKey, viewerID)
}

// ViewerIDFromContext returns the viewer injected by the interceptors.
func ViewerIDFromContext(ctx context.Context) (string, error) {
	viewerID, ok := ctx.Value(ViewerIDKey).(string)
	if !ok || viewerID == "" {
		return "", errors.ErrUnauthenticated
	}
	return viewerID, nil
}

// UnaryInterceptor validates the bearer token of unary calls and injects the viewer id.
func UnaryInterceptor(validator *TokenValidator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isPublicMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		newCtx, err := authenticate(ctx, validator)
		if err != nil {
			return nil, err
		}
		return handler(newCtx, req)
	}
}

// StreamInterceptor does the same for streaming calls.
func StreamInterceptor(validator *TokenValidator) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if isPublicMethod(info.FullMethod) {
			return handler(srv, ss)
		}
		newCtx, err := authenticate(ss.Context(), validator)
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedStream{ServerStream: ss, ctx: newCtx})
	}
}

func authenticate(ctx context.Context, validator *TokenValidator) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "metadata is missing")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, status.Error(codes.Unauthenticated, "authorization token is missing")
	}
	// Expecting the standard "Bearer <token>" format
	viewerID, err := validator.ViewerID(strings.TrimPrefix(values[0], "Bearer "))
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	return WithViewerID(ctx, viewerID), nil
}

type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context {
	return s.ctx
}

func isPublicMethod(method string) bool {
	_, ok := publicMethods[method]
	return ok
}
