package gate

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// metadataAuthorization is the lowercased Authorization header, as gRPC
// normalizes metadata keys.
const metadataAuthorization = "authorization"

// UnaryServerInterceptor authenticates every unary call and requires the
// listed permissions. Rejections become Unauthenticated or PermissionDenied
// statuses; the claims are available to handlers via ClaimsFromContext.
func (g *Gate) UnaryServerInterceptor(permissions ...string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		o := g.RequirePermissions(ctx, tokenFromMetadata(ctx), permissions...)
		if !o.Authorized() {
			if o.Reason == ReasonForbidden {
				return nil, status.Error(codes.PermissionDenied, "permission denied")
			}
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return handler(ContextWithClaims(ctx, o.Claims), req)
	}
}

// StreamServerInterceptor authenticates streams with TryAuth. A failed
// handshake gets a bare Unauthenticated status with no reason attached.
func (g *Gate) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		claims, ok := g.TryAuth(ss.Context(), tokenFromMetadata(ss.Context()))
		if !ok {
			return status.Error(codes.Unauthenticated, "")
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ContextWithClaims(ss.Context(), claims)})
	}
}

func tokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(metadataAuthorization)
	if len(values) == 0 {
		return ""
	}
	return ExtractBearerToken(values[0])
}

// wrappedServerStream overrides Context so handlers see the claims.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
