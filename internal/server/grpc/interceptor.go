package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/dmitrijs2005/plotroom/internal/common"
	pb "github.com/dmitrijs2005/plotroom/internal/proto"
	"github.com/dmitrijs2005/plotroom/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const identityKey ctxKey = "identity"

func identityFromContext(ctx context.Context) (*services.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*services.Identity)
	return id, ok && id != nil
}

// authenticatedStream overrides the stream context with one carrying the
// caller's identity.
type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context {
	return s.ctx
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(common.AuthorizationHeaderName)
	if len(values) == 0 {
		return ""
	}
	token, ok := strings.CutPrefix(values[0], common.BearerPrefix)
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *GRPCServer) accessTokenInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {

	if info.FullMethod == pb.Realtime_Connect_FullMethodName {

		ctx := ss.Context()

		accessToken := bearerFromMetadata(ctx)
		if len(accessToken) == 0 {
			return status.Error(codes.Unauthenticated, "missing token")
		}

		id, err := s.auth.Authenticate(ctx, accessToken)
		if err != nil {
			if errors.Is(err, common.ErrorUnauthorized) || errors.Is(err, common.ErrInvalidToken) {
				return status.Error(codes.Unauthenticated, "authentication failed")
			}
			s.logger.Error(ctx, "authenticate stream", "error", err)
			return status.Error(codes.Internal, "internal error")
		}

		ss = &authenticatedStream{ServerStream: ss, ctx: context.WithValue(ctx, identityKey, id)}
	}

	return handler(srv, ss)
}
