package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/plotroom/internal/logging"
	pb "github.com/dmitrijs2005/plotroom/internal/proto"
	"github.com/dmitrijs2005/plotroom/internal/server/realtime"
	"github.com/dmitrijs2005/plotroom/internal/server/services"
	"google.golang.org/grpc"
)

// Authenticator turns an access token into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*services.Identity, error)
}

type GRPCServer struct {
	pb.UnimplementedRealtimeServer
	address string
	auth    Authenticator
	hub     *realtime.Hub
	logger  logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, auth Authenticator, hub *realtime.Hub) *GRPCServer {
	return &GRPCServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		auth:    auth,
		hub:     hub,
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainStreamInterceptor(s.accessTokenInterceptor))
	pb.RegisterRealtimeServer(srv, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gPRC server...")
		// open realtime streams never finish on their own
		s.hub.Close(context.WithoutCancel(ctx))
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
