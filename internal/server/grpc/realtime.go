package grpc

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	pb "github.com/dmitrijs2005/plotroom/internal/proto"
	"github.com/dmitrijs2005/plotroom/internal/server/realtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var errStreamClosed = errors.New("stream closed")

// streamTransport adapts a server stream to realtime.Transport. Close waits
// for an in-flight Send so nothing is written after the handler returns.
type streamTransport struct {
	mu     sync.Mutex
	stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]
	closed bool
}

func (t *streamTransport) Send(_ context.Context, msg realtime.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errStreamClosed
	}
	env, err := pb.Envelope(msg.Event, msg.Data)
	if err != nil {
		return err
	}
	return t.stream.Send(env)
}

func (t *streamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Connect attaches the stream to the hub for as long as the client keeps
// it open.
func (s *GRPCServer) Connect(stream grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error {
	ctx := stream.Context()

	id, ok := identityFromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing identity")
	}

	client := s.hub.Attach(ctx, id.ID, &streamTransport{stream: stream})

	next := func(ctx context.Context) (realtime.Message, error) {
		for {
			in, err := stream.Recv()
			if err != nil {
				return realtime.Message{}, err
			}
			event, data, err := pb.Open(in)
			if err != nil || event == "" {
				s.hub.Reject(ctx, client, "", realtime.ErrMalformed)
				continue
			}
			return realtime.Message{Event: event, Data: data}, nil
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- s.hub.Run(ctx, client, next)
	}()

	select {
	case err := <-done:
		return streamResult(err)
	case <-client.Done():
		// Run disconnects before it returns, so a client-side close also
		// lands here first.
		select {
		case err := <-done:
			return streamResult(err)
		case <-time.After(closeGrace):
			return status.Error(codes.Unavailable, "connection closed by server")
		}
	}
}

const closeGrace = 100 * time.Millisecond

func streamResult(err error) error {
	if err == nil || errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
		return nil
	}
	return err
}
