// Package realtime is the CLI side of the realtime channel: it opens an
// authenticated gRPC stream, joins project rooms and relays events.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/plotroom/internal/common"
	pb "github.com/dmitrijs2005/plotroom/internal/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event is one message received from the server.
type Event struct {
	Name string
	Data json.RawMessage
}

// Session is an open realtime stream. Send is safe for concurrent use;
// Recv must be called from a single goroutine.
type Session struct {
	stream grpc.BidiStreamingClient[structpb.Struct, structpb.Struct]
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Dial opens a plaintext connection to the realtime endpoint.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// Open starts a stream authenticated with accessToken. The stream lives
// until ctx is done or Close is called.
func Open(ctx context.Context, cc grpc.ClientConnInterface, accessToken string) (*Session, error) {
	if accessToken == "" {
		return nil, common.ErrMissingToken
	}

	ctx, cancel := context.WithCancel(ctx)
	ctx = metadata.AppendToOutgoingContext(ctx, common.AuthorizationHeaderName, common.BearerPrefix+accessToken)

	stream, err := pb.NewRealtimeClient(cc).Connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Session{stream: stream, cancel: cancel}, nil
}

// Send emits event with payload, which must marshal to JSON.
func (s *Session) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	env, err := pb.Envelope(event, data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Send(env)
}

func (s *Session) Join(projectID string) error {
	return s.Send("join-project", projectID)
}

func (s *Session) Leave(projectID string) error {
	return s.Send("leave-project", projectID)
}

// Recv blocks until the next event arrives.
func (s *Session) Recv() (Event, error) {
	msg, err := s.stream.Recv()
	if err != nil {
		return Event{}, err
	}
	name, data, err := pb.Open(msg)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: data}, nil
}

// Close half-closes the stream and cancels it.
func (s *Session) Close() error {
	s.mu.Lock()
	err := s.stream.CloseSend()
	s.mu.Unlock()
	s.cancel()
	return err
}

// Watch delivers events to fn until the stream ends. A stream closed by
// Close or by ctx is not an error.
func (s *Session) Watch(ctx context.Context, fn func(Event)) error {
	for {
		ev, err := s.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		fn(ev)
	}
}
