package cli

import (
	"bufio"
	"context"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/client/api"
	"github.com/dmitrijs2005/plotroom/internal/client/config"
	"github.com/dmitrijs2005/plotroom/internal/client/realtime"
	"google.golang.org/grpc"
)

type Mode string

const onlineCheckInterval = 5 * time.Second

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// APIClient is the REST surface the CLI uses.
type APIClient interface {
	Register(ctx context.Context, email, password, name string) (*api.Session, error)
	Login(ctx context.Context, email, password string) (*api.Session, error)
	Logout(ctx context.Context) error
	LogoutAll(ctx context.Context) error
	ChangePassword(ctx context.Context, current, next string) error
	Me(ctx context.Context) (*api.User, error)
	Status(ctx context.Context) (*api.Status, error)
	Ping(ctx context.Context) error
	Refresh(ctx context.Context) error
	Tokens() api.Tokens
	LoggedIn() bool
}

// stream is what the CLI needs from an open realtime session.
type stream interface {
	Join(projectID string) error
	Leave(projectID string) error
	Send(event string, payload any) error
	Watch(ctx context.Context, fn func(realtime.Event)) error
	Close() error
}

type App struct {
	config   *config.Config
	api      APIClient
	reader   *bufio.Reader
	out      io.Writer
	userName string
	Mode     Mode

	// openStream is a seam for tests.
	openStream func(ctx context.Context, token string) (stream, error)

	mu      sync.Mutex
	stream  stream
	project string
}

func NewApp(c *config.Config) (*App, error) {
	conn, err := realtime.Dial(c.GRPCAddr)
	if err != nil {
		return nil, err
	}

	a := &App{
		config: c,
		api:    api.New(c.ServerURL, c.RequestTimeout),
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}
	a.openStream = func(ctx context.Context, token string) (stream, error) {
		return openRealtime(ctx, conn, token)
	}
	return a, nil
}

func openRealtime(ctx context.Context, conn grpc.ClientConnInterface, token string) (stream, error) {
	s, err := realtime.Open(ctx, conn, token)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *App) setMode(mode Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Mode != mode {
		a.Mode = mode
		log.Printf("Switched to %s mode\n", mode)
	}
}

func (a *App) Run(ctx context.Context) {
	defer a.closeStream()
	a.Root(ctx)
}

func (a *App) isLoggedIn() bool {
	return a.api.LoggedIn()
}

// StartOnlineStatusWatcher probes the readiness endpoint every interval and
// switches Mode accordingly.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := a.api.Ping(ctx)
			cancel()

			if err != nil {
				a.setMode(ModeOffline)
			} else {
				a.setMode(ModeOnline)
			}

		case <-ctx.Done():
			return
		}
	}
}
