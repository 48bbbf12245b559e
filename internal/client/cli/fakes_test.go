package cli

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/dmitrijs2005/plotroom/internal/client/api"
	"github.com/dmitrijs2005/plotroom/internal/client/realtime"
)

type fakeAPI struct {
	tokens api.Tokens

	loginEmail, loginPass string
	regName               string
	loginErr              error
	refreshErr            error
	pingErr               error
	changed               [2]string
	refreshes             int
	logoutCalls           int
}

func (f *fakeAPI) session(email string) *api.Session {
	f.tokens = api.Tokens{AccessToken: "access", RefreshToken: "refresh"}
	return &api.Session{User: api.User{ID: "u1", Email: email, Name: "Ada"}, Tokens: f.tokens}
}

func (f *fakeAPI) Register(_ context.Context, email, password, name string) (*api.Session, error) {
	f.loginEmail, f.loginPass, f.regName = email, password, name
	return f.session(email), nil
}
func (f *fakeAPI) Login(_ context.Context, email, password string) (*api.Session, error) {
	f.loginEmail, f.loginPass = email, password
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.session(email), nil
}
func (f *fakeAPI) Logout(context.Context) error {
	f.logoutCalls++
	f.tokens = api.Tokens{}
	return nil
}
func (f *fakeAPI) LogoutAll(context.Context) error {
	f.tokens = api.Tokens{}
	return nil
}
func (f *fakeAPI) ChangePassword(_ context.Context, current, next string) error {
	f.changed = [2]string{current, next}
	f.tokens = api.Tokens{}
	return nil
}
func (f *fakeAPI) Me(context.Context) (*api.User, error) {
	return &api.User{ID: "u1", Email: "ada@example.com", Name: "Ada"}, nil
}
func (f *fakeAPI) Status(context.Context) (*api.Status, error) {
	if f.tokens.AccessToken == "" {
		return &api.Status{}, nil
	}
	return &api.Status{Authenticated: true, User: &api.User{Email: "ada@example.com"}}, nil
}
func (f *fakeAPI) Ping(context.Context) error { return f.pingErr }
func (f *fakeAPI) Refresh(context.Context) error {
	f.refreshes++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.tokens.AccessToken = "fresh-access"
	return nil
}
func (f *fakeAPI) Tokens() api.Tokens { return f.tokens }
func (f *fakeAPI) LoggedIn() bool     { return f.tokens.RefreshToken != "" }

// fakeStream records outbound calls and lets tests push inbound events.
type fakeStream struct {
	mu     sync.Mutex
	sent   []string
	events chan realtime.Event
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan realtime.Event, 8)}
}

func (s *fakeStream) record(v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, v)
	return nil
}
func (s *fakeStream) Join(p string) error  { return s.record("join " + p) }
func (s *fakeStream) Leave(p string) error { return s.record("leave " + p) }
func (s *fakeStream) Send(event string, payload any) error {
	m, _ := payload.(map[string]any)
	return s.record("send " + event + " " + m["projectId"].(string))
}
func (s *fakeStream) Watch(ctx context.Context, fn func(realtime.Event)) error {
	for {
		select {
		case e, ok := <-s.events:
			if !ok {
				return nil
			}
			fn(e)
		case <-ctx.Done():
			return nil
		}
	}
}
func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}
func (s *fakeStream) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// syncBuffer is a bytes.Buffer safe to write from the event goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestApp(t *testing.T, f *fakeAPI, s *fakeStream) (*App, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	a := &App{api: f, reader: bufio.NewReader(strings.NewReader("")), out: out}
	a.openStream = func(_ context.Context, token string) (stream, error) {
		if token == "" {
			return nil, io.ErrUnexpectedEOF
		}
		return s, nil
	}
	t.Cleanup(a.closeStream)
	return a, out
}

func stubInputs(t *testing.T, text []string, passwords ...string) {
	t.Helper()
	origST, origGP := getSimpleText, getPassword
	getSimpleText = func(_ *bufio.Reader, _ string, _ io.Writer) (string, error) {
		v := text[0]
		text = text[1:]
		return v, nil
	}
	getPassword = func(_ io.Writer) ([]byte, error) {
		v := passwords[0]
		passwords = passwords[1:]
		return []byte(v), nil
	}
	t.Cleanup(func() {
		getSimpleText = origST
		getPassword = origGP
	})
}
