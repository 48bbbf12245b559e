package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/common"
	"github.com/dmitrijs2005/plotroom/internal/logging"
	"github.com/dmitrijs2005/plotroom/internal/server/ratelimit"
	"github.com/dmitrijs2005/plotroom/internal/server/realtime"
	"github.com/dmitrijs2005/plotroom/internal/server/services"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

var ada = &services.Identity{ID: "user-1", Email: "ada@example.com", Name: "Ada"}

// fakeAuth accepts the access tokens in valid and records the arguments of
// the last mutating call.
type fakeAuth struct {
	mu    sync.Mutex
	valid map[string]*services.Identity

	loginErr    error
	registerErr error
	refreshErr  error
	changeErr   error

	lastLogoutAll string
	lastLogout    string
	lastChange    [3]string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{valid: map[string]*services.Identity{"good-token": ada}}
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (*services.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.valid[token]; ok {
		return id, nil
	}
	return nil, common.ErrorUnauthorized
}

func (f *fakeAuth) Register(_ context.Context, email, password, name string) (*services.LoginResult, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &services.LoginResult{
		User:      services.UserSummary{ID: "user-2", Email: email, Name: name},
		TokenPair: services.TokenPair{AccessToken: "a2", RefreshToken: "r2"},
	}, nil
}

func (f *fakeAuth) Login(_ context.Context, email, password string) (*services.LoginResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &services.LoginResult{
		User:      services.UserSummary{ID: ada.ID, Email: email, Name: ada.Name, LastLoginAt: &now},
		TokenPair: services.TokenPair{AccessToken: "good-token", RefreshToken: "r1"},
	}, nil
}

func (f *fakeAuth) Refresh(_ context.Context, token string) (*services.TokenPair, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if token == "" {
		return nil, common.ErrorUnauthorized
	}
	return &services.TokenPair{AccessToken: "a3", RefreshToken: "r3"}, nil
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLogout = token
	return nil
}

func (f *fakeAuth) LogoutAll(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLogoutAll = userID
	return nil
}

func (f *fakeAuth) ChangePassword(_ context.Context, userID, current, next string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastChange = [3]string{userID, current, next}
	return f.changeErr
}

func (f *fakeAuth) Profile(_ context.Context, userID string) (*services.UserSummary, error) {
	if userID != ada.ID {
		return nil, common.ErrorNotFound
	}
	return &services.UserSummary{ID: ada.ID, Email: ada.Email, Name: ada.Name}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func testDeps(auth *fakeAuth, maxRequests int) Deps {
	return Deps{
		Auth:           auth,
		Hub:            realtime.NewHub(16, nopLogger{}),
		Limiter:        ratelimit.New(maxRequests, time.Minute, time.Minute, nopLogger{}),
		DB:             fakePinger{},
		AllowedOrigins: []string{"http://localhost:3000"},
		Logger:         nopLogger{},
	}
}
