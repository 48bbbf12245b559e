// Package api is a small client for the plotroom REST API. It keeps the
// current token pair and transparently refreshes an expired access token
// once per call.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Tokens is the pair handed out by login, register and refresh.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

type Session struct {
	User User `json:"user"`
	Tokens
}

type Status struct {
	Authenticated bool  `json:"authenticated"`
	User          *User `json:"user,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client

	now func() time.Time

	mu     sync.Mutex
	tokens Tokens
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// Tokens returns the current token pair.
func (c *Client) Tokens() Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

func (c *Client) setTokens(t Tokens) {
	c.mu.Lock()
	c.tokens = t
	c.mu.Unlock()
}

func (c *Client) LoggedIn() bool {
	return c.Tokens().RefreshToken != ""
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", common.BearerPrefix+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb struct {
			Error      string `json:"error"`
			RetryAfter int    `json:"retryAfter"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error == "" {
			eb.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: eb.Error, RetryAfter: eb.RetryAfter}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// authorized sends a request with the access token and, when the server
// rejects it, refreshes the pair and tries once more.
func (c *Client) authorized(ctx context.Context, method, path string, in, out any) error {
	t := c.Tokens()
	if t.RefreshToken == "" {
		return ErrNotLoggedIn
	}

	err := c.do(ctx, method, path, t.AccessToken, in, out)
	if StatusOf(err) != http.StatusUnauthorized {
		return err
	}

	if err := c.Refresh(ctx); err != nil {
		return err
	}
	return c.do(ctx, method, path, c.Tokens().AccessToken, in, out)
}

// accessExpired reports whether the access token's exp claim has passed.
// The signature is not checked; the server remains the judge. A token
// without a readable exp counts as live.
func (c *Client) accessExpired(token string) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return false
	}
	return !c.now().Before(claims.ExpiresAt.Time)
}

// authorizedOnce refreshes an expired access token up front and then sends
// the request exactly once. It serves calls whose 401 can mean rejected
// input rather than a stale token.
func (c *Client) authorizedOnce(ctx context.Context, method, path string, in, out any) error {
	t := c.Tokens()
	if t.RefreshToken == "" {
		return ErrNotLoggedIn
	}
	if c.accessExpired(t.AccessToken) {
		if err := c.Refresh(ctx); err != nil {
			return err
		}
	}
	return c.do(ctx, method, path, c.Tokens().AccessToken, in, out)
}

func (c *Client) Register(ctx context.Context, email, password, name string) (*Session, error) {
	var s Session
	in := map[string]string{"email": email, "password": password, "name": name}
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", in, &s); err != nil {
		return nil, err
	}
	c.setTokens(s.Tokens)
	return &s, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	in := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", in, &s); err != nil {
		return nil, err
	}
	c.setTokens(s.Tokens)
	return &s, nil
}

// Refresh exchanges the refresh token for a new pair. A rejected refresh
// drops the stored pair.
func (c *Client) Refresh(ctx context.Context) error {
	t := c.Tokens()
	if t.RefreshToken == "" {
		return ErrNotLoggedIn
	}

	var next Tokens
	err := c.do(ctx, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": t.RefreshToken}, &next)
	if err != nil {
		if StatusOf(err) == http.StatusUnauthorized {
			c.setTokens(Tokens{})
		}
		return err
	}
	c.setTokens(next)
	return nil
}

// Logout revokes the current session. The local pair is dropped even when
// the server cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	t := c.Tokens()
	c.setTokens(Tokens{})
	if t.RefreshToken == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/auth/logout", "", map[string]string{"refreshToken": t.RefreshToken}, nil)
}

func (c *Client) LogoutAll(ctx context.Context) error {
	if err := c.authorized(ctx, http.MethodPost, "/auth/logout-all", nil, nil); err != nil {
		return err
	}
	c.setTokens(Tokens{})
	return nil
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	in := map[string]string{"currentPassword": current, "newPassword": next}
	// a wrong current password is also a 401
	if err := c.authorizedOnce(ctx, http.MethodPost, "/auth/change-password", in, nil); err != nil {
		return err
	}
	c.setTokens(Tokens{})
	return nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct {
		User *User `json:"user"`
	}
	if err := c.authorized(ctx, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, errors.New("empty profile response")
	}
	return out.User, nil
}

// Status asks the server whether the current access token is accepted.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.do(ctx, http.MethodGet, "/auth/status", c.Tokens().AccessToken, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Ping checks the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", "", nil, nil)
}
