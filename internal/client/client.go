// Package client talks to the /api endpoint on behalf of a signed-in user.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/pondok-erp/pondok-erp/internal/api"
	"github.com/pondok-erp/pondok-erp/internal/menu"
	"github.com/pondok-erp/pondok-erp/internal/rbac"
	"github.com/pondok-erp/pondok-erp/internal/session"
)

// ErrNoToken is returned by calls that need a signed-in user.
var ErrNoToken = errors.New("client: not logged in")

// APIError carries the status and message of a failed /api call.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Options tunes the HTTP client.
type Options struct {
	Timeout time.Duration
	Token   string
}

// Client is a typed wrapper over the multiplexed /api endpoint.
type Client struct {
	http  *resty.Client
	token string
}

// New constructs a Client for the server at baseURL.
func New(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{http: rc, token: opts.Token}
}

// Token returns the held session token.
func (c *Client) Token() string { return c.token }

// SetToken replaces the held session token.
func (c *Client) SetToken(token string) { c.token = token }

// LoginResult is the server answer to a successful login.
type LoginResult struct {
	Token string           `json:"token"`
	User  session.Snapshot `json:"user"`
}

// Login signs in and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"username": username, "password": password}
	if err := c.call(ctx, http.MethodPost, "login", nil, body, &out); err != nil {
		return LoginResult{}, err
	}
	c.token = out.Token
	return out, nil
}

// Logout revokes the held token and forgets it.
func (c *Client) Logout(ctx context.Context) error {
	if c.token == "" {
		return ErrNoToken
	}
	body := map[string]string{"token": c.token}
	if err := c.call(ctx, http.MethodPost, "logout", nil, body, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// Sessions lists every session record. It satisfies session.Lister.
func (c *Client) Sessions(ctx context.Context) ([]session.Session, error) {
	var out []session.Session
	if err := c.call(ctx, http.MethodGet, "sessions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Revoke ends another user's session.
func (c *Client) Revoke(ctx context.Context, token string) error {
	body := map[string]string{"token": token}
	return c.call(ctx, http.MethodPost, "revoke_session", nil, body, nil)
}

// Resolve asks what the signed-in user may do on routePath.
func (c *Client) Resolve(ctx context.Context, routePath string) (rbac.Capabilities, error) {
	var out rbac.Capabilities
	if c.token == "" {
		return out, ErrNoToken
	}
	err := c.call(ctx, http.MethodGet, "permissions", map[string]string{"path": routePath}, nil, &out)
	return out, err
}

// Menu returns the navigation tree visible to the signed-in user.
func (c *Client) Menu(ctx context.Context) ([]menu.Node, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}
	var out []menu.Node
	if err := c.call(ctx, http.MethodGet, "menu", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method, action string, query map[string]string, body, out any) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("action", action).
		SetQueryParams(query).
		SetError(&apiErr)
	if c.token != "" {
		req.SetHeader(api.TokenHeader, c.token)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, api.Path)
	if err != nil {
		return fmt.Errorf("client: %s: %w", action, err)
	}
	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Message: apiErr.Error}
	}
	return nil
}
