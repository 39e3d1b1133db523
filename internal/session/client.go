package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sendgrid/rest"

	"simjur/internal/model"
)

// Session is the login and refresh response of the SIMJUR API.
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	User      model.User `json:"user"`
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("simjur api: %d %s", e.StatusCode, e.Message)
}

// Client talks to the SIMJUR API and keeps the session in a Store.
type Client struct {
	baseURL string
	http    *rest.Client
	store   Store
}

// NewClient creates a Client for baseURL. A nil httpClient uses the default.
func NewClient(baseURL string, httpClient *http.Client, store Store) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &rest.Client{HTTPClient: httpClient},
		store:   store,
	}
}

func (c *Client) do(ctx context.Context, method rest.Method, path, token string, in, out any) error {
	req := rest.Request{
		Method:  method,
		BaseURL: c.baseURL + path,
		Headers: map[string]string{"Accept": "application/json"},
	}
	if token != "" {
		req.Headers["Authorization"] = "Bearer " + token
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		req.Body = body
		req.Headers["Content-Type"] = "application/json"
	}

	resp, err := c.http.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var body struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal([]byte(resp.Body), &body) == nil && body.Error != "" {
			apiErr.Message, apiErr.Code = body.Error, body.Code
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal([]byte(resp.Body), out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func (c *Client) token() (string, error) {
	token, err := c.store.Get(KeyAuthToken)
	if err != nil || token != "" {
		return token, err
	}
	return c.store.Get(KeyToken)
}

func (c *Client) save(s *Session) error {
	user, err := json.Marshal(s.User)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}
	return c.store.Set(map[string]string{
		KeyAuthToken: s.Token,
		KeyToken:     s.Token,
		KeyUserData:  string(user),
	})
}

// Login authenticates and persists the new session.
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	var s Session
	in := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, rest.Post, "/v1/auth/login", "", in, &s); err != nil {
		return nil, err
	}
	if err := c.save(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Refresh exchanges token for a new one. It implements Refresher; the
// Lifecycle persists the result.
func (c *Client) Refresh(ctx context.Context, token string) (string, error) {
	var s Session
	if err := c.do(ctx, rest.Post, "/v1/auth/refresh", token, nil, &s); err != nil {
		return "", err
	}
	if s.Token == "" {
		return "", fmt.Errorf("refresh returned no token")
	}
	return s.Token, nil
}

// Me returns the logged in user.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := c.do(ctx, rest.Get, "/v1/auth/me", token, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ChangePassword changes the logged in user's password.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	in := map[string]string{"old_password": oldPassword, "new_password": newPassword}
	return c.do(ctx, rest.Post, "/v1/auth/password", token, in, nil)
}

// Logout revokes the token on the server and clears local state even if
// the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	var callErr error
	if token != "" {
		callErr = c.do(ctx, rest.Post, "/v1/auth/logout", token, nil, nil)
	}
	if err := c.store.Delete(AllKeys...); err != nil {
		return err
	}
	return callErr
}

var _ Refresher = (*Client)(nil)
