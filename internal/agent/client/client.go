package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"everactive/internal/model"
)

// Client is the agent's HTTP client for the EverActive API. Safe for
// concurrent use; the bearer token is set once by Login.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client for the given server base URL, e.g. http://host:3000
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Token returns the current bearer token, empty before login
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login authenticates and stores the bearer token for subsequent calls
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp model.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login",
		model.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

// Register creates a new worker account
func (c *Client) Register(ctx context.Context, email, name, password string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/auth/register",
		model.RegisterRequest{Email: email, Name: name, Password: password}, nil)
}

// PushEvents submits a batch and returns the caller's currently triggered rules
func (c *Client) PushEvents(ctx context.Context, events []model.EventDTO) ([]model.Rule, error) {
	var resp model.PushEventsResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/events",
		model.PushEventsRequest{Events: events}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.TriggeredRules, nil
}

// ManagerUserData fetches the manager dashboard projection
func (c *Client) ManagerUserData(ctx context.Context) (*model.UserDataResponse, error) {
	var resp model.UserDataResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/manager/user-data", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
