package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"galley/internal/services"
)

const (
	runScriptPath      = "/run-script"
	defaultHTTPTimeout = 10 * time.Minute
	maxErrorBody       = 4 << 10
)

// Client calls scripts on a single rendering endpoint.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout bounds each script call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient constructs a client for the endpoint at baseURL.
func NewClient(name, baseURL string, opts ...Option) *Client {
	client := &Client{
		name:       name,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Name identifies the endpoint.
func (c *Client) Name() string { return c.name }

type scriptRequest struct {
	Script string   `json:"script"`
	Args   []string `json:"args"`
}

type scriptResponse struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Result       string `json:"result"`
}

// RunScript executes script with args and returns its result. A non-zero
// error code comes back as *services.RemoteError with the endpoint's message.
func (c *Client) RunScript(ctx context.Context, script string, args []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := json.Marshal(scriptRequest{Script: script, Args: args})
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", script, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+runScriptPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", script, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", services.Wrap(services.ErrTransient, "render", script, fmt.Sprintf("endpoint %s unreachable", c.name), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &services.RemoteError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("endpoint %s returned http %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}
	var decoded scriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", services.Wrap(services.ErrRemote, "render", script, fmt.Sprintf("endpoint %s sent an unreadable response", c.name), err)
	}
	if decoded.ErrorCode != 0 {
		return "", &services.RemoteError{Code: decoded.ErrorCode, Message: decoded.ErrorMessage}
	}
	return decoded.Result, nil
}

// Ping checks that the endpoint accepts connections and is not failing.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+runScriptPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("endpoint %s unreachable: %w", c.name, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("endpoint %s unhealthy: http %d", c.name, resp.StatusCode)
	}
	return nil
}
