package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Ensure Client implements both service interfaces at compile time.
var (
	_ TaskService = (*Client)(nil)
	_ Invoker     = (*Client)(nil)
)

const (
	defaultUserAgent = "stylesync/0.1"
	defaultTimeout   = 30 * time.Second
)

// Client talks to the styling backend over HTTP JSON.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	routes    map[RequestType]string
	userAgent string
}

// NewClient builds a Client for baseURL. routes maps each request type to the
// endpoint Invoke posts to.
func NewClient(baseURL string, routes map[RequestType]string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("remote: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("remote: base url %q must be absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := make(map[RequestType]string, len(routes))
	for k, v := range routes {
		r[k] = v
	}
	return &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
		routes:    r,
		userAgent: defaultUserAgent,
	}, nil
}

// Submit creates a remote job and returns its task id.
func (c *Client) Submit(ctx context.Context, endpoint string, params json.RawMessage) (string, error) {
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, endpoint, params, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("remote: submit %s: response missing taskId", endpoint)
	}
	return out.TaskID, nil
}

// Status fetches the job status for taskID. The task id is appended to the
// endpoint path.
func (c *Client) Status(ctx context.Context, endpoint, taskID string) (StatusResponse, error) {
	var out StatusResponse
	path := strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(taskID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return StatusResponse{}, err
	}
	return out, nil
}

// Invoke posts params to the endpoint routed for typ and returns the raw body.
func (c *Client) Invoke(ctx context.Context, typ RequestType, params json.RawMessage) (json.RawMessage, error) {
	endpoint, ok := c.routes[typ]
	if !ok {
		return nil, fmt.Errorf("remote: no endpoint for request type %q", typ)
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, endpoint, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body json.RawMessage, out any) error {
	rel, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("remote: parse path %q: %w", path, err)
	}
	target := c.baseURL.ResolveReference(rel)

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), rdr)
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, target.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s: %w", target.Path, err)
	}
	return nil
}
