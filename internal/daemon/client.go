package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jcdickinson/cratedoc/internal/rpc"
)

// Client talks to a running daemon over its unix socket.
type Client struct {
	socketPath string
	httpClient *http.Client
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return net.Dial("unix", socketPath)
				},
			},
			Timeout: 10 * time.Minute, // builds of large workspaces can be slow
		},
	}
}

// ConnectOrSpawn tries to connect to the daemon, spawning it with args if
// necessary.
func ConnectOrSpawn(socketPath string, args ...string) (*Client, error) {
	client := NewClient(socketPath)

	if client.IsAvailable() {
		return client, nil
	}

	if err := Spawn(args...); err != nil {
		return nil, fmt.Errorf("spawning daemon: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if client.IsAvailable() {
			return client, nil
		}
	}

	return nil, fmt.Errorf("daemon did not start within 5 seconds")
}

// IsAvailable reports whether something is listening on the socket.
func (c *Client) IsAvailable() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Build streams a build of req, reporting each progress line to onProgress.
// The returned error carries the daemon's message when the build failed.
func (c *Client) Build(ctx context.Context, req rpc.BuildRequest, onProgress func(rpc.ProgressLine)) (*rpc.BuildResult, error) {
	resp, err := c.request(ctx, http.MethodPost, "/build", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result *rpc.BuildResult
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var line rpc.ProgressLine
		if err := dec.Decode(&line); err != nil {
			return nil, fmt.Errorf("decoding progress: %w", err)
		}
		switch line.Type {
		case "progress":
			if onProgress != nil {
				onProgress(line)
			}
		case "result":
			result = line.Result
		}
	}
	if result == nil {
		return nil, fmt.Errorf("build stream ended without a result")
	}
	if result.Error != "" {
		return result, fmt.Errorf("build failed: %s", result.Error)
	}
	return result, nil
}

// GetDoc renders the page of one item.
func (c *Client) GetDoc(ctx context.Context, req rpc.GetDocRequest) (*rpc.GetDocResponse, error) {
	var resp rpc.GetDocResponse
	err := c.call(ctx, http.MethodPost, "/get-doc", req, &resp)
	return &resp, err
}

func (c *Client) Lookup(ctx context.Context, req rpc.LookupRequest) (*rpc.LookupResponse, error) {
	var resp rpc.LookupResponse
	err := c.call(ctx, http.MethodPost, "/lookup", req, &resp)
	return &resp, err
}

// Status reports the pipeline state and the crates of the current build.
func (c *Client) Status(ctx context.Context) (*rpc.StatusResponse, error) {
	var resp rpc.StatusResponse
	if err := c.call(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearCache drops the current build, its snapshots and stored pages. The
// crate set is kept.
func (c *Client) ClearCache(ctx context.Context) error {
	var resp map[string]string
	return c.call(ctx, http.MethodPost, "/clear-cache", nil, &resp)
}

func (c *Client) Shutdown(ctx context.Context) error {
	var resp map[string]string
	return c.call(ctx, http.MethodPost, "/shutdown", nil, &resp)
}

// call sends body as JSON and decodes the JSON reply into result.
func (c *Client) call(ctx context.Context, method, path string, body, result any) error {
	resp, err := c.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// request returns the response of a successful call; any other status is
// turned into an error holding the daemon's message.
func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return resp, nil
}
