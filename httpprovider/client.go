package httpprovider

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/jonwraymond/provmux/provider"
)

// Config configures a Client.
type Config struct {
	// CompletePath is appended to the provider address for Execute.
	// Default: /v1/complete
	CompletePath string `yaml:"complete_path"`

	// StreamPath is appended to the provider address for Stream.
	// Default: /v1/stream
	StreamPath string `yaml:"stream_path"`

	// HealthPath is appended to the provider address for Probe.
	// Default: /health
	HealthPath string `yaml:"health_path"`

	// Headers are set on every request, e.g. an Authorization header.
	Headers map[string]string `yaml:"headers"`

	// MaxErrorBody bounds how much of an error body is read.
	// Default: 64 KiB
	MaxErrorBody int64 `yaml:"max_error_body"`

	// MaxLineSize bounds one streamed line.
	// Default: 1 MiB
	MaxLineSize int `yaml:"max_line_size"`
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Per-attempt timeouts come
// from the request context, so the client needs no Timeout of its own.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client executes, streams and probes HTTP providers. It is safe for
// concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.CompletePath == "" {
		cfg.CompletePath = "/v1/complete"
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = "/v1/stream"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}
	if cfg.MaxErrorBody <= 0 {
		cfg.MaxErrorBody = 64 << 10
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = 1 << 20
	}
	c := &Client{
		cfg: cfg,
		http: &http.Client{Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 32,
			IdleConnTimeout:     90 * time.Second,
		}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the body sent for requests without a Payload.
type envelope struct {
	ID     string         `json:"id,omitempty"`
	Model  string         `json:"model,omitempty"`
	Prompt string         `json:"prompt"`
	Params map[string]any `json:"params,omitempty"`
	Stream bool           `json:"stream,omitempty"`
}

// reply is the optional structure of a response body or stream line.
type reply struct {
	Content  *string           `json:"content"`
	Model    string            `json:"model"`
	Metadata map[string]string `json:"metadata"`
	Done     bool              `json:"done"`
	Error    string            `json:"error"`
}

func (c *Client) newRequest(ctx context.Context, method string, p provider.Provider, path string, req *provider.Request, stream bool) (*http.Request, error) {
	var body io.Reader
	if req != nil {
		raw := req.Payload
		if len(raw) == 0 {
			var err error
			raw, err = json.Marshal(envelope{ID: req.ID, Model: req.Model, Prompt: req.Prompt, Params: req.Params, Stream: stream})
			if err != nil {
				return nil, provider.Permanent(fmt.Errorf("marshal request: %w", err))
			}
		}
		body = bytes.NewReader(raw)
	}

	url := strings.TrimSuffix(p.Address, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, provider.Permanent(fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req != nil && req.ID != "" {
		httpReq.Header.Set("X-Request-ID", req.ID)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// do sends httpReq and returns the response when its status is 2xx.
func (c *Client) do(ctx context.Context, p provider.Provider, httpReq *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, provider.Transient(fmt.Errorf("httpprovider: %s: %w", p.ID, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxErrorBody))
		return nil, MapStatus(p.ID, resp.StatusCode, body)
	}
	return resp, nil
}

// Execute posts req to the provider's complete endpoint.
func (c *Client) Execute(ctx context.Context, p provider.Provider, req provider.Request) (*provider.Response, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, p, c.cfg.CompletePath, &req, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, p, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, provider.Transient(fmt.Errorf("httpprovider: %s: read response: %w", p.ID, err))
	}

	out := &provider.Response{ProviderID: p.ID, Model: req.Model, Content: body}
	var r reply
	if json.Unmarshal(body, &r) == nil && r.Content != nil {
		out.Content = []byte(*r.Content)
		out.Metadata = r.Metadata
		if r.Model != "" {
			out.Model = r.Model
		}
	}
	return out, nil
}

// Stream posts req to the provider's stream endpoint and relays every line
// of the response as a chunk. Lines may be bare JSON (NDJSON) or server-sent
// events with a "data: " prefix; "[DONE]" ends the stream.
func (c *Client) Stream(ctx context.Context, p provider.Provider, req provider.Request, send func(provider.Chunk) error) error {
	httpReq, err := c.newRequest(ctx, http.MethodPost, p, c.cfg.StreamPath, &req, true)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/x-ndjson, text/event-stream")

	resp, err := c.do(ctx, p, httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 4096), c.cfg.MaxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || bytes.HasPrefix(line, []byte(":")) || bytes.HasPrefix(line, []byte("event:")) {
			continue
		}
		line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if bytes.Equal(line, []byte("[DONE]")) {
			return nil
		}

		chunk, err := parseChunk(p.ID, line)
		if err != nil {
			return err
		}
		if err := send(chunk); err != nil {
			return err
		}
		if chunk.IsFinal {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, bufio.ErrTooLong) {
			return provider.Permanent(fmt.Errorf("httpprovider: %s: %w", p.ID, err))
		}
		return provider.Transient(fmt.Errorf("httpprovider: %s: read stream: %w", p.ID, err))
	}
	return nil
}

func parseChunk(providerID string, line []byte) (provider.Chunk, error) {
	var r reply
	if json.Unmarshal(line, &r) != nil {
		return provider.Chunk{Content: bytes.Clone(line)}, nil
	}
	if r.Error != "" {
		return provider.Chunk{}, provider.Transient(fmt.Errorf("httpprovider: %s: stream error: %s", providerID, r.Error))
	}
	chunk := provider.Chunk{IsFinal: r.Done}
	if r.Content != nil {
		chunk.Content = []byte(*r.Content)
	} else if !r.Done {
		chunk.Content = bytes.Clone(line)
	}
	return chunk, nil
}

// Probe issues a GET to the provider's health endpoint. Any 2xx status is
// healthy.
func (c *Client) Probe(ctx context.Context, p provider.Provider) error {
	httpReq, err := c.newRequest(ctx, http.MethodGet, p, c.cfg.HealthPath, nil, false)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, p, httpReq)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return fmt.Errorf("%w: %w", ErrUnhealthy, se)
		}
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.cfg.MaxErrorBody))
	return resp.Body.Close()
}

var (
	_ provider.ExecuteFunc = (*Client)(nil).Execute
	_ provider.StreamFunc  = (*Client)(nil).Stream
	_ provider.ProbeFunc   = (*Client)(nil).Probe
)
