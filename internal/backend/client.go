package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	restPrefix = "/rest/v1/"

	defaultTimeout = 20 * time.Second

	// maxErrorBody bounds the body excerpt kept in StatusError.
	maxErrorBody = 512

	// maxResponseBody bounds how much of a success body is decoded.
	maxResponseBody = 4 << 20
)

var validate = validator.New()

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// staticToken sends the API key itself as the bearer, like an anonymous
// client.
type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

// Logger defines the logging interface used by the Client.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Config configures a Client.
type Config struct {
	// URL is the project base URL, without the /rest/v1 suffix.
	URL string

	// APIKey is sent as the apikey header on every request.
	APIKey string

	// Timeout bounds each request. Zero uses 20s. Ignored if HTTPClient is set.
	Timeout time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	// Tokens supplies the bearer token. Nil sends the API key.
	Tokens TokenSource

	Logger Logger
}

// Client talks to the backend REST surface.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	tokens  TokenSource
	logger  Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("%w: url: %w", ErrInvalidConfig, err)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrInvalidConfig)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens = staticToken(cfg.APIKey)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http:    httpClient,
		tokens:  tokens,
		logger:  logger,
	}, nil
}

// request describes one REST call.
type request struct {
	method string
	table  string
	query  url.Values
	body   any
	prefer string
}

// do performs req and decodes a 2xx JSON body into out.
func (c *Client) do(ctx context.Context, req request, out any) error {
	endpoint := c.baseURL + restPrefix + req.table
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtaining bearer token: %w", err)
	}

	requestID := uuid.NewString()
	httpReq.Header.Set("apikey", c.apiKey)
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.prefer != "" {
		httpReq.Header.Set("Prefer", req.prefer)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrNetwork, req.method, req.table, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		"method", req.method,
		"table", req.table,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // Diagnostic only
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: reading %s: %w", ErrNetwork, req.table, err)
		}
		return fmt.Errorf("%w: decoding %s: %w", ErrInvalidResponse, req.table, err)
	}
	return nil
}
