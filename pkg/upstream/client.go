// Package upstream implements pagination fetch functions against HTTP JSON
// paging APIs, with error classification and retry.
//
// A page is requested as
//
//	GET <BaseURL>?page=N&pageSize=M[&<args>]
//
// and must answer {"total": T, "data": [...]}. Map arguments become one
// query parameter per key; any other argument value is sent JSON encoded in
// the "args" parameter.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/Sternrassler/pagestore/pkg/pagination"
	"github.com/Sternrassler/pagestore/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxErrorBody = 512

// Config holds the client configuration.
type Config struct {
	// BaseURL is the endpoint serving pages (REQUIRED)
	BaseURL string

	// UserAgent header sent with every request (REQUIRED)
	UserAgent string

	// Timeout of a single HTTP request (default 30s)
	Timeout time.Duration

	// Headers are added to every request, e.g. authorization
	Headers map[string]string

	// Retry selects the retry configuration per error class
	// (default RetryConfigForErrorClass)
	Retry RetryPolicy

	// RateLimit gates requests on the budget the upstream reports (optional)
	RateLimit *ratelimit.Tracker

	// Logger overrides the component logger
	Logger *zerolog.Logger
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		Retry:     RetryConfigForErrorClass,
	}
}

// Client requests pages from one upstream endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = RetryConfigForErrorClass
	}

	logger := log.With().Str("component", "upstream").Str("base_url", cfg.BaseURL).Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// FetchFunc returns a pagination fetch function decoding items as T.
func FetchFunc[T any](c *Client) pagination.FetchFunc[T] {
	return func(ctx context.Context, req pagination.FetchRequest) (pagination.Page[T], error) {
		var page pagination.Page[T]
		if err := c.fetch(ctx, req, &page); err != nil {
			return pagination.Page[T]{}, err
		}
		if page.Data == nil {
			page.Data = []T{}
		}
		return page, nil
	}
}

// Fetch requests one page with items kept as raw JSON.
func (c *Client) Fetch(ctx context.Context, req pagination.FetchRequest) (pagination.Page[json.RawMessage], error) {
	return FetchFunc[json.RawMessage](c)(ctx, req)
}

// pageURL builds the request URL of req.
func (c *Client) pageURL(req pagination.FetchRequest) (string, error) {
	u := *c.baseURL
	query := u.Query()
	query.Set("page", strconv.Itoa(req.Page))
	query.Set("pageSize", strconv.Itoa(req.PageSize))

	switch args := req.Args.(type) {
	case nil:
	case map[string]any:
		keys := make([]string, 0, len(args))
		for key := range args {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			query.Set(key, queryValue(args[key]))
		}
	case map[string]string:
		for key, value := range args {
			query.Set(key, value)
		}
	default:
		encoded, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("encode args: %w", err)
		}
		query.Set("args", string(encoded))
	}

	u.RawQuery = query.Encode()
	return u.String(), nil
}

func queryValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(encoded)
}

// fetch performs the request with retry and decodes the page into out.
func (c *Client) fetch(ctx context.Context, req pagination.FetchRequest, out any) error {
	target, err := c.pageURL(req)
	if err != nil {
		return err
	}

	var body []byte
	retryErr := retryWithBackoff(ctx, c.config.Retry, c.logger, func() (ErrorClass, error) {
		if c.config.RateLimit != nil {
			allowed, wait, err := c.config.RateLimit.ShouldAllowRequest(ctx)
			if err != nil {
				return "", fmt.Errorf("rate limit check: %w", err)
			}
			if !allowed {
				upstreamRequestsTotal.WithLabelValues("rate_limited").Inc()
				return "", fmt.Errorf("%w: retry in %s", ErrRateLimited, wait.Round(time.Second))
			}
		}

		start := time.Now()
		status, header, data, err := c.do(ctx, target)
		statusLabel := strconv.Itoa(status)
		if err != nil {
			statusLabel = "network_error"
		}
		upstreamRequestDuration.WithLabelValues(statusLabel).Observe(time.Since(start).Seconds())
		upstreamRequestsTotal.WithLabelValues(statusLabel).Inc()

		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			c.logger.Error().Err(err).Int("page", req.Page).Msg("HTTP request failed")
			upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return ErrorClassNetwork, &UpstreamError{
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        err,
			}
		}

		if c.config.RateLimit != nil {
			if err := c.config.RateLimit.UpdateFromResponse(ctx, status, header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
		}

		if status >= 400 {
			errClass := classifyStatus(status)
			upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
			c.logger.Warn().
				Int("page", req.Page).
				Int("status", status).
				Str("error_class", string(errClass)).
				Msg("Upstream request error")
			return errClass, &UpstreamError{
				StatusCode: status,
				ErrorClass: errClass,
				Message:    truncate(string(data), maxErrorBody),
			}
		}

		body = data
		return "", nil
	})
	if retryErr != nil {
		return retryErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !hasTotal(body) {
		return fmt.Errorf("%w: missing total", ErrInvalidResponse)
	}
	return nil
}

// do executes one GET and returns the status, headers and the whole body.
func (c *Client) do(ctx context.Context, target string) (int, http.Header, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	for key, value := range c.config.Headers {
		httpReq.Header.Set(key, value)
	}

	c.logger.Debug().Str("url", target).Msg("Executing upstream request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, resp.Header, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, resp.Header, data, nil
}

func hasTotal(body []byte) bool {
	var envelope struct {
		Total *int `json:"total"`
	}
	return json.Unmarshal(body, &envelope) == nil && envelope.Total != nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
