package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/goliatone/go-collection-cache/cache"
)

// RequestIDHeader carries the id generated for every request.
const RequestIDHeader = "X-Request-ID"

// maxBodySize caps how much of a response body is read.
const maxBodySize = 16 << 20

var errUpstream = errors.New("upstream server error")

// Client talks to an API answering with the {ok, data} | {ok: false, error}
// envelope. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*response]
	headers map[string]string
	logger  zerolog.Logger
}

type response struct {
	status int
	body   []byte
}

type envelope struct {
	OK    *bool           `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the http.Client built from Config.Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client from cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, &ConfigError{Field: "BaseURL", Message: err.Error()}
	}

	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		headers: cfg.Headers,
		logger:  zerolog.Nop(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(base.Host, cfg.Breaker, c.logger)
	}
	return c, nil
}

func newBreaker(name string, cfg BreakerConfig, logger zerolog.Logger) *gobreaker.CircuitBreaker[*response] {
	return gobreaker.NewCircuitBreaker[*response](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
}

// Do sends one request and returns the data member of a successful envelope.
// Transport failures are NetworkErrors; everything else that is not
// {ok: true} is a ServerRejection.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, cache.NewNetworkError(err, "request rate limit wait aborted")
		}
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("transport: encode %s %s body: %w", method, path, err)
		}
	}

	requestID := uuid.NewString()
	started := time.Now()
	resp, err := c.execute(func() (*response, error) {
		return c.roundTrip(ctx, method, path, query, payload, requestID)
	})

	event := c.logger.Debug()
	if err != nil {
		event = c.logger.Warn().Err(err)
	}
	status := 0
	if resp != nil {
		status = resp.status
	}
	event.Str("method", method).Str("path", path).Str("request_id", requestID).
		Int("status", status).Dur("duration", time.Since(started)).Msg("api request")

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, cache.NewNetworkError(err, "upstream unavailable, circuit open")
	case errors.Is(err, errUpstream):
		return decode(resp)
	case err != nil:
		return nil, err
	}
	return decode(resp)
}

func (c *Client) execute(fn func() (*response, error)) (*response, error) {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte, requestID string) (*response, error) {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, cache.NewNetworkError(err, "")
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, cache.NewNetworkError(err, "failed to read response body")
	}

	out := &response{status: res.StatusCode, body: data}
	if res.StatusCode >= http.StatusInternalServerError {
		return out, errUpstream
	}
	return out, nil
}

func decode(resp *response) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return nil, cache.NewMalformedEnvelope(err, resp.status)
	}
	if env.OK == nil {
		return nil, cache.NewMalformedEnvelope(errors.New("missing ok member"), resp.status)
	}
	if !*env.OK {
		msg := ""
		if env.Error != nil {
			msg = env.Error.Message
		}
		return nil, cache.NewServerRejection(msg, resp.status)
	}
	if resp.status >= http.StatusBadRequest {
		return nil, cache.NewServerRejection("", resp.status)
	}
	return env.Data, nil
}
