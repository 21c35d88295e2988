package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Guizzs26/go-crm-sync/pkg/metrics"
	cb "github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

// ErrCircuitOpen is returned without any network I/O while the breaker is open
var ErrCircuitOpen = errors.New("provider circuit open")

// Request is a provider call described independently of the transport
type Request struct {
	Method string
	Path   string
	Body   any
}

// Response is the raw provider answer
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx answer
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Config struct {
	Name     string
	BaseURL  string
	Timeout  time.Duration
	RPS      float64
	Burst    int
	Auth     func(*http.Request)
	Failures uint32
	Cooldown time.Duration
}

// Client sends JSON requests to one external provider
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *cb.CircuitBreaker
	auth    func(*http.Request)
	logger  *slog.Logger
}

// serverError carries a 5xx through the breaker so it counts as a failure
type serverError struct {
	resp Response
}

func (e *serverError) Error() string {
	return fmt.Sprintf("provider returned %d", e.resp.StatusCode)
}

func NewClient(cfg Config, l *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}

	logger := l.With("provider", cfg.Name)
	settings := cb.Settings{
		Name:    cfg.Name,
		Timeout: cfg.Cooldown,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to cb.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("Circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	}

	return &Client{
		name:    cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: cb.NewCircuitBreaker(settings),
		auth:    cfg.Auth,
		logger:  logger,
	}
}

func (c *Client) Name() string { return c.name }

// URL resolves a request path against the provider base URL
func (c *Client) URL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Send performs req with the given idempotency key. A non-2xx answer is not an
// error; err is reserved for transport failures and ErrCircuitOpen.
func (c *Client) Send(ctx context.Context, req Request, idempotencyKey string) (Response, error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.do(ctx, req, body, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, &serverError{resp: resp}
		}
		return resp, nil
	})

	var se *serverError
	switch {
	case err == nil:
		resp := out.(Response)
		resp.Duration = time.Since(start)
		return resp, nil
	case errors.As(err, &se):
		se.resp.Duration = time.Since(start)
		return se.resp, nil
	case errors.Is(err, cb.ErrOpenState), errors.Is(err, cb.ErrTooManyRequests):
		return Response{}, fmt.Errorf("%w: %s", ErrCircuitOpen, c.name)
	default:
		return Response{Duration: time.Since(start)}, err
	}
}

func (c *Client) do(ctx context.Context, req Request, body []byte, idempotencyKey string) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.URL(req.Path), bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.auth != nil {
		c.auth(httpReq)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, req.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return Response{StatusCode: resp.StatusCode, Body: raw}, nil
}

// BasicAuth sets HTTP basic credentials
func BasicAuth(user, pass string) func(*http.Request) {
	return func(r *http.Request) {
		r.SetBasicAuth(user, pass)
	}
}

// HeaderAuth sets a static API token header
func HeaderAuth(header, token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set(header, token)
	}
}
