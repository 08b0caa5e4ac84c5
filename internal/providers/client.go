// Package providers holds the external catalog clients (AniList, Kitsu, Jikan).
//
// Every client paces itself with a fixed inter-request delay and sits behind a
// circuit breaker so a provider that keeps failing is skipped fast instead of
// eating the rest of a run's time budget.
package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"animehub/internal/logging"
	"animehub/internal/metrics"
)

const maxErrorBody = 64 * 1024

// maxResponseBody caps a successful page; the largest real pages are a few MB.
var maxResponseBody int64 = 32 << 20

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// ErrCircuitOpen wraps gobreaker's open/half-open rejections.
var ErrCircuitOpen = errors.New("provider circuit open")

var ErrResponseTooLarge = errors.New("provider response too large")

type Option func(*httpClient)

func WithHTTPClient(c *http.Client) Option {
	return func(h *httpClient) { h.http = c }
}

func WithBaseURL(u string) Option {
	return func(h *httpClient) { h.baseURL = u }
}

// WithRequestDelay sets the fixed pause between two requests. Zero disables pacing.
func WithRequestDelay(d time.Duration) Option {
	return func(h *httpClient) { h.delay = d }
}

// WithBreaker overrides how many consecutive failures open the breaker and how long it stays open.
func WithBreaker(failures uint32, openFor time.Duration) Option {
	return func(h *httpClient) {
		h.breakerFailures = failures
		h.breakerTimeout = openFor
	}
}

type httpClient struct {
	name    string
	baseURL string
	http    *http.Client
	delay   time.Duration

	breakerFailures uint32
	breakerTimeout  time.Duration

	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
}

func newHTTPClient(name, baseURL string, delay time.Duration, opts ...Option) *httpClient {
	h := &httpClient{
		name:            name,
		baseURL:         baseURL,
		http:            &http.Client{Timeout: 20 * time.Second},
		delay:           delay,
		breakerFailures: 5,
		breakerTimeout:  time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}

	limit := rate.Inf
	if h.delay > 0 {
		limit = rate.Every(h.delay)
	}
	h.limiter = rate.NewLimiter(limit, 1)

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	h.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     h.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= h.breakerFailures
		},
		IsSuccessful: func(err error) bool {
			// a cancelled run says nothing about the provider
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).
				Msg("[providers] circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return h
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// do waits for the limiter, sends the request through the breaker and decodes
// a 2xx JSON body into out.
func (h *httpClient) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error), out any) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", h.name, err)
	}

	start := time.Now()
	body, err := h.cb.Execute(func() ([]byte, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: build request: %w", h.name, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := h.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: request: %w", h.name, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Provider: h.name, StatusCode: resp.StatusCode, Body: readBodyForError(resp.Body)}
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
		if err != nil {
			return nil, fmt.Errorf("%s: read body: %w", h.name, err)
		}
		if int64(len(b)) > maxResponseBody {
			return nil, fmt.Errorf("%s: %w (over %d bytes)", h.name, ErrResponseTooLarge, maxResponseBody)
		}
		return b, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.ProviderRequests.WithLabelValues(h.name, "rejected").Inc()
		return fmt.Errorf("%s: %w", h.name, ErrCircuitOpen)
	}
	metrics.ObserveProvider(h.name, start, err)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode: %w", h.name, err)
	}
	return nil
}

func (h *httpClient) postJSON(ctx context.Context, path string, payload any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: encode payload: %w", h.name, err)
	}
	return h.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

func (h *httpClient) getJSON(ctx context.Context, rawURL string, out any) error {
	return h.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	}, out)
}

func readBodyForError(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return fmt.Sprintf("(read body: %v)", err)
	}
	return string(bytes.TrimSpace(b))
}

func intPtr(v int) *int { return &v }
