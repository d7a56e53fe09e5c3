// Package session provides the rate-limited HTTP client shared by the
// invocations of one fetch strategy.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

// ErrClosed is returned by requests issued after Close.
var ErrClosed = errors.New("session closed")

const defaultTimeout = 30 * time.Second

var waitSeconds = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "paperscraper_session_wait_seconds",
		Help:    "Time requests spent waiting on a session rate limiter.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	},
	[]string{"session"},
)

// Config controls a Session.
type Config struct {
	// RatePerSecond is the sustained request rate. Values <= 0 disable limiting.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
	// Headers are added to every request that does not already set them.
	Headers   http.Header
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Session is an HTTP client whose requests all draw from one token bucket.
type Session struct {
	name      string
	limiter   *rate.Limiter
	client    *http.Client
	transport http.RoundTripper
	headers   http.Header
	logger    *zap.Logger
	closed    atomic.Bool
}

var _ scraper.Session = (*Session)(nil)

// New builds a Session identified by name.
func New(name string, cfg Config) *Session {
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	headers := cfg.Headers
	if headers == nil {
		headers = RandomHeaders()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		name:      name,
		limiter:   rate.NewLimiter(limit, burst),
		transport: transport,
		headers:   headers.Clone(),
		logger:    logger.With(zap.String("session", name)),
	}
	s.client = &http.Client{Timeout: timeout, Transport: s.RoundTripper()}
	return s
}

// Factory returns a scraper.SessionFactory that builds sessions from base,
// using the binding's rate.
func Factory(base Config) scraper.SessionFactory {
	return func(name string, binding scraper.Binding) (scraper.Session, error) {
		if binding.Kind != scraper.BindSession {
			return nil, fmt.Errorf("unsupported binding kind %d", binding.Kind)
		}
		cfg := base
		cfg.RatePerSecond = binding.RatePerSecond
		return New(name, cfg), nil
	}
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Do sends req once the limiter allows it. Redirect hops are limited too.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.name, err)
	}
	return resp, nil
}

// Get issues a GET for url.
func (s *Session) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return s.Do(req)
}

// RoundTripper exposes the limited transport for clients that manage their
// own requests, such as colly collectors.
func (s *Session) RoundTripper() http.RoundTripper {
	return roundTripperFunc(s.roundTrip)
}

// Close releases idle connections. Later requests fail with ErrClosed.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if ci, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
	s.logger.Debug("session closed")
	return nil
}

func (s *Session) roundTrip(req *http.Request) (*http.Response, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := s.wait(req.Context()); err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	for key, values := range s.headers {
		if out.Header.Get(key) != "" {
			continue
		}
		for _, v := range values {
			out.Header.Add(key, v)
		}
	}
	resp, err := s.transport.RoundTrip(out)
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}
	return resp, nil
}

func (s *Session) wait(ctx context.Context) error {
	start := time.Now()
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	waitSeconds.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	return nil
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
