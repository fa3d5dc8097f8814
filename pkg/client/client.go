// Package client provides the feature service HTTP client: form-encoded
// POST queries returning JSON objects, streamed binary downloads, request
// gating and error classification.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/featureservice-downloader/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsdl_requests_total",
		Help: "Total feature service requests by operation and status",
	}, []string{"operation", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fsdl_request_duration_seconds",
		Help:    "Feature service request duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsdl_errors_total",
		Help: "Total feature service errors by class",
	}, []string{"class"})

	downloadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fsdl_downloaded_bytes_total",
		Help: "Total bytes streamed from attachment downloads",
	})
)

const (
	opQuery    = "query"
	opDownload = "download"
)

// Querier issues a single logical query against the service.
type Querier interface {
	Query(ctx context.Context, rawURL string, params url.Values) (*Response, error)
}

// Downloader streams a binary resource into w.
type Downloader interface {
	Download(ctx context.Context, rawURL string, params url.Values, w io.Writer) (int64, error)
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request
	UserAgent string `yaml:"user_agent"`

	// Timeout per request
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// ProxyURL routes all requests through an HTTP proxy when set
	ProxyURL string `yaml:"proxy_url" validate:"omitempty,url"`

	// Limiter bounds request rate and in-flight requests
	Limiter ratelimit.Config `yaml:"limiter"`

	// Transport overrides the HTTP transport (tests, custom TLS).
	// ProxyURL is ignored when set.
	Transport http.RoundTripper `yaml:"-"`
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent: "featureservice-downloader/0.1.0",
		Timeout:   60 * time.Second,
		Limiter:   ratelimit.DefaultConfig(),
	}
}

// Client is the feature service client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	config     Config
	token      string
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Timeout)
	}

	transport := cfg.Transport
	if transport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.ProxyURL != "" {
			proxy, err := url.Parse(cfg.ProxyURL)
			if err != nil || proxy.Host == "" {
				return nil, fmt.Errorf("invalid proxy url %q", cfg.ProxyURL)
			}
			base.Proxy = http.ProxyURL(proxy)
		}
		transport = base
	}

	logger := log.With().Str("component", "fs-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limiter: ratelimit.NewLimiter(cfg.Limiter, logger),
		config:  cfg,
		logger:  logger,
	}, nil
}

// WithToken returns a client that injects token into every request.
// The copy shares the underlying connection pool and limiter.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// HasToken reports whether a credential is injected.
func (c *Client) HasToken() bool {
	return c.token != ""
}

// Limiter returns the request limiter.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// Query POSTs params form-encoded to rawURL and returns the decoded JSON
// object. f=json is always sent and the token is injected when present.
// An error payload in the body is reported as *ServiceError even with a
// 200 status; everything else that goes wrong is a *TransportError.
func (c *Client) Query(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	target, err := parseServiceURL(rawURL)
	if err != nil {
		return nil, c.fail(opQuery, &TransportError{URL: rawURL, Op: opQuery, Class: ErrorClassInvalidURL, Err: err})
	}

	form := cloneValues(params)
	form.Set("f", "json")
	if c.token != "" {
		form.Set("token", c.token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, c.fail(opQuery, &TransportError{URL: target, Op: opQuery, Class: ErrorClassInvalidURL, Err: err})
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, opQuery)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(opQuery, &TransportError{URL: target, Op: opQuery, Class: classifyTransport(err), Err: fmt.Errorf("read body: %w", err)})
	}

	decoded, decodeErr := NewResponse(target, body)
	if decodeErr == nil {
		if svcErr := decoded.serviceError(); svcErr != nil {
			c.logger.Warn().
				Str("url", target).
				Int("code", svcErr.Code).
				Str("message", svcErr.Message).
				Msg("Service returned error payload")
			errorsTotal.WithLabelValues(string(ErrorClassService)).Inc()
			requestsTotal.WithLabelValues(opQuery, "service_error").Inc()
			return nil, svcErr
		}
	}

	if statusErr := c.checkStatus(opQuery, target, resp); statusErr != nil {
		return nil, statusErr
	}

	if decodeErr != nil {
		return nil, c.fail(opQuery, &TransportError{URL: target, Op: opQuery, Class: ErrorClassDecode, StatusCode: resp.StatusCode, Err: decodeErr})
	}

	requestsTotal.WithLabelValues(opQuery, strconv.Itoa(resp.StatusCode)).Inc()
	return decoded, nil
}

// Download GETs rawURL and streams a 200 body into w, returning the number
// of bytes written. The token is injected when present.
func (c *Client) Download(ctx context.Context, rawURL string, params url.Values, w io.Writer) (int64, error) {
	target, err := parseServiceURL(rawURL)
	if err != nil {
		return 0, c.fail(opDownload, &TransportError{URL: rawURL, Op: opDownload, Class: ErrorClassInvalidURL, Err: err})
	}

	query := cloneValues(params)
	if c.token != "" {
		query.Set("token", c.token)
	}
	full := target
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return 0, c.fail(opDownload, &TransportError{URL: target, Op: opDownload, Class: ErrorClassInvalidURL, Err: err})
	}

	resp, err := c.do(req, opDownload)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		class := ErrorClassClient
		if resp.StatusCode >= 500 {
			class = ErrorClassServer
		}
		return 0, c.fail(opDownload, &TransportError{URL: target, Op: opDownload, Class: class, StatusCode: resp.StatusCode})
	}

	n, err := io.Copy(w, resp.Body)
	downloadedBytesTotal.Add(float64(n))
	if err != nil {
		return n, c.fail(opDownload, &TransportError{URL: target, Op: opDownload, Class: classifyTransport(err), Err: fmt.Errorf("stream body: %w", err)})
	}

	requestsTotal.WithLabelValues(opDownload, "200").Inc()
	return n, nil
}

// do executes req through the limiter and classifies transport failures.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	ctx := req.Context()
	target := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path

	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		return nil, c.fail(op, &TransportError{URL: target, Op: op, Class: classifyTransport(err), Err: err})
	}
	defer release()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().
		Str("url", target).
		Str("method", req.Method).
		Msg("Executing service request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(op, &TransportError{URL: target, Op: op, Class: classifyTransport(err), Err: err})
	}
	return resp, nil
}

// checkStatus converts a 4xx/5xx response into a TransportError.
func (c *Client) checkStatus(op, target string, resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	class := ErrorClassClient
	if resp.StatusCode >= 500 {
		class = ErrorClassServer
	}
	requestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	return c.fail(op, &TransportError{URL: target, Op: op, Class: class, StatusCode: resp.StatusCode})
}

// fail records metrics and logs a classified error.
func (c *Client) fail(op string, err *TransportError) error {
	errorsTotal.WithLabelValues(string(err.Class)).Inc()
	if err.StatusCode == 0 {
		requestsTotal.WithLabelValues(op, string(err.Class)).Inc()
	}
	c.logger.Debug().
		Err(err).
		Str("url", err.URL).
		Str("error_class", string(err.Class)).
		Msg("Error classified")
	return err
}

// classifyTransport maps an http.Client error to an ErrorClass.
func classifyTransport(err error) ErrorClass {
	if errors.Is(err, context.Canceled) {
		return ErrorClassCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorClassTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Op == "parse" {
		return ErrorClassInvalidURL
	}
	return ErrorClassNetwork
}

// parseServiceURL validates rawURL and strips any query string.
func parseServiceURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// JoinURL appends path segments to base. Trailing slashes on base and
// surrounding slashes on each segment are trimmed.
func JoinURL(base string, segments ...string) string {
	out := strings.TrimRight(base, "/")
	for _, s := range segments {
		out += "/" + strings.Trim(s, "/")
	}
	return out
}
