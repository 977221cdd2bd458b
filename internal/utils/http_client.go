package utils

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	"github.com/rs/zerolog"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

// DefaultUserAgent is sent when neither the client config nor the request sets one
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// maxBodySize bounds how much of a response body is read into memory
const maxBodySize = 32 << 20

// HTTPClient represents a configurable HTTP client
type HTTPClient struct {
	client    *http.Client
	transport http.RoundTripper
	limiter   *rate.Limiter
	userAgent string
	logger    zerolog.Logger
}

// ClientConfig represents HTTP client configuration
type ClientConfig struct {
	Timeout           time.Duration
	MaxIdleConns      int
	IdleConnTimeout   time.Duration
	ProxyURL          string
	UserAgent         string
	TLSInsecure       bool
	TLSFingerprint    string
	RequestsPerSecond float64
	Burst             int
	Jar               http.CookieJar
	Transport         http.RoundTripper
	Logger            zerolog.Logger
}

// StatusError is returned for responses outside the 2xx range
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP Error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// NewHTTPClient creates a new HTTP client with the given configuration
func NewHTTPClient(config ClientConfig) *HTTPClient {
	transport := config.Transport
	if transport == nil {
		transport = newTransport(config)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
		Jar:       config.Jar,
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &HTTPClient{
		client:    client,
		transport: transport,
		limiter:   limiter,
		userAgent: userAgent,
		logger:    config.Logger.With().Str("component", "http_client").Logger(),
	}
}

func newTransport(config ClientConfig) *http.Transport {
	maxIdle := config.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 100
	}
	idleTimeout := config.IdleConnTimeout
	if idleTimeout == 0 {
		idleTimeout = 90 * time.Second
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        maxIdle,
		IdleConnTimeout:     idleTimeout,
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: 10,
	}

	// Configure proxy if provided
	if config.ProxyURL != "" {
		proxyURL, err := url.Parse(config.ProxyURL)
		if err == nil {
			switch proxyURL.Scheme {
			case "http", "https":
				transport.Proxy = http.ProxyURL(proxyURL)
			case "socks5", "socks5h":
				d, err := proxy.FromURL(proxyURL, proxy.Direct)
				if err == nil {
					if cd, ok := d.(proxy.ContextDialer); ok {
						transport.Proxy = nil
						transport.DialContext = cd.DialContext
					}
				}
			}
		}
	}

	if config.TLSInsecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if config.TLSFingerprint == "randomized" {
		dial := transport.DialContext
		transport.ForceAttemptHTTP2 = false
		transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			rawConn, err := dial(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				rawConn.Close()
				return nil, err
			}
			conn := utls.UClient(rawConn, &utls.Config{
				ServerName:         host,
				InsecureSkipVerify: config.TLSInsecure,
			}, utls.HelloRandomizedNoALPN)
			if err := conn.Handshake(); err != nil {
				rawConn.Close()
				return nil, err
			}
			return conn, nil
		}
	}

	return transport
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	return c.Do(req, headers)
}

// Head performs a HEAD request
func (c *HTTPClient) Head(ctx context.Context, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	return c.Do(req, headers)
}

// Do performs an HTTP request with custom headers
func (c *HTTPClient) Do(req *http.Request, headers map[string]string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req.Header.Set("User-Agent", c.userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("Making HTTP request")

	return c.client.Do(req)
}

// GetBody performs a GET request and returns the response body. Responses
// outside the 2xx range are returned as *StatusError.
func (c *HTTPClient) GetBody(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	return body, nil
}

// ResolveRedirect issues a HEAD request, follows redirects and returns the final URL
func (c *HTTPClient) ResolveRedirect(ctx context.Context, rawURL string, headers map[string]string) (string, error) {
	resp, err := c.Head(ctx, rawURL, headers)
	if err != nil {
		return "", fmt.Errorf("error resolving %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	return resp.Request.URL.String(), nil
}

// WithTimeout returns a client sharing the transport, cookie jar and limiter
// of c with a different overall request timeout
func (c *HTTPClient) WithTimeout(timeout time.Duration) *HTTPClient {
	clone := *c
	clone.client = &http.Client{
		Transport: c.transport,
		Timeout:   timeout,
		Jar:       c.client.Jar,
	}
	return &clone
}

// Close closes idle connections
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
