// Package downstream performs the outbound HTTP call to a selected
// endpoint.
package downstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vyrodovalexey/routegw/internal/config"
)

// DefaultMaxResponseBytes bounds buffered response bodies.
const DefaultMaxResponseBytes = 32 << 20

// hopHeaders are headers that apply to a single connection and must not
// be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Request is a call against one endpoint.
type Request struct {
	Method string
	URL    string
	Host   string
	Header http.Header
	Body   []byte
}

// Response is a fully buffered downstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Status returns the HTTP status code.
func (r *Response) Status() int {
	return r.StatusCode
}

// Caller performs downstream calls. Call returns an error only when no
// response was received; any status code is a response.
type Caller interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, req *Request) (*Response, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPCaller calls downstreams over net/http.
type HTTPCaller struct {
	client   *http.Client
	maxBytes int64
}

// Option configures an HTTPCaller.
type Option func(*HTTPCaller)

// WithHTTPClient replaces the client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPCaller) {
		c.client = client
	}
}

// WithMaxResponseBytes bounds buffered response bodies.
func WithMaxResponseBytes(n int64) Option {
	return func(c *HTTPCaller) {
		c.maxBytes = n
	}
}

// NewHTTPCaller creates a caller with a transport built from cfg.
// cfg.Timeout bounds the whole exchange as a last resort for routes
// without a QoS timeout.
func NewHTTPCaller(cfg config.DownstreamConfig, opts ...Option) *HTTPCaller {
	dialTimeout := cfg.DialTimeout.Duration()
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	maxIdle := cfg.MaxIdleConnsPerHost
	if maxIdle <= 0 {
		maxIdle = 32
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          maxIdle * 4,
		MaxIdleConnsPerHost:   maxIdle,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // User-configurable
			MinVersion:         tls.VersionTLS12,
		},
	}

	c := &HTTPCaller{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout.Duration(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBytes: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call implements Caller.
func (c *HTTPCaller) Call(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build downstream request: %w", err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}
	RemoveHopHeaders(httpReq.Header)
	if req.Host != "" {
		httpReq.Host = req.Host
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read downstream response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("downstream response exceeds %d bytes", c.maxBytes)
	}

	header := resp.Header.Clone()
	RemoveHopHeaders(header)
	return &Response{StatusCode: resp.StatusCode, Header: header, Body: data}, nil
}

// RemoveHopHeaders deletes hop-by-hop headers, including any named in
// the Connection header.
func RemoveHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// SetForwardedHeaders sets the X-Forwarded-* headers for a request
// received from remoteAddr for host.
func SetForwardedHeaders(h http.Header, remoteAddr, host string, tlsUsed bool) {
	if clientIP, _, err := net.SplitHostPort(remoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		h.Set("X-Forwarded-For", clientIP)
	}
	if tlsUsed {
		h.Set("X-Forwarded-Proto", "https")
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
	if host != "" {
		h.Set("X-Forwarded-Host", host)
	}
}
