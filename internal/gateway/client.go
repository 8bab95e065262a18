// Package gateway talks to the Khipu REST API. Every request carries an HMAC-SHA256
// signature over the method, URL and key-sorted parameters, which the gateway
// recomputes server side.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the versioned API root.
const DefaultBaseURL = "https://khipu.com/api/2.0/"

// ErrInvalidMethod is returned for anything other than GET or POST.
var ErrInvalidMethod = errors.New("invalid method")

// Config carries the receiver credentials.
type Config struct {
	BaseURL    string
	ReceiverID string
	Secret     string
	Timeout    time.Duration
}

// Response is the raw gateway answer; status interpretation is up to the caller.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client signs and sends requests.
type Client struct {
	baseURL    string
	receiverID string
	secret     []byte
	http       *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a Client. An empty BaseURL falls back to DefaultBaseURL.
func New(cfg Config, opts ...Option) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    base,
		receiverID: cfg.ReceiverID,
		secret:     []byte(cfg.Secret),
		http:       &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends a signed request to path (relative to the base URL).
func (c *Client) Do(ctx context.Context, method, path string, params map[string]string) (*Response, error) {
	method = strings.ToUpper(method)
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, method)
	}

	endpoint := c.baseURL + strings.TrimPrefix(path, "/")
	form := toValues(params)
	auth := c.receiverID + ":" + c.Sign(method, endpoint, params)

	var (
		req *http.Request
		err error
	)
	if method == http.MethodGet {
		target := endpoint
		if len(form) > 0 {
			target += "?" + form.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
	}
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// Sign computes hex(HMAC-SHA256(secret, METHOD&escape(url)[&sorted-params])).
// The result does not depend on the iteration order of params.
func (c *Client) Sign(method, endpoint string, params map[string]string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(CanonicalString(method, endpoint, params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// CanonicalString is the exact text that gets signed.
func CanonicalString(method, endpoint string, params map[string]string) string {
	s := strings.ToUpper(method) + "&" + url.QueryEscape(endpoint)
	if len(params) > 0 {
		// url.Values.Encode sorts by key
		s += "&" + toValues(params).Encode()
	}
	return s
}

func toValues(params map[string]string) url.Values {
	v := make(url.Values, len(params))
	for k, val := range params {
		v.Set(k, val)
	}
	return v
}
