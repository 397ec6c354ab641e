package utils

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Client is a thin HTTP helper shared by site adapters: base URL resolution,
// browser-like headers and an optional cookie session.
type Client struct {
	client  *http.Client
	baseURL string
	cookies []*http.Cookie
}

func NewClient(baseURL string) *Client {
	return &Client{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// WithCookies attaches a session to every request.
func (c *Client) WithCookies(cookies []*http.Cookie) *Client {
	c.cookies = cookies
	return c
}

// Resolve turns a path or relative URL into an absolute one.
func (c *Client) Resolve(ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref
}

// Get performs a GET with the session attached. Status handling is the
// caller's business.
func (c *Client) Get(ctx context.Context, ref string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Resolve(ref), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")
	for _, cookie := range c.cookies {
		req.AddCookie(cookie)
	}
	return c.client.Do(req)
}
