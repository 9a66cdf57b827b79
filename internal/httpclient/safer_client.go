// Package httpclient provides the outbound HTTP client shared by the model,
// delivery and sandbox gateways. Requests to loopback, private and other
// special-use addresses are refused unless explicitly allowed.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/version"
)

const (
	DefaultTimeout      = 120 * time.Second
	DefaultMaxRedirects = 10
)

// Options tunes a Client. The zero value blocks private addresses and
// follows up to DefaultMaxRedirects redirects.
type Options struct {
	Timeout         time.Duration
	MaxRedirects    int
	AllowPrivateIPs bool // self-hosted sandboxes and tests
}

// Client wraps http.Client with destination checks on every request,
// redirect and dial.
type Client struct {
	*http.Client
	allowPrivate bool
	maxRedirects int
}

// New creates a guarded client
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}

	c := &Client{
		Client:       &http.Client{Timeout: opts.Timeout},
		allowPrivate: opts.AllowPrivateIPs,
		maxRedirects: opts.MaxRedirects,
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		if err := c.check(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	if !c.allowPrivate {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		c.Transport = &http.Transport{
			// Resolve first so a public name pointing at a private address is caught
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, port, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, errors.Wrap(err, "invalid address")
				}
				addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to resolve host %q", host)
				}
				for _, a := range addrs {
					if isPrivate(a) {
						return nil, errors.Newf("private IP address blocked: %s", a)
					}
				}
				if len(addrs) == 0 {
					return nil, errors.Newf("no addresses for host %q", host)
				}
				return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].String(), port))
			},
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	return c
}

// Wrap adopts an existing http.Client with private addresses allowed.
// Tests use it to point gateways at httptest servers.
func Wrap(client *http.Client) *Client {
	return &Client{Client: client, allowPrivate: true, maxRedirects: DefaultMaxRedirects}
}

// Do executes req after checking its destination
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.check(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	return c.Client.Do(req)
}

// CheckURL parses and validates a destination URL
func (c *Client) CheckURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.check(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) check(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Newf("scheme %q not allowed", u.Scheme)
	}
	if u.User != nil {
		return errors.New("URL must not carry credentials")
	}

	host := u.Hostname()
	if host == "" {
		return errors.New("URL missing hostname")
	}
	if c.allowPrivate {
		return nil
	}
	if isLocalhost(host) {
		return errors.New("localhost access blocked")
	}
	if a, err := netip.ParseAddr(host); err == nil && isPrivate(a) {
		return errors.Newf("private IP address blocked: %s", host)
	}
	return nil
}

var documentation = netip.MustParsePrefix("2001:db8::/32")

// isPrivate reports loopback, RFC 1918, link-local, multicast, unspecified,
// reserved and unique-local addresses.
func isPrivate(a netip.Addr) bool {
	a = a.Unmap()
	if a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast() || a.IsLinkLocalMulticast() ||
		a.IsMulticast() || a.IsUnspecified() || a.IsInterfaceLocalMulticast() {
		return true
	}
	if a.Is4() {
		b := a.As4()
		return b[0] == 0 || b[0] >= 240
	}
	return documentation.Contains(a)
}

func isLocalhost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost")
}
