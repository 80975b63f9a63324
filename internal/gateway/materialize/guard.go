package materialize

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrUnsafeURL is returned for image URLs the gateway refuses to fetch
var ErrUnsafeURL = errors.New("unsafe image url")

const maxRedirects = 3

var blockedHostnames = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"metadata.google.internal": true,
}

var (
	siteLocalV6   = mustCIDR("fec0::/10")
	uniqueLocalV6 = mustCIDR("fc00::/7")
)

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// ValidateURL checks an image URL before any connection is made. Hostnames
// are checked again at dial time by the default client.
func ValidateURL(u *url.URL) error {
	if u == nil {
		return fmt.Errorf("%w: empty url", ErrUnsafeURL)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("%w: scheme %q is not https", ErrUnsafeURL, u.Scheme)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsafeURL)
	}
	if blockedHostnames[host] || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: reserved hostname %s", ErrUnsafeURL, host)
	}
	if ip := net.ParseIP(host); ip != nil && IsBlockedIP(ip) {
		return fmt.Errorf("%w: %s is not a public address", ErrUnsafeURL, host)
	}
	return nil
}

// IsBlockedIP reports whether ip is loopback, private, link-local, IPv6
// site-local or unique-local, or unspecified.
func IsBlockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		siteLocalV6.Contains(ip) ||
		uniqueLocalV6.Contains(ip)
}

// dialControl refuses connections to blocked addresses after DNS resolution
func dialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || IsBlockedIP(ip) {
		return fmt.Errorf("%w: refusing to dial %s", ErrUnsafeURL, host)
	}
	return nil
}

// NewSafeTransport returns a transport that never dials blocked addresses and
// ignores proxy settings.
func NewSafeTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   dialControl,
	}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// secureClient wraps base so credentials are stripped from every request and
// every redirect hop is validated with check.
func secureClient(base *http.Client, check func(*url.URL) error) *http.Client {
	client := *base
	next := client.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	client.Transport = &stripCredentialsTransport{next: next}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return check(req.URL)
	}
	return &client
}

// stripCredentialsTransport removes caller credentials before a request
// leaves the process.
type stripCredentialsTransport struct {
	next http.RoundTripper
}

func (t *stripCredentialsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Authorization") != "" || req.Header.Get("Proxy-Authorization") != "" || req.Header.Get("Cookie") != "" {
		req = req.Clone(req.Context())
		req.Header.Del("Authorization")
		req.Header.Del("Proxy-Authorization")
		req.Header.Del("Cookie")
	}
	return t.next.RoundTrip(req)
}
