package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrBlockedAddress is returned when an image URL resolves to an address
// the server must not connect to
var ErrBlockedAddress = errors.New("address is not publicly routable")

const (
	urlCheckTimeout      = 5 * time.Second
	urlCheckMaxRedirects = 3
)

// sharedAddressSpace is the carrier-grade NAT range (RFC 6598)
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// publicAddr reports whether addr is a globally routable unicast address
func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsUnspecified(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		sharedAddressSpace.Contains(addr):
		return false
	}
	return true
}

// dialPublicOnly runs after DNS resolution, so it sees the address that is
// actually dialed, including after redirects.
func dialPublicOnly(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || !publicAddr(addr) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

func newURLCheckClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: urlCheckTimeout,
		Control: dialPublicOnly,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext

	return &http.Client{
		Timeout:   urlCheckTimeout,
		Transport: otelhttp.NewTransport(transport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= urlCheckMaxRedirects {
				return errors.New("too many redirects")
			}
			return checkScheme(req.URL)
		},
	}
}

func checkScheme(u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return errors.New("url has no host")
	}
	return nil
}

// IsValidImageURL reports whether rawURL answers a HEAD request with a 2xx
// image response. Only http and https URLs on public addresses are
// checked; anything else, and any transport failure, counts as invalid.
func (s *Service) IsValidImageURL(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || checkScheme(u) != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.WithError(err).Debugf("image url check failed: %s", rawURL)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	return ok && strings.HasPrefix(resp.Header.Get("Content-Type"), "image/")
}
