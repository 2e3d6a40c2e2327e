// Package urlguard keeps server-side fetches away from internal networks.
package urlguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var (
	ErrScheme     = errors.New("only http and https URLs are allowed")
	ErrHost       = errors.New("URL has no host")
	ErrNotAllowed = errors.New("URL targets a private or local address")
)

// Check parses raw and rejects non-HTTP schemes, localhost names and literal
// addresses in loopback, private, link-local, multicast or unspecified ranges.
// Names that resolve to such ranges are caught at dial time by DialContext.
func Check(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrScheme
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, ErrHost
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return nil, ErrNotAllowed
	}
	if addr, err := netip.ParseAddr(host); err == nil && !IsPublic(addr) {
		return nil, ErrNotAllowed
	}
	return u, nil
}

// IsPublic reports whether addr is routable on the public internet.
func IsPublic(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}

// DialContext is a dialer that refuses connections to non-public addresses
// after DNS resolution, so redirects and rebinding cannot reach internal hosts.
func DialContext(timeout time.Duration) func(ctx context.Context, network, address string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout: timeout,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return err
			}
			if !IsPublic(addr) {
				return ErrNotAllowed
			}
			return nil
		},
	}
	return d.DialContext
}
