// Package security guards the raster URLs clients hand to the tile server.
//
// TiTiler fetches whatever COG URL it is given from inside the private
// network, so a URL that resolves to the metadata service, loopback or a
// private range must be rejected before it is embedded in a tile request.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// dnsTimeout is the maximum time allowed for DNS resolution.
const dnsTimeout = 500 * time.Millisecond

// blockedCIDRs are the ranges a raster URL may never resolve to.
var blockedCIDRs = []string{
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"::/128",
	"::1/128",
	"64:ff9b::/96",
	"fc00::/7",
	"fe80::/10",
}

var (
	// ErrBlocked is returned when a URL targets a blocked IP range.
	ErrBlocked = errors.New("ssrf: request to blocked IP range")
	// ErrDNSTimeout is returned when DNS resolution exceeds the timeout.
	ErrDNSTimeout = errors.New("ssrf: DNS resolution timeout")
	// ErrDNSFailed is returned when DNS resolution fails entirely.
	ErrDNSFailed = errors.New("ssrf: DNS resolution failed")
	// ErrScheme is returned for anything other than http or https.
	ErrScheme = errors.New("ssrf: unsupported URL scheme")
)

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// URLGuard validates outbound URLs against the blocklist.
type URLGuard struct {
	// Resolver is used for hostnames. When nil only IP literals and
	// localhost names are checked.
	Resolver Resolver

	blocked []*net.IPNet
}

// NewURLGuard parses the blocklist. Pass net.DefaultResolver to resolve
// hostnames, or nil to skip DNS entirely.
func NewURLGuard(resolver Resolver) (*URLGuard, error) {
	blocked := make([]*net.IPNet, 0, len(blockedCIDRs))
	for _, cidr := range blockedCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("ssrf: failed to parse CIDR %q: %w", cidr, err)
		}
		blocked = append(blocked, ipNet)
	}
	return &URLGuard{Resolver: resolver, blocked: blocked}, nil
}

func (g *URLGuard) isBlockedIP(ip net.IP) bool {
	for _, ipNet := range g.blocked {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Check returns nil when rawURL is an s3 reference or an http(s) URL whose
// host does not resolve into a blocked range. Every resolved address is checked so one
// safe record cannot mask a private one.
func (g *URLGuard) Check(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlocked, err)
	}
	switch parsed.Scheme {
	case "http", "https":
	case "s3":
		// Bucket references are read through the tile server's own AWS
		// credentials, never dialed by host.
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrScheme, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: unable to extract host from URL", ErrBlocked)
	}

	if ip := net.ParseIP(host); ip != nil {
		if g.isBlockedIP(ip) {
			return fmt.Errorf("%w: %s", ErrBlocked, ip.String())
		}
		return nil
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("%w: %s", ErrBlocked, host)
	}

	if g.Resolver == nil {
		return nil
	}

	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ips, err := g.Resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return fmt.Errorf("%w: host %q", ErrDNSTimeout, host)
		}
		return fmt.Errorf("%w: host %q: %v", ErrDNSFailed, host, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("%w: host %q resolved to no addresses", ErrDNSFailed, host)
	}

	for _, ipAddr := range ips {
		if g.isBlockedIP(ipAddr.IP) {
			return fmt.Errorf("%w: %s (resolved from %s)", ErrBlocked, ipAddr.IP.String(), host)
		}
	}
	return nil
}
