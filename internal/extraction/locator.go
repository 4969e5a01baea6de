package extraction

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrInvalidLocator is returned for product URLs that can never be fetched
var ErrInvalidLocator = errors.New("invalid product locator")

var privateBlocks = mustParseCIDRs(
	"127.0.0.0/8",    // localhost
	"10.0.0.0/8",     // private
	"172.16.0.0/12",  // private
	"192.168.0.0/16", // private
	"169.254.0.0/16", // link-local
	"::1/128",        // localhost IPv6
	"fe80::/10",      // link-local IPv6
	"fc00::/7",       // unique local IPv6
)

func mustParseCIDRs(blocks ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(blocks))
	for _, block := range blocks {
		_, cidr, err := net.ParseCIDR(block)
		if err != nil {
			panic(err)
		}
		nets = append(nets, cidr)
	}
	return nets
}

// ValidateLocator checks that a product URL is safe to fetch. Private and
// loopback hosts are rejected unless allowPrivate is set.
func ValidateLocator(locator string, allowPrivate bool) (*url.URL, error) {
	parsed, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q (only http and https are allowed)", ErrInvalidLocator, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidLocator)
	}
	if allowPrivate {
		return parsed, nil
	}

	if host == "localhost" {
		return nil, fmt.Errorf("%w: access to localhost is not allowed", ErrInvalidLocator)
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return nil, fmt.Errorf("%w: access to private IP %s is not allowed", ErrInvalidLocator, ip)
	}
	return parsed, nil
}

func isPrivateIP(ip net.IP) bool {
	for _, cidr := range privateBlocks {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
