// Package ssrf rejects URLs that could make the client reach internal
// networks. Only the literal host is inspected; host names are not resolved,
// so a public name pointing at a private address is not detected.
package ssrf

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"go4.org/netipx"

	"github.com/pmkol/rdapx/pkg/rdaperr"
)

// DefaultBlockedPrefixes are private, loopback, link-local, unique-local and
// unspecified ranges.
var DefaultBlockedPrefixes = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/32",
	"::1/128",
	"::/128",
	"fe80::/10",
	"fc00::/7",
}

type Opts struct {
	// ExtraBlocked are added to DefaultBlockedPrefixes.
	ExtraBlocked []string

	// Disabled turns Validate into a scheme check only. It exists for tests
	// against local servers and must not be set in production.
	Disabled bool
}

type Guard struct {
	blocked  *netipx.IPSet
	disabled bool
}

func NewGuard(opts Opts) (*Guard, error) {
	var b netipx.IPSetBuilder
	for _, s := range append(append([]string(nil), DefaultBlockedPrefixes...), opts.ExtraBlocked...) {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked prefix %q: %w", s, err)
		}
		b.AddPrefix(p)
	}
	set, err := b.IPSet()
	if err != nil {
		return nil, err
	}
	return &Guard{blocked: set, disabled: opts.Disabled}, nil
}

// MustNewGuard is NewGuard with the default ranges.
func MustNewGuard() *Guard {
	g, err := NewGuard(Opts{})
	if err != nil {
		panic(err)
	}
	return g
}

// Validate returns a *rdaperr.SSRFProtectionError if rawURL is not an https
// URL or its host is a blocked literal address.
func (g *Guard) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return &rdaperr.SSRFProtectionError{URL: rawURL, Reason: "malformed url"}
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return &rdaperr.SSRFProtectionError{URL: rawURL, Reason: fmt.Sprintf("scheme %q is not allowed, only https", u.Scheme)}
	}
	host := u.Hostname()
	if host == "" {
		return &rdaperr.SSRFProtectionError{URL: rawURL, Reason: "missing host"}
	}
	if g.disabled {
		return nil
	}

	h := strings.ToLower(strings.TrimSuffix(host, "."))
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return &rdaperr.SSRFProtectionError{URL: rawURL, Reason: "localhost is blocked"}
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		if isLegacyIPv4(h) {
			return &rdaperr.SSRFProtectionError{URL: rawURL, Reason: fmt.Sprintf("numeric host %q is not a canonical address", host)}
		}
		// Not a literal address.
		return nil
	}
	addr = addr.Unmap().WithZone("")
	if g.blocked.Contains(addr) {
		return &rdaperr.SSRFProtectionError{URL: rawURL, Reason: fmt.Sprintf("address %s is in a blocked range", addr)}
	}
	return nil
}

// isLegacyIPv4 reports whether h is an inet_aton style address that
// netip rejects, like "2130706433", "0x7f.1" or "0177.0.0.1". Resolvers
// may still map these to an IPv4 address. No TLD is all numeric, so no
// real host name matches.
func isLegacyIPv4(h string) bool {
	parts := strings.Split(h, ".")
	if len(parts) > 4 {
		return false
	}
	for _, p := range parts {
		if !isNumericLabel(p) {
			return false
		}
	}
	return true
}

func isNumericLabel(p string) bool {
	if len(p) == 0 {
		return false
	}
	digits, hex := p, false
	if len(p) >= 2 && p[0] == '0' && (p[1] == 'x' || p[1] == 'X') {
		digits, hex = p[2:], true
	}
	for i := 0; i < len(digits); i++ {
		c := digits[i]
		switch {
		case c >= '0' && c <= '9':
		case hex && (c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'):
		default:
			return false
		}
	}
	return true
}
