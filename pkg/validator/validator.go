// Package validator checks and normalizes query inputs. Every function
// returns a *rdaperr.ValidationError on bad input.
package validator

import (
	"math"
	"net/netip"
	"strconv"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"

	"github.com/pmkol/rdapx/pkg/rdap"
	"github.com/pmkol/rdapx/pkg/rdaperr"
)

const (
	maxDomainLen = 253
	maxLabelLen  = 63
)

var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(true),
)

// ValidateDomain returns the lower-case A-label form of name.
func ValidateDomain(name string) (string, error) {
	in := name
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, ".")
	if len(name) == 0 {
		return "", invalid("domain", in, "empty")
	}
	if strings.Contains(name, "..") {
		return "", invalid("domain", in, "empty label")
	}

	ascii, err := idnaProfile.ToASCII(name)
	if err != nil {
		return "", invalid("domain", in, err.Error())
	}
	ascii = strings.ToLower(ascii)

	if len(ascii) > maxDomainLen {
		return "", invalid("domain", in, "longer than 253 characters")
	}
	if _, ok := dns.IsDomainName(ascii); !ok {
		return "", invalid("domain", in, "not a domain name")
	}

	labels := dns.SplitDomainName(ascii)
	if len(labels) < 2 {
		return "", invalid("domain", in, "must have at least two labels")
	}
	for _, l := range labels {
		if err := checkLabel(l); err != "" {
			return "", invalid("domain", in, err)
		}
	}
	if tld := labels[len(labels)-1]; !strings.HasPrefix(tld, "xn--") && !isAlpha(tld) {
		return "", invalid("domain", in, "top level label must be alphabetic")
	}
	return ascii, nil
}

func checkLabel(l string) string {
	if len(l) == 0 {
		return "empty label"
	}
	if len(l) > maxLabelLen {
		return "label longer than 63 characters"
	}
	if l[0] == '-' || l[len(l)-1] == '-' {
		return "label starts or ends with a hyphen"
	}
	for i := 0; i < len(l); i++ {
		c := l[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
			return "label contains invalid character " + strconv.QuoteRune(rune(c))
		}
	}
	return ""
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return len(s) > 0
}

// ValidateIP returns "v4" or "v6" for a literal address.
func ValidateIP(s string) (string, error) {
	addr, err := ParseIP(s)
	if err != nil {
		return "", err
	}
	if addr.Is4() {
		return "v4", nil
	}
	return "v6", nil
}

// ParseIP parses a literal address. IPv4-mapped IPv6 addresses are unmapped.
func ParseIP(s string) (netip.Addr, error) {
	in := s
	s = strings.TrimSpace(s)
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, invalid("ip", in, "not an ip address")
	}
	if addr.Zone() != "" {
		return netip.Addr{}, invalid("ip", in, "zoned addresses are not supported")
	}
	return addr.Unmap(), nil
}

// ValidateASN accepts "15169", "AS15169" and "as15169".
func ValidateASN(s string) (uint32, error) {
	in := s
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.EqualFold(s[:2], "as") {
		s = s[2:]
	}
	if len(s) == 0 {
		return 0, invalid("asn", in, "empty")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, invalid("asn", in, "not a number")
		}
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, invalid("asn", in, "out of range 0-4294967295")
	}
	return uint32(n), nil
}

// ValidateASNNumber is ValidateASN for numeric input.
func ValidateASNNumber(n int64) (uint32, error) {
	if n < 0 || n > math.MaxUint32 {
		return 0, invalid("asn", strconv.FormatInt(n, 10), "out of range 0-4294967295")
	}
	return uint32(n), nil
}

// Normalize validates input for query type t and returns the normalized
// query.
func Normalize(t rdap.QueryType, input string) (rdap.Query, error) {
	switch t {
	case rdap.TypeDomain:
		v, err := ValidateDomain(input)
		if err != nil {
			return rdap.Query{}, err
		}
		return rdap.Query{Type: t, Value: v}, nil
	case rdap.TypeIP:
		a, err := ParseIP(input)
		if err != nil {
			return rdap.Query{}, err
		}
		return rdap.Query{Type: t, Value: a.String()}, nil
	case rdap.TypeASN:
		n, err := ValidateASN(input)
		if err != nil {
			return rdap.Query{}, err
		}
		return rdap.Query{Type: t, Value: strconv.FormatUint(uint64(n), 10)}, nil
	}
	return rdap.Query{}, invalid("type", string(t), "must be one of domain, ip, asn")
}

func invalid(field, input, reason string) error {
	return &rdaperr.ValidationError{Field: field, Input: input, Reason: reason}
}
