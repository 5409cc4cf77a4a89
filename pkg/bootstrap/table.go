package bootstrap

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

type Registry string

const (
	RegistryDNS  Registry = "dns"
	RegistryIPv4 Registry = "ipv4"
	RegistryIPv6 Registry = "ipv6"
	RegistryASN  Registry = "asn"
)

var Registries = []Registry{RegistryDNS, RegistryIPv4, RegistryIPv6, RegistryASN}

// DefaultURLs are the IANA bootstrap registries (RFC 9224).
var DefaultURLs = map[Registry]string{
	RegistryDNS:  "https://data.iana.org/rdap/dns.json",
	RegistryIPv4: "https://data.iana.org/rdap/ipv4.json",
	RegistryIPv6: "https://data.iana.org/rdap/ipv6.json",
	RegistryASN:  "https://data.iana.org/rdap/asn.json",
}

type Service struct {
	Keys []string
	URLs []string
}

// BaseURL is the first service URL.
func (s Service) BaseURL() string {
	return s.URLs[0]
}

// Table is an immutable snapshot of one bootstrap registry.
type Table struct {
	Registry    Registry
	Version     string
	Publication string
	Description string
	Services    []Service

	domains  map[string]int
	prefixes []prefixEntry
	asns     []asnRange
}

type prefixEntry struct {
	p   netip.Prefix
	idx int
}

type asnRange struct {
	start, end uint32
	idx        int
}

type file struct {
	Version     string       `json:"version"`
	Publication string       `json:"publication"`
	Description string       `json:"description"`
	Services    [][][]string `json:"services"`
}

// ParseTable parses an IANA bootstrap document. Entries without URLs are
// skipped. When two entries share a key the first one wins.
func ParseTable(reg Registry, data []byte) (*Table, error) {
	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode %s bootstrap: %w", reg, err)
	}
	if f.Services == nil {
		return nil, fmt.Errorf("%s bootstrap has no services", reg)
	}

	t := &Table{
		Registry:    reg,
		Version:     f.Version,
		Publication: f.Publication,
		Description: f.Description,
	}
	for i, raw := range f.Services {
		if len(raw) < 2 {
			return nil, fmt.Errorf("%s bootstrap service #%d: want [keys, urls], got %d elements", reg, i, len(raw))
		}
		if len(raw[1]) == 0 {
			continue
		}
		s := Service{Keys: raw[0], URLs: raw[1]}
		idx := len(t.Services)
		t.Services = append(t.Services, s)

		if err := t.index(reg, s, idx); err != nil {
			return nil, fmt.Errorf("%s bootstrap service #%d: %w", reg, i, err)
		}
	}

	// Most specific prefix first.
	slices.SortStableFunc(t.prefixes, func(a, b prefixEntry) int {
		return b.p.Bits() - a.p.Bits()
	})
	return t, nil
}

func (t *Table) index(reg Registry, s Service, idx int) error {
	for _, k := range s.Keys {
		switch reg {
		case RegistryDNS:
			if t.domains == nil {
				t.domains = make(map[string]int)
			}
			k = strings.ToLower(strings.TrimSuffix(k, "."))
			if _, dup := t.domains[k]; !dup {
				t.domains[k] = idx
			}
		case RegistryIPv4, RegistryIPv6:
			p, err := netip.ParsePrefix(k)
			if err != nil {
				return fmt.Errorf("invalid prefix %q: %w", k, err)
			}
			if (reg == RegistryIPv4) != p.Addr().Is4() {
				return fmt.Errorf("prefix %q does not belong to %s", k, reg)
			}
			t.prefixes = append(t.prefixes, prefixEntry{p: p.Masked(), idx: idx})
		case RegistryASN:
			r, err := parseASNRange(k)
			if err != nil {
				return err
			}
			r.idx = idx
			t.asns = append(t.asns, r)
		default:
			return fmt.Errorf("unknown registry %q", reg)
		}
	}
	return nil
}

func parseASNRange(s string) (asnRange, error) {
	startS, endS, isRange := strings.Cut(s, "-")
	start, err := strconv.ParseUint(strings.TrimSpace(startS), 10, 32)
	if err != nil {
		return asnRange{}, fmt.Errorf("invalid asn range %q", s)
	}
	end := start
	if isRange {
		end, err = strconv.ParseUint(strings.TrimSpace(endS), 10, 32)
		if err != nil || end < start {
			return asnRange{}, fmt.Errorf("invalid asn range %q", s)
		}
	}
	return asnRange{start: uint32(start), end: uint32(end)}, nil
}

// LookupDomain returns the entry with the longest label suffix of name.
func (t *Table) LookupDomain(name string) (Service, bool) {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	for _, off := range dns.Split(name) {
		if idx, ok := t.domains[name[off:]]; ok {
			return t.Services[idx], true
		}
	}
	return Service{}, false
}

// LookupIP returns the entry with the most specific prefix containing addr.
func (t *Table) LookupIP(addr netip.Addr) (Service, bool) {
	addr = addr.Unmap()
	for _, e := range t.prefixes {
		if e.p.Contains(addr) {
			return t.Services[e.idx], true
		}
	}
	return Service{}, false
}

// LookupASN returns the first entry whose range contains n.
func (t *Table) LookupASN(n uint32) (Service, bool) {
	for _, r := range t.asns {
		if n >= r.start && n <= r.end {
			return t.Services[r.idx], true
		}
	}
	return Service{}, false
}
