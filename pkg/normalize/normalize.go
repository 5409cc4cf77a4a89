// Package normalize converts registry RDAP objects into the canonical
// rdap.Response variants.
package normalize

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/pmkol/rdapx/pkg/rdap"
	"github.com/pmkol/rdapx/pkg/rdaperr"
)

var objectClass = map[rdap.QueryType]string{
	rdap.TypeDomain: "domain",
	rdap.TypeIP:     "ip network",
	rdap.TypeASN:    "autnum",
}

type Normalizer struct {
	clock clock.Clock
}

// New returns a Normalizer. clk may be nil.
func New(clk clock.Clock) *Normalizer {
	if clk == nil {
		clk = clock.New()
	}
	return &Normalizer{clock: clk}
}

// Normalize decodes raw as the object class of q. A payload that is not JSON
// is a *rdaperr.ParseError, an object of another class is a
// *rdaperr.NormalizationError.
func (n *Normalizer) Normalize(raw *rdap.RawResponse, q rdap.Query, source string, cached, includeRaw bool) (rdap.Response, error) {
	want, ok := objectClass[q.Type]
	if !ok {
		return nil, &rdaperr.NormalizationError{Source: source, Reason: fmt.Sprintf("unknown query type %q", q.Type)}
	}

	var head object
	if err := json.Unmarshal(raw.Body, &head); err != nil {
		return nil, &rdaperr.ParseError{Source: source, Err: err}
	}
	if !strings.EqualFold(head.ObjectClassName, want) {
		return nil, &rdaperr.NormalizationError{
			Source: source,
			Reason: fmt.Sprintf("expected objectClassName %q, got %q", want, head.ObjectClassName),
		}
	}

	meta := rdap.Metadata{Source: source, Timestamp: n.clock.Now().UTC(), Cached: cached}
	var keep json.RawMessage
	if includeRaw {
		keep = slices.Clone(raw.Body)
	}

	switch q.Type {
	case rdap.TypeDomain:
		return n.domain(raw.Body, source, meta, keep)
	case rdap.TypeIP:
		return n.ipNetwork(raw.Body, source, meta, keep)
	default:
		return n.autnum(raw.Body, source, meta, keep)
	}
}

func (n *Normalizer) domain(b []byte, source string, meta rdap.Metadata, keep json.RawMessage) (rdap.Response, error) {
	var d domain
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, &rdaperr.ParseError{Source: source, Err: err}
	}
	if len(d.LDHName) == 0 && len(d.UnicodeName) == 0 {
		return nil, &rdaperr.NormalizationError{Source: source, Reason: "domain object has no name"}
	}

	out := &rdap.Domain{
		Handle:      d.Handle,
		LDHName:     strings.ToLower(strings.TrimSuffix(d.LDHName, ".")),
		UnicodeName: d.UnicodeName,
		Status:      d.Status,
		SecureDNS:   d.SecureDNS != nil && d.SecureDNS.DelegationSigned,
		Events:      events(d.Events),
		Entities:    entities(d.Entities),
		Port43:      d.Port43,
		Raw:         keep,
		Metadata:    meta,
	}
	for _, ns := range d.Nameservers {
		if len(ns.LDHName) > 0 {
			out.Nameservers = append(out.Nameservers, strings.ToLower(strings.TrimSuffix(ns.LDHName, ".")))
		}
	}
	return out, nil
}

func (n *Normalizer) ipNetwork(b []byte, source string, meta rdap.Metadata, keep json.RawMessage) (rdap.Response, error) {
	var ip ipNetwork
	if err := json.Unmarshal(b, &ip); err != nil {
		return nil, &rdaperr.ParseError{Source: source, Err: err}
	}
	start, err := netip.ParseAddr(ip.StartAddress)
	if err != nil {
		return nil, &rdaperr.NormalizationError{Source: source, Reason: fmt.Sprintf("invalid startAddress %q", ip.StartAddress)}
	}
	end, err := netip.ParseAddr(ip.EndAddress)
	if err != nil {
		return nil, &rdaperr.NormalizationError{Source: source, Reason: fmt.Sprintf("invalid endAddress %q", ip.EndAddress)}
	}

	version := ip.IPVersion
	if len(version) == 0 {
		version = "v6"
		if start.Is4() {
			version = "v4"
		}
	}

	out := &rdap.IPNetwork{
		Handle:       ip.Handle,
		StartAddress: start.String(),
		EndAddress:   end.String(),
		IPVersion:    version,
		Name:         ip.Name,
		NetType:      ip.Type,
		Country:      ip.Country,
		ParentHandle: ip.ParentHandle,
		Status:       ip.Status,
		Events:       events(ip.Events),
		Entities:     entities(ip.Entities),
		Raw:          keep,
		Metadata:     meta,
	}
	for _, c := range ip.CIDRs {
		p := c.V4Prefix
		if len(p) == 0 {
			p = c.V6Prefix
		}
		if len(p) > 0 {
			out.CIDRs = append(out.CIDRs, p+"/"+strconv.Itoa(c.Length))
		}
	}
	return out, nil
}

func (n *Normalizer) autnum(b []byte, source string, meta rdap.Metadata, keep json.RawMessage) (rdap.Response, error) {
	var a autnum
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, &rdaperr.ParseError{Source: source, Err: err}
	}
	if a.StartAutnum == nil {
		return nil, &rdaperr.NormalizationError{Source: source, Reason: "autnum object has no startAutnum"}
	}
	end := *a.StartAutnum
	if a.EndAutnum != nil {
		end = *a.EndAutnum
	}

	return &rdap.Autnum{
		Handle:      a.Handle,
		StartAutnum: *a.StartAutnum,
		EndAutnum:   end,
		Name:        a.Name,
		ASType:      a.Type,
		Country:     a.Country,
		Status:      a.Status,
		Events:      events(a.Events),
		Entities:    entities(a.Entities),
		Raw:         keep,
		Metadata:    meta,
	}, nil
}

func events(es []event) []rdap.Event {
	if len(es) == 0 {
		return nil
	}
	out := make([]rdap.Event, 0, len(es))
	for _, e := range es {
		out = append(out, rdap.Event{Action: e.Action, Actor: e.Actor, Date: e.Date})
	}
	return out
}

func entities(es []entity) []rdap.Entity {
	if len(es) == 0 {
		return nil
	}
	out := make([]rdap.Entity, 0, len(es))
	for _, e := range es {
		c := parseVCard(e.VCard)
		out = append(out, rdap.Entity{
			Handle:       e.Handle,
			Roles:        e.Roles,
			Name:         c.fn,
			Organization: c.org,
			Email:        c.email,
			Phone:        c.tel,
			Address:      c.adr,
			Entities:     entities(e.Entities),
		})
	}
	return out
}
