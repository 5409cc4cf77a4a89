package rdap

import (
	"encoding/json"
	"slices"
	"time"
)

// Response is the canonical response. It is a closed sum type; the only
// variants are *Domain, *IPNetwork and *Autnum. Values stored in a cache are
// never mutated, use Clone to derive a modified copy.
type Response interface {
	Type() QueryType
	Meta() Metadata
	// Clone returns a deep copy of the response with its metadata replaced.
	Clone(m Metadata) Response
	sealed()
}

type Metadata struct {
	Source    string    `json:"source" yaml:"source"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Cached    bool      `json:"cached" yaml:"cached"`
}

type Event struct {
	Action string `json:"action" yaml:"action"`
	Actor  string `json:"actor,omitempty" yaml:"actor,omitempty"`
	Date   string `json:"date,omitempty" yaml:"date,omitempty"`
}

type Entity struct {
	Handle       string   `json:"handle,omitempty" yaml:"handle,omitempty"`
	Roles        []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	Name         string   `json:"name,omitempty" yaml:"name,omitempty"`
	Organization string   `json:"organization,omitempty" yaml:"organization,omitempty"`
	Email        string   `json:"email,omitempty" yaml:"email,omitempty"`
	Phone        string   `json:"phone,omitempty" yaml:"phone,omitempty"`
	Address      string   `json:"address,omitempty" yaml:"address,omitempty"`
	Entities     []Entity `json:"entities,omitempty" yaml:"entities,omitempty"`
}

type Domain struct {
	Handle      string          `json:"handle,omitempty" yaml:"handle,omitempty"`
	LDHName     string          `json:"ldhName" yaml:"ldhName"`
	UnicodeName string          `json:"unicodeName,omitempty" yaml:"unicodeName,omitempty"`
	Status      []string        `json:"status,omitempty" yaml:"status,omitempty"`
	Nameservers []string        `json:"nameservers,omitempty" yaml:"nameservers,omitempty"`
	SecureDNS   bool            `json:"secureDNS" yaml:"secureDNS"`
	Events      []Event         `json:"events,omitempty" yaml:"events,omitempty"`
	Entities    []Entity        `json:"entities,omitempty" yaml:"entities,omitempty"`
	Port43      string          `json:"port43,omitempty" yaml:"port43,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty" yaml:"-"`
	Metadata    Metadata        `json:"metadata" yaml:"metadata"`
}

type IPNetwork struct {
	Handle       string          `json:"handle,omitempty" yaml:"handle,omitempty"`
	StartAddress string          `json:"startAddress" yaml:"startAddress"`
	EndAddress   string          `json:"endAddress" yaml:"endAddress"`
	IPVersion    string          `json:"ipVersion" yaml:"ipVersion"`
	CIDRs        []string        `json:"cidrs,omitempty" yaml:"cidrs,omitempty"`
	Name         string          `json:"name,omitempty" yaml:"name,omitempty"`
	NetType      string          `json:"type,omitempty" yaml:"type,omitempty"`
	Country      string          `json:"country,omitempty" yaml:"country,omitempty"`
	ParentHandle string          `json:"parentHandle,omitempty" yaml:"parentHandle,omitempty"`
	Status       []string        `json:"status,omitempty" yaml:"status,omitempty"`
	Events       []Event         `json:"events,omitempty" yaml:"events,omitempty"`
	Entities     []Entity        `json:"entities,omitempty" yaml:"entities,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty" yaml:"-"`
	Metadata     Metadata        `json:"metadata" yaml:"metadata"`
}

type Autnum struct {
	Handle      string          `json:"handle,omitempty" yaml:"handle,omitempty"`
	StartAutnum uint32          `json:"startAutnum" yaml:"startAutnum"`
	EndAutnum   uint32          `json:"endAutnum" yaml:"endAutnum"`
	Name        string          `json:"name,omitempty" yaml:"name,omitempty"`
	ASType      string          `json:"type,omitempty" yaml:"type,omitempty"`
	Country     string          `json:"country,omitempty" yaml:"country,omitempty"`
	Status      []string        `json:"status,omitempty" yaml:"status,omitempty"`
	Events      []Event         `json:"events,omitempty" yaml:"events,omitempty"`
	Entities    []Entity        `json:"entities,omitempty" yaml:"entities,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty" yaml:"-"`
	Metadata    Metadata        `json:"metadata" yaml:"metadata"`
}

var (
	_ Response = (*Domain)(nil)
	_ Response = (*IPNetwork)(nil)
	_ Response = (*Autnum)(nil)
)

func (*Domain) Type() QueryType    { return TypeDomain }
func (*IPNetwork) Type() QueryType { return TypeIP }
func (*Autnum) Type() QueryType    { return TypeASN }

func (d *Domain) Meta() Metadata    { return d.Metadata }
func (n *IPNetwork) Meta() Metadata { return n.Metadata }
func (a *Autnum) Meta() Metadata    { return a.Metadata }

func (*Domain) sealed()    {}
func (*IPNetwork) sealed() {}
func (*Autnum) sealed()    {}

func (d *Domain) Clone(m Metadata) Response {
	c := *d
	c.Status = slices.Clone(d.Status)
	c.Nameservers = slices.Clone(d.Nameservers)
	c.Events = slices.Clone(d.Events)
	c.Entities = CloneEntities(d.Entities)
	c.Raw = slices.Clone(d.Raw)
	c.Metadata = m
	return &c
}

func (n *IPNetwork) Clone(m Metadata) Response {
	c := *n
	c.CIDRs = slices.Clone(n.CIDRs)
	c.Status = slices.Clone(n.Status)
	c.Events = slices.Clone(n.Events)
	c.Entities = CloneEntities(n.Entities)
	c.Raw = slices.Clone(n.Raw)
	c.Metadata = m
	return &c
}

func (a *Autnum) Clone(m Metadata) Response {
	c := *a
	c.Status = slices.Clone(a.Status)
	c.Events = slices.Clone(a.Events)
	c.Entities = CloneEntities(a.Entities)
	c.Raw = slices.Clone(a.Raw)
	c.Metadata = m
	return &c
}

func CloneEntities(es []Entity) []Entity {
	if es == nil {
		return nil
	}
	out := make([]Entity, len(es))
	for i, e := range es {
		e.Roles = slices.Clone(e.Roles)
		e.Entities = CloneEntities(e.Entities)
		out[i] = e
	}
	return out
}

// EntitiesOf returns the top level entities of r.
func EntitiesOf(r Response) []Entity {
	switch v := r.(type) {
	case *Domain:
		return v.Entities
	case *IPNetwork:
		return v.Entities
	case *Autnum:
		return v.Entities
	}
	return nil
}

// WithEntities returns a copy of r whose entities are replaced by es.
func WithEntities(r Response, es []Entity) Response {
	c := r.Clone(r.Meta())
	switch v := c.(type) {
	case *Domain:
		v.Entities = es
	case *IPNetwork:
		v.Entities = es
	case *Autnum:
		v.Entities = es
	}
	return c
}
