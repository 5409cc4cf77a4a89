package rdap

import (
	"net/netip"
	"strconv"
)

type QueryType string

const (
	TypeDomain QueryType = "domain"
	TypeIP     QueryType = "ip"
	TypeASN    QueryType = "asn"
)

func (t QueryType) Valid() bool {
	switch t {
	case TypeDomain, TypeIP, TypeASN:
		return true
	}
	return false
}

// Query is a validated, normalized query. Build it with the validator
// package; the zero value is not meaningful.
type Query struct {
	Type  QueryType
	Value string
}

// CacheKey is unique per distinct normalized query.
func (q Query) CacheKey() string {
	return string(q.Type) + ":" + q.Value
}

// Addr returns the address of an ip query.
func (q Query) Addr() netip.Addr {
	a, _ := netip.ParseAddr(q.Value)
	return a
}

// ASN returns the number of an asn query.
func (q Query) ASN() uint32 {
	n, _ := strconv.ParseUint(q.Value, 10, 32)
	return uint32(n)
}

// Path returns the RDAP path segment of q, relative to a server base URL.
func (q Query) Path() string {
	switch q.Type {
	case TypeDomain:
		return "domain/" + q.Value
	case TypeIP:
		return "ip/" + q.Value
	case TypeASN:
		return "autnum/" + q.Value
	}
	return ""
}

func (q Query) String() string {
	return q.CacheKey()
}

// RawResponse is an upstream payload as returned by a Fetcher.
type RawResponse struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}
