// Package bootstrap resolves a query to the base URL of its authoritative
// RDAP server using the IANA bootstrap registries. Tables are loaded lazily
// through a cache and replaced wholesale when they expire. Concurrent
// callers hitting an expired table each fetch it; there is no request
// coalescing.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pmkol/rdapx/pkg/cache"
	"github.com/pmkol/rdapx/pkg/rdap"
	"github.com/pmkol/rdapx/pkg/rdaperr"
	"github.com/pmkol/rdapx/pkg/retry"
	"github.com/pmkol/rdapx/pkg/utils"
)

const defaultTTL = 24 * time.Hour

// Fetcher downloads a bootstrap document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*rdap.RawResponse, error)
}

type Opts struct {
	// Cache and Fetcher cannot be nil.
	Cache   cache.Cache[*Table]
	Fetcher Fetcher

	// URLs overrides DefaultURLs per registry.
	URLs map[Registry]string

	// TTL of a loaded table. Default is 24h.
	TTL time.Duration

	// Retry wraps table downloads. Nil means a single attempt.
	Retry *retry.Executor

	Logger *zap.Logger
}

type Discovery struct {
	opts Opts
	urls map[Registry]string
}

func NewDiscovery(opts Opts) (*Discovery, error) {
	if opts.Cache == nil {
		return nil, errors.New("nil table cache")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("nil fetcher")
	}
	utils.SetDefaultNum(&opts.TTL, defaultTTL)
	if opts.Retry == nil {
		opts.Retry = retry.NewExecutor(retry.Policy{MaxAttempts: 1}, nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	urls := make(map[Registry]string, len(DefaultURLs))
	for r, u := range DefaultURLs {
		urls[r] = u
	}
	for r, u := range opts.URLs {
		if len(u) > 0 {
			urls[r] = u
		}
	}
	return &Discovery{opts: opts, urls: urls}, nil
}

// Table returns the current table of reg, loading it if it is missing or
// expired.
func (d *Discovery) Table(ctx context.Context, reg Registry) (*Table, error) {
	if t, ok := d.opts.Cache.Get(string(reg)); ok {
		return t, nil
	}

	u, ok := d.urls[reg]
	if !ok {
		return nil, fmt.Errorf("unknown registry %q", reg)
	}
	start := time.Now()
	raw, err := retry.Execute(ctx, d.opts.Retry, func(ctx context.Context) (*rdap.RawResponse, error) {
		return d.opts.Fetcher.Fetch(ctx, u)
	})
	if err != nil {
		d.opts.Logger.Warn("failed to load bootstrap table", zap.String("registry", string(reg)), zap.String("url", u), zap.Error(err))
		return nil, err
	}
	t, err := ParseTable(reg, raw.Body)
	if err != nil {
		return nil, &rdaperr.ParseError{Source: u, Err: err}
	}

	d.opts.Cache.Set(string(reg), t, d.opts.TTL)
	d.opts.Logger.Info("bootstrap table loaded",
		zap.String("registry", string(reg)),
		zap.String("publication", t.Publication),
		zap.Int("services", len(t.Services)),
		zap.Duration("elapsed", time.Since(start)))
	return t, nil
}

func (d *Discovery) DiscoverDomain(ctx context.Context, name string) (string, error) {
	t, err := d.Table(ctx, RegistryDNS)
	if err != nil {
		return "", err
	}
	s, ok := t.LookupDomain(name)
	if !ok {
		return "", &rdaperr.NoServerFoundError{Registry: string(RegistryDNS), Query: name}
	}
	return s.BaseURL(), nil
}

func (d *Discovery) DiscoverIPv4(ctx context.Context, addr netip.Addr) (string, error) {
	return d.discoverIP(ctx, RegistryIPv4, addr)
}

func (d *Discovery) DiscoverIPv6(ctx context.Context, addr netip.Addr) (string, error) {
	return d.discoverIP(ctx, RegistryIPv6, addr)
}

func (d *Discovery) discoverIP(ctx context.Context, reg Registry, addr netip.Addr) (string, error) {
	t, err := d.Table(ctx, reg)
	if err != nil {
		return "", err
	}
	s, ok := t.LookupIP(addr)
	if !ok {
		return "", &rdaperr.NoServerFoundError{Registry: string(reg), Query: addr.String()}
	}
	return s.BaseURL(), nil
}

func (d *Discovery) DiscoverASN(ctx context.Context, n uint32) (string, error) {
	t, err := d.Table(ctx, RegistryASN)
	if err != nil {
		return "", err
	}
	s, ok := t.LookupASN(n)
	if !ok {
		return "", &rdaperr.NoServerFoundError{Registry: string(RegistryASN), Query: strconv.FormatUint(uint64(n), 10)}
	}
	return s.BaseURL(), nil
}

// Discover dispatches q to the matching Discover* method.
func (d *Discovery) Discover(ctx context.Context, q rdap.Query) (string, error) {
	switch q.Type {
	case rdap.TypeDomain:
		return d.DiscoverDomain(ctx, q.Value)
	case rdap.TypeIP:
		addr := q.Addr()
		if addr.Is4() {
			return d.DiscoverIPv4(ctx, addr)
		}
		return d.DiscoverIPv6(ctx, addr)
	case rdap.TypeASN:
		return d.DiscoverASN(ctx, q.ASN())
	}
	return "", &rdaperr.ValidationError{Field: "type", Input: string(q.Type), Reason: "unknown query type"}
}

// ClearCache drops all loaded tables.
func (d *Discovery) ClearCache() {
	for _, r := range Registries {
		d.opts.Cache.Delete(string(r))
	}
}

// Warm loads all registries concurrently.
func (d *Discovery) Warm(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range Registries {
		g.Go(func() error {
			_, err := d.Table(ctx, r)
			return err
		})
	}
	return g.Wait()
}
