// Package client implements the query pipeline: rate limit, validation,
// response cache, bootstrap discovery, fetch with retry, normalization and
// redaction.
package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pmkol/rdapx/pkg/cache"
	"github.com/pmkol/rdapx/pkg/query_context"
	"github.com/pmkol/rdapx/pkg/rdap"
	"github.com/pmkol/rdapx/pkg/rdaperr"
	"github.com/pmkol/rdapx/pkg/retry"
	"github.com/pmkol/rdapx/pkg/validator"
)

const DefaultCallerKey = "global"

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*rdap.RawResponse, error)
}

type Normalizer interface {
	Normalize(raw *rdap.RawResponse, q rdap.Query, source string, cached, includeRaw bool) (rdap.Response, error)
}

type Redactor interface {
	Redact(r rdap.Response) rdap.Response
	Enabled() bool
}

type Discoverer interface {
	Discover(ctx context.Context, q rdap.Query) (string, error)
	ClearCache()
}

type Limiter interface {
	Check(key string) error
}

type Opts struct {
	// Cache, Discoverer, Fetcher and Normalizer cannot be nil.
	Cache      cache.Cache[rdap.Response]
	Discoverer Discoverer
	Fetcher    Fetcher
	Normalizer Normalizer

	// Redactor and Limiter are optional.
	Redactor Redactor
	Limiter  Limiter

	// Retry wraps every fetch. Nil means a single attempt.
	Retry *retry.Executor

	// CacheTTL of responses. Zero uses the cache default.
	CacheTTL   time.Duration
	IncludeRaw bool

	Logger *zap.Logger

	// MetricsReg registers the client collectors if not nil.
	MetricsReg prometheus.Registerer
}

type Client struct {
	opts    Opts
	logger  *zap.Logger
	metrics *metrics
}

func New(opts Opts) (*Client, error) {
	switch {
	case opts.Cache == nil:
		return nil, errors.New("nil response cache")
	case opts.Discoverer == nil:
		return nil, errors.New("nil discoverer")
	case opts.Fetcher == nil:
		return nil, errors.New("nil fetcher")
	case opts.Normalizer == nil:
		return nil, errors.New("nil normalizer")
	}
	if opts.Retry == nil {
		opts.Retry = retry.NewExecutor(retry.Policy{MaxAttempts: 1}, nil)
	}
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	c := &Client{opts: opts, logger: lg, metrics: newMetrics()}
	if opts.MetricsReg != nil {
		if err := c.metrics.register(opts.MetricsReg); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type callerKey struct{}

// WithCallerKey returns a ctx whose queries are rate limited under key.
func WithCallerKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, callerKey{}, key)
}

// CallerKey returns the rate limit key of ctx.
func CallerKey(ctx context.Context) string {
	if k, ok := ctx.Value(callerKey{}).(string); ok && len(k) > 0 {
		return k
	}
	return DefaultCallerKey
}

func (c *Client) QueryDomain(ctx context.Context, name string) (*rdap.Domain, error) {
	r, err := c.Query(ctx, rdap.TypeDomain, name)
	if err != nil {
		return nil, err
	}
	return r.(*rdap.Domain), nil
}

func (c *Client) QueryIP(ctx context.Context, addr string) (*rdap.IPNetwork, error) {
	r, err := c.Query(ctx, rdap.TypeIP, addr)
	if err != nil {
		return nil, err
	}
	return r.(*rdap.IPNetwork), nil
}

func (c *Client) QueryASN(ctx context.Context, asn string) (*rdap.Autnum, error) {
	r, err := c.Query(ctx, rdap.TypeASN, asn)
	if err != nil {
		return nil, err
	}
	return r.(*rdap.Autnum), nil
}

// Query runs one query through the pipeline. The returned response is owned
// by the caller. Errors are returned unchanged and never cached.
func (c *Client) Query(ctx context.Context, t rdap.QueryType, input string) (rdap.Response, error) {
	start := time.Now()
	caller := CallerKey(ctx)
	c.logger.Debug("query received", zap.String("type", string(t)), zap.String("input", input), zap.String("caller", caller))

	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Check(caller); err != nil {
			c.metrics.incRateLimited()
			c.logger.Warn("query rate limited", zap.String("caller", caller), zap.Error(err))
			return nil, err
		}
	}

	q, err := validator.Normalize(t, input)
	if err != nil {
		c.done(string(t), start, false, err)
		c.logger.Debug("invalid query", zap.String("type", string(t)), zap.String("input", input), zap.Error(err))
		return nil, err
	}
	qCtx := query_context.NewContext(q, caller)

	r, err := c.exec(ctx, qCtx)
	c.done(string(q.Type), start, qCtx.Cached(), err)
	if err != nil {
		c.logger.Warn("query failed", qCtx.InfoField(), zap.String("source", qCtx.Source()), zap.Error(err))
		return nil, err
	}
	c.logger.Debug("query done",
		qCtx.InfoField(),
		zap.String("source", qCtx.Source()),
		zap.Bool("cached", qCtx.Cached()),
		zap.Duration("elapsed", qCtx.Elapsed()))
	return r, nil
}

func (c *Client) exec(ctx context.Context, qCtx *query_context.Context) (rdap.Response, error) {
	q := qCtx.Q()
	key := q.CacheKey()

	if v, ok := c.opts.Cache.Get(key); ok && v != nil && v.Type() == q.Type {
		m := v.Meta()
		m.Cached = true
		qCtx.SetCached(true)
		qCtx.SetSource(m.Source)
		return c.redact(v.Clone(m)), nil
	}

	base, err := c.opts.Discoverer.Discover(ctx, q)
	if err != nil {
		return nil, err
	}
	u := strings.TrimSuffix(base, "/") + "/" + q.Path()
	qCtx.SetSource(u)

	raw, err := retry.Execute(ctx, c.opts.Retry, func(ctx context.Context) (*rdap.RawResponse, error) {
		return c.opts.Fetcher.Fetch(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	r, err := c.opts.Normalizer.Normalize(raw, q, u, false, c.opts.IncludeRaw)
	if err != nil {
		return nil, err
	}
	if r.Type() != q.Type {
		return nil, &rdaperr.NormalizationError{Source: u, Reason: "response variant does not match the query type"}
	}

	c.opts.Cache.Set(key, r, c.opts.CacheTTL)
	// The cached value is shared, callers get their own copy.
	return c.redact(r.Clone(r.Meta())), nil
}

func (c *Client) redact(r rdap.Response) rdap.Response {
	if c.opts.Redactor == nil || !c.opts.Redactor.Enabled() {
		return r
	}
	return c.opts.Redactor.Redact(r)
}

func (c *Client) done(typ string, start time.Time, hit bool, err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	c.metrics.observe(typ, result, time.Since(start).Seconds(), hit)
}

// ClearCache drops cached responses and bootstrap tables.
func (c *Client) ClearCache() {
	c.opts.Cache.Clear()
	c.opts.Discoverer.ClearCache()
	c.logger.Info("caches cleared")
}

func (c *Client) Stats() Stats {
	return Stats{
		Queries:     c.metrics.nQueries.Load(),
		CacheHits:   c.metrics.nHits.Load(),
		Errors:      c.metrics.nErrors.Load(),
		RateLimited: c.metrics.nRateLimited.Load(),
		CacheSize:   c.opts.Cache.Len(),
	}
}
