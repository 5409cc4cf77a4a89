package coremain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pmkol/rdapx/pkg/batch"
	"github.com/pmkol/rdapx/pkg/bootstrap"
	"github.com/pmkol/rdapx/pkg/cache"
	"github.com/pmkol/rdapx/pkg/cache/mem_cache"
	"github.com/pmkol/rdapx/pkg/cache/redis_cache"
	"github.com/pmkol/rdapx/pkg/client"
	"github.com/pmkol/rdapx/pkg/fetcher"
	"github.com/pmkol/rdapx/pkg/normalize"
	"github.com/pmkol/rdapx/pkg/pqueue"
	"github.com/pmkol/rdapx/pkg/ratelimit"
	"github.com/pmkol/rdapx/pkg/rdap"
	"github.com/pmkol/rdapx/pkg/redact"
	"github.com/pmkol/rdapx/pkg/retry"
	"github.com/pmkol/rdapx/pkg/server"
	"github.com/pmkol/rdapx/pkg/server/http_handler"
	"github.com/pmkol/rdapx/pkg/ssrf"
	"github.com/pmkol/rdapx/pkg/utils"
)

const (
	defaultCacheTTL     = time.Hour
	defaultBootstrapTTL = 24 * time.Hour
	redisKeyPrefix      = "rdapx:"

	defaultRateLimitRequests = 60
	defaultRateLimitWindowMS = 60000
)

// Rdapx owns every long lived component. It is built once from a Config.
type Rdapx struct {
	logger *zap.Logger
	cfg    *Config

	metricsReg *prometheus.Registry

	responses cache.Cache[rdap.Response]
	tables    cache.Cache[*bootstrap.Table]
	limiter   *ratelimit.Limiter
	fetcher   *fetcher.Fetcher
	discovery *bootstrap.Discovery
	client    *client.Client
	batch     *batch.Processor
	queue     *pqueue.Queue[http_handler.Job, rdap.Response]

	closers []io.Closer
}

func NewRdapx(cfg *Config, lg *zap.Logger) (_ *Rdapx, err error) {
	m := &Rdapx{
		logger:     lg,
		cfg:        cfg,
		metricsReg: newMetricsReg(),
	}
	defer func() {
		if err != nil {
			m.Close()
		}
	}()

	guard, err := ssrf.NewGuard(ssrf.Opts{ExtraBlocked: cfg.SSRF.Blocked})
	if err != nil {
		return nil, fmt.Errorf("failed to init ssrf guard, %w", err)
	}

	m.fetcher, err = fetcher.New(fetcher.Opts{
		Guard:       guard,
		Timeout:     utils.Millis(cfg.Fetch.Timeout),
		MaxBodySize: cfg.Fetch.MaxBodySize,
		UserAgent:   cfg.Fetch.UserAgent,
		Logger:      lg.Named("fetcher"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init fetcher, %w", err)
	}
	m.closers = append(m.closers, m.fetcher)

	retryExec, err := newRetryExecutor(&cfg.Retry, lg.Named("retry"))
	if err != nil {
		return nil, err
	}

	m.tables = mem_cache.NewMemCache[*bootstrap.Table](mem_cache.Opts{
		Size:       len(bootstrap.Registries),
		DefaultTTL: defaultBootstrapTTL,
	})
	m.closers = append(m.closers, m.tables)

	bootstrapRetry := retryExec
	if cfg.Bootstrap.UseRetry != nil && !*cfg.Bootstrap.UseRetry {
		bootstrapRetry = nil
	}
	urls := make(map[bootstrap.Registry]string, len(cfg.Bootstrap.URLs))
	for k, u := range cfg.Bootstrap.URLs {
		r := bootstrap.Registry(k)
		if !slices.Contains(bootstrap.Registries, r) {
			return nil, fmt.Errorf("unknown bootstrap registry %q", k)
		}
		urls[r] = u
	}
	m.discovery, err = bootstrap.NewDiscovery(bootstrap.Opts{
		Cache:   m.tables,
		Fetcher: m.fetcher,
		URLs:    urls,
		TTL:     utils.Seconds(cfg.Bootstrap.TTL),
		Retry:   bootstrapRetry,
		Logger:  lg.Named("bootstrap"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init bootstrap discovery, %w", err)
	}

	m.responses, err = newResponseCache(&cfg.Cache, lg.Named("cache"))
	if err != nil {
		return nil, err
	}
	m.closers = append(m.closers, m.responses)

	opts := client.Opts{
		Cache:      m.responses,
		Discoverer: m.discovery,
		Fetcher:    m.fetcher,
		Normalizer: normalize.New(nil),
		Redactor:   redact.New(cfg.Redact.Enabled),
		Retry:      retryExec,
		CacheTTL:   utils.Seconds(cfg.Cache.TTL),
		IncludeRaw: cfg.IncludeRaw,
		Logger:     lg.Named("client"),
		MetricsReg: m.GetMetricsReg(),
	}
	if rl := cfg.RateLimit; rl.Enabled {
		utils.SetDefaultNum(&rl.MaxRequests, defaultRateLimitRequests)
		utils.SetDefaultNum(&rl.WindowMS, defaultRateLimitWindowMS)
		m.limiter = ratelimit.New(ratelimit.Opts{
			MaxRequests:     rl.MaxRequests,
			Window:          utils.Millis(rl.WindowMS),
			CleanupInterval: utils.Seconds(rl.CleanupInterval),
		})
		m.closers = append(m.closers, m.limiter)
		opts.Limiter = m.limiter
	}
	m.client, err = client.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to init client, %w", err)
	}

	m.batch = batch.New(m.client, lg.Named("batch"))

	if cfg.Queue.Enabled {
		m.queue, err = pqueue.New[http_handler.Job, rdap.Response](m.runJob, pqueue.Opts{
			Concurrency: cfg.Queue.Concurrency,
			Logger:      lg.Named("queue"),
			MetricsReg:  m.GetMetricsReg(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init queue, %w", err)
		}
		m.closers = append(m.closers, m.queue)
	}
	return m, nil
}

func newRetryExecutor(rc *RetryConfig, lg *zap.Logger) (*retry.Executor, error) {
	p := retry.DefaultPolicy()
	b, err := retry.ParseBackoff(rc.Backoff)
	if err != nil {
		return nil, err
	}
	p.Backoff = b
	if rc.MaxAttempts > 0 {
		p.MaxAttempts = rc.MaxAttempts
	}
	if rc.InitialDelay > 0 {
		p.InitialDelay = utils.Millis(rc.InitialDelay)
	}
	if rc.MaxDelay > 0 {
		p.MaxDelay = utils.Millis(rc.MaxDelay)
	}
	if len(rc.RetryableStatusCodes) > 0 {
		p.RetryableStatusCodes = rc.RetryableStatusCodes
	}
	return retry.NewExecutor(p, lg), nil
}

func newResponseCache(cc *CacheConfig, lg *zap.Logger) (cache.Cache[rdap.Response], error) {
	ttl := utils.Seconds(cc.TTL)
	utils.SetDefaultNum(&ttl, defaultCacheTTL)

	switch cc.Backend {
	case "", "memory":
		return mem_cache.NewMemCache[rdap.Response](mem_cache.Opts{
			Size:            cc.Size,
			DefaultTTL:      ttl,
			CleanerInterval: utils.Seconds(cc.CleanerInterval),
		}), nil
	case "redis":
		rc := redis.NewClient(&redis.Options{
			Addr:     cc.Redis.Addr,
			Password: cc.Redis.Password,
			DB:       cc.Redis.DB,
		})
		c, err := redis_cache.NewRedisCache[rdap.Response](redis_cache.RedisCacheOpts[rdap.Response]{
			Client:        rc,
			ClientCloser:  rc,
			Codec:         rdap.Codec{},
			KeyPrefix:     redisKeyPrefix,
			ClientTimeout: utils.Millis(cc.Redis.Timeout),
			DefaultTTL:    ttl,
			Logger:        lg,
		})
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to init redis cache, %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cc.Backend)
}

func (m *Rdapx) runJob(ctx context.Context, j http_handler.Job) (rdap.Response, error) {
	return m.client.Query(client.WithCallerKey(ctx, j.Caller), j.Type, j.Input)
}

// Serve runs the http api until ctx is done or the server fails.
func (m *Rdapx) Serve(ctx context.Context) error {
	httpAddr := m.cfg.API.HTTP
	if len(httpAddr) == 0 {
		return errors.New("no api http address is configured")
	}

	h, err := http_handler.NewHandler(m.handlerOpts())
	if err != nil {
		return err
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Mount("/debug", middleware.Profiler())
	h.Register(r)

	l, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s, %w", httpAddr, err)
	}

	srv := server.NewServer(server.ServerOpts{
		Logger:        m.logger.Named("api"),
		HttpHandler:   r,
		ProxyProtocol: m.cfg.API.ProxyProtocol,
	})
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.ServeHTTP(l)
		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		srv.Close()
		return nil
	})
	return g.Wait()
}

func (m *Rdapx) handlerOpts() http_handler.HandlerOpts {
	opts := http_handler.HandlerOpts{
		Client: m.client,
		Batch:  m.batch,
		BatchOpts: batch.Options{
			Concurrency:     m.cfg.Batch.Concurrency,
			ContinueOnError: m.cfg.Batch.ContinueOnError,
		},
		MaxBatchSize:      m.cfg.Batch.MaxSize,
		Metrics:           promhttp.HandlerFor(m.metricsReg, promhttp.HandlerOpts{}),
		TrustProxyHeaders: m.cfg.API.TrustProxyHeaders,
		SrcIPHeader:       m.cfg.API.SrcIPHeader,
		Logger:            m.logger.Named("api"),
	}
	if m.queue != nil {
		opts.Queue = m.queue
	}
	return opts
}

// Close releases components in reverse creation order.
func (m *Rdapx) Close() error {
	var err error
	for i := len(m.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, m.closers[i].Close())
	}
	m.closers = nil
	return err
}

func (m *Rdapx) GetClient() *client.Client {
	return m.client
}

func (m *Rdapx) GetDiscovery() *bootstrap.Discovery {
	return m.discovery
}

func (m *Rdapx) GetBatch() *batch.Processor {
	return m.batch
}

func (m *Rdapx) GetMetricsReg() prometheus.Registerer {
	return prometheus.WrapRegistererWithPrefix("rdapx_", m.metricsReg)
}

func (m *Rdapx) GetHTTPHandler() (http.Handler, error) {
	return http_handler.NewHandler(m.handlerOpts())
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}
