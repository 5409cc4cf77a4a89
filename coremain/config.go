package coremain

import (
	"github.com/pmkol/rdapx/mlog"
)

type Config struct {
	Log        mlog.LogConfig  `yaml:"log"`
	Cache      CacheConfig     `yaml:"cache"`
	Bootstrap  BootstrapConfig `yaml:"bootstrap"`
	Fetch      FetchConfig     `yaml:"fetch"`
	Retry      RetryConfig     `yaml:"retry"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	SSRF       SSRFConfig      `yaml:"ssrf"`
	Redact     RedactConfig    `yaml:"redact"`
	Batch      BatchConfig     `yaml:"batch"`
	Queue      QueueConfig     `yaml:"queue"`
	API        APIConfig       `yaml:"api"`
	IncludeRaw bool            `yaml:"include_raw"`
}

type CacheConfig struct {
	// Size is the maximum number of cached responses.
	Size int `yaml:"size"`
	// TTL in seconds.
	TTL int `yaml:"ttl"`
	// CleanerInterval in seconds. Zero disables the background cleaner.
	CleanerInterval int `yaml:"cleaner_interval"`
	// Backend is "memory" (default) or "redis".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Timeout in milliseconds.
	Timeout int `yaml:"timeout"`
}

type BootstrapConfig struct {
	// TTL of bootstrap tables in seconds.
	TTL int `yaml:"ttl"`
	// URLs overrides the registry urls, keyed by dns, ipv4, ipv6 or asn.
	URLs map[string]string `yaml:"urls"`
	// UseRetry applies the retry policy to table downloads. Default is true.
	UseRetry *bool `yaml:"use_retry"`
}

type FetchConfig struct {
	// Timeout in milliseconds.
	Timeout     int    `yaml:"timeout"`
	MaxBodySize int64  `yaml:"max_body_size"`
	UserAgent   string `yaml:"user_agent"`
}

type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
	// InitialDelay and MaxDelay in milliseconds.
	InitialDelay         int   `yaml:"initial_delay"`
	MaxDelay             int   `yaml:"max_delay"`
	RetryableStatusCodes []int `yaml:"retryable_status_codes"`
}

type RateLimitConfig struct {
	Enabled     bool `yaml:"enabled"`
	MaxRequests int  `yaml:"max_requests"`
	WindowMS    int  `yaml:"window_ms"`
	// CleanupInterval in seconds.
	CleanupInterval int `yaml:"cleanup_interval"`
}

type SSRFConfig struct {
	// Blocked adds CIDRs to the built-in blocked ranges.
	Blocked []string `yaml:"blocked"`
}

type RedactConfig struct {
	Enabled bool `yaml:"enabled"`
}

type BatchConfig struct {
	Concurrency     int  `yaml:"concurrency"`
	ContinueOnError bool `yaml:"continue_on_error"`
	MaxSize         int  `yaml:"max_size"`
}

type QueueConfig struct {
	Enabled     bool `yaml:"enabled"`
	Concurrency int  `yaml:"concurrency"`
}

type APIConfig struct {
	HTTP              string `yaml:"http"`
	ProxyProtocol     bool   `yaml:"proxy_protocol"`
	TrustProxyHeaders bool   `yaml:"trust_proxy_headers"`
	SrcIPHeader       string `yaml:"src_ip_header"`
}
