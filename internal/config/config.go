// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/gif-crawler/internal/crawler"
	"github.com/JakeFAU/gif-crawler/internal/logging"
)

// EnvPrefix is prepended to environment overrides, e.g.
// GIFCRAWLER_ENGINE_POOL_CAPACITY=4.
const EnvPrefix = "GIFCRAWLER"

// Transport and cache backends.
const (
	TransportHTTP  = "http"
	TransportColly = "colly"
	CacheMemory    = "memory"
	CacheBloom     = "bloom"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    logging.Config   `mapstructure:"logging"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Task       TaskConfig       `mapstructure:"task"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Normalizer NormalizerConfig `mapstructure:"normalizer"`
	Document   DocumentConfig   `mapstructure:"document"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Store      StoreConfig      `mapstructure:"store"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// EngineConfig holds pool-wide scheduler settings.
type EngineConfig struct {
	PoolCapacity   int           `mapstructure:"pool_capacity"`
	PriorityRange  int           `mapstructure:"priority_range"`
	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay"`
	MinRetryDelay  time.Duration `mapstructure:"min_retry_delay"`
}

// TaskConfig is the default option set applied to every task.
type TaskConfig struct {
	Method            string            `mapstructure:"method"`
	Priority          int               `mapstructure:"priority"`
	Retries           int               `mapstructure:"retries"`
	RetryDelay        time.Duration     `mapstructure:"retry_delay"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Cache             bool              `mapstructure:"cache"`
	SkipDuplicates    bool              `mapstructure:"skip_duplicates"`
	ForceUTF8         bool              `mapstructure:"force_utf8"`
	IncomingEncoding  string            `mapstructure:"incoming_encoding"`
	BuildDocument     bool              `mapstructure:"build_document"`
	AutoCloseDocument bool              `mapstructure:"auto_close_document"`
	UserAgent         string            `mapstructure:"user_agent"`
	Referer           string            `mapstructure:"referer"`
	Proxies           []string          `mapstructure:"proxies"`
	Headers           map[string]string `mapstructure:"headers"`
}

// TransportConfig selects and tunes the network transport.
type TransportConfig struct {
	Kind         string            `mapstructure:"kind"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	MaxBodyBytes int64             `mapstructure:"max_body_bytes"`
	Headers      map[string]string `mapstructure:"headers"`
}

// CacheConfig selects the cache/dedup backend.
type CacheConfig struct {
	Backend           string  `mapstructure:"backend"`
	ExpectedItems     uint    `mapstructure:"expected_items"`
	FalsePositiveRate float64 `mapstructure:"false_positive_rate"`
}

// NormalizerConfig tunes charset detection.
type NormalizerConfig struct {
	Passthrough   []string `mapstructure:"passthrough"`
	MinConfidence int      `mapstructure:"min_confidence"`
}

// DocumentConfig locates the named-selector resource.
type DocumentConfig struct {
	QueryResource string `mapstructure:"query_resource"`
}

// CrawlConfig describes the scrape run.
type CrawlConfig struct {
	Category   string   `mapstructure:"category"`
	Seeds      []string `mapstructure:"seeds"`
	MaxRecords int      `mapstructure:"max_records"`
}

// SinkConfig sets the append file.
type SinkConfig struct {
	Path string `mapstructure:"path"`
}

// StoreConfig controls the optional Postgres record store.
type StoreConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// MetricsConfig controls the operator HTTP server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("engine.pool_capacity", 10)
	v.SetDefault("engine.priority_range", 10)
	v.SetDefault("engine.rate_limit_delay", "0s")
	v.SetDefault("engine.min_retry_delay", "0s")
	v.SetDefault("task.method", crawler.DefaultMethod)
	v.SetDefault("task.priority", crawler.DefaultPriority)
	v.SetDefault("task.retries", crawler.DefaultRetries)
	v.SetDefault("task.retry_delay", crawler.DefaultRetryDelay.String())
	v.SetDefault("task.timeout", crawler.DefaultTimeout.String())
	v.SetDefault("task.cache", false)
	v.SetDefault("task.skip_duplicates", false)
	v.SetDefault("task.force_utf8", false)
	v.SetDefault("task.incoming_encoding", "")
	v.SetDefault("task.build_document", true)
	v.SetDefault("task.auto_close_document", true)
	v.SetDefault("task.user_agent", crawler.DefaultUserAgent)
	v.SetDefault("task.referer", "")
	v.SetDefault("transport.kind", TransportHTTP)
	v.SetDefault("transport.timeout", "30s")
	v.SetDefault("transport.max_body_bytes", 10<<20)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.expected_items", 100000)
	v.SetDefault("cache.false_positive_rate", 0.01)
	v.SetDefault("normalizer.min_confidence", 50)
	v.SetDefault("document.query_resource", "")
	v.SetDefault("crawl.category", "cat")
	v.SetDefault("crawl.seeds", []string{"http://giphy.com/categories"})
	v.SetDefault("crawl.max_records", 100)
	v.SetDefault("sink.path", "data/cat")
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.table", "gifs")
	v.SetDefault("metrics.addr", ":9090")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Engine.PoolCapacity <= 0 {
		return fmt.Errorf("engine.pool_capacity must be > 0")
	}
	if c.Engine.PriorityRange <= 0 {
		return fmt.Errorf("engine.priority_range must be > 0")
	}
	if c.Engine.RateLimitDelay < 0 {
		return fmt.Errorf("engine.rate_limit_delay must be >= 0")
	}
	if c.Task.Priority < 0 || c.Task.Priority >= c.Engine.PriorityRange {
		return fmt.Errorf("task.priority must be in [0, %d)", c.Engine.PriorityRange)
	}
	if c.Task.Retries < 0 {
		return fmt.Errorf("task.retries must be >= 0")
	}
	if c.Task.Timeout <= 0 {
		return fmt.Errorf("task.timeout must be > 0")
	}
	switch c.Transport.Kind {
	case TransportHTTP, TransportColly:
	default:
		return fmt.Errorf("transport.kind must be %q or %q", TransportHTTP, TransportColly)
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheBloom:
		if c.Cache.FalsePositiveRate <= 0 || c.Cache.FalsePositiveRate >= 1 {
			return fmt.Errorf("cache.false_positive_rate must be in (0, 1)")
		}
	default:
		return fmt.Errorf("cache.backend must be %q or %q", CacheMemory, CacheBloom)
	}
	if c.Crawl.MaxRecords < 0 {
		return fmt.Errorf("crawl.max_records must be >= 0")
	}
	if strings.TrimSpace(c.Sink.Path) == "" {
		return fmt.Errorf("sink.path is required")
	}
	if c.Store.Enabled && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set when the store is enabled")
	}
	return nil
}

// Defaults maps the task section onto crawler.Options.
func (c Config) Defaults() crawler.Options {
	opts := crawler.DefaultOptions()
	t := c.Task
	apply := []crawler.Option{
		crawler.WithMethod(t.Method),
		crawler.WithPriority(t.Priority),
		crawler.WithRetries(t.Retries),
		crawler.WithRetryDelay(t.RetryDelay),
		crawler.WithTimeout(t.Timeout),
		crawler.WithCache(t.Cache),
		crawler.WithSkipDuplicates(t.SkipDuplicates),
		crawler.WithForceUTF8(t.ForceUTF8),
		crawler.WithIncomingEncoding(t.IncomingEncoding),
		crawler.WithBuildDocument(t.BuildDocument),
		crawler.WithAutoCloseDocument(t.AutoCloseDocument),
		crawler.WithUserAgent(t.UserAgent),
		crawler.WithReferer(t.Referer),
	}
	if len(t.Proxies) > 0 {
		apply = append(apply, crawler.WithProxies(t.Proxies...))
	}
	for k, v := range t.Headers {
		apply = append(apply, crawler.WithHeader(k, v))
	}
	return opts.With(apply...)
}
