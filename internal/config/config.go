// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/viper"
)

// Drain policies applied when a running crawl is asked to stop.
const (
	DrainGraceful = "graceful"
	DrainHard     = "hard"
)

// Storage backends understood by storage.Open.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Sites   []SiteConfig  `mapstructure:"sites"`
	Storage StorageConfig `mapstructure:"storage"`
	Ops     OpsConfig     `mapstructure:"ops"`
}

// LogConfig toggles zap verbosity and development features.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// CrawlerConfig governs the producer/worker pipeline.
type CrawlerConfig struct {
	UserAgent       string        `mapstructure:"user_agent"`
	DefaultDelay    time.Duration `mapstructure:"default_delay"`
	HonorCrawlDelay bool          `mapstructure:"honor_crawl_delay"`
	Workers         int           `mapstructure:"workers"`
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	DrainPolicy     string        `mapstructure:"drain_policy"`
	MaxDocuments    int           `mapstructure:"max_documents"`
	MaxBytes        string        `mapstructure:"max_bytes"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	GlobalRPS       float64       `mapstructure:"global_rps"`
	MaxSitemapBytes int64         `mapstructure:"max_sitemap_bytes"`
}

// SiteConfig describes one crawl target.
type SiteConfig struct {
	BaseURL string   `mapstructure:"base_url"`
	Ignore  []string `mapstructure:"ignore"`
}

// StorageConfig selects and configures the document/progress backend.
type StorageConfig struct {
	Backend     string         `mapstructure:"backend"`
	PingTimeout time.Duration  `mapstructure:"ping_timeout"`
	Local       LocalConfig    `mapstructure:"local"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	Mongo       MongoConfig    `mapstructure:"mongo"`
	GCS         GCSConfig      `mapstructure:"gcs"`
}

// LocalConfig configures the filesystem backend.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PostgresConfig configures the pgx pool backend.
type PostgresConfig struct {
	DSN            string `mapstructure:"dsn"`
	DocumentsTable string `mapstructure:"documents_table"`
	ProgressTable  string `mapstructure:"progress_table"`
	MaxConns       int32  `mapstructure:"max_conns"`
}

// MongoConfig configures the MongoDB backend.
type MongoConfig struct {
	URL                string `mapstructure:"url"`
	DB                 string `mapstructure:"db"`
	Collection         string `mapstructure:"collection"`
	ProgressCollection string `mapstructure:"progress_collection"`
}

// GCSConfig configures the Cloud Storage backend.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// OpsConfig controls the operator HTTP surface.
type OpsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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

// MaxStoredBytes returns max_bytes in bytes, or 0 when unset. Sizes use
// binary units: "512", "64kb", "10mb", "1gb".
func (c CrawlerConfig) MaxStoredBytes() int64 {
	if c.MaxBytes == "" {
		return 0
	}
	n, err := units.RAMInBytes(c.MaxBytes)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "error")
	v.SetDefault("log.development", false)
	v.SetDefault("crawler.user_agent", "SimpleCrawler")
	v.SetDefault("crawler.default_delay", "5s")
	v.SetDefault("crawler.honor_crawl_delay", false)
	v.SetDefault("crawler.workers", 1)
	v.SetDefault("crawler.queue_capacity", 5)
	v.SetDefault("crawler.drain_policy", DrainGraceful)
	v.SetDefault("crawler.max_documents", 0)
	v.SetDefault("crawler.max_bytes", "")
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.global_rps", 0)
	v.SetDefault("crawler.max_sitemap_bytes", 50<<20)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.ping_timeout", "2s")
	v.SetDefault("storage.local.base_dir", "data/documents")
	v.SetDefault("storage.postgres.documents_table", "documents")
	v.SetDefault("storage.postgres.progress_table", "crawl_progress")
	v.SetDefault("storage.mongo.url", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo.db", "parser_db")
	v.SetDefault("storage.mongo.collection", "articles")
	v.SetDefault("storage.mongo.progress_collection", "url_progress")
	v.SetDefault("storage.gcs.prefix", "crawl")
	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.addr", ":9090")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug|info|warn|error, got %q", c.Log.Level)
	}
	if strings.TrimSpace(c.Crawler.UserAgent) == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.DefaultDelay < 0 {
		return fmt.Errorf("crawler.default_delay must be >= 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueCapacity <= 0 || c.Crawler.QueueCapacity > 1000 {
		return fmt.Errorf("crawler.queue_capacity must be within 1..1000")
	}
	switch c.Crawler.DrainPolicy {
	case DrainGraceful, DrainHard:
	default:
		return fmt.Errorf("crawler.drain_policy must be %q or %q", DrainGraceful, DrainHard)
	}
	if c.Crawler.MaxDocuments < 0 {
		return fmt.Errorf("crawler.max_documents must be >= 0")
	}
	if c.Crawler.MaxBytes != "" {
		n, err := units.RAMInBytes(c.Crawler.MaxBytes)
		if err != nil {
			return fmt.Errorf("crawler.max_bytes: %w", err)
		}
		if n <= 0 {
			return fmt.Errorf("crawler.max_bytes must be > 0")
		}
		if c.Crawler.MaxDocuments > 0 {
			return fmt.Errorf("crawler.max_documents and crawler.max_bytes are mutually exclusive")
		}
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.GlobalRPS < 0 {
		return fmt.Errorf("crawler.global_rps must be >= 0")
	}
	if c.Crawler.MaxSitemapBytes <= 0 {
		return fmt.Errorf("crawler.max_sitemap_bytes must be > 0")
	}
	if len(c.Sites) == 0 {
		return fmt.Errorf("sites must include at least one base_url")
	}
	for i, site := range c.Sites {
		if strings.TrimSpace(site.BaseURL) == "" {
			return fmt.Errorf("sites[%d].base_url must be set", i)
		}
	}
	if c.Storage.PingTimeout <= 0 {
		return fmt.Errorf("storage.ping_timeout must be > 0")
	}
	return c.Storage.validateBackend()
}

func (s StorageConfig) validateBackend() error {
	switch s.Backend {
	case BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(s.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case BackendPostgres:
		if s.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	case BackendMongo:
		if s.Mongo.URL == "" || s.Mongo.DB == "" {
			return fmt.Errorf("storage.mongo.url and storage.mongo.db must be set for the mongo backend")
		}
	case BackendGCS:
		if s.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", s.Backend)
	}
	return nil
}
