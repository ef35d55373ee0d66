package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Broker       BrokerConfig       `yaml:"broker" mapstructure:"broker"`
	Fetch        FetchConfig        `yaml:"fetch" mapstructure:"fetch"`
	Crawl        CrawlConfig        `yaml:"crawl" mapstructure:"crawl"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Tools        ToolsConfig        `yaml:"tools" mapstructure:"tools"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Sirene       SireneConfig       `yaml:"sirene" mapstructure:"sirene"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the corpus database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// BrokerConfig configures the background job broker. An empty URL selects
// the in-process broker.
type BrokerConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	PollIntervalMS int    `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	MaxConns       int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PollInterval returns the reader polling interval.
func (b BrokerConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMS) * time.Millisecond
}

// FetchConfig configures the polite HTTP client.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	AcceptLanguage    string  `yaml:"accept_language" mapstructure:"accept_language"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxRetries        int     `yaml:"max_retries" mapstructure:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BreakerFailures   int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
}

// CrawlConfig configures the per-site crawler.
type CrawlConfig struct {
	MaxDepth          int      `yaml:"max_depth" mapstructure:"max_depth"`
	MaxWorkers        int      `yaml:"max_workers" mapstructure:"max_workers"`
	MaxTimeSecs       int      `yaml:"max_time_secs" mapstructure:"max_time_secs"`
	MaxPages          int      `yaml:"max_pages" mapstructure:"max_pages"`
	DelayMS           int      `yaml:"delay_ms" mapstructure:"delay_ms"`
	IncludeSubdomains bool     `yaml:"include_subdomains" mapstructure:"include_subdomains"`
	UseSitemap        bool     `yaml:"use_sitemap" mapstructure:"use_sitemap"`
	ExcludePaths      []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// OrchestratorConfig configures the batch stage machine.
type OrchestratorConfig struct {
	AnalysisWorkers     int      `yaml:"analysis_workers" mapstructure:"analysis_workers"`
	AnalysisTimeoutSecs int      `yaml:"analysis_timeout_secs" mapstructure:"analysis_timeout_secs"`
	ScrapeTimeoutSecs   int      `yaml:"scrape_timeout_secs" mapstructure:"scrape_timeout_secs"`
	ProbeTimeoutSecs    int      `yaml:"probe_timeout_secs" mapstructure:"probe_timeout_secs"`
	Probes              []string `yaml:"probes" mapstructure:"probes"`
	EventBuffer         int      `yaml:"event_buffer" mapstructure:"event_buffer"`
}

// ToolsConfig configures optional external CLI tools. Bridge, when set,
// prefixes every tool invocation (e.g. ["wsl"]).
type ToolsConfig struct {
	OSINTTimeoutSecs int      `yaml:"osint_tool_timeout_seconds" mapstructure:"osint_tool_timeout_seconds"`
	SEOTimeoutSecs   int      `yaml:"seo_tool_timeout_seconds" mapstructure:"seo_tool_timeout_seconds"`
	NmapTimeoutSecs  int      `yaml:"nmap_timeout_secs" mapstructure:"nmap_timeout_secs"`
	Disabled         []string `yaml:"disabled" mapstructure:"disabled"`
	Bridge           []string `yaml:"bridge" mapstructure:"bridge"`
}

// ServerConfig configures the job-state HTTP server.
type ServerConfig struct {
	Port                   int    `yaml:"port" mapstructure:"port"`
	SecretKey              string `yaml:"secret_key" mapstructure:"secret_key"`
	RestrictToLocalNetwork bool   `yaml:"restrict_to_local_network" mapstructure:"restrict_to_local_network"`
	UploadFolder           string `yaml:"upload_folder" mapstructure:"upload_folder"`
	ExportFolder           string `yaml:"export_folder" mapstructure:"export_folder"`
	MaxUploadBytes         int64  `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// SireneConfig holds the optional French company registry key.
type SireneConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "prospect.db")
	v.SetDefault("broker.url", "")
	v.SetDefault("broker.poll_interval_ms", 500)
	v.SetDefault("broker.max_conns", 5)
	v.SetDefault("broker.min_conns", 1)
	v.SetDefault("fetch.user_agent", defaultUserAgent)
	v.SetDefault("fetch.accept_language", "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7")
	v.SetDefault("fetch.timeout_secs", 12)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.requests_per_second", 1.0)
	v.SetDefault("fetch.breaker_failures", 5)
	v.SetDefault("crawl.max_depth", 3)
	v.SetDefault("crawl.max_workers", 5)
	v.SetDefault("crawl.max_time_secs", 300)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.delay_ms", 1000)
	v.SetDefault("crawl.include_subdomains", false)
	v.SetDefault("crawl.use_sitemap", false)
	v.SetDefault("crawl.exclude_paths", []string{"/wp-admin/*", "/wp-json/*", "/cart/*", "/panier/*"})
	v.SetDefault("orchestrator.analysis_workers", 3)
	v.SetDefault("orchestrator.analysis_timeout_secs", 60)
	v.SetDefault("orchestrator.scrape_timeout_secs", 300)
	v.SetDefault("orchestrator.probe_timeout_secs", 120)
	v.SetDefault("orchestrator.probes", []string{"technical", "osint", "pentest", "seo"})
	v.SetDefault("orchestrator.event_buffer", 256)
	v.SetDefault("tools.osint_tool_timeout_seconds", 120)
	v.SetDefault("tools.seo_tool_timeout_seconds", 180)
	v.SetDefault("tools.nmap_timeout_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.secret_key", "")
	v.SetDefault("server.restrict_to_local_network", false)
	v.SetDefault("server.upload_folder", "uploads")
	v.SetDefault("server.export_folder", "exports")
	v.SetDefault("server.max_upload_bytes", 16<<20)
	v.SetDefault("sirene.api_key", "")
	v.SetDefault("tools.disabled", []string{})
	v.SetDefault("tools.bridge", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
