// Package config loads pipeline configuration the way cmd/aleutian's
// main.go loads its own: a YAML file unmarshalled into a typed struct,
// then environment variables layered on top for the values an operator
// is most likely to override per-run (cmd/orchestrator/main.go's
// getEnvString/getEnvInt pattern), then finally any flags cmd/ingestctl
// binds directly onto the same struct fields. Defaults live as the zero
// value each downstream package's own applyDefaults already fills in;
// this package only decides what wins when multiple layers disagree.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of the pipeline's configuration tree. Every nested
// struct's fields correspond 1:1 with the internal package Config it
// feeds; conversion happens at wiring time in cmd/ingestctl, not here,
// so this package stays free of import edges into every other package.
type Config struct {
	Tenant      TenantConfig      `yaml:"tenant"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Cache       CacheConfig       `yaml:"cache"`
	Retry       RetryConfig       `yaml:"retry"`
	Enumerate   EnumerateConfig   `yaml:"enumerate"`
	Describe    DescribeConfig    `yaml:"describe"`
	Coalescer   CoalescerConfig   `yaml:"coalescer"`
	OrgSecurity OrgSecurityConfig `yaml:"org_security"`
	Stats       StatsConfig       `yaml:"stats"`
	FreshDays   int               `yaml:"fresh_days"`
	Emit        EmitConfig        `yaml:"emit"`
	Embed       EmbedConfig       `yaml:"embed"`
	Weaviate    WeaviateConfig    `yaml:"weaviate"`
	Upload      UploadConfig      `yaml:"upload"`
	Progress    ProgressConfig    `yaml:"progress"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`

	// Phases lists the phase names (model.Phase string values) this run
	// should attempt, in any order; they always run in the order
	// AllPhases defines. Empty means every phase.
	Phases []string `yaml:"phases"`
}

// CoalescerConfig mirrors internal/coalescer.Config.
type CoalescerConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// OrgSecurityConfig mirrors internal/enrich.OrgSecurityConfig.
type OrgSecurityConfig struct {
	Workers int `yaml:"workers"`
}

// StatsConfig mirrors internal/enrich.StatsConfig.
type StatsConfig struct {
	SampleSize int `yaml:"sample_size"`
	Workers    int `yaml:"workers"`
}

// TenantConfig identifies which tenant org and CLI binary to run against.
type TenantConfig struct {
	Binary string `yaml:"binary"` // path to the authenticated tenant CLI
	OrgID  string `yaml:"org_id"`
}

// BridgeConfig mirrors internal/bridge.Config.
type BridgeConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	GracePeriod    time.Duration `yaml:"grace_period"`
}

// RateLimitConfig mirrors internal/ratelimit.Config.
type RateLimitConfig struct {
	Burst              int           `yaml:"burst"`
	StartRatePerMinute float64       `yaml:"start_rate_per_minute"`
	MinRatePerMinute   float64       `yaml:"min_rate_per_minute"`
	MaxRatePerMinute   float64       `yaml:"max_rate_per_minute"`
	AdjustInterval     time.Duration `yaml:"adjust_interval"`
}

// CacheConfig mirrors internal/cachestore.Config.
type CacheConfig struct {
	Dir      string        `yaml:"dir"`
	MaxAge   time.Duration `yaml:"max_age"`
	Compress bool          `yaml:"compress"`
}

// RetryConfig mirrors internal/retry.Config.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	QuotaFloorDelay time.Duration `yaml:"quota_floor_delay"`
}

// EnumerateConfig mirrors internal/enumerator.Config.
type EnumerateConfig struct {
	NoisePrefixes      []string `yaml:"noise_prefixes"`
	NoiseSuffixes      []string `yaml:"noise_suffixes"`
	ExcludedNamespaces []string `yaml:"excluded_namespaces"`
}

// DescribeConfig mirrors internal/describer.Config.
type DescribeConfig struct {
	Workers int `yaml:"workers"`
}

// EmitConfig mirrors internal/emitter.Config plus output paths.
type EmitConfig struct {
	MaxTokens   int    `yaml:"max_tokens"`
	CorpusPath  string `yaml:"corpus_path"`
	SchemaPath  string `yaml:"schema_path"`
	MarkdownDir string `yaml:"markdown_dir"`
}

// EmbedConfig mirrors internal/embed.Config.
type EmbedConfig struct {
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// WeaviateConfig configures the vector index connection, following
// services/trace/weaviate/client.go's URL-then-scheme/host split.
type WeaviateConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// UploadConfig mirrors internal/uploader.Config.
type UploadConfig struct {
	Workers int `yaml:"workers"`
}

// ProgressConfig selects and configures the Progress Store backend.
type ProgressConfig struct {
	Backend string `yaml:"backend"` // "json" or "badger"
	Path    string `yaml:"path"`
}

// TelemetryConfig mirrors internal/telemetry.Config.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	Environment    string `yaml:"environment"`
	TraceExporter  string `yaml:"trace_exporter"`
	MetricExporter string `yaml:"metric_exporter"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

// Load reads path (if non-empty and present) into a Config, then applies
// environment variable overrides. A missing path is not an error: the
// zero-value Config plus env vars plus each package's own applyDefaults
// is a valid, if minimal, configuration.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides layers the handful of values an operator most often
// needs to override per invocation without editing the checked-in YAML:
// secrets and endpoints, mirroring cmd/orchestrator/main.go's
// getEnvString/getEnvInt helpers rather than a general-purpose env
// binding library.
func applyEnvOverrides(cfg *Config) {
	cfg.Tenant.Binary = getEnvOr("SFVECTOR_TENANT_CLI", cfg.Tenant.Binary)
	cfg.Tenant.OrgID = getEnvOr("SFVECTOR_ORG_ID", cfg.Tenant.OrgID)
	cfg.Embed.APIKey = getEnvOr("OPENAI_API_KEY", cfg.Embed.APIKey)
	cfg.Weaviate.URL = getEnvOr("SFVECTOR_WEAVIATE_URL", cfg.Weaviate.URL)
	cfg.Weaviate.APIKey = getEnvOr("SFVECTOR_WEAVIATE_API_KEY", cfg.Weaviate.APIKey)
	cfg.Progress.Path = getEnvOr("SFVECTOR_PROGRESS_PATH", cfg.Progress.Path)
	cfg.Telemetry.OTLPEndpoint = getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.TraceExporter = getEnvOr("OTEL_TRACES_EXPORTER", cfg.Telemetry.TraceExporter)
	cfg.Telemetry.MetricExporter = getEnvOr("OTEL_METRICS_EXPORTER", cfg.Telemetry.MetricExporter)

	if v := os.Getenv("SFVECTOR_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("SFVECTOR_DESCRIBE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Describe.Workers = n
		}
	}
	if v := os.Getenv("SFVECTOR_UPLOAD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Upload.Workers = n
		}
	}
}

// ParseWeaviateURL splits a configured URL into the Host/Scheme pair the
// weaviate client's own Config expects, following
// services/trace/weaviate/client.go's NewResilientClient: strip a
// recognized scheme prefix and default to http when none is given.
func ParseWeaviateURL(url string) (host, scheme string) {
	switch {
	case len(url) > len("https://") && url[:len("https://")] == "https://":
		return url[len("https://"):], "https"
	case len(url) > len("http://") && url[:len("http://")] == "http://":
		return url[len("http://"):], "http"
	default:
		return url, "http"
	}
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
