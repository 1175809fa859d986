package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	mimir "github.com/user/mimir"
)

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Database  DatabaseConfig  `json:"database" yaml:"database"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Analytics AnalyticsConfig `json:"analytics" yaml:"analytics"`
}

type ServerConfig struct {
	Port         int      `json:"port" yaml:"port"`
	AllowOrigins []string `json:"allow_origins" yaml:"allow_origins"`
}

type PipelineConfig struct {
	RequestTimeout  time.Duration  `json:"request_timeout" yaml:"request_timeout"`
	MaxTimeout      time.Duration  `json:"max_timeout" yaml:"max_timeout"`
	DefaultStrategy mimir.Strategy `json:"default_strategy" yaml:"default_strategy"`
	MaxRows         int            `json:"max_rows" yaml:"max_rows"`
	Whitelist       []string       `json:"whitelist" yaml:"whitelist"`
	HighlightOpen   string         `json:"highlight_open" yaml:"highlight_open"`
	HighlightClose  string         `json:"highlight_close" yaml:"highlight_close"`
}

type LLMConfig struct {
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	APIKey     string        `json:"api_key" yaml:"api_key"`
	Model      string        `json:"model" yaml:"model"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	RPS        float64       `json:"rps" yaml:"rps"`
}

type DatabaseConfig struct {
	// Type and Conn configure the metadata store (search_cache,
	// popular_queries): sqlite or postgres.
	Type string `json:"type" yaml:"type"`
	Conn string `json:"conn" yaml:"conn"`
	// ReadOnlyDSN is the read replica the query runner executes against.
	ReadOnlyDSN      string        `json:"readonly_dsn" yaml:"readonly_dsn"`
	PoolSize         int           `json:"pool_size" yaml:"pool_size"`
	StatementTimeout time.Duration `json:"statement_timeout" yaml:"statement_timeout"`
}

type CacheConfig struct {
	TTL        time.Duration `json:"ttl" yaml:"ttl"`
	MaxEntries int           `json:"max_entries" yaml:"max_entries"`
	// Backend selects the shared store behind the in-memory cache: redis,
	// or (default, any other value) the database's search_cache table.
	Backend       string `json:"backend" yaml:"backend"`
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	RedisPrefix   string `json:"redis_prefix" yaml:"redis_prefix"`
}

type AnalyticsConfig struct {
	QueueSize     int           `json:"queue_size" yaml:"queue_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 4000},
		Pipeline: PipelineConfig{
			RequestTimeout:  30 * time.Second,
			MaxTimeout:      60 * time.Second,
			DefaultStrategy: mimir.StrategyRuleFirst,
			MaxRows:         100,
			Whitelist:       []string{"customers", "customer_memos", "customer_products", "users", "events"},
			HighlightOpen:   "«",
			HighlightClose:  "»",
		},
		LLM: LLMConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
			RPS:        5,
		},
		Database: DatabaseConfig{
			Type:             "sqlite",
			Conn:             "mimir.db",
			PoolSize:         10,
			StatementTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			TTL:         300 * time.Second,
			MaxEntries:  10000,
			Backend:     "memory",
			RedisPrefix: "mimir:cache:",
		},
		Analytics: AnalyticsConfig{
			QueueSize:     4096,
			FlushInterval: 30 * time.Second,
		},
	}
}

// Load reads a YAML or JSON config file, substitutes ${VAR:-default}
// references, and overlays it on Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := SubstituteEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		if err := json.Unmarshal([]byte(content), cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file (tried YAML and JSON): %w", err)
		}
	}

	if !cfg.Pipeline.DefaultStrategy.Valid() {
		return nil, fmt.Errorf("unknown default_strategy %q", cfg.Pipeline.DefaultStrategy)
	}
	return cfg, nil
}

var envRegex = regexp.MustCompile(`\${(\w+)(?::-([^}]*))?}`)

// SubstituteEnvVars replaces ${VAR} and ${VAR:-default} references with
// environment values.
func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		if val, ok := os.LookupEnv(matches[1]); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}
