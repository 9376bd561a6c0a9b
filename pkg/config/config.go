package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	DashScopeAPIKey string
	OllamaHost      string
	Service         ServiceConfig
	RoutingConfig   *RoutingConfig
	ConfigDir       string
}

// ServiceConfig represents the structure of ~/.shopmate/config.yaml.
// API keys are never read from this file; they come from the environment.
type ServiceConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Engine     EngineConfig     `yaml:"engine"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Storage    StorageConfig    `yaml:"storage"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`
	Evidence   EvidenceConfig   `yaml:"evidence"`
}

type ServerConfig struct {
	Listen      string  `yaml:"listen"`
	AdminAPIKey string  `yaml:"admin_api_key,omitempty"`
	RateLimit   float64 `yaml:"rate_limit_rps,omitempty"`
	RateBurst   int     `yaml:"rate_burst,omitempty"`
}

// EngineConfig controls suspension of passthrough turns.
type EngineConfig struct {
	MaxSuspension time.Duration `yaml:"max_suspension"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type ResilienceConfig struct {
	Breaker     BreakerConfig      `yaml:"breaker"`
	LLMBreaker  BreakerConfig      `yaml:"llm_breaker"`
	Cache       CacheConfig        `yaml:"cache"`
	Experiments []ExperimentConfig `yaml:"experiments,omitempty"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

type CacheConfig struct {
	Disabled   bool          `yaml:"disabled,omitempty"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// ExperimentConfig declares a traffic split over handler variants of one route.
type ExperimentConfig struct {
	ID       string          `yaml:"id"`
	Route    string          `yaml:"route"`
	Start    time.Time       `yaml:"start,omitempty"`
	Duration time.Duration   `yaml:"duration"`
	Disabled bool            `yaml:"disabled,omitempty"`
	Variants []VariantWeight `yaml:"variants"`
}

type VariantWeight struct {
	Label   string `yaml:"label"`
	Percent int    `yaml:"percent"`
}

// StorageConfig selects where suspended turns and order records live.
type StorageConfig struct {
	Driver     string `yaml:"driver"` // memory | sqlite
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

type KnowledgeConfig struct {
	Backend        string `yaml:"backend"` // static | qdrant
	Dir            string `yaml:"dir,omitempty"`
	TopK           int    `yaml:"top_k,omitempty"`
	QdrantURL      string `yaml:"qdrant_url,omitempty"`
	QdrantAPIKey   string `yaml:"-"`
	Collection     string `yaml:"collection,omitempty"`
	EmbeddingModel string `yaml:"embedding_model,omitempty"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto | text | json
}

type EvidenceConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// Load reads configuration from the default config directory and the
// environment. Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return load(configDir, filepath.Join(configDir, "config.yaml"), filepath.Join(configDir, "routing.yaml"), false)
}

// LoadFrom loads the service config from an explicit path. The routing file
// is looked up next to it unless routingPath is given.
func LoadFrom(configPath, routingPath string) (*Config, error) {
	configDir := filepath.Dir(configPath)
	explicit := routingPath != ""
	if routingPath == "" {
		routingPath = filepath.Join(configDir, "routing.yaml")
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return load(configDir, configPath, routingPath, explicit)
}

func load(configDir, configPath, routingPath string, routingRequired bool) (*Config, error) {
	service, err := loadServiceConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load service config: %w", err)
	}
	applyEnvOverrides(service)
	applyServiceDefaults(service)

	cfg := &Config{
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		GoogleAPIKey:    os.Getenv("GOOGLE_API_KEY"),
		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		DashScopeAPIKey: os.Getenv("DASHSCOPE_API_KEY"),
		OllamaHost:      os.Getenv("OLLAMA_HOST"),
		Service:         *service,
		ConfigDir:       configDir,
	}

	if _, err := os.Stat(routingPath); err == nil {
		routing, err := LoadRoutingConfig(routingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
		}
		cfg.RoutingConfig = routing
	} else if routingRequired {
		return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
	} else {
		cfg.RoutingConfig = DefaultRoutingConfig()
	}

	return cfg, nil
}

// HasAdapter returns true if the credentials for the given adapter are configured.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "dashscope":
		return c.DashScopeAPIKey != ""
	case "ollama":
		return c.OllamaHost != ""
	case "mock":
		return true
	default:
		return false
	}
}

// Validate checks the service settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	s := c.Service
	switch s.Storage.Driver {
	case "memory":
	case "sqlite":
		if s.Storage.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("storage.sqlite_path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", s.Storage.Driver))
	}
	switch s.Knowledge.Backend {
	case "static":
	case "qdrant":
		if s.Knowledge.QdrantURL == "" {
			errs = append(errs, fmt.Errorf("knowledge.qdrant_url is required for the qdrant backend"))
		}
		if c.OpenAIAPIKey == "" {
			errs = append(errs, fmt.Errorf("OPENAI_API_KEY is required for qdrant embeddings"))
		}
	default:
		errs = append(errs, fmt.Errorf("knowledge.backend %q is not supported", s.Knowledge.Backend))
	}
	if s.Engine.SweepInterval > s.Engine.MaxSuspension {
		errs = append(errs, fmt.Errorf("engine.sweep_interval must not exceed engine.max_suspension"))
	}
	for _, exp := range s.Resilience.Experiments {
		if err := exp.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.RoutingConfig != nil {
		if err := c.RoutingConfig.Validate(); err != nil {
			errs = append(errs, err)
		}
		for _, exp := range s.Resilience.Experiments {
			if _, ok := c.RoutingConfig.Routes[exp.Route]; !ok {
				errs = append(errs, fmt.Errorf("experiment %q: unknown route %q", exp.ID, exp.Route))
			}
		}
	}
	return errors.Join(errs...)
}

// Validate checks that an experiment's split covers exactly 100 percent.
func (e ExperimentConfig) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("experiment id is required")
	}
	if e.Duration <= 0 {
		return fmt.Errorf("experiment %q: duration must be positive", e.ID)
	}
	return ValidateSplit(e.ID, e.Variants)
}

func ValidateSplit(id string, variants []VariantWeight) error {
	if len(variants) == 0 {
		return fmt.Errorf("experiment %q: at least one variant is required", id)
	}
	total := 0
	seen := make(map[string]bool, len(variants))
	for _, v := range variants {
		if v.Label == "" {
			return fmt.Errorf("experiment %q: variant label is required", id)
		}
		if seen[v.Label] {
			return fmt.Errorf("experiment %q: duplicate variant %q", id, v.Label)
		}
		seen[v.Label] = true
		if v.Percent < 0 {
			return fmt.Errorf("experiment %q: variant %q has negative percent", id, v.Label)
		}
		total += v.Percent
	}
	if total != 100 {
		return fmt.Errorf("experiment %q: variant percentages sum to %d, want 100", id, total)
	}
	return nil
}

// loadServiceConfig reads the config file, returning an empty config if not found.
func loadServiceConfig(path string) (*ServiceConfig, error) {
	cfg := &ServiceConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(s *ServiceConfig) {
	s.Server.Listen = envStr("SHOPMATE_LISTEN", s.Server.Listen)
	s.Server.AdminAPIKey = envStr("SHOPMATE_ADMIN_API_KEY", s.Server.AdminAPIKey)
	s.Engine.MaxSuspension = envDuration("SHOPMATE_MAX_SUSPENSION", s.Engine.MaxSuspension)
	s.Resilience.Breaker.FailureThreshold = envInt("SHOPMATE_BREAKER_THRESHOLD", s.Resilience.Breaker.FailureThreshold)
	s.Resilience.Breaker.Cooldown = envDuration("SHOPMATE_BREAKER_COOLDOWN", s.Resilience.Breaker.Cooldown)
	s.Resilience.Cache.TTL = envDuration("SHOPMATE_CACHE_TTL", s.Resilience.Cache.TTL)
	s.Storage.Driver = envStr("SHOPMATE_STORAGE_DRIVER", s.Storage.Driver)
	s.Storage.SQLitePath = envStr("SHOPMATE_SQLITE_PATH", s.Storage.SQLitePath)
	s.Knowledge.Backend = envStr("SHOPMATE_KNOWLEDGE_BACKEND", s.Knowledge.Backend)
	s.Knowledge.Dir = envStr("SHOPMATE_KNOWLEDGE_DIR", s.Knowledge.Dir)
	s.Knowledge.QdrantURL = envStr("QDRANT_URL", s.Knowledge.QdrantURL)
	s.Knowledge.QdrantAPIKey = envStr("QDRANT_API_KEY", s.Knowledge.QdrantAPIKey)
	s.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", s.Telemetry.OTLPEndpoint)
	s.Log.Level = envStr("SHOPMATE_LOG_LEVEL", s.Log.Level)
	s.Log.Format = envStr("SHOPMATE_LOG_FORMAT", s.Log.Format)
}

func applyServiceDefaults(s *ServiceConfig) {
	if s.Server.Listen == "" {
		s.Server.Listen = ":8080"
	}
	if s.Server.RateLimit == 0 {
		s.Server.RateLimit = 10
	}
	if s.Server.RateBurst == 0 {
		s.Server.RateBurst = 20
	}
	if s.Engine.MaxSuspension == 0 {
		s.Engine.MaxSuspension = 5 * time.Minute
	}
	if s.Engine.SweepInterval == 0 {
		s.Engine.SweepInterval = 30 * time.Second
		if s.Engine.SweepInterval > s.Engine.MaxSuspension {
			s.Engine.SweepInterval = s.Engine.MaxSuspension
		}
	}
	if s.Resilience.Breaker.FailureThreshold == 0 {
		s.Resilience.Breaker.FailureThreshold = 5
	}
	if s.Resilience.Breaker.Cooldown == 0 {
		s.Resilience.Breaker.Cooldown = 30 * time.Second
	}
	if s.Resilience.LLMBreaker.FailureThreshold == 0 {
		s.Resilience.LLMBreaker.FailureThreshold = 3
	}
	if s.Resilience.LLMBreaker.Cooldown == 0 {
		s.Resilience.LLMBreaker.Cooldown = time.Minute
	}
	if s.Resilience.Cache.TTL == 0 {
		s.Resilience.Cache.TTL = time.Hour
	}
	if s.Resilience.Cache.MaxEntries == 0 {
		s.Resilience.Cache.MaxEntries = 1000
	}
	if s.Storage.Driver == "" {
		s.Storage.Driver = "memory"
	}
	if s.Knowledge.Backend == "" {
		s.Knowledge.Backend = "static"
	}
	if s.Knowledge.TopK == 0 {
		s.Knowledge.TopK = 3
	}
	if s.Knowledge.Collection == "" {
		s.Knowledge.Collection = "shopmate_knowledge"
	}
	if s.Knowledge.EmbeddingModel == "" {
		s.Knowledge.EmbeddingModel = "text-embedding-3-small"
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = "auto"
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".shopmate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
