package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface of the core. Everything has a
// working default so a bare `apexd server` starts with the mock provider.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
	WorkRoot   string `yaml:"work_root"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// Workers bounds how many builds run in parallel.
	Workers int `yaml:"workers"`

	Stages    StagesConfig              `yaml:"stages"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Roles     map[string]RoleConfig     `yaml:"roles"`
	Cache     CacheConfig               `yaml:"cache"`
	Cost      CostConfig                `yaml:"cost"`
	Bus       BusConfig                 `yaml:"bus"`

	// AuthTokens maps bearer tokens to principals. Empty means the API
	// runs unauthenticated (local development).
	AuthTokens map[string]AuthToken `yaml:"auth_tokens"`
}

// AuthToken grants a bearer token a principal.
type AuthToken struct {
	Tenant string `yaml:"tenant"`
	User   string `yaml:"user"`
	Admin  bool   `yaml:"admin"`
}

// StagesConfig carries the stage-level execution knobs shared by all
// stages; per-stage overrides live in the stage table.
type StagesConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// Retries is the total attempt budget per stage (initial + retries).
	Retries int `yaml:"retries"`
	// Backoff is the deterministic pre-attempt sleep schedule. If a
	// stage runs out of entries the last one repeats.
	Backoff []time.Duration `yaml:"backoff"`
}

// ProviderConfig configures one provider adapter plus its rate limiting
// and circuit breaker.
type ProviderConfig struct {
	Type    string `yaml:"type"` // "mock" or "httpchat"
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	MaxConcurrent int           `yaml:"max_concurrent"`
	MinInterval   time.Duration `yaml:"min_interval"`

	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`

	CallTimeout time.Duration `yaml:"call_timeout"`

	// Models maps model name to per-million-token pricing.
	Models map[string]ModelPricing `yaml:"models"`
}

// ModelPricing is USD per one million tokens.
type ModelPricing struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// RoleConfig resolves a logical role to a provider+model with an ordered
// fallback chain.
type RoleConfig struct {
	Provider  string          `yaml:"provider"`
	Model     string          `yaml:"model"`
	Fallbacks []ProviderModel `yaml:"fallbacks"`
}

// ProviderModel is one entry of a fallback chain.
type ProviderModel struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// CacheConfig bounds the response cache.
type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// CostConfig holds the monetary thresholds (USD). Zero disables a
// threshold.
type CostConfig struct {
	DailyLimit         float64 `yaml:"daily_limit"`
	MonthlyLimit       float64 `yaml:"monthly_limit"`
	PerBuildLimit      float64 `yaml:"per_build_limit"`
	PerUserDaily       float64 `yaml:"per_user_daily"`
	PerTenantDaily     float64 `yaml:"per_tenant_daily"`
	EmergencyStopDaily float64 `yaml:"emergency_stop_daily"`
	RetentionDays      int     `yaml:"retention_days"`
}

// BusConfig bounds the progress bus.
type BusConfig struct {
	History          int `yaml:"history"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// Default returns the baseline configuration with a single mock provider
// wired to every role.
func Default() *Config {
	cfg := &Config{
		ListenAddr: "127.0.0.1:8080",
		DataDir:    "./apex-data",
		WorkRoot:   "./apex-work",
		LogLevel:   "info",
		LogJSON:    true,
		Workers:    4,
		Stages: StagesConfig{
			Timeout: 5 * time.Minute,
			Retries: 3,
			Backoff: []time.Duration{0, 500 * time.Millisecond, 1500 * time.Millisecond},
		},
		Providers: map[string]ProviderConfig{
			"mock": {
				Type:             "mock",
				MaxConcurrent:    5,
				MinInterval:      0,
				BreakerThreshold: 5,
				BreakerCooldown:  30 * time.Second,
				CallTimeout:      2 * time.Minute,
				Models: map[string]ModelPricing{
					"mock-large": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
					"mock-small": {InputPerMTok: 0.25, OutputPerMTok: 1.25},
				},
			},
		},
		Roles: map[string]RoleConfig{},
		Cache: CacheConfig{
			MaxEntries:      1024,
			TTL:             time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
		Cost: CostConfig{
			EmergencyStopDaily: 50.0,
			RetentionDays:      30,
		},
		Bus: BusConfig{
			History:          64,
			SubscriberBuffer: 256,
		},
	}

	for _, role := range []string{
		"clarifier", "normalizer", "refiner", "documenter",
		"schema-designer", "structure-planner", "structure-validator",
		"code-planner", "prompt-builder", "code-generator",
	} {
		cfg.Roles[role] = RoleConfig{Provider: "mock", Model: "mock-large"}
	}

	return cfg
}

// Load reads the YAML file at path (if non-empty) over the defaults and
// then applies APEX_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.Stages.Retries < 1 {
		return fmt.Errorf("stage retries must be >= 1, got %d", c.Stages.Retries)
	}
	if len(c.Stages.Backoff) == 0 {
		return fmt.Errorf("stage backoff schedule must not be empty")
	}
	if c.Bus.History < 0 {
		return fmt.Errorf("bus history must be >= 0, got %d", c.Bus.History)
	}
	for name, p := range c.Providers {
		if p.MaxConcurrent < 1 {
			return fmt.Errorf("provider %s: max_concurrent must be >= 1", name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s: no models configured", name)
		}
	}
	for role, r := range c.Roles {
		if r.Provider == "" || r.Model == "" {
			return fmt.Errorf("role %s: provider and model are required", role)
		}
	}
	for _, p := range c.AuthTokens {
		if !p.Admin && (p.Tenant == "" || p.User == "") {
			return fmt.Errorf("auth_tokens: non-admin tokens need tenant and user")
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("APEX_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("APEX_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("APEX_WORK_ROOT"); v != "" {
		cfg.WorkRoot = v
	}
	if v := os.Getenv("APEX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("APEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("APEX_COST_DAILY_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cost.DailyLimit = f
		}
	}
	if v := os.Getenv("APEX_COST_MONTHLY_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cost.MonthlyLimit = f
		}
	}
	if v := os.Getenv("APEX_COST_PER_BUILD_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cost.PerBuildLimit = f
		}
	}
	if v := os.Getenv("APEX_COST_EMERGENCY_STOP_DAILY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cost.EmergencyStopDaily = f
		}
	}
}
