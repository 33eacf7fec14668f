// Package config loads and validates Kenny's deployment-time configuration:
// the environment/configuration table of spec.md §6. Unlike the live,
// runtime-mutated Registry store (pkg/registry), this tree is static per
// process lifetime — loaded once at startup from YAML plus environment
// overrides.
package config

import "time"

// RegistryConfig controls how a component discovers and is discovered by
// the Agent Registry (C2).
type RegistryConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
}

// AgentLLMConfig configures the NL interpretation layer an Agent Service
// Base uses for its Query() path.
type AgentLLMConfig struct {
	Model     string `yaml:"model" validate:"required"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"required,min=1"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
}

func (c AgentLLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// CacheL1Config sizes the in-process tier.
type CacheL1Config struct {
	Capacity  int `yaml:"capacity" validate:"required,min=1"`
	TTLMS     int `yaml:"ttl_ms" validate:"required,min=1"`
	LFUWeight float64 `yaml:"lfu_weight" validate:"min=0,max=1"`
}

func (c CacheL1Config) TTL() time.Duration { return time.Duration(c.TTLMS) * time.Millisecond }

// CacheL2Config points at the shared key-value store (Redis).
type CacheL2Config struct {
	Endpoint string `yaml:"endpoint" validate:"required"`
	PoolSize int    `yaml:"pool_size" validate:"required,min=1"`
	TTLMS    int    `yaml:"ttl_ms" validate:"required,min=1"`
}

func (c CacheL2Config) TTL() time.Duration { return time.Duration(c.TTLMS) * time.Millisecond }

// CacheL3Config points at the local persistent store (SQLite).
type CacheL3Config struct {
	Path  string `yaml:"path" validate:"required"`
	TTLMS int    `yaml:"ttl_ms" validate:"required,min=1"`
}

func (c CacheL3Config) TTL() time.Duration { return time.Duration(c.TTLMS) * time.Millisecond }

// CacheWarmConfig configures the background warmer.
type CacheWarmConfig struct {
	IntervalS int `yaml:"interval_s" validate:"required,min=1"`
}

func (c CacheWarmConfig) Interval() time.Duration { return time.Duration(c.IntervalS) * time.Second }

// CacheConfig bundles all three tiers plus the warmer.
type CacheConfig struct {
	L1   CacheL1Config   `yaml:"l1"`
	L2   CacheL2Config   `yaml:"l2"`
	L3   CacheL3Config   `yaml:"l3"`
	Warm CacheWarmConfig `yaml:"warm"`
}

// CoordinatorConfig holds the Coordinator's planner/executor bounds. Only
// FanoutMax reaches the Executor; PlanSizeMax, PlanDepthMax and MaxPlans are
// validated but not read, and the Planner's size and depth limits and the
// Coordinator's concurrent-plan limit are fixed constants in
// pkg/coordinator (16, 4 and 64).
type CoordinatorConfig struct {
	FanoutMax    int `yaml:"fanout_max" validate:"required,min=1"`
	PlanSizeMax  int `yaml:"plan_size_max" validate:"required,min=1"`
	PlanDepthMax int `yaml:"plan_depth_max" validate:"required,min=1"`
	MaxPlans     int `yaml:"max_plans" validate:"required,min=1"`
}

// GatewayConfig bounds the Gateway's admission control.
type GatewayConfig struct {
	InflightMax   int     `yaml:"inflight_max" validate:"required,min=1"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"min=0"`
}

// EgressConfig is the global allowlist and default block lifetime.
type EgressConfig struct {
	Allowlist        []string `yaml:"allowlist"`
	BlockTTLDefaultS int      `yaml:"block_ttl_default_s" validate:"required,min=1"`
}

func (c EgressConfig) BlockTTLDefault() time.Duration {
	return time.Duration(c.BlockTTLDefaultS) * time.Second
}

// SecurityConfig configures the Security plane's correlator.
type SecurityConfig struct {
	CorrelationWindowS int `yaml:"correlation_window_s" validate:"required,min=1"`
}

func (c SecurityConfig) CorrelationWindow() time.Duration {
	return time.Duration(c.CorrelationWindowS) * time.Second
}

// DatabaseConfig configures the Postgres connection shared by the Registry
// and Security plane (spec.md §6 "Persisted state layout").
type DatabaseConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"required"`
	User            string        `yaml:"user" validate:"required"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database" validate:"required"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}
