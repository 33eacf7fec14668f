package config

// Default applies baseline values for every configuration key enumerated in
// spec.md §6, used when kenny.yaml omits a section entirely and as the
// starting point the loader merges user overrides on top of.
func Default() *Config {
	return &Config{
		Registry: RegistryConfig{
			BaseURL: "http://localhost:8701",
		},
		AgentLLM: AgentLLMConfig{
			Model:     "claude-3-5-sonnet-latest",
			TimeoutMS: 30_000,
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Cache: CacheConfig{
			L1: CacheL1Config{Capacity: 2048, TTLMS: 30_000, LFUWeight: 0.3},
			L2: CacheL2Config{Endpoint: "localhost:6379", PoolSize: 10, TTLMS: 300_000},
			L3: CacheL3Config{Path: "kenny-cache.db", TTLMS: 3_600_000},
			Warm: CacheWarmConfig{IntervalS: 3600},
		},
		Coordinator: CoordinatorConfig{
			FanoutMax:    8,
			PlanSizeMax:  16,
			PlanDepthMax: 4,
			MaxPlans:     64,
		},
		Gateway: GatewayConfig{
			InflightMax:   256,
			RatePerSecond: 500,
		},
		Egress: EgressConfig{
			Allowlist:        nil,
			BlockTTLDefaultS: 3600,
		},
		Security: SecurityConfig{
			CorrelationWindowS: 1800,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			User:         "kenny",
			Database:     "kenny",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
	}
}
