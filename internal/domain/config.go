package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Tier determines backing services
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Engine settings
	Engine     EngineConfig     `json:"engine"`
	Monitoring MonitoringConfig `json:"monitoring"`

	// Observability
	Logging LoggingConfig `json:"logging"`
}

// EngineConfig holds rule evaluation settings.
type EngineConfig struct {
	// MaxConcurrency bounds parallel rule evaluation per call.
	MaxConcurrency int `json:"maxConcurrency"`
}

// MonitoringConfig holds transaction monitoring settings.
type MonitoringConfig struct {
	// HistoryDays is the rolling history window per customer.
	HistoryDays int `json:"historyDays"`

	// PilotCustomers enables the enhanced scoring path for the listed
	// customer IDs.
	PilotCustomers []string `json:"pilotCustomers,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity uses SQLite + LRU cache + channel bus
	TierCommunity Tier = "community"

	// TierPro uses PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			MaxConcurrency: 16,
		},
		Monitoring: MonitoringConfig{
			HistoryDays: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:      "redis",
		RedisAddr: "localhost:6379",
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	return cfg
}
