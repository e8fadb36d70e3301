// Package config holds the runtime configuration (environment-driven) and
// the typed governance parameter set shared by the venue components.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process-level runtime configuration, loaded from the
// environment with the VENUE_ prefix.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	NATSURL     string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	PostgresURL string `envconfig:"POSTGRES_URL" default:"postgres://localhost:5432/perpvenue?sslmode=disable"`

	GRPCAddr string `envconfig:"GRPC_ADDR" default:":9090"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	// Collateral asset wiring. An empty token address selects the native
	// transferable unit; anything else selects the tokenized asset kind.
	CollateralToken    string `envconfig:"COLLATERAL_TOKEN" default:""`
	CollateralDecimals int    `envconfig:"COLLATERAL_DECIMALS" default:"18"`

	InstrumentID string `envconfig:"INSTRUMENT_ID" default:"PERP-DEFAULT"`

	// OwnerAccount holds every governance role at startup.
	OwnerAccount string `envconfig:"OWNER_ACCOUNT" default:"owner"`

	// DevAccount collects pool dev fees.
	DevAccount string `envconfig:"DEV_ACCOUNT" default:"dev"`

	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`

	// SnapshotInterval is the number of events between periodic
	// snapshots.
	SnapshotInterval int64 `envconfig:"SNAPSHOT_INTERVAL" default:"100000"`

	// LRUWarmLimit caps how many recent idempotency keys are loaded from
	// Postgres on a cold start.
	LRUWarmLimit int `envconfig:"LRU_WARM_LIMIT" default:"100000"`

	// BrokerDelayTicks is the number of logical ticks before a broker
	// change takes effect.
	BrokerDelayTicks int64 `envconfig:"BROKER_DELAY_TICKS" default:"2"`

	PersistBatchSize    int `envconfig:"PERSIST_BATCH_SIZE" default:"256"`
	PersistFlushMillis  int `envconfig:"PERSIST_FLUSH_MILLIS" default:"50"`
	ProjectionChanDepth int `envconfig:"PROJECTION_CHAN_DEPTH" default:"4096"`
	PersistChanDepth    int `envconfig:"PERSIST_CHAN_DEPTH" default:"4096"`
}

// Load reads the runtime configuration from the environment. A .env file
// in the working directory is merged in first, for local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("VENUE", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.CollateralDecimals < 0 || c.CollateralDecimals > 18 {
		return fmt.Errorf("collateral decimals must be in [0, 18], got %d", c.CollateralDecimals)
	}
	if c.PersistBatchSize <= 0 {
		return fmt.Errorf("persist batch size must be > 0, got %d", c.PersistBatchSize)
	}
	if c.InstrumentID == "" {
		return fmt.Errorf("instrument id must not be empty")
	}
	return nil
}
