// Package config holds the single immutable configuration value that
// drives every other component, in the manner of wisbric/core/pkg/config's
// env-driven BaseConfig — generalized here to an explicit struct an
// embedder constructs directly, with FromEnv offered as a convenience.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/wisbric/tenantkeep/internal/telemetry"
	"github.com/wisbric/tenantkeep/pkg/retry"
)

// TableFormat names one of the three recognized migrations-tracking-table
// column shapes (spec.md §3), or "auto" to detect/choose on first use.
type TableFormat string

const (
	FormatAuto       TableFormat = "auto"
	FormatName       TableFormat = "name"
	FormatHash       TableFormat = "hash"
	FormatDrizzleKit TableFormat = "drizzle-kit"
)

// PoolConfig mirrors the pgxpool.Config fields an embedder may tune.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
}

// Connection groups everything needed to reach the PostgreSQL cluster.
type Connection struct {
	URL        string
	Pool       PoolConfig
	Retry      retry.Policy
	PingTimeout time.Duration
}

// Isolation configures the schema-per-tenant strategy.
type Isolation struct {
	Strategy           string // only "schema" is implemented
	SchemaNameTemplate func(tenantID string) (string, error)
	MaxPools           int
	PoolTTL            time.Duration

	// SharedSchemaName names the one distinguished namespace holding
	// cross-tenant reference data (conventionally "public").
	SharedSchemaName string
}

// Schemas holds the opaque, duck-typed schema descriptors consumed by an
// external query-builder layer. The core never reflects over their shape
// (spec.md §9) — it only checks that Tenant is non-nil.
type Schemas struct {
	Tenant any
	Shared any
}

// Migrations configures migration discovery and the tracking tables.
type Migrations struct {
	TenantFolder       string
	SharedFolder       string
	MigrationsTable    string
	SharedTable        string
	TenantDiscovery    func(ctx context.Context) ([]string, error)
	TableFormat        TableFormat
	DefaultFormat      TableFormat
}

// Hooks are plain function values the Facade invokes around lifecycle
// events. Every hook is optional; a nil hook is simply skipped.
type Hooks struct {
	OnPoolCreated   func(tenantID string)
	OnPoolEvicted   func(tenantID string)
	BeforeTenant    func(ctx context.Context, tenantID string) error
	AfterTenant     func(ctx context.Context, tenantID string) error
	BeforeMigration func(ctx context.Context, tenantID, migrationName string) error
	AfterMigration  func(ctx context.Context, tenantID, migrationName string) error
}

// Config is the single immutable value every component is constructed
// from.
type Config struct {
	Connection Connection
	Isolation  Isolation
	Schemas    Schemas
	Migrations Migrations
	Hooks      Hooks

	Logger           *slog.Logger
	PoolMetrics      *telemetry.PoolMetrics
	MigrationMetrics *telemetry.MigrationMetrics
}

// envConfig is the flat shape caarlos0/env parses from the process
// environment; FromEnv adapts it into the structured Config above.
type envConfig struct {
	DatabaseURL         string `env:"TENANTKEEP_DATABASE_URL,required"`
	MaxPools            int    `env:"TENANTKEEP_MAX_POOLS" envDefault:"50"`
	PoolTTL             time.Duration `env:"TENANTKEEP_POOL_TTL" envDefault:"1h"`
	MaxConns            int32  `env:"TENANTKEEP_POOL_MAX_CONNS" envDefault:"10"`
	MinConns            int32  `env:"TENANTKEEP_POOL_MIN_CONNS" envDefault:"0"`
	MaxConnIdleTime     time.Duration `env:"TENANTKEEP_POOL_IDLE_TIMEOUT" envDefault:"30m"`
	PingTimeout         time.Duration `env:"TENANTKEEP_PING_TIMEOUT" envDefault:"5s"`
	RetryMaxAttempts    int    `env:"TENANTKEEP_RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryInitialDelay   time.Duration `env:"TENANTKEEP_RETRY_INITIAL_DELAY" envDefault:"100ms"`
	RetryMaxDelay       time.Duration `env:"TENANTKEEP_RETRY_MAX_DELAY" envDefault:"10s"`
	RetryMultiplier     float64 `env:"TENANTKEEP_RETRY_MULTIPLIER" envDefault:"2"`
	RetryJitter         bool   `env:"TENANTKEEP_RETRY_JITTER" envDefault:"true"`
	TenantMigrationsDir string `env:"TENANTKEEP_MIGRATIONS_TENANT_DIR" envDefault:"migrations/tenant"`
	SharedMigrationsDir string `env:"TENANTKEEP_MIGRATIONS_SHARED_DIR" envDefault:"migrations/shared"`
	MigrationsTable     string `env:"TENANTKEEP_MIGRATIONS_TABLE" envDefault:"__drizzle_migrations"`
	SharedTable         string `env:"TENANTKEEP_SHARED_MIGRATIONS_TABLE" envDefault:"__drizzle_shared_migrations"`
	TableFormat         string `env:"TENANTKEEP_TABLE_FORMAT" envDefault:"auto"`
	DefaultFormat       string `env:"TENANTKEEP_DEFAULT_FORMAT" envDefault:"name"`
	LogLevel            string `env:"TENANTKEEP_LOG_LEVEL" envDefault:"info"`
	LogFormat           string `env:"TENANTKEEP_LOG_FORMAT" envDefault:"json"`
}

// FromEnv loads connection, pool, retry, and migration settings from the
// process environment (TENANTKEEP_* variables), in the manner of
// wisbric/core/pkg/config.Load. schemaNameTemplate cannot come from the
// environment and is passed in as the argument; the Schemas /
// TenantDiscovery / Hooks values must be filled in by the caller after
// FromEnv returns.
func FromEnv(schemaNameTemplate func(string) (string, error)) (*Config, error) {
	var ec envConfig
	if err := env.Parse(&ec); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	return &Config{
		Connection: Connection{
			URL: ec.DatabaseURL,
			Pool: PoolConfig{
				MaxConns:        ec.MaxConns,
				MinConns:        ec.MinConns,
				MaxConnIdleTime: ec.MaxConnIdleTime,
			},
			Retry: retry.Policy{
				MaxAttempts:  ec.RetryMaxAttempts,
				InitialDelay: ec.RetryInitialDelay,
				MaxDelay:     ec.RetryMaxDelay,
				Multiplier:   ec.RetryMultiplier,
				Jitter:       ec.RetryJitter,
			},
			PingTimeout: ec.PingTimeout,
		},
		Isolation: Isolation{
			Strategy:           "schema",
			SchemaNameTemplate: schemaNameTemplate,
			MaxPools:           ec.MaxPools,
			PoolTTL:            ec.PoolTTL,
		},
		Migrations: Migrations{
			TenantFolder:    ec.TenantMigrationsDir,
			SharedFolder:    ec.SharedMigrationsDir,
			MigrationsTable: ec.MigrationsTable,
			SharedTable:     ec.SharedTable,
			TableFormat:     TableFormat(ec.TableFormat),
			DefaultFormat:   TableFormat(ec.DefaultFormat),
		},
		Logger: telemetry.NewLogger(ec.LogFormat, ec.LogLevel),
	}, nil
}

// InvalidError aggregates every configuration violation found, rather than
// surfacing only the first.
type InvalidError struct {
	Reasons []string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("config: invalid configuration: %s", strings.Join(e.Reasons, "; "))
}

// Validate checks the rejection list from spec.md §6. It returns a non-nil
// *InvalidError listing every violation, or nil if the configuration is
// acceptable. It also fills in documented defaults (MaxPools, PoolTTL,
// DefaultFormat, table names) when they are left zero-valued.
func (c *Config) Validate() error {
	var reasons []string

	if strings.TrimSpace(c.Connection.URL) == "" {
		reasons = append(reasons, "connection.url must not be empty")
	}

	if c.Isolation.MaxPools == 0 {
		c.Isolation.MaxPools = 50
	} else if c.Isolation.MaxPools < 1 {
		reasons = append(reasons, "isolation.maxPools must be >= 1")
	}

	if c.Isolation.PoolTTL == 0 {
		c.Isolation.PoolTTL = time.Hour
	} else if c.Isolation.PoolTTL < 0 {
		reasons = append(reasons, "isolation.poolTtlMs must be >= 0")
	}

	if c.Isolation.SchemaNameTemplate == nil {
		reasons = append(reasons, "isolation.schemaNameTemplate must be a function")
	}
	if c.Isolation.SharedSchemaName == "" {
		c.Isolation.SharedSchemaName = "public"
	}

	if c.Schemas.Tenant == nil {
		reasons = append(reasons, "schemas.tenant is required")
	}

	if c.Connection.Retry.InitialDelay > c.Connection.Retry.MaxDelay && c.Connection.Retry.MaxDelay > 0 {
		reasons = append(reasons, "connection.retry.initialDelayMs must be <= maxDelayMs")
	}
	if c.Connection.Retry.Multiplier != 0 && c.Connection.Retry.Multiplier < 1 {
		reasons = append(reasons, "connection.retry.backoffMultiplier must be >= 1")
	}
	if c.Connection.Retry.MaxAttempts == 0 {
		c.Connection.Retry.MaxAttempts = 5
	}
	if c.Connection.Retry.Multiplier == 0 {
		c.Connection.Retry.Multiplier = 2
	}
	if c.Connection.Retry.MaxDelay == 0 {
		c.Connection.Retry.MaxDelay = 10 * time.Second
	}
	if c.Connection.PingTimeout == 0 {
		c.Connection.PingTimeout = 5 * time.Second
	}

	if c.Migrations.TableFormat == "" {
		c.Migrations.TableFormat = FormatAuto
	}
	if c.Migrations.DefaultFormat == "" {
		c.Migrations.DefaultFormat = FormatName
	}
	if c.Migrations.MigrationsTable == "" {
		c.Migrations.MigrationsTable = "__drizzle_migrations"
	}
	if c.Migrations.SharedTable == "" {
		c.Migrations.SharedTable = "__drizzle_shared_migrations"
	}

	if len(reasons) > 0 {
		return &InvalidError{Reasons: reasons}
	}
	return nil
}
