package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Supported drivers.
const (
	DriverBigQuery = "bigquery"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DriverConfig selects and configures the warehouse backend.
type DriverConfig struct {
	Driver          string
	Project         string
	Dataset         string
	Location        string
	CredentialsFile string
	DSN             string
	SeedDemo        bool
	Now             func() time.Time
}

// Open connects the configured driver. SQLite warehouses are migrated and
// optionally seeded with demo data.
func Open(ctx context.Context, cfg DriverConfig) (Executor, error) {
	switch cfg.Driver {
	case DriverBigQuery:
		bq, err := OpenBigQuery(ctx, BigQueryConfig{
			Project:         cfg.Project,
			Location:        cfg.Location,
			CredentialsFile: cfg.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		return bq, nil
	case DriverPostgres:
		pg, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case DriverSQLite:
		db, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db); err != nil {
			_ = db.Close()
			return nil, &ConnectionError{Driver: DriverSQLite, Err: err}
		}
		if cfg.SeedDemo {
			now := time.Now
			if cfg.Now != nil {
				now = cfg.Now
			}
			empty, err := db.Empty(ctx)
			if err == nil && empty {
				err = db.Load(ctx, DemoDataset(now()))
			}
			if err != nil {
				_ = db.Close()
				return nil, &ConnectionError{Driver: DriverSQLite, Err: err}
			}
		}
		return db, nil
	case "":
		return nil, &ConnectionError{Driver: "none", Err: ErrNotConfigured}
	default:
		return nil, &ConnectionError{Driver: cfg.Driver, Err: fmt.Errorf("unknown driver %q", cfg.Driver)}
	}
}

// StackOptions configures the executor chain built by NewStack.
type StackOptions struct {
	QPS      float64
	Burst    int
	CacheTTL time.Duration
	Redis    *redis.Client
	Logger   *slog.Logger
	Recorder Recorder
}

// Stack is the executor chain used by the dashboard: cache, instrumentation,
// rate limit and the lazily opened driver.
type Stack struct {
	*Cached
	Lazy *Lazy
}

// NewStack builds the chain around a lazily opened driver.
func NewStack(cfg DriverConfig, opts StackOptions) *Stack {
	lazy := NewLazy(cfg.Driver, func(ctx context.Context) (Executor, error) {
		return Open(ctx, cfg)
	})
	limited := NewLimited(lazy, opts.QPS, opts.Burst)
	instrumented := NewInstrumented(limited, opts.Logger, opts.Recorder)
	return &Stack{
		Cached: NewCached(instrumented, opts.Redis, opts.CacheTTL, opts.Logger),
		Lazy:   lazy,
	}
}

// Empty reports whether the warehouse holds no learners yet.
func (s *SQLite) Empty(ctx context.Context) (bool, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "user"`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}
