package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"60s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"45s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	SessionSecret string        `envconfig:"SESSION_SECRET"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`

	CSRFSecret string `envconfig:"CSRF_SECRET"`

	WarehouseDriver          string  `envconfig:"WAREHOUSE_DRIVER" default:"bigquery"`
	WarehouseProject         string  `envconfig:"WAREHOUSE_PROJECT"`
	WarehouseDataset         string  `envconfig:"WAREHOUSE_DATASET"`
	WarehouseLocation        string  `envconfig:"WAREHOUSE_LOCATION" default:"europe-west3"`
	WarehouseCredentialsFile string  `envconfig:"WAREHOUSE_CREDENTIALS_FILE"`
	WarehouseDSN             string  `envconfig:"WAREHOUSE_DSN"`
	WarehouseQPS             float64 `envconfig:"WAREHOUSE_QPS" default:"10"`
	WarehouseBurst           int     `envconfig:"WAREHOUSE_BURST" default:"20"`

	QueryCacheTTL time.Duration `envconfig:"QUERY_CACHE_TTL" default:"1h"`
	QueryTimeout  time.Duration `envconfig:"QUERY_TIMEOUT" default:"30s"`
	WidgetFanOut  int           `envconfig:"WIDGET_FAN_OUT" default:"4"`

	CredentialsFile    string `envconfig:"CREDENTIALS_FILE"`
	AllowPlaintextAuth bool   `envconfig:"ALLOW_PLAINTEXT_CREDENTIALS" default:"false"`
	PagesFile          string `envconfig:"PAGES_FILE"`
	PreviewMode        bool   `envconfig:"PREVIEW_MODE" default:"false"`
	SeedDemoData       bool   `envconfig:"SEED_DEMO_DATA" default:"false"`

	WarmupCron        string `envconfig:"WARMUP_CRON" default:"@every 55m"`
	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"2"`
}

// LoadConfig reads configuration from environment variables. A .env file in
// the working directory is loaded first when present; real environment
// variables take precedence over it.
func LoadConfig() (*Config, error) {
	cfg, err := process()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadToolConfig reads configuration for operator tooling, which needs the
// warehouse and Redis settings but no web secrets.
func LoadToolConfig() (*Config, error) {
	cfg, err := process()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateWarehouse(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func process() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("app: load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.SessionSecret == "" {
		return errors.New("session secret must be provided")
	}
	if c.CSRFSecret == "" {
		return errors.New("csrf secret must be provided")
	}
	if c.IsProduction() && c.AllowPlaintextAuth {
		return errors.New("plaintext credentials are not allowed in production")
	}
	return c.validateWarehouse()
}

func (c *Config) validateWarehouse() error {
	switch c.WarehouseDriver {
	case warehouse.DriverBigQuery:
		if c.WarehouseProject == "" || c.WarehouseDataset == "" {
			return errors.New("bigquery warehouse requires WAREHOUSE_PROJECT and WAREHOUSE_DATASET")
		}
	case warehouse.DriverPostgres:
		if c.WarehouseDSN == "" {
			return errors.New("postgres warehouse requires WAREHOUSE_DSN")
		}
	case warehouse.DriverSQLite:
		if c.WarehouseDSN == "" {
			c.WarehouseDSN = "file:mind-insights.db"
		}
	default:
		return fmt.Errorf("unknown WAREHOUSE_DRIVER %q", c.WarehouseDriver)
	}
	if c.WidgetFanOut <= 0 {
		return errors.New("WIDGET_FAN_OUT must be positive")
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// DriverConfig maps the warehouse settings onto the driver configuration.
func (c *Config) DriverConfig() warehouse.DriverConfig {
	return warehouse.DriverConfig{
		Driver:          c.WarehouseDriver,
		Project:         c.WarehouseProject,
		Dataset:         c.WarehouseDataset,
		Location:        c.WarehouseLocation,
		CredentialsFile: c.WarehouseCredentialsFile,
		DSN:             c.WarehouseDSN,
		SeedDemo:        c.SeedDemoData,
	}
}

// QueueRedis returns the asynq connection options for REDIS_ADDR, which may
// be a host:port pair or a redis:// URL.
func (c *Config) QueueRedis() (asynq.RedisConnOpt, error) {
	if strings.HasPrefix(c.RedisAddr, "redis://") || strings.HasPrefix(c.RedisAddr, "rediss://") {
		opt, err := asynq.ParseRedisURI(c.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("app: parse redis uri: %w", err)
		}
		return opt, nil
	}
	return asynq.RedisClientOpt{Addr: c.RedisAddr}, nil
}
