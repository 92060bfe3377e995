package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mind-edu/mind-insights/internal/analytics"
	"github.com/mind-edu/mind-insights/internal/dashboard"
	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/rbac"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// Insights bundles the components shared by the server, the worker and
// mindctl.
type Insights struct {
	Identities *identity.Store
	Access     *rbac.Service
	Warehouse  *warehouse.Stack
	Analytics  *analytics.Service
	Pages      *dashboard.Service
}

// BuildInsights wires the credential store, the role table, the warehouse
// stack and the page service. The warehouse itself is opened lazily on the
// first query.
func BuildInsights(cfg *Config, logger *slog.Logger, redisClient *redis.Client, recorder warehouse.Recorder) (*Insights, error) {
	store, err := LoadIdentities(cfg, logger)
	if err != nil {
		return nil, err
	}
	access := rbac.DefaultService()
	if err := access.Validate(store.Roles()); err != nil {
		return nil, fmt.Errorf("app: role table: %w", err)
	}

	dialect, err := query.DialectFor(cfg.WarehouseDriver, cfg.WarehouseProject, cfg.WarehouseDataset)
	if err != nil {
		return nil, err
	}
	stack := warehouse.NewStack(cfg.DriverConfig(), warehouse.StackOptions{
		QPS:      cfg.WarehouseQPS,
		Burst:    cfg.WarehouseBurst,
		CacheTTL: cfg.QueryCacheTTL,
		Redis:    redisClient,
		Logger:   logger,
		Recorder: recorder,
	})
	analyticsSvc := analytics.NewService(stack, query.NewBuilder(dialect, time.Now), analytics.Options{
		FanOut:  cfg.WidgetFanOut,
		Timeout: cfg.QueryTimeout,
		Logger:  logger,
	})

	catalog := dashboard.DefaultCatalog()
	layout, err := loadLayout(cfg, catalog)
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	pages, err := dashboard.NewService(layout, catalog, analyticsSvc, access, dashboard.Config{
		Preview: cfg.PreviewMode,
		Logger:  logger,
	})
	if err != nil {
		_ = stack.Close()
		return nil, err
	}
	return &Insights{
		Identities: store,
		Access:     access,
		Warehouse:  stack,
		Analytics:  analyticsSvc,
		Pages:      pages,
	}, nil
}

// Close releases the warehouse connection.
func (i *Insights) Close() error {
	if i == nil || i.Warehouse == nil {
		return nil
	}
	return i.Warehouse.Close()
}

// LoadIdentities reads CREDENTIALS_FILE, falling back to the built-in
// development identities outside production.
func LoadIdentities(cfg *Config, logger *slog.Logger) (*identity.Store, error) {
	if cfg.CredentialsFile == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("app: CREDENTIALS_FILE is required in production")
		}
		logger.Warn("using built-in development credentials")
		return identity.Default()
	}
	store, err := identity.LoadFile(cfg.CredentialsFile, identity.LoadOptions{AllowPlaintext: cfg.AllowPlaintextAuth})
	if err != nil {
		return nil, fmt.Errorf("app: load credentials: %w", err)
	}
	return store, nil
}

func loadLayout(cfg *Config, catalog dashboard.Catalog) (*dashboard.Layout, error) {
	if cfg.PagesFile == "" {
		return dashboard.DefaultLayout(catalog)
	}
	layout, err := dashboard.LoadLayoutFile(cfg.PagesFile, catalog)
	if err != nil {
		return nil, fmt.Errorf("app: load pages: %w", err)
	}
	return layout, nil
}
