package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mind-edu/mind-insights/internal/analytics"
	"github.com/mind-edu/mind-insights/internal/dashboard"
	"github.com/mind-edu/mind-insights/internal/identity"
	jobmetrics "github.com/mind-edu/mind-insights/internal/jobs"
	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Warm-up outcomes per page.
const (
	warmOK      = "ok"
	warmPartial = "partial"
	warmSkipped = "skipped"
)

// PageLoader loads dashboard pages; *dashboard.Service implements it.
type PageLoader interface {
	PageConfig(ident identity.Identity, page string) (dashboard.PageConfig, error)
	Load(ctx context.Context, ident identity.Identity, page string, filters query.Filters) (dashboard.Page, error)
	Now() time.Time
}

// IdentityLister lists the configured identities.
type IdentityLister interface {
	Identities() []identity.Identity
}

// WarmupJob loads every page each identity may open so that the first real
// visit after a cache flush or TTL expiry is served from Redis.
type WarmupJob struct {
	Pages      PageLoader
	Identities IdentityLister
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	// PageTimeout bounds a single page load.
	PageTimeout time.Duration
}

// WarmupSummary reports one run.
type WarmupSummary struct {
	Pages   int
	Partial int
	Skipped int
}

// NewWarmupJob wires dependencies for the warm-up handler.
func NewWarmupJob(pages PageLoader, identities IdentityLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *WarmupJob {
	return &WarmupJob{
		Pages:       pages,
		Identities:  identities,
		Logger:      logger,
		Metrics:     metrics,
		PageTimeout: 2 * time.Minute,
	}
}

// Handle processes TaskCacheWarmup tasks.
func (j *WarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pages == nil || j.Identities == nil {
		return errors.New("cache warmup: handler not configured")
	}
	var payload WarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("cache warmup: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run warms the requested windows. Lost warehouse connections abort the
// run so asynq retries it later; misconfigured pages are skipped.
func (j *WarmupJob) Run(ctx context.Context, payload WarmupPayload) (summary WarmupSummary, err error) {
	ranges, err := payload.ranges()
	if err != nil {
		return summary, fmt.Errorf("cache warmup: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.metrics().Track(TaskCacheWarmup)
	defer func() { err = tracker.End(err) }()

	logger := j.logger()
	start := time.Now()
	now := j.Pages.Now()
	for _, r := range ranges {
		filters := dashboard.FilterForm{Range: r}.Filters(now)
		for _, ident := range j.Identities.Identities() {
			for _, page := range shared.Pages() {
				if _, cfgErr := j.Pages.PageConfig(ident, page); cfgErr != nil {
					continue
				}
				outcome, loadErr := j.warmPage(ctx, ident, page, filters)
				j.metrics().PageWarmed(page, outcome)
				if loadErr != nil {
					logger.Error("warm page", slog.String("user", ident.Key), slog.String("page", page), slog.Any("error", loadErr))
					return summary, loadErr
				}
				switch outcome {
				case warmSkipped:
					summary.Skipped++
				case warmPartial:
					summary.Partial++
					summary.Pages++
				default:
					summary.Pages++
				}
			}
		}
	}
	logger.Info("completed cache warmup",
		slog.Any("ranges", ranges),
		slog.Int("pages", summary.Pages),
		slog.Int("partial", summary.Partial),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

func (j *WarmupJob) warmPage(ctx context.Context, ident identity.Identity, page string, filters query.Filters) (string, error) {
	if j.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.PageTimeout)
		defer cancel()
	}
	loaded, err := j.Pages.Load(ctx, ident, page, filters)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrMisconfigured), errors.Is(err, shared.ErrAccessDenied):
		j.logger().Debug("skip page", slog.String("user", ident.Key), slog.String("page", page), slog.Any("error", err))
		return warmSkipped, nil
	default:
		return "", fmt.Errorf("cache warmup: %s: %w", page, err)
	}
	for _, tab := range loaded.Tabs {
		for _, res := range tab.Results {
			if res.Status == analytics.StatusError {
				return warmPartial, nil
			}
		}
	}
	return warmOK, nil
}

func (j *WarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCacheWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCacheWarmup))
}

func (j *WarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
