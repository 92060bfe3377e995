package analytics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

// Status is the outcome of one widget.
type Status string

// Widget statuses.
const (
	StatusOK     Status = "ok"
	StatusEmpty  Status = "empty"
	StatusError  Status = "error"
	StatusDenied Status = "denied"
)

// Messages shown in place of a widget.
const (
	MessageEmpty  = "No data available for the selected filters."
	MessageDenied = "You do not have access to this data."
)

// WidgetResult is the rendered state of one widget.
type WidgetResult struct {
	Widget  Widget           `json:"-"`
	ID      string           `json:"id"`
	Title   string           `json:"title"`
	Status  Status           `json:"status"`
	Message string           `json:"message,omitempty"`
	Result  warehouse.Result `json:"result"`
	Elapsed time.Duration    `json:"elapsed_ns"`
}

// Options tune the Service.
type Options struct {
	// FanOut bounds concurrent widget queries per page.
	FanOut int
	// Timeout bounds one widget query.
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultFanOut is the per-page widget concurrency.
const DefaultFanOut = 4

// Service coordinates widget query execution.
type Service struct {
	exec    warehouse.Executor
	builder *query.Builder
	fanOut  int
	timeout time.Duration
	logger  *slog.Logger
}

// NewService wires an executor with the query builder.
func NewService(exec warehouse.Executor, builder *query.Builder, opts Options) *Service {
	if opts.FanOut <= 0 {
		opts.FanOut = DefaultFanOut
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		exec:    exec,
		builder: builder,
		fanOut:  opts.FanOut,
		timeout: opts.Timeout,
		logger:  opts.Logger.With(slog.String("component", "analytics")),
	}
}

// Builder exposes the query builder.
func (s *Service) Builder() *query.Builder {
	return s.builder
}

// Query runs a raw descriptor, used by typed helpers outside pages.
func (s *Service) Query(ctx context.Context, q warehouse.Query) (warehouse.Result, error) {
	return s.exec.Run(ctx, q)
}

// Run executes one widget. Per-widget problems are reported in the result;
// the error is reserved for page-level failures: lost warehouse connection,
// misconfiguration and cancellation.
func (s *Service) Run(ctx context.Context, w Widget, scope query.Scope) (out WidgetResult, err error) {
	out = WidgetResult{Widget: w, ID: w.ID, Title: w.Title}
	start := time.Now()
	defer func() { out.Elapsed = time.Since(start) }()

	q, err := w.Build(s.builder, scope)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrAccessDenied):
			out.Status, out.Message = StatusDenied, MessageDenied
			return out, nil
		case errors.Is(err, shared.ErrMisconfigured):
			return out, err
		case errors.Is(err, query.ErrInvalidArgument) && w.Hint != "":
			out.Status, out.Message = StatusEmpty, w.Hint
			return out, nil
		default:
			out.Status, out.Message = StatusError, err.Error()
			return out, nil
		}
	}

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res, err := s.exec.Run(runCtx, q)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		if warehouse.IsConnection(err) {
			return out, err
		}
		out.Status, out.Message = StatusError, widgetMessage(err)
		s.logger.WarnContext(ctx, "widget query failed", slog.String("widget", w.ID), slog.Any("error", err))
		return out, nil
	}
	out.Result = res
	if res.Empty() {
		out.Status, out.Message = StatusEmpty, MessageEmpty
		return out, nil
	}
	if err := checkShape(w, res.Columns); err != nil {
		s.logger.WarnContext(ctx, "widget result shape", slog.String("widget", w.ID), slog.Any("error", err))
		out.Status, out.Message = StatusEmpty, MessageEmpty
		return out, nil
	}
	out.Status = StatusOK
	return out, nil
}

// LoadPage runs the widgets concurrently, bounded by the fan-out, and keeps
// their order. One failing widget never hides the others; a page-level
// failure cancels the remaining queries and is returned.
func (s *Service) LoadPage(ctx context.Context, scope query.Scope, widgets []Widget) ([]WidgetResult, error) {
	results := make([]WidgetResult, len(widgets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i, w := range widgets {
		g.Go(func() error {
			res, err := s.Run(gctx, w, scope)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func widgetMessage(err error) string {
	var qErr *warehouse.QueryError
	if errors.As(err, &qErr) {
		switch {
		case qErr.Quota():
			return "The warehouse is busy. Please retry in a moment."
		case qErr.Message != "":
			return "Query failed: " + qErr.Message
		}
	}
	return "Query failed."
}
