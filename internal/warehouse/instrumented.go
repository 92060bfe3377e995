package warehouse

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Recorder receives query outcomes, typically a prometheus collector.
type Recorder interface {
	ObserveQuery(name, outcome string, elapsed time.Duration)
}

// Query outcomes reported to the Recorder.
const (
	OutcomeOK         = "ok"
	OutcomeEmpty      = "empty"
	OutcomeQueryError = "query_error"
	OutcomeConnection = "connection_error"
	OutcomeCancelled  = "cancelled"
)

// Instrumented logs and measures every query.
type Instrumented struct {
	next     Executor
	logger   *slog.Logger
	recorder Recorder
}

// NewInstrumented wraps next. Nil logger or recorder are ignored.
func NewInstrumented(next Executor, logger *slog.Logger, recorder Recorder) *Instrumented {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Instrumented{next: next, logger: logger.With(slog.String("component", "warehouse")), recorder: recorder}
}

// Run implements Executor.
func (i *Instrumented) Run(ctx context.Context, q Query) (Result, error) {
	id := NewQueryID()
	start := time.Now()
	res, err := i.next.Run(ctx, q)
	elapsed := time.Since(start)
	outcome := classify(res, err)
	if i.recorder != nil {
		i.recorder.ObserveQuery(q.Name, outcome, elapsed)
	}
	attrs := []any{
		slog.String("query_id", id),
		slog.String("query", q.Name),
		slog.Duration("elapsed", elapsed),
		slog.Int("rows", len(res.Rows)),
	}
	switch outcome {
	case OutcomeQueryError, OutcomeConnection:
		i.logger.WarnContext(ctx, "warehouse query failed", append(attrs, slog.Any("error", err))...)
	case OutcomeCancelled:
		i.logger.DebugContext(ctx, "warehouse query cancelled", attrs...)
	default:
		i.logger.DebugContext(ctx, "warehouse query", attrs...)
	}
	return res, err
}

// Close closes the wrapped executor.
func (i *Instrumented) Close() error {
	return Close(i.next)
}

func classify(res Result, err error) string {
	switch {
	case err == nil && res.Empty():
		return OutcomeEmpty
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	case IsConnection(err):
		return OutcomeConnection
	default:
		return OutcomeQueryError
	}
}
