package warehouse

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// Limited throttles queries with a token bucket so dashboard bursts stay
// inside the warehouse quota.
type Limited struct {
	next    Executor
	limiter *rate.Limiter
}

// NewLimited wraps next. A non-positive qps disables throttling.
func NewLimited(next Executor, qps float64, burst int) *Limited {
	limit := rate.Inf
	if qps > 0 {
		limit = rate.Limit(qps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Run implements Executor.
func (l *Limited) Run(ctx context.Context, q Query) (Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		return Result{}, &QueryError{Query: q.Name, Reason: ReasonThrottled, Err: err}
	}
	return l.next.Run(ctx, q)
}

// Close closes the wrapped executor.
func (l *Limited) Close() error {
	return Close(l.next)
}
