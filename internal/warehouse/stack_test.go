package warehouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLazyRetriesAfterFailedOpen(t *testing.T) {
	attempts := 0
	lazy := NewLazy("test", func(ctx context.Context) (Executor, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("credentials missing")
		}
		return &countingExecutor{}, nil
	})

	_, err := lazy.Run(context.Background(), Query{SQL: "SELECT 1"})
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, "test", connErr.Driver)

	_, err = lazy.Run(context.Background(), Query{SQL: "SELECT 1"})
	require.NoError(t, err)
	_, err = lazy.Run(context.Background(), Query{SQL: "SELECT 1"})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestLazyWithoutDriver(t *testing.T) {
	_, err := Open(context.Background(), DriverConfig{})
	require.True(t, IsConnection(err))
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestLimitedHonoursContext(t *testing.T) {
	limited := NewLimited(&countingExecutor{}, 0.001, 1)
	_, err := limited.Run(context.Background(), Query{SQL: "SELECT 1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limited.Run(ctx, Query{Name: "q", SQL: "SELECT 1"})
	require.Error(t, err)
	var qErr *QueryError
	if errors.As(err, &qErr) {
		require.True(t, qErr.Quota())
	}
}

type recorderStub struct {
	outcomes []string
}

func (r *recorderStub) ObserveQuery(name, outcome string, elapsed time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func TestInstrumentedClassifiesOutcomes(t *testing.T) {
	rec := &recorderStub{}
	ok := NewInstrumented(&countingExecutor{}, nil, rec)
	_, _ = ok.Run(context.Background(), Query{Name: "ok"})
	failing := NewInstrumented(&countingExecutor{err: &ConnectionError{Driver: "x", Err: errors.New("down")}}, nil, rec)
	_, _ = failing.Run(context.Background(), Query{Name: "down"})
	empty := NewInstrumented(ExecutorFunc(func(ctx context.Context, q Query) (Result, error) {
		return Result{Columns: []string{"v"}}, nil
	}), nil, rec)
	_, _ = empty.Run(context.Background(), Query{Name: "empty"})

	require.Equal(t, []string{OutcomeOK, OutcomeConnection, OutcomeEmpty}, rec.outcomes)
}

func TestNewQueryIDSortable(t *testing.T) {
	a := NewQueryID()
	b := NewQueryID()
	require.Len(t, a, 26)
	require.Less(t, a, b)
}
