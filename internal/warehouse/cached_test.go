package warehouse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingExecutor struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (c *countingExecutor) Run(ctx context.Context, q Query) (Result, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return Result{}, c.err
	}
	return Result{Columns: []string{"v"}, Rows: []Row{{"v": int64(1)}}}, nil
}

func newCached(t *testing.T, next Executor) (*Cached, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCached(next, client, time.Minute, nil), mr
}

func TestCachedReadThrough(t *testing.T) {
	exec := &countingExecutor{}
	cached, mr := newCached(t, exec)
	ctx := context.Background()
	q := Query{Name: "q", SQL: "SELECT @v", Params: []Param{Int64("v", 1)}}

	first, err := cached.Run(ctx, q)
	require.NoError(t, err)
	second, err := cached.Run(ctx, q)
	require.NoError(t, err)

	require.EqualValues(t, 1, exec.calls.Load())
	require.Equal(t, first.Rows[0].Int("v"), second.Rows[0].Int("v"))

	key, err := cached.Key(ctx, q)
	require.NoError(t, err)
	require.True(t, mr.Exists(key))
	require.Equal(t, time.Minute, mr.TTL(key))
}

func TestCachedKeyDependsOnParams(t *testing.T) {
	cached, _ := newCached(t, &countingExecutor{})
	ctx := context.Background()
	a, err := cached.Key(ctx, Query{SQL: "SELECT @v", Params: []Param{Int64("v", 1)}})
	require.NoError(t, err)
	b, err := cached.Key(ctx, Query{SQL: "SELECT @v", Params: []Param{Int64("v", 2)}})
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestCachedBumpInvalidates(t *testing.T) {
	exec := &countingExecutor{}
	cached, _ := newCached(t, exec)
	ctx := context.Background()
	q := Query{Name: "q", SQL: "SELECT 1"}

	_, err := cached.Run(ctx, q)
	require.NoError(t, err)
	ver, err := cached.Bump(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, ver)
	_, err = cached.Run(ctx, q)
	require.NoError(t, err)
	require.EqualValues(t, 2, exec.calls.Load())

	ver, err = cached.Bump(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, ver)
}

func TestCachedErrorsAreNotStored(t *testing.T) {
	exec := &countingExecutor{err: &QueryError{Query: "q", Message: "boom"}}
	cached, _ := newCached(t, exec)
	ctx := context.Background()
	q := Query{Name: "q", SQL: "SELECT 1"}

	_, err := cached.Run(ctx, q)
	require.True(t, IsQuery(err))
	_, err = cached.Run(ctx, q)
	require.True(t, IsQuery(err))
	require.EqualValues(t, 2, exec.calls.Load())
}

func TestCachedCollapsesConcurrentLoads(t *testing.T) {
	exec := &countingExecutor{delay: 50 * time.Millisecond}
	cached, _ := newCached(t, exec)
	q := Query{Name: "q", SQL: "SELECT 1"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cached.Run(context.Background(), q)
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, exec.calls.Load())
}

func TestCachedDegradesWhenRedisDown(t *testing.T) {
	exec := &countingExecutor{}
	cached, mr := newCached(t, exec)
	mr.Close()

	res, err := cached.Run(context.Background(), Query{Name: "q", SQL: "SELECT 1"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
}

func TestCachedWithoutClient(t *testing.T) {
	exec := &countingExecutor{err: errors.New("down")}
	cached := NewCached(exec, nil, 0, nil)
	_, err := cached.Run(context.Background(), Query{SQL: "SELECT 1"})
	require.EqualError(t, err, "down")
}
