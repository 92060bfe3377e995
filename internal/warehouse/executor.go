package warehouse

import "context"

// Executor runs a query descriptor against a warehouse.
type Executor interface {
	Run(ctx context.Context, q Query) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, q Query) (Result, error)

// Run implements Executor.
func (f ExecutorFunc) Run(ctx context.Context, q Query) (Result, error) {
	return f(ctx, q)
}

// Closer is implemented by executors holding a client or pool.
type Closer interface {
	Close() error
}

// Close releases exec when it holds resources.
func Close(exec Executor) error {
	if c, ok := exec.(Closer); ok {
		return c.Close()
	}
	return nil
}
