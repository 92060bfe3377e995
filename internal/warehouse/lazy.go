package warehouse

import (
	"context"
	"sync"
)

// OpenFunc constructs the underlying executor.
type OpenFunc func(ctx context.Context) (Executor, error)

// Lazy opens its executor on first use and shares it afterwards. A failed
// open is reported as a ConnectionError and retried on the next call.
type Lazy struct {
	driver string
	open   OpenFunc

	mu   sync.Mutex
	exec Executor
}

// NewLazy builds a Lazy executor.
func NewLazy(driver string, open OpenFunc) *Lazy {
	return &Lazy{driver: driver, open: open}
}

// Run implements Executor.
func (l *Lazy) Run(ctx context.Context, q Query) (Result, error) {
	exec, err := l.get(ctx)
	if err != nil {
		return Result{}, err
	}
	return exec.Run(ctx, q)
}

// Ready opens the executor without running a query.
func (l *Lazy) Ready(ctx context.Context) error {
	_, err := l.get(ctx)
	return err
}

// Close releases the opened executor, if any.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exec == nil {
		return nil
	}
	err := Close(l.exec)
	l.exec = nil
	return err
}

func (l *Lazy) get(ctx context.Context) (Executor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exec != nil {
		return l.exec, nil
	}
	if l.open == nil {
		return nil, &ConnectionError{Driver: l.driver, Err: ErrNotConfigured}
	}
	exec, err := l.open(ctx)
	if err != nil {
		if IsConnection(err) {
			return nil, err
		}
		return nil, &ConnectionError{Driver: l.driver, Err: err}
	}
	l.exec = exec
	return exec, nil
}
