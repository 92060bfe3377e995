package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mind-edu/mind-insights/internal/identity"
	"github.com/mind-edu/mind-insights/internal/query"
	"github.com/mind-edu/mind-insights/internal/shared"
	"github.com/mind-edu/mind-insights/internal/warehouse"
)

var adminScope = query.Scope{Role: identity.RoleAdmin, Key: "admin@mind.edu", Telemetry: true}

func staticWidget(id string, q warehouse.Query) Widget {
	return Widget{
		ID:      id,
		Title:   id,
		Display: DisplayTable,
		Build: func(*query.Builder, query.Scope) (warehouse.Query, error) {
			return q, nil
		},
	}
}

func newService(exec warehouse.Executor) *Service {
	b := query.NewBuilder(query.SQLite{}, time.Now)
	return NewService(exec, b, Options{FanOut: 2, Logger: slog.New(slog.DiscardHandler)})
}

func TestRunStatuses(t *testing.T) {
	exec := warehouse.ExecutorFunc(func(_ context.Context, q warehouse.Query) (warehouse.Result, error) {
		switch q.Name {
		case "ok":
			return warehouse.Result{Columns: []string{"v"}, Rows: []warehouse.Row{{"v": 1.0}}}, nil
		case "empty":
			return warehouse.Result{Columns: []string{"v"}}, nil
		case "shape":
			return warehouse.Result{Columns: []string{"other"}, Rows: []warehouse.Row{{"other": 1.0}}}, nil
		default:
			return warehouse.Result{}, &warehouse.QueryError{Query: q.Name, Reason: warehouse.ReasonQuota, Err: errors.New("quota")}
		}
	})
	svc := newService(exec)
	ctx := context.Background()

	for name, want := range map[string]Status{
		"ok":     StatusOK,
		"empty":  StatusEmpty,
		"shape":  StatusEmpty,
		"failed": StatusError,
	} {
		w := staticWidget(name, warehouse.Query{Name: name, SQL: "SELECT 1"})
		w.Columns = []string{"v"}
		res, err := svc.Run(ctx, w, adminScope)
		require.NoError(t, err, name)
		require.Equal(t, want, res.Status, name)
	}

	res, err := svc.Run(ctx, staticWidget("failed", warehouse.Query{Name: "failed", SQL: "SELECT 1"}), adminScope)
	require.NoError(t, err)
	require.Contains(t, res.Message, "busy")
}

func TestRunDeniedAndMisconfigured(t *testing.T) {
	svc := newService(warehouse.ExecutorFunc(func(context.Context, warehouse.Query) (warehouse.Result, error) {
		t.Fatal("executor must not run")
		return warehouse.Result{}, nil
	}))

	denied := Widget{ID: "d", Display: DisplayTable, Build: func(*query.Builder, query.Scope) (warehouse.Query, error) {
		return warehouse.Query{}, shared.ErrAccessDenied
	}}
	res, err := svc.Run(context.Background(), denied, adminScope)
	require.NoError(t, err)
	require.Equal(t, StatusDenied, res.Status)
	require.Equal(t, MessageDenied, res.Message)

	student := query.Scope{Role: identity.RoleStudent, Key: "student@mind.edu"}
	progress := Widget{ID: "p", Display: DisplayTable, Build: func(b *query.Builder, s query.Scope) (warehouse.Query, error) {
		return b.LearnerProgress(s)
	}}
	_, err = svc.Run(context.Background(), progress, student)
	require.ErrorIs(t, err, query.ErrUnboundLearner)
	require.ErrorIs(t, err, shared.ErrMisconfigured)
}

func TestLoadPageIsolatesWidgetFailures(t *testing.T) {
	exec := warehouse.ExecutorFunc(func(_ context.Context, q warehouse.Query) (warehouse.Result, error) {
		if q.Name == "bad" {
			return warehouse.Result{}, &warehouse.QueryError{Query: q.Name, Reason: warehouse.ReasonInvalid, Message: "syntax"}
		}
		return warehouse.Result{Columns: []string{"v"}, Rows: []warehouse.Row{{"v": 2.0}}}, nil
	})
	svc := newService(exec)
	widgets := []Widget{
		staticWidget("a", warehouse.Query{Name: "a", SQL: "SELECT 1"}),
		staticWidget("bad", warehouse.Query{Name: "bad", SQL: "SELECT 1"}),
		staticWidget("c", warehouse.Query{Name: "c", SQL: "SELECT 1"}),
	}
	results, err := svc.LoadPage(context.Background(), adminScope, widgets)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, []Status{StatusOK, StatusError, StatusOK}, []Status{results[0].Status, results[1].Status, results[2].Status})
	require.Equal(t, "a", results[0].ID)
	require.Equal(t, "Query failed: syntax", results[1].Message)
}

func TestLoadPageConnectionErrorIsFatal(t *testing.T) {
	exec := warehouse.ExecutorFunc(func(_ context.Context, q warehouse.Query) (warehouse.Result, error) {
		return warehouse.Result{}, &warehouse.ConnectionError{Driver: "sqlite", Err: errors.New("gone")}
	})
	svc := newService(exec)
	_, err := svc.LoadPage(context.Background(), adminScope, []Widget{
		staticWidget("a", warehouse.Query{Name: "a", SQL: "SELECT 1"}),
	})
	require.True(t, warehouse.IsConnection(err))
}

func TestLoadPageBoundsFanOut(t *testing.T) {
	var inFlight, peak atomic.Int32
	exec := warehouse.ExecutorFunc(func(context.Context, warehouse.Query) (warehouse.Result, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return warehouse.Result{}, nil
	})
	svc := newService(exec)
	var widgets []Widget
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		widgets = append(widgets, staticWidget(id, warehouse.Query{Name: id, SQL: "SELECT 1"}))
	}
	results, err := svc.LoadPage(context.Background(), adminScope, widgets)
	require.NoError(t, err)
	require.Len(t, results, 6)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunCancelledContext(t *testing.T) {
	exec := warehouse.ExecutorFunc(func(ctx context.Context, _ warehouse.Query) (warehouse.Result, error) {
		return warehouse.Result{}, ctx.Err()
	})
	svc := newService(exec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Run(ctx, staticWidget("a", warehouse.Query{Name: "a", SQL: "SELECT 1"}), adminScope)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWidgetValidate(t *testing.T) {
	build := func(*query.Builder, query.Scope) (warehouse.Query, error) { return warehouse.Query{}, nil }
	require.NoError(t, Widget{ID: "t", Display: DisplayTable, Build: build}.Validate())
	require.Error(t, Widget{ID: "m", Display: DisplayMetric, Build: build}.Validate())
	require.Error(t, Widget{ID: "c", Display: DisplayChart, Build: build, Chart: &ChartRequest{Kind: "donut", X: "x", Y: []string{"y"}}}.Validate())
	require.NoError(t, Widget{ID: "g", Display: DisplayChart, Build: build, Chart: &ChartRequest{Kind: ChartGauge, Y: []string{"y"}}}.Validate())
	require.Error(t, Widget{ID: "l", Display: DisplayChart, Build: build, Chart: &ChartRequest{Kind: ChartLine, Y: []string{"y"}}}.Validate())
	require.Error(t, Widget{Display: DisplayTable, Build: build}.Validate())

	w := Widget{Columns: []string{"a"}, Chart: &ChartRequest{Kind: ChartBar, X: "a", Y: []string{"b"}}, Metric: &MetricSpec{Column: "c"}}
	require.Equal(t, []string{"a", "b", "c"}, w.Required())
}

func TestRunShowsHintForMissingSelection(t *testing.T) {
	svc := newService(warehouse.ExecutorFunc(func(context.Context, warehouse.Query) (warehouse.Result, error) {
		return warehouse.Result{}, nil
	}))
	w := Widget{ID: "trace", Display: DisplayTable, Hint: "Enter a trace id.", Build: func(b *query.Builder, s query.Scope) (warehouse.Query, error) {
		return b.TraceLookup(s, s.Filters.TraceID)
	}}
	res, err := svc.Run(context.Background(), w, adminScope)
	require.NoError(t, err)
	require.Equal(t, StatusEmpty, res.Status)
	require.Equal(t, "Enter a trace id.", res.Message)
}
