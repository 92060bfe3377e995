package warehouse

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mind-edu/mind-insights/internal/platform/db"
)

// Postgres executes queries on a PostgreSQL warehouse through pgx named
// arguments.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a read-only pool.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := db.New(ctx, dsn, db.Options{ApplicationName: "mind-insights"})
	if err != nil {
		return nil, &ConnectionError{Driver: DriverPostgres, Err: err}
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// Run implements Executor.
func (p *Postgres) Run(ctx context.Context, q Query) (Result, error) {
	if err := q.Validate(); err != nil {
		return Result{}, &QueryError{Query: q.Name, Reason: ReasonInvalid, Err: err}
	}
	args := pgx.NamedArgs{}
	for _, param := range q.Params {
		args[param.Name] = param.Value
	}
	var res Result
	err := db.ReadOnly(ctx, p.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, q.SQL, args)
		if err != nil {
			return err
		}
		defer rows.Close()
		res, err = collectPgx(rows)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, pgQueryError(q, err)
	}
	return res, nil
}

func collectPgx(rows pgx.Rows) (Result, error) {
	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	res := Result{Columns: cols, Rows: []Row{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return Result{}, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = pgValue(values[i])
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

func pgValue(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return uuid.UUID(x).String()
	default:
		return normalize(x)
	}
}

func pgQueryError(q Query, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &QueryError{Query: q.Name, Message: err.Error(), Err: err}
	}
	reason := ReasonInvalid
	switch {
	case pgErr.Code == "53300", pgErr.Code == "57014", strings.HasPrefix(pgErr.Code, "53"):
		reason = ReasonQuota
	case strings.HasPrefix(pgErr.Code, "08"):
		return &ConnectionError{Driver: DriverPostgres, Err: err}
	}
	return &QueryError{
		Query:   q.Name,
		Code:    pgErr.Code,
		Reason:  reason,
		Message: fmt.Sprintf("%s (SQLSTATE %s)", pgErr.Message, pgErr.Code),
		Err:     err,
	}
}
