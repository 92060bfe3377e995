package warehouse

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BigQueryConfig locates the dataset and service credentials.
type BigQueryConfig struct {
	Project         string
	Location        string
	CredentialsFile string
}

// BigQuery executes queries as BigQuery jobs with named parameters.
type BigQuery struct {
	client   *bigquery.Client
	location string
}

// OpenBigQuery builds a client from service-account credentials. Missing or
// invalid credentials surface as ConnectionError.
func OpenBigQuery(ctx context.Context, cfg BigQueryConfig) (*BigQuery, error) {
	if cfg.Project == "" {
		return nil, &ConnectionError{Driver: DriverBigQuery, Err: errors.New("project is required")}
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, &ConnectionError{Driver: DriverBigQuery, Err: err}
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}
	return &BigQuery{client: client, location: cfg.Location}, nil
}

// Close closes the client.
func (b *BigQuery) Close() error {
	return b.client.Close()
}

// Run implements Executor.
func (b *BigQuery) Run(ctx context.Context, q Query) (Result, error) {
	if err := q.Validate(); err != nil {
		return Result{}, &QueryError{Query: q.Name, Reason: ReasonInvalid, Err: err}
	}
	job := b.client.Query(q.SQL)
	job.JobID = NewQueryID()
	job.Location = b.location
	for _, p := range q.Params {
		job.Parameters = append(job.Parameters, bigquery.QueryParameter{Name: p.Name, Value: p.Value})
	}
	it, err := job.Read(ctx)
	if err != nil {
		return Result{}, bigQueryError(ctx, q, err)
	}

	res := Result{Rows: []Row{}}
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return Result{}, bigQueryError(ctx, q, err)
		}
		if res.Columns == nil {
			res.Columns = schemaColumns(it.Schema)
		}
		row := make(Row, len(res.Columns))
		for i, col := range res.Columns {
			if i < len(values) {
				row[col] = bigQueryValue(values[i])
			}
		}
		res.Rows = append(res.Rows, row)
	}
	if res.Columns == nil {
		res.Columns = schemaColumns(it.Schema)
	}
	return res, nil
}

func schemaColumns(schema bigquery.Schema) []string {
	cols := make([]string, 0, len(schema))
	for _, f := range schema {
		cols = append(cols, f.Name)
	}
	return cols
}

func bigQueryValue(v bigquery.Value) any {
	switch x := v.(type) {
	case *big.Rat:
		if x == nil {
			return nil
		}
		f, _ := x.Float64()
		return f
	case []bigquery.Value:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = bigQueryValue(item)
		}
		return fmt.Sprint(out)
	default:
		return normalize(x)
	}
}

func bigQueryError(ctx context.Context, q Query, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		qErr := &QueryError{Query: q.Name, Code: fmt.Sprint(apiErr.Code), Message: apiErr.Message, Err: err}
		if len(apiErr.Errors) > 0 {
			qErr.Reason = apiErr.Errors[0].Reason
		}
		switch {
		case qErr.Reason == "rateLimitExceeded":
			qErr.Reason = ReasonThrottled
		case apiErr.Code == 401:
			return &ConnectionError{Driver: DriverBigQuery, Err: err}
		case apiErr.Code == 403 && qErr.Reason != ReasonQuota:
			// Credentials without access to the dataset.
			return &ConnectionError{Driver: DriverBigQuery, Err: err}
		}
		return qErr
	}
	var jobErr *bigquery.Error
	if errors.As(err, &jobErr) {
		return &QueryError{Query: q.Name, Reason: jobErr.Reason, Message: jobErr.Message, Err: err}
	}
	return &QueryError{Query: q.Name, Message: err.Error(), Err: err}
}
