package adapter

import "context"

type BigQueryRunnerFunc struct {
	DryRun func(ctx context.Context, query string) (int64, error)
	Run    func(ctx context.Context, query string) ([]map[string]any, error)
}

func (f *BigQueryRunnerFunc) dryRun(ctx context.Context, query string) (int64, error) {
	return f.DryRun(ctx, query)
}

func (f *BigQueryRunnerFunc) run(ctx context.Context, query string) ([]map[string]any, error) {
	return f.Run(ctx, query)
}

func NewBigQueryWithRunner(runner *BigQueryRunnerFunc, opts ...BigQueryOption) *BigQuery {
	return newBigQuery(runner, opts...)
}
