package adapter

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/camuchapp/storeassist/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

const defaultBigQueryScanLimitMB = 1024

// bigqueryRunner isolates the client calls so the scan-limit gate can be tested without GCP
type bigqueryRunner interface {
	dryRun(ctx context.Context, query string) (int64, error)
	run(ctx context.Context, query string) ([]map[string]any, error)
}

// BigQuery is a warehouse-backed RelationalStore. Every statement is dry-run first and
// rejected when the estimated scan exceeds the configured limit.
type BigQuery struct {
	runner      bigqueryRunner
	scanLimitMB int64
}

type BigQueryOption func(*BigQuery)

func WithScanLimitMB(limit int64) BigQueryOption {
	return func(bq *BigQuery) {
		if limit > 0 {
			bq.scanLimitMB = limit
		}
	}
}

func NewBigQuery(ctx context.Context, projectID, datasetID string, opts ...BigQueryOption) (*BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.V("project", projectID))
	}

	return newBigQuery(&bigqueryClient{client: client, datasetID: datasetID}, opts...), nil
}

func newBigQuery(runner bigqueryRunner, opts ...BigQueryOption) *BigQuery {
	bq := &BigQuery{
		runner:      runner,
		scanLimitMB: defaultBigQueryScanLimitMB,
	}
	for _, opt := range opts {
		opt(bq)
	}
	return bq
}

func (bq *BigQuery) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	bytes, err := bq.runner.dryRun(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "dry-run failed", goerr.V("query", query))
	}

	scannedMB := bytes / 1024 / 1024
	logging.From(ctx).Debug("bigquery dry-run", "scanned_mb", scannedMB, "limit_mb", bq.scanLimitMB)
	if scannedMB > bq.scanLimitMB {
		return nil, goerr.New("query exceeds scan limit",
			goerr.V("scanned_mb", scannedMB),
			goerr.V("limit_mb", bq.scanLimitMB),
			goerr.V("query", query))
	}

	rows, err := bq.runner.run(ctx, query)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

type bigqueryClient struct {
	client    *bigquery.Client
	datasetID string
}

func (c *bigqueryClient) query(query string) *bigquery.Query {
	q := c.client.Query(query)
	if c.datasetID != "" {
		// unqualified table names in generated statements resolve against this dataset
		q.DefaultProjectID = c.client.Project()
		q.DefaultDatasetID = c.datasetID
	}
	return q
}

func (c *bigqueryClient) dryRun(ctx context.Context, query string) (int64, error) {
	q := c.query(query)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to run dry-run query")
	}

	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return 0, goerr.New("no statistics available from dry-run")
	}

	return status.Statistics.TotalBytesProcessed, nil
}

func (c *bigqueryClient) run(ctx context.Context, query string) ([]map[string]any, error) {
	job, err := c.query(query).Run(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run query")
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to wait for query completion")
	}
	if status.Err() != nil {
		return nil, goerr.Wrap(status.Err(), "query execution failed", goerr.V("job_id", job.ID()))
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read query result")
	}

	var results []map[string]any
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate query result")
		}

		rowMap := make(map[string]any, len(row))
		for k, v := range row {
			rowMap[k] = v
		}
		results = append(results, rowMap)
	}

	return results, nil
}
