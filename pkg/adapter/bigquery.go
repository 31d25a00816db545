package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"google.golang.org/api/googleapi"
)

// BigQuery exports services metrics snapshots to a table
type BigQuery interface {
	// EnsureTable creates the snapshot table when it does not exist
	EnsureTable(ctx context.Context) error

	// InsertSnapshot streams one row per service of the snapshot
	InsertSnapshot(ctx context.Context, snapshot *model.MetricsSnapshot) error

	Close() error
}

type bigqueryClient struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// snapshotRow is the table schema, one row per service and snapshot
type snapshotRow struct {
	SnapshotID      string    `bigquery:"snapshot_id"`
	Timestamp       time.Time `bigquery:"timestamp"`
	Service         string    `bigquery:"service"`
	Requests        int64     `bigquery:"requests"`
	Errors          int64     `bigquery:"errors"`
	AvgResponseTime float64   `bigquery:"avg_response_time"`
}

// NewBigQuery creates a new BigQuery client writing to dataset.table
func NewBigQuery(ctx context.Context, projectID, dataset, table string) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client", goerr.V("project", projectID))
	}

	return &bigqueryClient{
		client:  client,
		dataset: dataset,
		table:   table,
	}, nil
}

func (bq *bigqueryClient) tableRef() *bigquery.Table {
	return bq.client.Dataset(bq.dataset).Table(bq.table)
}

func (bq *bigqueryClient) EnsureTable(ctx context.Context) error {
	_, err := bq.tableRef().Metadata(ctx)
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return goerr.Wrap(err, "failed to get table metadata", goerr.V("dataset", bq.dataset), goerr.V("table", bq.table))
	}

	schema, err := bigquery.InferSchema(snapshotRow{})
	if err != nil {
		return goerr.Wrap(err, "failed to infer snapshot schema")
	}

	if err := bq.tableRef().Create(ctx, &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Field: "timestamp",
		},
	}); err != nil {
		return goerr.Wrap(err, "failed to create snapshot table", goerr.V("dataset", bq.dataset), goerr.V("table", bq.table))
	}
	return nil
}

func (bq *bigqueryClient) InsertSnapshot(ctx context.Context, snapshot *model.MetricsSnapshot) error {
	rows := make([]*snapshotRow, 0, len(snapshot.Services))
	for name, m := range snapshot.Services {
		rows = append(rows, &snapshotRow{
			SnapshotID:      string(snapshot.ID),
			Timestamp:       snapshot.Timestamp,
			Service:         name,
			Requests:        m.Requests,
			Errors:          m.Errors,
			AvgResponseTime: m.AvgResponseTime,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	if err := bq.tableRef().Inserter().Put(ctx, rows); err != nil {
		return goerr.Wrap(err, "failed to insert snapshot", goerr.V("snapshot_id", snapshot.ID), goerr.V("rows", len(rows)))
	}
	return nil
}

func (bq *bigqueryClient) Close() error {
	return bq.client.Close()
}
