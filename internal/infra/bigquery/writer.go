package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var (
	transactionSchema = mustInferSchema(TransactionRow{})
	snapshotSchema    = mustInferSchema(AccountSnapshotRow{})
)

func mustInferSchema(row any) bigquery.Schema {
	s, err := bigquery.InferSchema(row)
	if err != nil {
		panic(fmt.Sprintf("bigquery: inferring schema for %T: %v", row, err))
	}
	return s
}

// Writer holds a shared BigQuery client bound to one dataset.
type Writer struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewWriter creates a Writer with its own client.
func NewWriter(ctx context.Context, projectID, datasetID string, opts ...option.ClientOption) (*Writer, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewWriter: creating client: %w", err)
	}
	return NewWriterWithClient(client, projectID, datasetID), nil
}

// NewWriterWithClient wraps an existing client.
func NewWriterWithClient(client *bigquery.Client, projectID, datasetID string) *Writer {
	return &Writer{client: client, projectID: projectID, datasetID: datasetID}
}

// Close closes the BigQuery client connection.
func (w *Writer) Close() error {
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

// InsertTransactions delegates to InsertTransactionsWithClient with the shared client.
func (w *Writer) InsertTransactions(ctx context.Context, rows []*TransactionRow) error {
	return InsertTransactionsWithClient(ctx, w.client, w.projectID, w.datasetID, rows)
}

// InsertAccountSnapshots delegates to InsertAccountSnapshotsWithClient with the shared client.
func (w *Writer) InsertAccountSnapshots(ctx context.Context, rows []*AccountSnapshotRow) error {
	return InsertAccountSnapshotsWithClient(ctx, w.client, w.projectID, w.datasetID, rows)
}

// QueryDailyTotals delegates to QueryDailyTotalsWithClient with the shared client.
func (w *Writer) QueryDailyTotals(ctx context.Context, userID string, start, end time.Time) ([]*DailyTotalRow, error) {
	return QueryDailyTotalsWithClient(ctx, w.client, w.projectID, w.datasetID, userID, start, end)
}

// InsertTransactionsWithClient streams a batch of TransactionRow into <dataset>.transactions.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for _, r := range rows {
		savers = append(savers, &bigquery.StructSaver{Struct: r, Schema: transactionSchema, InsertID: r.InsertID()})
	}

	inserter := client.DatasetInProject(projectID, datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}
	return nil
}

// InsertAccountSnapshotsWithClient streams a batch of AccountSnapshotRow into <dataset>.account_snapshots.
func InsertAccountSnapshotsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID string, rows []*AccountSnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for _, r := range rows {
		savers = append(savers, &bigquery.StructSaver{Struct: r, Schema: snapshotSchema, InsertID: r.InsertID()})
	}

	inserter := client.DatasetInProject(projectID, datasetID).Table(accountSnapshotsTable).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("InsertAccountSnapshots: inserting rows: %w", err)
	}
	return nil
}

// QueryDailyTotalsWithClient sums exported base amounts per day and type for one user.
// The latest exported version of each transaction wins.
func QueryDailyTotalsWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, userID string, start, end time.Time) ([]*DailyTotalRow, error) {
	query := fmt.Sprintf(`
		WITH latest AS (
			SELECT * EXCEPT(rn) FROM (
				SELECT t.*, ROW_NUMBER() OVER (PARTITION BY user_id, txn_id ORDER BY updated_at DESC, exported_at DESC) AS rn
				FROM `+"`%s.%s.%s`"+` t
				WHERE t.user_id = @user_id
				  AND t.occurred_date >= @start_date
				  AND t.occurred_date <= @end_date
			)
			WHERE rn = 1
		)
		SELECT
			occurred_date AS day,
			type,
			SUM(amount_base) AS total_base,
			COUNT(*) AS txn_count
		FROM latest
		GROUP BY day, type
		ORDER BY day, type
	`, projectID, datasetID, transactionsTable)

	q := client.Query(query)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "start_date", Value: start.Format(dateFormat)},
		{Name: "end_date", Value: end.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryDailyTotals: query read: %w", err)
	}

	var rows []*DailyTotalRow
	for {
		var r DailyTotalRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryDailyTotals: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}
