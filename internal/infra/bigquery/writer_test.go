package bigquery

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

func TestInferredSchemas(t *testing.T) {
	tests := []struct {
		name   string
		schema bigquery.Schema
		want   map[string]bigquery.FieldType
	}{
		{
			name:   "transactions",
			schema: transactionSchema,
			want: map[string]bigquery.FieldType{
				"amount":          bigquery.NumericFieldType,
				"fx_rate_to_base": bigquery.NumericFieldType,
				"occurred_date":   bigquery.DateFieldType,
				"occurred_at":     bigquery.TimestampFieldType,
				"category_id":     bigquery.StringFieldType,
				"tags":            bigquery.StringFieldType,
			},
		},
		{
			name:   "account_snapshots",
			schema: snapshotSchema,
			want: map[string]bigquery.FieldType{
				"current_balance": bigquery.NumericFieldType,
				"snapshot_date":   bigquery.DateFieldType,
				"archived":        bigquery.BooleanFieldType,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(map[string]*bigquery.FieldSchema, len(tt.schema))
			for _, f := range tt.schema {
				got[f.Name] = f
			}
			for name, typ := range tt.want {
				f, ok := got[name]
				if !ok {
					t.Errorf("field %s missing", name)
					continue
				}
				if f.Type != typ {
					t.Errorf("field %s type = %s, want %s", name, f.Type, typ)
				}
			}
			if tags, ok := got["tags"]; ok && tt.name == "transactions" && !tags.Repeated {
				t.Errorf("tags should be repeated")
			}
		})
	}
}

func TestInsertIDs(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	tx := &TransactionRow{UserID: "u1", TxnID: "t1", UpdatedAt: at}
	if got, want := tx.InsertID(), "u1/t1/2024-05-01T09:00:00Z"; got != want {
		t.Errorf("TransactionRow.InsertID() = %q, want %q", got, want)
	}

	snap := &AccountSnapshotRow{UserID: "u1", AccountID: "a1", SnapshotDate: civil.DateOf(at)}
	if got, want := snap.InsertID(), "u1/a1/2024-05-01"; got != want {
		t.Errorf("AccountSnapshotRow.InsertID() = %q, want %q", got, want)
	}
}

func TestInsertEmptyBatchSkipsClient(t *testing.T) {
	if err := InsertTransactionsWithClient(context.Background(), nil, "p", "d", nil); err != nil {
		t.Errorf("InsertTransactionsWithClient(nil rows) error = %v", err)
	}
	if err := InsertAccountSnapshotsWithClient(context.Background(), nil, "p", "d", nil); err != nil {
		t.Errorf("InsertAccountSnapshotsWithClient(nil rows) error = %v", err)
	}
}
