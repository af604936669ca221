// Package postgres implements the ledger store on a single Postgres table of JSONB
// documents. Atomic units run in one SQL transaction with row locks on every target.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/lib/pq"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Store is a store.Store backed by the ledger_items table.
type Store struct {
	db *sql.DB
}

// Open connects to dsn with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: connecting to database: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection pool.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get implements store.Reader.
func (s *Store) Get(ctx context.Context, key store.Key) (store.Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM ledger_items WHERE collection = $1 AND user_id = $2 AND sort_key = $3`,
		string(key.Collection), key.UserID, key.SortKey,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, apperr.NotFound("%s not found", key)
	}
	if err != nil {
		return store.Record{}, mapError("Get", err)
	}
	return store.Record{Key: key, Data: data}, nil
}

// Query implements store.Reader.
func (s *Store) Query(ctx context.Context, c store.Collection, q store.Query) (store.Page, error) {
	if q.UserID == "" {
		return store.Page{}, apperr.Validation("query requires a user id")
	}
	after, err := store.DecodeQueryCursor(q.Cursor, q.UserID)
	if err != nil {
		return store.Page{}, err
	}
	limit := store.PageLimit(q.Limit)

	where := []string{"collection = $1", "user_id = $2"}
	args := []any{string(c), q.UserID}
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q.Prefix != "" {
		add("starts_with(sort_key, $%d)", q.Prefix)
	}
	if q.From != "" {
		add("sort_key >= $%d", q.From)
	}
	if q.To != "" {
		add("sort_key <= $%d", q.To)
	}
	if after != "" {
		add("sort_key > $%d", after)
	}
	args = append(args, limit+1)

	sqlText := fmt.Sprintf(
		`SELECT user_id, sort_key, data FROM ledger_items WHERE %s ORDER BY sort_key LIMIT $%d`,
		strings.Join(where, " AND "), len(args),
	)
	return s.page(ctx, "Query", c, limit, sqlText, args...)
}

// Scan implements store.Reader.
func (s *Store) Scan(ctx context.Context, c store.Collection, cursor string, limit int) (store.Page, error) {
	afterUser, afterSK, err := store.DecodeCursor(cursor)
	if err != nil {
		return store.Page{}, err
	}
	limit = store.PageLimit(limit)

	return s.page(ctx, "Scan", c, limit,
		`SELECT user_id, sort_key, data FROM ledger_items
		 WHERE collection = $1 AND (user_id, sort_key) > ($2, $3)
		 ORDER BY user_id, sort_key LIMIT $4`,
		string(c), afterUser, afterSK, limit+1,
	)
}

// page runs a query that fetches one row more than limit to learn whether a next page exists.
func (s *Store) page(ctx context.Context, op string, c store.Collection, limit int, sqlText string, args ...any) (store.Page, error) {
	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return store.Page{}, mapError(op, err)
	}
	defer rows.Close()

	var page store.Page
	for rows.Next() {
		var rec store.Record
		var data []byte
		rec.Key.Collection = c
		if err := rows.Scan(&rec.Key.UserID, &rec.Key.SortKey, &data); err != nil {
			return store.Page{}, mapError(op, err)
		}
		rec.Data = data
		page.Items = append(page.Items, rec)
	}
	if err := rows.Err(); err != nil {
		return store.Page{}, mapError(op, err)
	}

	if len(page.Items) > limit {
		page.Items = page.Items[:limit]
		last := page.Items[limit-1].Key
		page.NextCursor = store.EncodeCursor(last.UserID, last.SortKey)
	}
	return page, nil
}

// Write implements store.Store.
func (s *Store) Write(ctx context.Context, op store.Op) error {
	return s.Transact(ctx, op)
}

// Transact implements store.Store. Every target row is locked and checked before any
// statement that changes data runs.
func (s *Store) Transact(ctx context.Context, ops ...store.Op) (err error) {
	if err := store.ValidateUnit(ops); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("Transact", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	type staged struct {
		exists bool
		data   []byte
	}
	plan := make([]staged, len(ops))

	for i, op := range ops {
		current, exists, unchanged, err := lockRow(ctx, tx, op)
		if err != nil {
			return err
		}
		if !conditionHolds(op.Cond, exists, unchanged) {
			return store.ConditionFailed(op)
		}
		plan[i].exists = exists

		switch op.Kind {
		case store.OpPut:
			plan[i].data, err = store.Encode(op.Value)
		case store.OpUpdate:
			if !exists {
				return store.ConditionFailed(op)
			}
			var next any
			next, err = op.Mutate(current)
			if err == nil {
				plan[i].data, err = store.Encode(next)
			}
		}
		if err != nil {
			return err
		}
	}

	for i, op := range ops {
		if err := apply(ctx, tx, op, plan[i].exists, plan[i].data); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return mapError("Transact", err)
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// lockRow reads the target row FOR UPDATE. unchanged is only meaningful for CondUnchanged.
func lockRow(ctx context.Context, tx *sql.Tx, op store.Op) (json.RawMessage, bool, bool, error) {
	var expected any
	if op.Cond.Kind == store.CondUnchanged {
		expected = string(op.Cond.Raw)
	}

	var data []byte
	var unchanged bool
	err := tx.QueryRowContext(ctx,
		`SELECT data, COALESCE(data = $4::jsonb, false) FROM ledger_items
		 WHERE collection = $1 AND user_id = $2 AND sort_key = $3
		 FOR UPDATE`,
		string(op.Key.Collection), op.Key.UserID, op.Key.SortKey, expected,
	).Scan(&data, &unchanged)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, mapError("Transact", err)
	}
	return data, true, unchanged, nil
}

func apply(ctx context.Context, tx *sql.Tx, op store.Op, exists bool, data []byte) error {
	var err error
	switch {
	case op.Kind == store.OpDelete:
		if !exists {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM ledger_items WHERE collection = $1 AND user_id = $2 AND sort_key = $3`,
			string(op.Key.Collection), op.Key.UserID, op.Key.SortKey)
	case exists:
		_, err = tx.ExecContext(ctx,
			`UPDATE ledger_items SET data = $4::jsonb, updated_at = now()
			 WHERE collection = $1 AND user_id = $2 AND sort_key = $3`,
			string(op.Key.Collection), op.Key.UserID, op.Key.SortKey, string(data))
	default:
		// A concurrent insert of the same key surfaces as a unique violation.
		_, err = tx.ExecContext(ctx,
			`INSERT INTO ledger_items (collection, user_id, sort_key, data)
			 VALUES ($1, $2, $3, $4::jsonb)`,
			string(op.Key.Collection), op.Key.UserID, op.Key.SortKey, string(data))
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation {
			return store.ConditionFailed(op)
		}
		return mapError("Transact", err)
	}
	return nil
}

func conditionHolds(cond store.Condition, exists, unchanged bool) bool {
	switch cond.Kind {
	case store.CondMustExist:
		return exists
	case store.CondMustNotExist:
		return !exists
	case store.CondUnchanged:
		return exists && unchanged
	}
	return true
}

// mapError classifies driver errors: lost races become conflicts, the rest are
// dependency failures.
func mapError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected:
			return apperr.Conflict("%s: concurrent write (%s)", op, pqErr.Code.Name())
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperr.Dependency(op+": postgres", err)
}

// Ensure Store implements the store contract.
var _ store.Store = (*Store)(nil)
