// Package store defines the key-value contract the ledger is built on: point reads,
// ordered partition queries, conditional single writes and all-or-nothing transactions.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/apperr"
)

// Collection names a logical table.
type Collection string

const (
	Accounts       Collection = "accounts"
	Categories     Collection = "categories"
	Transactions   Collection = "transactions"
	Budgets        Collection = "budgets"
	RecurringRules Collection = "recurring_rules"
)

const (
	// DefaultPageSize is used when a query or scan does not set a limit.
	DefaultPageSize = 100

	// MaxTransactOps bounds the number of operations in one atomic unit.
	MaxTransactOps = 100
)

// Key addresses one record: the partition is UserID, the ordering key is SortKey.
type Key struct {
	Collection Collection
	UserID     string
	SortKey    string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Collection, k.UserID, k.SortKey)
}

func (k Key) validate() error {
	if k.Collection == "" || k.UserID == "" || k.SortKey == "" {
		return apperr.Validation("invalid key %q", k.String())
	}
	return nil
}

// Record is a stored JSON document and its key.
type Record struct {
	Key  Key
	Data json.RawMessage
}

// Query selects records of one partition ordered by sort key ascending.
// Prefix and the From/To bounds may be combined. Both bounds are inclusive.
type Query struct {
	UserID string
	Prefix string
	From   string
	To     string
	Cursor string
	Limit  int
}

// Page is one page of results. NextCursor is empty when there is nothing left.
type Page struct {
	Items      []Record
	NextCursor string
}

// ConditionKind selects the precondition a write is guarded by.
type ConditionKind int

const (
	CondNone ConditionKind = iota
	CondMustExist
	CondMustNotExist
	// CondUnchanged requires the stored document to equal a previously read one.
	CondUnchanged
)

// Condition is evaluated against the current state of the target record.
type Condition struct {
	Kind ConditionKind
	Raw  json.RawMessage
}

var (
	None         = Condition{Kind: CondNone}
	MustExist    = Condition{Kind: CondMustExist}
	MustNotExist = Condition{Kind: CondMustNotExist}
)

// Unchanged builds a compare-and-swap condition from a document read earlier.
func Unchanged(raw json.RawMessage) Condition {
	return Condition{Kind: CondUnchanged, Raw: raw}
}

// OpKind is the kind of write an Op performs.
type OpKind int

const (
	OpPut OpKind = iota
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// MutateFunc receives the current document and returns the replacement value.
// It runs inside the atomic unit; a returned error aborts the whole unit.
type MutateFunc func(current json.RawMessage) (any, error)

// Op is one conditional write.
type Op struct {
	Kind   OpKind
	Key    Key
	Cond   Condition
	Value  any
	Mutate MutateFunc
}

// Put writes value as the full document at key.
func Put(key Key, value any, cond Condition) Op {
	return Op{Kind: OpPut, Key: key, Value: value, Cond: cond}
}

// Delete removes the document at key.
func Delete(key Key, cond Condition) Op {
	return Op{Kind: OpDelete, Key: key, Cond: cond}
}

// Update replaces the document at key with the result of fn. The record must exist.
func Update(key Key, cond Condition, fn MutateFunc) Op {
	return Op{Kind: OpUpdate, Key: key, Cond: cond, Mutate: fn}
}

// UpdateAs is Update for a typed document.
func UpdateAs[T any](key Key, cond Condition, fn func(*T) error) Op {
	return Update(key, cond, func(current json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(current, &v); err != nil {
			return nil, fmt.Errorf("UpdateAs: decode %s: %w", key, err)
		}
		if err := fn(&v); err != nil {
			return nil, err
		}
		return &v, nil
	})
}

// Validate checks the shape of a single op.
func (op Op) Validate() error {
	if err := op.Key.validate(); err != nil {
		return err
	}
	switch op.Kind {
	case OpPut:
		if op.Value == nil {
			return apperr.Validation("put %s: missing value", op.Key)
		}
	case OpUpdate:
		if op.Mutate == nil {
			return apperr.Validation("update %s: missing mutation", op.Key)
		}
	case OpDelete:
	default:
		return apperr.Validation("unknown op kind %d", op.Kind)
	}
	return nil
}

// ValidateUnit checks every op and rejects two ops on the same record.
func ValidateUnit(ops []Op) error {
	if len(ops) == 0 {
		return apperr.Validation("transaction has no operations")
	}
	if len(ops) > MaxTransactOps {
		return apperr.Validation("transaction has %d operations, limit is %d", len(ops), MaxTransactOps)
	}
	seen := make(map[Key]struct{}, len(ops))
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
		if _, dup := seen[op.Key]; dup {
			return apperr.Validation("transaction touches %s more than once", op.Key)
		}
		seen[op.Key] = struct{}{}
	}
	return nil
}

// Encode marshals an op value into a document.
func Encode(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("Encode: %w", err)
	}
	return b, nil
}

// ConditionFailed builds the conflict error for a failed precondition.
func ConditionFailed(op Op) error {
	return apperr.Conflict("condition failed on %s %s", op.Kind, op.Key)
}

// Reader is the read side of Store.
type Reader interface {
	// Get returns the record at key or a not-found error.
	Get(ctx context.Context, key Key) (Record, error)

	// Query pages through one partition of a collection.
	Query(ctx context.Context, c Collection, q Query) (Page, error)

	// Scan pages through every partition of a collection.
	Scan(ctx context.Context, c Collection, cursor string, limit int) (Page, error)
}

// Store is the full ledger store contract.
type Store interface {
	Reader

	// Write applies a single conditional op.
	Write(ctx context.Context, op Op) error

	// Transact applies all ops or none. A failed condition yields a conflict error.
	Transact(ctx context.Context, ops ...Op) error

	// Close releases backend resources.
	Close() error
}

// GetAs reads and decodes the record at key. The raw document is returned for use
// with Unchanged.
func GetAs[T any](ctx context.Context, r Reader, key Key) (*T, json.RawMessage, error) {
	rec, err := r.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	var v T
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return nil, nil, fmt.Errorf("GetAs: decode %s: %w", key, err)
	}
	return &v, rec.Data, nil
}

// Decode decodes every record of a page.
func Decode[T any](items []Record) ([]*T, error) {
	out := make([]*T, 0, len(items))
	for _, rec := range items {
		var v T
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return nil, fmt.Errorf("Decode: %s: %w", rec.Key, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// QueryAll follows cursors until the partition range is exhausted.
func QueryAll(ctx context.Context, r Reader, c Collection, q Query) ([]Record, error) {
	var all []Record
	for {
		page, err := r.Query(ctx, c, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.NextCursor == "" {
			return all, nil
		}
		q.Cursor = page.NextCursor
	}
}
