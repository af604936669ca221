// Package memory is an in-process Store. It is safe for concurrent use and loses
// its data on restart.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/dvloznov/finance-ledger/internal/apperr"
	"github.com/dvloznov/finance-ledger/internal/store"
)

type partition map[string]json.RawMessage

// Store keeps documents in nested maps: collection, then user, then sort key.
type Store struct {
	mu    sync.RWMutex
	items map[store.Collection]map[string]partition
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{items: make(map[store.Collection]map[string]partition)}
}

// Get implements store.Reader.
func (s *Store) Get(ctx context.Context, key store.Key) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.lookup(key)
	if !ok {
		return store.Record{}, apperr.NotFound("%s not found", key)
	}
	return store.Record{Key: key, Data: clone(raw)}, nil
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

	s.mu.RLock()
	defer s.mu.RUnlock()

	part := s.items[c][q.UserID]
	var page store.Page
	for _, sk := range sortedKeys(part) {
		if after != "" && sk <= after {
			continue
		}
		if !store.InRange(q, sk) {
			continue
		}
		if len(page.Items) == limit {
			last := page.Items[len(page.Items)-1].Key
			page.NextCursor = store.EncodeCursor(last.UserID, last.SortKey)
			break
		}
		page.Items = append(page.Items, store.Record{
			Key:  store.Key{Collection: c, UserID: q.UserID, SortKey: sk},
			Data: clone(part[sk]),
		})
	}
	return page, nil
}

// Scan implements store.Reader. Partitions are visited in user id order.
func (s *Store) Scan(ctx context.Context, c store.Collection, cursor string, limit int) (store.Page, error) {
	afterUser, afterSK, err := store.DecodeCursor(cursor)
	if err != nil {
		return store.Page{}, err
	}
	limit = store.PageLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.items[c]))
	for u := range s.items[c] {
		users = append(users, u)
	}
	sort.Strings(users)

	var page store.Page
	for _, u := range users {
		if u < afterUser {
			continue
		}
		part := s.items[c][u]
		for _, sk := range sortedKeys(part) {
			if u == afterUser && sk <= afterSK {
				continue
			}
			if len(page.Items) == limit {
				last := page.Items[len(page.Items)-1].Key
				page.NextCursor = store.EncodeCursor(last.UserID, last.SortKey)
				return page, nil
			}
			page.Items = append(page.Items, store.Record{
				Key:  store.Key{Collection: c, UserID: u, SortKey: sk},
				Data: clone(part[sk]),
			})
		}
	}
	return page, nil
}

// Write implements store.Store.
func (s *Store) Write(ctx context.Context, op store.Op) error {
	return s.Transact(ctx, op)
}

// Transact implements store.Store. Every condition and mutation is evaluated before
// anything is applied.
func (s *Store) Transact(ctx context.Context, ops ...store.Op) error {
	if err := store.ValidateUnit(ops); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// nil data marks a delete.
	staged := make([]json.RawMessage, len(ops))
	for i, op := range ops {
		current, exists := s.lookup(op.Key)
		if !conditionHolds(op.Cond, current, exists) {
			return store.ConditionFailed(op)
		}

		switch op.Kind {
		case store.OpPut:
			raw, err := store.Encode(op.Value)
			if err != nil {
				return err
			}
			staged[i] = raw
		case store.OpUpdate:
			if !exists {
				return store.ConditionFailed(op)
			}
			next, err := op.Mutate(clone(current))
			if err != nil {
				return err
			}
			raw, err := store.Encode(next)
			if err != nil {
				return err
			}
			staged[i] = raw
		case store.OpDelete:
		}
	}

	for i, op := range ops {
		if op.Kind == store.OpDelete {
			s.remove(op.Key)
			continue
		}
		s.put(op.Key, clone(staged[i]))
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	return nil
}

func conditionHolds(cond store.Condition, current json.RawMessage, exists bool) bool {
	switch cond.Kind {
	case store.CondMustExist:
		return exists
	case store.CondMustNotExist:
		return !exists
	case store.CondUnchanged:
		return exists && bytes.Equal(current, cond.Raw)
	}
	return true
}

func (s *Store) lookup(key store.Key) (json.RawMessage, bool) {
	raw, ok := s.items[key.Collection][key.UserID][key.SortKey]
	return raw, ok
}

func (s *Store) put(key store.Key, raw json.RawMessage) {
	users, ok := s.items[key.Collection]
	if !ok {
		users = make(map[string]partition)
		s.items[key.Collection] = users
	}
	part, ok := users[key.UserID]
	if !ok {
		part = make(partition)
		users[key.UserID] = part
	}
	part[key.SortKey] = raw
}

func (s *Store) remove(key store.Key) {
	part := s.items[key.Collection][key.UserID]
	delete(part, key.SortKey)
	if len(part) == 0 {
		delete(s.items[key.Collection], key.UserID)
	}
}

func sortedKeys(part partition) []string {
	keys := make([]string, 0, len(part))
	for k := range part {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clone(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

// Ensure Store implements the store contract.
var _ store.Store = (*Store)(nil)
