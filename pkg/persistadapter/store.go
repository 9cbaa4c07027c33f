// Package persistadapter defines the storage contract every domain
// service builds on: per-entity CRUD that also publishes a change
// event to the signal broker on every mutation (component F). This is
// the sole coupling between storage and cache invalidation — cachecore
// never touches SQL, and the broker never touches rows, only events.
//
// Design Notes:
//   - Store[T] is generic over the row type so one implementation backs
//     every entity; a service instantiates it once per entity with a
//     FieldsFunc telling the store how to project a row to the
//     key/value pairs an event and a Select predicate are matched
//     against.
//   - MemoryStore is the reference implementation used by every domain
//     service in this repo. SQL storage is out of scope: the contract
//     is satisfied the same way whether rows live in memory or in
//     Postgres, and nothing here depends on which.
package persistadapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"encore.app/pkg/signalbroker"
)

// ErrNotFound is returned by Update when no row matches the given key.
var ErrNotFound = errors.New("persistadapter: row not found")

// FieldsFunc projects a row to its full set of filterable fields,
// including its primary key columns.
type FieldsFunc[T any] func(row T) map[string]any

// Store is the generic per-entity persistence contract.
type Store[T any] interface {
	Create(ctx context.Context, row T) error
	Merge(ctx context.Context, row T) error
	Update(ctx context.Context, row T) error
	Get(ctx context.Context, key map[string]any) (T, bool, error)
	Select(ctx context.Context, predicate map[string]any) ([]T, error)
	Delete(ctx context.Context, key map[string]any) error
	// CascadeDelete removes every row matching predicate, publishing
	// one event per removed row, and reports how many rows were removed.
	CascadeDelete(ctx context.Context, predicate map[string]any) (int, error)
}

// MemoryStore is an in-memory Store[T] that publishes a signalbroker
// event on every mutation. The zero value is not usable; construct
// with NewMemoryStore.
type MemoryStore[T any] struct {
	mu        sync.RWMutex
	entity    string
	keyFields []string
	fields    FieldsFunc[T]
	rows      map[string]T
	broker    *signalbroker.Broker
}

// NewMemoryStore builds an empty store for entity. keyFields names the
// subset of fields returned by fields that form the row's primary key.
// A nil broker is valid for tests that never need invalidation.
func NewMemoryStore[T any](entity string, keyFields []string, fields FieldsFunc[T], broker *signalbroker.Broker) *MemoryStore[T] {
	return &MemoryStore[T]{
		entity:    entity,
		keyFields: append([]string(nil), keyFields...),
		fields:    fields,
		rows:      make(map[string]T),
		broker:    broker,
	}
}

func (s *MemoryStore[T]) keyOf(row T) map[string]any {
	all := s.fields(row)
	key := make(map[string]any, len(s.keyFields))
	for _, k := range s.keyFields {
		key[k] = all[k]
	}
	return key
}

func serializeKey(key map[string]any) string {
	names := make([]string, 0, len(key))
	for k := range key {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteString("\x00")
		b.WriteString(toKeyString(key[name]))
		b.WriteString("\x1f")
	}
	return b.String()
}

func toKeyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// Create inserts row and publishes a create event. Create does not
// check for an existing row with the same key — callers that need
// insert-or-update semantics should use Merge.
func (s *MemoryStore[T]) Create(ctx context.Context, row T) error {
	key := s.keyOf(row)
	s.mu.Lock()
	s.rows[serializeKey(key)] = row
	s.mu.Unlock()
	s.publish(key, signalbroker.ActionCreate)
	return nil
}

// Merge inserts row if its key is new, or replaces the existing row
// otherwise, publishing create or update accordingly.
func (s *MemoryStore[T]) Merge(ctx context.Context, row T) error {
	key := s.keyOf(row)
	ks := serializeKey(key)

	s.mu.Lock()
	_, existed := s.rows[ks]
	s.rows[ks] = row
	s.mu.Unlock()

	action := signalbroker.ActionCreate
	if existed {
		action = signalbroker.ActionUpdate
	}
	s.publish(key, action)
	return nil
}

// Update replaces an existing row and publishes an update event.
// Returns ErrNotFound if no row with row's key exists.
func (s *MemoryStore[T]) Update(ctx context.Context, row T) error {
	key := s.keyOf(row)
	ks := serializeKey(key)

	s.mu.Lock()
	_, ok := s.rows[ks]
	if ok {
		s.rows[ks] = row
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.publish(key, signalbroker.ActionUpdate)
	return nil
}

// Get returns the row stored under key, if any.
func (s *MemoryStore[T]) Get(ctx context.Context, key map[string]any) (T, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[serializeKey(key)]
	return row, ok, nil
}

// Select returns every row whose fields match predicate
// (field-for-field equality; absent predicate fields never filter).
func (s *MemoryStore[T]) Select(ctx context.Context, predicate map[string]any) ([]T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []T
	for _, row := range s.rows {
		if signalbroker.Match(signalbroker.Event(s.fields(row)), signalbroker.Filter(predicate)) {
			out = append(out, row)
		}
	}
	return out, nil
}

// Delete removes the row stored under key and publishes a delete
// event. A key matching no row is a no-op, not an error.
func (s *MemoryStore[T]) Delete(ctx context.Context, key map[string]any) error {
	ks := serializeKey(key)

	s.mu.Lock()
	_, ok := s.rows[ks]
	delete(s.rows, ks)
	s.mu.Unlock()

	if ok {
		s.publish(key, signalbroker.ActionDelete)
	}
	return nil
}

// CascadeDelete removes every row matching predicate and publishes one
// delete event per removed row, each carrying that row's own primary
// key rather than the predicate.
func (s *MemoryStore[T]) CascadeDelete(ctx context.Context, predicate map[string]any) (int, error) {
	rows, err := s.Select(ctx, predicate)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	for _, row := range rows {
		delete(s.rows, serializeKey(s.keyOf(row)))
	}
	s.mu.Unlock()

	for _, row := range rows {
		s.publish(s.keyOf(row), signalbroker.ActionDelete)
	}
	return len(rows), nil
}

func (s *MemoryStore[T]) publish(key map[string]any, action string) {
	if s.broker == nil {
		return
	}
	event := signalbroker.Event{"entity": s.entity, "_action": action}
	for k, v := range key {
		event[k] = v
	}
	s.broker.Publish(event)
}
