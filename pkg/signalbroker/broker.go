// Package signalbroker implements a topic-indexed publish/subscribe broker.
//
// Subscriptions are indexed by a tree whose edges are labelled with
// (field, value) pairs in a canonical order (lexicographic by field
// name). Publishing sorts the event's fields the same way and walks the
// tree, firing every callback attached to every node visited along the
// way — including nodes reached by skipping fields the event doesn't
// care about. This gives O(depth) matching instead of O(subscribers)
// for exact-value filters, with unbounded-shape filters (wildcards,
// lists, nested maps) handled by a linear post-filter at the node a
// callback is attached to, never as tree edges.
//
// Design Notes:
//   - Ownership uses an arena (Broker.nodes, Broker.callbacks) instead of
//     cyclic node<->callback pointers, so Unsubscribe is O(1) by handle
//     without walking the tree.
//   - A callback that panics or returns is isolated: failures are logged,
//     never propagated to the publisher or to other callbacks.
package signalbroker

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// Event is an open mapping of field -> value emitted whenever something
// changes. By convention it carries an entity's primary key columns plus
// an "_action" field set to one of ActionCreate, ActionUpdate, ActionDelete.
type Event map[string]any

// Filter is a mapping of field -> required value. A filter matches an
// event iff every field in the filter is present in the event with an
// equal (or Any/list/map-compatible) value. Extra event fields are
// allowed.
type Filter map[string]any

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Any is the wildcard sentinel for filter values: it matches any value
// for the field it's assigned to, but the field must be present in the
// event. It is the Go
// equivalent of the original system's `...` (Ellipsis) sentinel.
var Any = struct{ wildcard bool }{wildcard: true}

// CallbackFunc is invoked once per matching Publish call.
type CallbackFunc func(Event)

// Handle identifies a registered subscription for Unsubscribe. The zero
// Handle is never returned by Subscribe and is safe to pass to
// Unsubscribe (a no-op).
type Handle struct {
	nodeID     int
	callbackID int
}

type edge struct {
	field string
	value any
}

type node struct {
	children  map[edge]int
	callbacks map[int]*subscription
}

func newNode() *node {
	return &node{
		children:  make(map[edge]int),
		callbacks: make(map[int]*subscription),
	}
}

type subscription struct {
	id          int
	nodeID      int
	filter      Filter
	fn          CallbackFunc
	hasDeferred bool // filter has a value that can't be a tree edge (Any/list/map)
}

// Broker is a topic-indexed pub/sub broker. The zero value is not usable;
// construct with New.
type Broker struct {
	mu             sync.RWMutex
	nodes          []*node
	callbacks      map[int]*subscription
	nextCallbackID int
	onError        func(err error)
}

// New creates an empty broker with a single root node.
func New() *Broker {
	return &Broker{
		nodes:     []*node{newNode()},
		callbacks: make(map[int]*subscription),
	}
}

// OnError installs a callback invoked whenever a subscribed callback
// panics during Publish. If unset, failures are written with the log
// package. The hook itself must not panic.
func (b *Broker) OnError(fn func(err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers fn to fire for every future event matching filter.
// The returned handle is used to cancel the subscription.
func (b *Broker) Subscribe(filter Filter, fn CallbackFunc) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	fields := sortedFields(filter)

	curr := 0
	hasDeferred := false
	for _, field := range fields {
		value := filter[field]
		if !isEdgeValue(value) {
			hasDeferred = true
			continue
		}

		e := edge{field: field, value: value}
		nd := b.nodes[curr]
		childID, ok := nd.children[e]
		if !ok {
			childID = len(b.nodes)
			b.nodes = append(b.nodes, newNode())
			nd.children[e] = childID
		}
		curr = childID
	}

	b.nextCallbackID++
	id := b.nextCallbackID
	sub := &subscription{id: id, nodeID: curr, filter: filter, fn: fn, hasDeferred: hasDeferred}
	b.callbacks[id] = sub
	b.nodes[curr].callbacks[id] = sub

	return Handle{nodeID: curr, callbackID: id}
}

// Unsubscribe removes a subscription. Idempotent: unknown or
// already-removed handles are a no-op.
func (b *Broker) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(h)
}

func (b *Broker) unsubscribeLocked(h Handle) {
	if _, ok := b.callbacks[h.callbackID]; !ok {
		return
	}
	delete(b.callbacks, h.callbackID)
	if h.nodeID >= 0 && h.nodeID < len(b.nodes) {
		delete(b.nodes[h.nodeID].callbacks, h.callbackID)
	}
}

// Publish fires every callback whose filter matches event. Ordering
// between callbacks is unspecified; each matching callback fires exactly
// once. Publish returns only after every matching callback has run.
func (b *Broker) Publish(event Event) {
	fields := sortedFields(event)

	b.mu.RLock()
	matched := make([]*subscription, 0, 4)
	b.walk(0, fields, event, &matched)
	onError := b.onError
	b.mu.RUnlock()

	for _, sub := range matched {
		b.invoke(sub, event, onError)
	}
}

func (b *Broker) walk(nodeID int, remaining []string, event Event, matched *[]*subscription) {
	nd := b.nodes[nodeID]

	for _, sub := range nd.callbacks {
		if sub.hasDeferred && !Match(event, sub.filter) {
			continue
		}
		*matched = append(*matched, sub)
	}

	for i, field := range remaining {
		if !isEdgeValue(event[field]) {
			continue
		}
		e := edge{field: field, value: event[field]}
		if childID, ok := nd.children[e]; ok {
			b.walk(childID, remaining[i+1:], event, matched)
		}
	}
}

func (b *Broker) invoke(sub *subscription, event Event, onError func(error)) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("signalbroker: callback panicked: %v", r)
			if onError != nil {
				onError(err)
			} else {
				log.Printf("[ERROR] %v", err)
			}
		}
	}()
	sub.fn(event)
}

// Match reports whether filter matches event: every (k, v) pair in
// filter must be present in event with an equal value. Extra event
// fields are allowed. Values of Any, []any, or map[string]any in filter
// extend equality to wildcard/list/nested-map matching (see the package
// doc); this is only ever evaluated as a linear post-filter, never used
// to shape the tree.
func Match(event Event, filter Filter) bool {
	for field, want := range filter {
		got, ok := event[field]
		if !ok {
			return false
		}
		if !valueMatches(got, want) {
			return false
		}
	}
	return true
}

func valueMatches(got, want any) bool {
	if want == Any {
		return true
	}

	switch w := want.(type) {
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return false
		}
		for i := range w {
			if !valueMatches(g[i], w[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range w {
			if !valueMatches(g[k], v) {
				return false
			}
		}
		return true
	default:
		return got == want
	}
}

// isEdgeValue reports whether value can be used as a tree edge label: a
// plain, comparable, exact value. Any, lists, and nested maps are
// handled by the post-filter instead (see Match).
func isEdgeValue(value any) bool {
	if value == Any {
		return false
	}
	switch value.(type) {
	case []any, map[string]any:
		return false
	default:
		return true
	}
}

func sortedFields[M ~map[string]any](m M) []string {
	fields := make([]string, 0, len(m))
	for k := range m {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
