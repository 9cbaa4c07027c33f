package signalbroker

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestSubscribePrefixMatch(t *testing.T) {
	b := New()

	var fFired, gFired int32
	b.Subscribe(Filter{"a": 1, "b": 2}, func(Event) { atomic.AddInt32(&fFired, 1) })
	b.Subscribe(Filter{"a": 1}, func(Event) { atomic.AddInt32(&gFired, 1) })

	b.Publish(Event{"a": 1, "b": 2, "c": 3})

	if fFired != 1 {
		t.Fatalf("F fired %d times, want 1", fFired)
	}
	if gFired != 1 {
		t.Fatalf("G fired %d times, want 1", gFired)
	}
}

func TestSubscribeSkipMatch(t *testing.T) {
	b := New()

	var fired int32
	b.Subscribe(Filter{"b": 2}, func(Event) { atomic.AddInt32(&fired, 1) })

	b.Publish(Event{"a": 1, "b": 2})

	if fired != 1 {
		t.Fatalf("callback fired %d times, want 1", fired)
	}
}

func TestExtraEventFieldsAllowed(t *testing.T) {
	b := New()

	fired := false
	b.Subscribe(Filter{"project_id": "P"}, func(Event) { fired = true })
	b.Publish(Event{"project_id": "P", "area_id": "A", "_action": ActionCreate})

	if !fired {
		t.Fatal("expected callback to fire with extra event fields present")
	}
}

func TestMissingFilterFieldDoesNotMatch(t *testing.T) {
	b := New()

	fired := false
	b.Subscribe(Filter{"project_id": "P", "area_id": "A"}, func(Event) { fired = true })
	b.Publish(Event{"project_id": "P"})

	if fired {
		t.Fatal("callback fired but event is missing a required filter field")
	}
}

func TestOneShotUnsubscribeDuringPublish(t *testing.T) {
	b := New()

	var calls int32
	var handle Handle
	handle = b.Subscribe(Filter{"k": "v"}, func(Event) {
		atomic.AddInt32(&calls, 1)
		b.Unsubscribe(handle)
	})

	b.Publish(Event{"k": "v"})
	b.Publish(Event{"k": "v"})

	if calls != 1 {
		t.Fatalf("one-shot callback fired %d times, want 1", calls)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	h := b.Subscribe(Filter{"k": "v"}, func(Event) {})
	b.Unsubscribe(h)
	b.Unsubscribe(h) // must not panic
}

func TestUnsubscribeUnknownHandleIsNoop(t *testing.T) {
	b := New()
	b.Unsubscribe(Handle{}) // must not panic
}

func TestCallbackPanicDoesNotBlockOthers(t *testing.T) {
	b := New()

	var secondFired int32
	var sawErr error
	b.OnError(func(err error) { sawErr = err })

	b.Subscribe(Filter{"k": "v"}, func(Event) { panic("boom") })
	b.Subscribe(Filter{"k": "v"}, func(Event) { atomic.AddInt32(&secondFired, 1) })

	b.Publish(Event{"k": "v"})

	if secondFired != 1 {
		t.Fatalf("second callback fired %d times, want 1", secondFired)
	}
	if sawErr == nil {
		t.Fatal("expected OnError to observe the panic")
	}
}

func TestAnyWildcardMatchesAnyValue(t *testing.T) {
	b := New()

	fired := false
	b.Subscribe(Filter{"node_id": Any, "zone_id": "Z1"}, func(Event) { fired = true })
	b.Publish(Event{"node_id": "N42", "zone_id": "Z1"})

	if !fired {
		t.Fatal("expected Any to match any node_id value")
	}
}

func TestListAndMapValueMatching(t *testing.T) {
	b := New()

	var listFired, mapFired bool
	b.Subscribe(Filter{"tags": []any{"a", "b"}}, func(Event) { listFired = true })
	b.Subscribe(Filter{"meta": map[string]any{"region": "eu"}}, func(Event) { mapFired = true })

	b.Publish(Event{
		"tags": []any{"a", "b"},
		"meta": map[string]any{"region": "eu", "zone": "z1"},
	})

	if !listFired {
		t.Fatal("expected list filter value to match equal list")
	}
	if !mapFired {
		t.Fatal("expected nested map filter value to match subset")
	}
}

func TestMatchFunction(t *testing.T) {
	cases := []struct {
		name  string
		event Event
		f     Filter
		want  bool
	}{
		{"exact", Event{"a": 1}, Filter{"a": 1}, true},
		{"extra-event-fields-ok", Event{"a": 1, "b": 2}, Filter{"a": 1}, true},
		{"missing-filter-field", Event{"a": 1}, Filter{"a": 1, "b": 2}, false},
		{"mismatched-value", Event{"a": 1}, Filter{"a": 2}, false},
		{"wildcard", Event{"a": "anything"}, Filter{"a": Any}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(tc.event, tc.f); got != tc.want {
				t.Fatalf("Match(%v, %v) = %v, want %v", tc.event, tc.f, got, tc.want)
			}
		})
	}
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	b := New()

	var wg sync.WaitGroup
	var total int32

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Subscribe(Filter{"k": "v"}, func(Event) { atomic.AddInt32(&total, 1) })
		}()
	}
	wg.Wait()

	b.Publish(Event{"k": "v"})

	if total != 50 {
		t.Fatalf("got %d callback firings, want 50", total)
	}
}
