package query

import (
	"reflect"
	"sync"
	"testing"
)

func TestQueryTraceSnapshot(t *testing.T) {
	trace := NewQueryTrace()

	RecordConsideredSourceIDs(trace, "s2", "s1", "s2", "")
	RecordUsedSourceIDs(trace, "s1")
	RecordQueriedEntityIDs(trace, 7, 3, 7, 0)
	RecordQueriedRelationshipIDs(trace, 5, 0)

	got := trace.Snapshot()

	want := QueryTraceSnapshot{
		ConsideredSourceIDs:    []string{"s1", "s2"},
		UsedSourceIDs:          []string{"s1"},
		QueriedEntityIDs:       []int64{3, 7},
		QueriedRelationshipIDs: []int64{5},
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("unexpected snapshot:\nexpected: %+v\nreceived: %+v", want, got)
	}
}

func TestQueryTraceNilSafety(t *testing.T) {
	var trace *QueryTrace

	// Recording into a nil trace must be a no-op, not a panic.
	RecordConsideredSourceIDs(trace, "s1")
	RecordUsedSourceIDs(trace, "s1")
	RecordQueriedEntityIDs(trace, 1)
	RecordQueriedRelationshipIDs(trace, 1)

	got := trace.Snapshot()
	if len(got.ConsideredSourceIDs) != 0 || len(got.UsedSourceIDs) != 0 {
		t.Errorf("nil trace snapshot should be empty, got %+v", got)
	}
}

func TestQueryTraceUnknownEventIgnored(t *testing.T) {
	trace := NewQueryTrace()
	trace.Record(TraceEvent{Kind: TraceKind("bogus"), SourceIDs: []string{"s1"}})

	got := trace.Snapshot()
	if len(got.ConsideredSourceIDs) != 0 {
		t.Errorf("unknown event kinds must not modify the trace, got %+v", got)
	}
}

func TestQueryTraceConcurrentRecord(t *testing.T) {
	trace := NewQueryTrace()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			RecordQueriedEntityIDs(trace, n+1)
		}(int64(i))
	}
	wg.Wait()

	got := trace.Snapshot()
	if len(got.QueriedEntityIDs) != 16 {
		t.Errorf("recorded %d entity ids, want 16", len(got.QueriedEntityIDs))
	}
}
