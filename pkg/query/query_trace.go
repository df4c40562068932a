package query

import (
	"cmp"
	"slices"
	"sync"
)

// TraceKind identifies what a trace event describes.
type TraceKind string

const (
	TraceSourcesConsidered    TraceKind = "sources_considered"
	TraceSourcesUsed          TraceKind = "sources_used"
	TraceEntitiesQueried      TraceKind = "entities_queried"
	TraceRelationshipsQueried TraceKind = "relationships_queried"
)

// TraceEvent is the envelope handed to a Tracer. Only the field matching the
// Kind is populated. New kinds may be added without breaking implementers.
type TraceEvent struct {
	Kind TraceKind

	SourceIDs       []string
	EntityIDs       []int64
	RelationshipIDs []int64
}

// Tracer receives trace events while a query runs. Implementations must
// tolerate concurrent Record calls; retrieval fans out across goroutines.
type Tracer interface {
	Record(event TraceEvent)
}

// The Record helpers tolerate a nil Tracer so storage code can trace
// unconditionally.

func RecordConsideredSourceIDs(tr Tracer, ids ...string) {
	record(tr, TraceEvent{Kind: TraceSourcesConsidered, SourceIDs: ids})
}

func RecordUsedSourceIDs(tr Tracer, ids ...string) {
	record(tr, TraceEvent{Kind: TraceSourcesUsed, SourceIDs: ids})
}

func RecordQueriedEntityIDs(tr Tracer, ids ...int64) {
	record(tr, TraceEvent{Kind: TraceEntitiesQueried, EntityIDs: ids})
}

func RecordQueriedRelationshipIDs(tr Tracer, ids ...int64) {
	record(tr, TraceEvent{Kind: TraceRelationshipsQueried, RelationshipIDs: ids})
}

func record(tr Tracer, event TraceEvent) {
	if tr != nil {
		tr.Record(event)
	}
}

// QueryTrace is a Tracer that accumulates everything it sees, deduplicated.
// The ask handlers read it back after the answer is generated to report how
// much of the graph the retrieval touched. Safe for concurrent use.
type QueryTrace struct {
	mu            sync.Mutex
	considered    traceSet[string]
	used          traceSet[string]
	entities      traceSet[int64]
	relationships traceSet[int64]
}

// QueryTraceSnapshot is a sorted copy of the ids collected so far.
type QueryTraceSnapshot struct {
	ConsideredSourceIDs    []string
	UsedSourceIDs          []string
	QueriedEntityIDs       []int64
	QueriedRelationshipIDs []int64
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		considered:    traceSet[string]{},
		used:          traceSet[string]{},
		entities:      traceSet[int64]{},
		relationships: traceSet[int64]{},
	}
}

// Record folds an event into the trace. Unknown kinds are ignored so newer
// storage code can emit events an older trace does not understand.
func (qt *QueryTrace) Record(event TraceEvent) {
	if qt == nil {
		return
	}

	qt.mu.Lock()
	defer qt.mu.Unlock()

	switch event.Kind {
	case TraceSourcesConsidered:
		qt.considered.add(event.SourceIDs)
	case TraceSourcesUsed:
		qt.used.add(event.SourceIDs)
	case TraceEntitiesQueried:
		qt.entities.add(event.EntityIDs)
	case TraceRelationshipsQueried:
		qt.relationships.add(event.RelationshipIDs)
	}
}

func (qt *QueryTrace) Snapshot() QueryTraceSnapshot {
	if qt == nil {
		return QueryTraceSnapshot{}
	}

	qt.mu.Lock()
	defer qt.mu.Unlock()

	return QueryTraceSnapshot{
		ConsideredSourceIDs:    qt.considered.sorted(),
		UsedSourceIDs:          qt.used.sorted(),
		QueriedEntityIDs:       qt.entities.sorted(),
		QueriedRelationshipIDs: qt.relationships.sorted(),
	}
}

type traceSet[T cmp.Ordered] map[T]struct{}

// add inserts values, dropping the zero value: empty public ids and zero
// row ids mean "not set", never a real row.
func (s traceSet[T]) add(values []T) {
	var zero T
	for _, v := range values {
		if v == zero {
			continue
		}
		s[v] = struct{}{}
	}
}

func (s traceSet[T]) sorted() []T {
	values := make([]T, 0, len(s))
	for v := range s {
		values = append(values, v)
	}
	slices.Sort(values)
	return values
}
