package pgx

import (
	"context"
	"sync"

	"github.com/meridian-hq/atlas/backend/pkg/ai"
	graphquery "github.com/meridian-hq/atlas/backend/pkg/query"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbConn is the subset of pgx shared by *pgxpool.Pool, *pgx.Conn, and
// pgx.Tx, so storage can run over a pool, a single connection, or
// inside an enclosing transaction.
type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements the GraphStorage interface on PostgreSQL with
// pgvector for similarity search. It serializes batch description updates
// with a mutex; bulk writes run inside their own transactions.
type GraphDBStorage struct {
	conn     dbConn
	aiClient ai.GraphAIClient
	msgs     []string
	trace    graphquery.Tracer
	mu       sync.Mutex
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithTracer attaches a query tracer that records which entities,
// relationships, and sources a query touched.
func WithTracer(trace graphquery.Tracer) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.trace = trace
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage over an existing
// database connection or pool. The AI client generates embeddings and
// summaries; msgs carries prior conversation turns for context-aware query
// intent extraction.
func NewGraphDBStorageWithConnection(
	ctx context.Context,
	conn dbConn,
	aiClient ai.GraphAIClient,
	msgs []string,
	opts ...GraphDBStorageOption,
) (*GraphDBStorage, error) {
	s := &GraphDBStorage{conn: conn, aiClient: aiClient, msgs: msgs}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}
