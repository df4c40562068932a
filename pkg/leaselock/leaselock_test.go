package leaselock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) > 0 {
		if s, ok := dest[0].(*string); ok {
			*s = r.key
		}
	}
	return nil
}

type fakeConn struct {
	mu       sync.Mutex
	rows     []fakeRow
	execSQLs []string
}

func (c *fakeConn) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execSQLs = append(c.execSQLs, sql)
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rows) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	row := c.rows[0]
	c.rows = c.rows[1:]
	return row
}

func TestAcquireBusy(t *testing.T) {
	conn := &fakeConn{rows: []fakeRow{{err: pgx.ErrNoRows}}}
	client := &Client{db: conn}

	_, err := client.Acquire(context.Background(), "tenant:acme", Options{})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestAcquireEmptyKey(t *testing.T) {
	client := &Client{db: &fakeConn{}}

	if _, err := client.Acquire(context.Background(), "", Options{}); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestAcquireWaitsForLock(t *testing.T) {
	conn := &fakeConn{rows: []fakeRow{
		{err: pgx.ErrNoRows},
		{err: pgx.ErrNoRows},
		{key: "tenant:acme"},
	}}
	client := &Client{db: conn}

	lease, err := client.Acquire(context.Background(), "tenant:acme", Options{
		Wait:         true,
		WaitInterval: 5 * time.Millisecond,
		TokenPrefix:  "merge-",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer lease.Release(context.Background())

	if !strings.HasPrefix(lease.Token, "merge-") {
		t.Fatalf("expected token prefix, got %q", lease.Token)
	}
	if lease.Context.Err() != nil {
		t.Fatalf("lease context should be live, got %v", lease.Context.Err())
	}
}

func TestReleaseCancelsContext(t *testing.T) {
	conn := &fakeConn{rows: []fakeRow{{key: "tenant:acme"}}}
	client := &Client{db: conn}

	lease, err := client.Acquire(context.Background(), "tenant:acme", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if lease.Context.Err() == nil {
		t.Fatal("expected lease context to be canceled after release")
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.execSQLs) != 1 {
		t.Fatalf("expected one delete exec, got %d", len(conn.execSQLs))
	}
}

func TestRenewOnceLost(t *testing.T) {
	conn := &fakeConn{}
	lease := &Lease{
		Key:     "tenant:acme",
		Token:   "tok",
		Context: context.Background(),
		client:  &Client{db: conn},
	}

	if err := lease.renewOnce(1000); !errors.Is(err, ErrLost) {
		t.Fatalf("expected ErrLost, got %v", err)
	}
}

func TestRenewOnceSucceeds(t *testing.T) {
	conn := &fakeConn{rows: []fakeRow{{key: "tenant:acme"}}}
	lease := &Lease{
		Key:     "tenant:acme",
		Token:   "tok",
		Context: context.Background(),
		client:  &Client{db: conn},
	}

	if err := lease.renewOnce(1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithLeaseReleasesOnReturn(t *testing.T) {
	conn := &fakeConn{rows: []fakeRow{{key: "tenant:acme"}}}
	client := &Client{db: conn}

	called := false
	err := client.WithLease(context.Background(), "tenant:acme", Options{}, func(ctx context.Context) error {
		called = true
		if ctx.Err() != nil {
			t.Fatalf("lease context should be live inside fn")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.execSQLs) != 1 {
		t.Fatalf("expected release exec, got %d", len(conn.execSQLs))
	}
}
