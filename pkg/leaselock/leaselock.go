// Package leaselock implements TTL-based advisory locks on top of a Postgres
// table. A lease is renewed in the background until released; if renewal
// fails, the lease context is canceled so the holder can stop its work.
package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	defaultTTL          = 5 * time.Minute
	defaultWaitInterval = 250 * time.Millisecond

	renewAttempts   = 3
	renewTimeout    = 15 * time.Second
	renewRetryDelay = 200 * time.Millisecond
)

var (
	// ErrBusy is returned by Acquire when the lock is held and Wait is false.
	ErrBusy = errors.New("lease lock busy")
	// ErrLost cancels the lease context when a renewal finds the lock gone.
	ErrLost = errors.New("lease lock lost")
)

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client acquires leases against the app_locks table.
type Client struct {
	db dbConn
}

// Options controls lease acquisition and renewal. Zero values fall back to
// the package defaults.
type Options struct {
	// TTL is how long the lock row stays valid without a renewal.
	TTL time.Duration
	// RenewEvery is the background renewal period. It is clamped below TTL
	// so a healthy holder never expires.
	RenewEvery time.Duration

	// Wait retries acquisition until the context ends instead of failing
	// fast with ErrBusy.
	Wait bool
	// WaitInterval and WaitJitter shape the retry cadence while waiting.
	WaitInterval time.Duration
	WaitJitter   time.Duration

	// TokenPrefix namespaces the generated holder token, which makes lock
	// rows attributable when inspecting the table.
	TokenPrefix string
}

// Lease is a held lock.
type Lease struct {
	Key   string
	Token string

	// Context is canceled when the lease is released or lost; work guarded
	// by the lease should run under it.
	Context context.Context

	client *Client
	cancel context.CancelCauseFunc

	once sync.Once
	done chan struct{}
}

// New creates a lease lock client backed by the given pool.
func New(pool *pgxpool.Pool) *Client {
	return &Client{db: pool}
}

// WithLease acquires the lock, runs fn under the lease context, and releases
// the lock when fn returns.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() { _ = lease.Release(context.Background()) }()
	return fn(lease.Context)
}

// Acquire takes the lock for key, waiting when opts.Wait is set. The
// returned lease renews itself every RenewEvery until Release is called.
func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts, ttlMs := applyDefaults(opts)

	suffix, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.TokenPrefix + suffix

	for {
		acquired, err := c.tryAcquire(ctx, key, token, ttlMs)
		switch {
		case err != nil:
			return nil, err
		case acquired:
			return c.startLease(ctx, key, token, opts, ttlMs), nil
		case !opts.Wait:
			return nil, ErrBusy
		}
		if err := sleep(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}
}

// applyDefaults fills unset options and derives the TTL in milliseconds.
// The millisecond value gets its own floor so a sub-millisecond TTL cannot
// write an already-expired lock row.
func applyDefaults(opts Options) (Options, int64) {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	ttlMs := opts.TTL.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = defaultTTL.Milliseconds()
	}
	if opts.RenewEvery <= 0 || opts.RenewEvery >= opts.TTL {
		opts.RenewEvery = max(opts.TTL/2, time.Second)
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = defaultWaitInterval
	}
	if opts.WaitJitter < 0 {
		opts.WaitJitter = 0
	}
	return opts, ttlMs
}

// tryAcquire attempts a single upsert of the lock row. It reports false
// without error while another holder owns an unexpired lock.
func (c *Client) tryAcquire(ctx context.Context, key, token string, ttlMs int64) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, acquireQuery, key, token, ttlMs).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got != "", nil
}

func (c *Client) startLease(ctx context.Context, key, token string, opts Options, ttlMs int64) *Lease {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	lease := &Lease{
		Key: key, Token: token, Context: leaseCtx,
		client: c, cancel: cancel, done: make(chan struct{}),
	}
	go lease.keepAlive(opts.RenewEvery, ttlMs)
	return lease
}

// Release stops renewal, cancels the lease context, and deletes the lock row.
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		close(l.done)
		l.cancel(context.Canceled)
	})

	_, err := l.client.db.Exec(ctx, releaseQuery, l.Key, l.Token)
	return err
}

func (l *Lease) keepAlive(interval time.Duration, ttlMs int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-l.Context.Done():
			return
		case <-ticker.C:
			if err := l.renewOnce(ttlMs); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

// renewOnce pushes the expiry forward, retrying transient database errors.
// A renewal that finds no matching row means another process took the lock
// over, which is ErrLost.
func (l *Lease) renewOnce(ttlMs int64) error {
	var lastErr error
	for attempt := range renewAttempts {
		if attempt > 0 {
			if err := sleep(l.Context, renewRetryDelay, 0); err != nil {
				return err
			}
		}

		renewCtx, cancel := context.WithTimeout(l.Context, renewTimeout)
		var got string
		err := l.client.db.QueryRow(renewCtx, renewQuery, l.Key, l.Token, ttlMs).Scan(&got)
		cancel()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, pgx.ErrNoRows):
			return ErrLost
		}
		lastErr = err
	}
	return lastErr
}

// sleep waits for base plus a random slice of jitter, returning early with
// the context error if ctx finishes first.
func sleep(ctx context.Context, base, jitter time.Duration) error {
	wait := base
	if jitter > 0 {
		wait += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// acquireQuery inserts the lock row, or steals it when the previous lease
// expired or the caller already holds it. No row comes back while someone
// else holds a live lock.
const acquireQuery = `
	INSERT INTO app_locks (lock_key, locked_by, expires_at)
	VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
	ON CONFLICT (lock_key) DO UPDATE
	SET locked_by = EXCLUDED.locked_by, expires_at = EXCLUDED.expires_at
	WHERE app_locks.expires_at < now() OR app_locks.locked_by = EXCLUDED.locked_by
	RETURNING lock_key`

const renewQuery = `
	UPDATE app_locks
	SET expires_at = now() + ($3::bigint * interval '1 millisecond')
	WHERE lock_key = $1 AND locked_by = $2
	RETURNING lock_key`

const releaseQuery = `
	DELETE FROM app_locks
	WHERE lock_key = $1 AND locked_by = $2`
