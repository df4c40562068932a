package db

import (
	"context"
	"time"
)

const createRefreshTokenSQL = `
INSERT INTO refresh_tokens (token_hash, user_id, expires_at)
VALUES ($1, $2, $3)
RETURNING id, token_hash, user_id, expires_at, revoked, created_at
`

const getRefreshTokenSQL = `
SELECT id, token_hash, user_id, expires_at, revoked, created_at
FROM refresh_tokens
WHERE token_hash = $1
`

// Revocation is conditional on the token still being live, so that a
// replayed refresh token reports as already used.
const revokeRefreshTokenSQL = `
UPDATE refresh_tokens
SET revoked = TRUE
WHERE token_hash = $1 AND NOT revoked AND expires_at > now()
RETURNING id
`

const revokeUserRefreshTokensSQL = `
UPDATE refresh_tokens
SET revoked = TRUE
WHERE user_id = $1 AND NOT revoked
`

const deleteExpiredRefreshTokensSQL = `
DELETE FROM refresh_tokens
WHERE expires_at < now() - interval '30 days'
`

type CreateRefreshTokenParams struct {
	TokenHash string
	UserID    int64
	ExpiresAt time.Time
}

func (q *Queries) CreateRefreshToken(ctx context.Context, params CreateRefreshTokenParams) (RefreshToken, error) {
	var t RefreshToken
	err := q.db.QueryRow(ctx, createRefreshTokenSQL, params.TokenHash, params.UserID, params.ExpiresAt).
		Scan(&t.ID, &t.TokenHash, &t.UserID, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	return t, err
}

func (q *Queries) GetRefreshToken(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var t RefreshToken
	err := q.db.QueryRow(ctx, getRefreshTokenSQL, tokenHash).
		Scan(&t.ID, &t.TokenHash, &t.UserID, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	return t, err
}

// RevokeRefreshToken marks a live token as used. Returns pgx.ErrNoRows when
// the token is unknown, expired, or already revoked.
func (q *Queries) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	var id int64
	return q.db.QueryRow(ctx, revokeRefreshTokenSQL, tokenHash).Scan(&id)
}

func (q *Queries) RevokeUserRefreshTokens(ctx context.Context, userID int64) error {
	_, err := q.db.Exec(ctx, revokeUserRefreshTokensSQL, userID)
	return err
}

func (q *Queries) DeleteExpiredRefreshTokens(ctx context.Context) error {
	_, err := q.db.Exec(ctx, deleteExpiredRefreshTokensSQL)
	return err
}
