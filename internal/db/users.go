package db

import "context"

const createUserSQL = `
INSERT INTO users (email, password_hash, name, role, tenant_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, email, password_hash, name, role, tenant_id, created_at
`

const getUserByEmailSQL = `
SELECT id, email, password_hash, name, role, tenant_id, created_at
FROM users
WHERE email = $1
`

const getUserByIDSQL = `
SELECT id, email, password_hash, name, role, tenant_id, created_at
FROM users
WHERE id = $1
`

type CreateUserParams struct {
	Email        string
	PasswordHash string
	Name         string
	Role         string
	TenantID     string
}

func (q *Queries) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, createUserSQL,
		params.Email, params.PasswordHash, params.Name, params.Role, params.TenantID,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.TenantID, &u.CreatedAt)
	return u, err
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, getUserByEmailSQL, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.TenantID, &u.CreatedAt)
	return u, err
}

func (q *Queries) GetUserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := q.db.QueryRow(ctx, getUserByIDSQL, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.TenantID, &u.CreatedAt)
	return u, err
}
