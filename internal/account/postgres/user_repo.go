package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/yourusername/codedeck-auth/internal/account"
)

// DBTX は pgxpool.Pool / pgx.Tx / pgxmock が満たすインターフェースです。
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserRepository は account.Repository の PostgreSQL 実装です。
type UserRepository struct {
	db DBTX
}

// NewUserRepository は UserRepository を作成します。
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

var _ account.Repository = (*UserRepository)(nil)

// Create はユーザーを保存します。username の一意制約違反は account.ErrDuplicateAccount になります。
func (r *UserRepository) Create(ctx context.Context, user *account.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Username, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("ACCOUNT_DUPLICATE").
				With("username", user.Username).
				Wrap(account.ErrDuplicateAccount)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert user").
			With("username", user.Username).
			Wrap(err)
	}
	return nil
}

// GetByUsername はユーザー名の完全一致で検索します。
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*account.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`,
		username,
	)

	var user account.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get user by username").
			With("username", username).
			Wrap(err)
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
