// Package account はユーザー登録と認証（資格情報の検証）を提供します。
package account

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User は永続化されるユーザーレコードです。PasswordHash に生のパスワードは含みません。
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// UserRef はログイン時にセッションへ複製されるユーザー情報のスナップショットです。
// ログイン後のユーザー情報の変更は既存のセッションには反映されません。
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// NewUser は新しい ID を採番した User を作成します。
func NewUser(username, passwordHash string) *User {
	return &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
}

// Ref は User から UserRef を作成します。
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username}
}

// Repository はユーザーの永続化を担います。
type Repository interface {
	// Create はユーザーを保存します。ユーザー名が既に存在する場合は ErrDuplicateAccount を返します。
	Create(ctx context.Context, user *User) error

	// GetByUsername はユーザー名の完全一致で検索します。存在しない場合は ErrNotFound を返します。
	GetByUsername(ctx context.Context, username string) (*User, error)
}
