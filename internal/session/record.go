// Package session はサーバー側セッションの保存と、gin-contrib/sessions 用の Store を提供します。
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound はセッションが存在しない、または期限切れの場合に返されます。
var ErrNotFound = errors.New("session not found")

// Record はバックエンドに保存されるセッションの状態です。
type Record struct {
	ID        string         `json:"id"`
	Values    map[string]any `json:"values"`
	UpdatedAt time.Time      `json:"updatedAt"`
	ExpiresAt time.Time      `json:"expiresAt"`
}

// Expired は now の時点で期限切れかどうかを返します。
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Backend はセッションレコードの保存先です。
type Backend interface {
	Load(ctx context.Context, id string) (*Record, error)
	Save(ctx context.Context, record *Record, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}
