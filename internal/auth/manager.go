// Package auth はアカウント操作の HTTP ハンドラーとセッションによる認証ゲートを提供します。
package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-contrib/sessions"

	"github.com/yourusername/codedeck-auth/internal/account"
	"github.com/yourusername/codedeck-auth/internal/metrics"
)

const (
	sessionKeyCreatedAt       = "created_at"
	sessionKeyUserID          = "user_id"
	sessionKeyUsername        = "username"
	sessionKeyAuthenticatedAt = "authenticated_at"

	contextSessionNewKey        = "auth.session_new"
	contextSessionLoadFailedKey = "auth.session_load_failed"
)

// ContextUserKey は、認証ゲートを通過したリクエストの UserRef を共有するためのキーです。
const ContextUserKey = "auth.user"

// Accounts は Manager が利用するアカウント操作です。
type Accounts interface {
	Register(ctx context.Context, username, password string) (*account.User, error)
	Authenticate(ctx context.Context, username, password string) (account.UserRef, error)
}

// Options は Manager の設定です。
type Options struct {
	// SaveUninitialized が true の場合、未ログインでも最初のリクエストでセッションを保存します。
	SaveUninitialized bool
	// Cookie はセッション破棄時に失効クッキーを書くための属性です。
	Cookie  sessions.Options
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// Manager は認証処理をまとめた構造体です。状態はすべてセッションに置きます。
type Manager struct {
	accounts          Accounts
	saveUninitialized bool
	cookie            sessions.Options
	metrics           metrics.Recorder
	logger            *slog.Logger
}

// NewManager は認証マネージャーを作成します。
func NewManager(accounts Accounts, opts Options) *Manager {
	m := &Manager{
		accounts:          accounts,
		saveUninitialized: opts.SaveUninitialized,
		cookie:            opts.Cookie,
		metrics:           opts.Metrics,
		logger:            opts.Logger,
	}
	if m.metrics == nil {
		m.metrics = metrics.Noop{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.cookie.Path == "" {
		m.cookie.Path = "/"
	}
	return m
}

// userRefFromSession はセッションに保存された UserRef を取り出します。
func userRefFromSession(session sessions.Session) (account.UserRef, bool) {
	id, _ := session.Get(sessionKeyUserID).(string)
	username, _ := session.Get(sessionKeyUsername).(string)
	if id == "" || username == "" {
		return account.UserRef{}, false
	}
	return account.UserRef{ID: id, Username: username}, true
}

func setUserRef(session sessions.Session, ref account.UserRef, now time.Time) {
	if readUnix(session.Get(sessionKeyCreatedAt)).IsZero() {
		session.Set(sessionKeyCreatedAt, now.Unix())
	}
	session.Set(sessionKeyUserID, ref.ID)
	session.Set(sessionKeyUsername, ref.Username)
	session.Set(sessionKeyAuthenticatedAt, now.Unix())
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
