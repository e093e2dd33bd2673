package session

import (
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ginsessions "github.com/gin-contrib/sessions"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/samber/oops"
)

const defaultMaxAge = 24 * 60 * 60

// Store は gin-contrib/sessions 用のサーバー側セッションストアです。
// クッキーには署名付きのセッションIDだけを入れ、値は Backend に保存します。
type Store struct {
	backend    Backend
	codecs     []securecookie.Codec
	options    *gsessions.Options
	trustProxy bool
	logger     *slog.Logger
}

var _ ginsessions.Store = (*Store)(nil)

// StoreOptions は Store の補助設定です。
type StoreOptions struct {
	// TrustProxy が true の場合、最初のプロキシが付けた X-Forwarded-Proto で HTTPS 判定します。
	TrustProxy bool
	Logger     *slog.Logger
}

// NewStore は Store を作成します。secret はセッションIDクッキーの署名に使います。
func NewStore(backend Backend, secret []byte, opts StoreOptions) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend: backend,
		codecs:  securecookie.CodecsFromPairs(secret),
		options: &gsessions.Options{
			Path:     "/",
			MaxAge:   defaultMaxAge,
			HttpOnly: true,
		},
		trustProxy: opts.TrustProxy,
		logger:     logger,
	}
	s.setCodecMaxAge(s.options.MaxAge)
	return s
}

// Options はクッキー属性の既定値を設定します。
func (s *Store) Options(options ginsessions.Options) {
	s.options = options.ToGorillaOptions()
	s.setCodecMaxAge(s.options.MaxAge)
}

// Get はリクエスト内でキャッシュされたセッションを返します。
func (s *Store) Get(r *http.Request, name string) (*gsessions.Session, error) {
	return gsessions.GetRegistry(r).Get(s, name)
}

// New はクッキーのセッションIDでバックエンドを引き、見つからなければ新しいセッションを返します。
// 改ざん・未知・期限切れのクッキーはいずれも新しい匿名セッションとして扱います。
func (s *Store) New(r *http.Request, name string) (*gsessions.Session, error) {
	session := gsessions.NewSession(s, name)
	opts := *s.options
	session.Options = &opts
	session.IsNew = true

	cookie, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}

	var id string
	if err := securecookie.DecodeMulti(name, cookie.Value, &id, s.codecs...); err != nil {
		s.logger.Debug("session cookie rejected", "error", err)
		return session, nil
	}

	record, err := s.backend.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return session, nil
		}
		// 一時的な障害ではクッキーを上書きしないよう印を付けておく
		s.logger.ErrorContext(r.Context(), "failed to load session", "error", err)
		session.Values[loadFailedKey{}] = true
		return session, nil
	}

	session.ID = record.ID
	for k, v := range record.Values {
		session.Values[k] = v
	}
	session.IsNew = false
	return session, nil
}

// Save はセッションを保存してクッキーを書き込みます。
// MaxAge が負の場合はバックエンドから削除し、クッキーを失効させます。
func (s *Store) Save(r *http.Request, w http.ResponseWriter, session *gsessions.Session) error {
	ctx := r.Context()

	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.backend.Delete(ctx, session.ID); err != nil {
				return oops.Code("SESSION_DESTROY_FAILED").Wrap(err)
			}
		}
		http.SetCookie(w, gsessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = newSessionID()
	}

	values, err := encodeValues(session.Values)
	if err != nil {
		return oops.Code("SESSION_ENCODE_FAILED").Wrap(err)
	}

	// MaxAge 0 はブラウザセッションのクッキー。サーバー側は既定の期限で保持する
	ttl := time.Duration(session.Options.MaxAge) * time.Second
	if ttl <= 0 {
		ttl = defaultMaxAge * time.Second
	}
	now := time.Now().UTC()
	record := &Record{
		ID:        session.ID,
		Values:    values,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.backend.Save(ctx, record, ttl); err != nil {
		return oops.Code("SESSION_SAVE_FAILED").Wrap(err)
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return oops.Code("SESSION_COOKIE_ENCODE_FAILED").Wrap(err)
	}

	// Secure クッキーは HTTPS 以外では送らない
	if session.Options.Secure && !IsSecureRequest(r, s.trustProxy) {
		s.logger.Debug("secure session cookie withheld on insecure request", "path", r.URL.Path)
		return nil
	}
	http.SetCookie(w, gsessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

type loadFailedKey struct{}

// LoadFailed はバックエンド障害でセッションを読み込めなかったかどうかを返します。
// true の場合、クッキーは既存のセッションを指したままなので新しいセッションで上書きしないでください。
func LoadFailed(session ginsessions.Session) bool {
	failed, _ := session.Get(loadFailedKey{}).(bool)
	return failed
}

// IsSecureRequest は TLS 接続、または信頼したプロキシ経由の HTTPS かどうかを返します。
func IsSecureRequest(r *http.Request, trustProxy bool) bool {
	if r.TLS != nil {
		return true
	}
	if !trustProxy {
		return false
	}
	// クライアントが左側に偽の値を足せるため、直近のプロキシが付けた右端の値だけを見る
	proto := r.Header.Get("X-Forwarded-Proto")
	if i := strings.LastIndex(proto, ","); i >= 0 {
		proto = proto[i+1:]
	}
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

func (s *Store) setCodecMaxAge(maxAge int) {
	if maxAge <= 0 {
		return
	}
	for _, codec := range s.codecs {
		if sc, ok := codec.(*securecookie.SecureCookie); ok {
			sc.MaxAge(maxAge)
		}
	}
}

func newSessionID() string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
}

func encodeValues(values map[interface{}]interface{}) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if _, ok := k.(loadFailedKey); ok {
			continue
		}
		key, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("session key must be a string, got %T", k)
		}
		out[key] = v
	}
	return out, nil
}
