package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/codedeck-auth/internal/account"
	"github.com/yourusername/codedeck-auth/internal/logging"
	"github.com/yourusername/codedeck-auth/internal/session"
)

const testCookieName = "test_session"

type failingAccounts struct {
	err error
}

func (f failingAccounts) Register(context.Context, string, string) (*account.User, error) {
	return nil, f.err
}

func (f failingAccounts) Authenticate(context.Context, string, string) (account.UserRef, error) {
	return account.UserRef{}, f.err
}

type testEnv struct {
	router  *gin.Engine
	backend *session.MemoryBackend
}

func newTestEnv(t *testing.T, accounts Accounts, sessionBackend session.Backend) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	memory := session.NewMemoryBackend(0)
	t.Cleanup(func() { _ = memory.Close() })
	if sessionBackend == nil {
		sessionBackend = memory
	}

	cookieOpts := sessions.Options{Path: "/", MaxAge: 3600, HttpOnly: true}
	store := session.NewStore(sessionBackend, []byte("test-secret-test-secret-test-sec"), session.StoreOptions{
		Logger: logging.Discard(),
	})
	store.Options(cookieOpts)

	m := NewManager(accounts, Options{
		SaveUninitialized: true,
		Cookie:            cookieOpts,
		Logger:            logging.Discard(),
	})

	router := gin.New()
	router.Use(sessions.Sessions(testCookieName, store), m.LoadSession())
	router.POST("/sign-up", m.SignUp)
	router.POST("/sign-in", m.SignIn)
	router.POST("/logout", m.Logout)
	router.GET("/is-authenticated", m.RequireLogin(), m.IsAuthenticated)
	router.GET("/me", m.RequireLogin(), func(c *gin.Context) {
		ref, ok := CurrentUser(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, ref)
	})

	return &testEnv{router: router, backend: memory}
}

func newServiceAccounts() *account.Service {
	return account.NewService(account.NewMemoryRepository(), account.NewBcryptHasher(bcrypt.MinCost))
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == testCookieName {
			found = c
		}
	}
	return found
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func credentials(username, password string) map[string]string {
	return map[string]string{"username": username, "password": password}
}

func TestSignUpSignInFlow(t *testing.T) {
	env := newTestEnv(t, newServiceAccounts(), nil)

	rec := env.do(t, http.MethodPost, "/sign-up", credentials("alice", "s3cret"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "User registered successfully.", decodeBody(t, rec)["message"])

	// 登録だけではログインしない
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	rec = env.do(t, http.MethodGet, "/is-authenticated", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/sign-in", credentials("alice", "s3cret"), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged in successfully", decodeBody(t, rec)["message"])
	if c := sessionCookie(rec); c != nil {
		cookie = c
	}

	rec = env.do(t, http.MethodGet, "/is-authenticated", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Authenticated", decodeBody(t, rec)["message"])

	rec = env.do(t, http.MethodGet, "/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["username"])
	assert.NotEmpty(t, body["id"])
	assert.NotContains(t, body, "password_hash")
}

func TestSignUpDuplicate(t *testing.T) {
	env := newTestEnv(t, newServiceAccounts(), nil)

	rec := env.do(t, http.MethodPost, "/sign-up", credentials("alice", "one"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/sign-up", credentials("alice", "two"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Username already taken.", body["message"])
	assert.Equal(t, "DUPLICATE_ACCOUNT", body["code"])
}

func TestSignUpRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t, newServiceAccounts(), nil)

	rec := env.do(t, http.MethodPost, "/sign-up", credentials("alice", ""), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody(t, rec)["code"])

	req := httptest.NewRequest(http.MethodPost, "/sign-up", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	env.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestSignUpStoreFailureIsNotEchoed(t *testing.T) {
	env := newTestEnv(t, failingAccounts{err: errors.New("connection refused to 10.0.0.5")}, nil)

	rec := env.do(t, http.MethodPost, "/sign-up", credentials("alice", "pw"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REGISTRATION_FAILED", decodeBody(t, rec)["code"])
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestSignInFailuresAreUniform(t *testing.T) {
	env := newTestEnv(t, newServiceAccounts(), nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sign-up", credentials("alice", "right"), nil).Code)

	wrongPassword := env.do(t, http.MethodPost, "/sign-in", credentials("alice", "wrong"), nil)
	unknownUser := env.do(t, http.MethodPost, "/sign-in", credentials("nobody", "right"), nil)

	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownUser.Body.String())
	assert.Equal(t, "Authentication failed", decodeBody(t, wrongPassword)["message"])

	rec := env.do(t, http.MethodGet, "/is-authenticated", nil, sessionCookie(wrongPassword))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignInStoreFailure(t *testing.T) {
	env := newTestEnv(t, failingAccounts{err: errors.New("db down")}, nil)

	rec := env.do(t, http.MethodPost, "/sign-in", credentials("alice", "pw"), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody(t, rec)["code"])
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, newServiceAccounts(), nil)
	rec := env.do(t, http.MethodPost, "/sign-up", credentials("alice", "pw"), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)

	// 同じセッションでログインするのでレコードは1件のまま
	rec = env.do(t, http.MethodPost, "/sign-in", credentials("alice", "pw"), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	if c := sessionCookie(rec); c != nil {
		cookie = c
	}
	require.Equal(t, 1, env.backend.Len())

	rec = env.do(t, http.MethodPost, "/logout", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logout successful", decodeBody(t, rec)["message"])
	expired := sessionCookie(rec)
	require.NotNil(t, expired)
	assert.Less(t, expired.MaxAge, 0)
	assert.Equal(t, 0, env.backend.Len())

	// 破棄済みのクッキーを再送しても認証されない
	rec = env.do(t, http.MethodGet, "/is-authenticated", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutWithoutSession(t *testing.T) {
	env := newTestEnv(t, newServiceAccounts(), nil)

	rec := env.do(t, http.MethodPost, "/logout", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "NO_ACTIVE_SESSION", body["code"])
	assert.Equal(t, "You are not logged in", body["message"])
}

func TestLogoutAnonymousSession(t *testing.T) {
	env := newTestEnv(t, newServiceAccounts(), nil)

	// 未ログインでも既存セッションがあれば破棄できる
	first := env.do(t, http.MethodGet, "/is-authenticated", nil, nil)
	cookie := sessionCookie(first)
	require.NotNil(t, cookie)

	rec := env.do(t, http.MethodPost, "/logout", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type deleteFailingBackend struct {
	session.Backend
}

func (deleteFailingBackend) Delete(context.Context, string) error {
	return errors.New("backend unavailable")
}

func TestLogoutDestroyFailure(t *testing.T) {
	memory := session.NewMemoryBackend(0)
	t.Cleanup(func() { _ = memory.Close() })
	env := newTestEnv(t, newServiceAccounts(), deleteFailingBackend{Backend: memory})
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sign-up", credentials("alice", "pw"), nil).Code)

	rec := env.do(t, http.MethodPost, "/sign-in", credentials("alice", "pw"), nil)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)

	rec = env.do(t, http.MethodPost, "/logout", nil, cookie)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "LOGOUT_FAILED", decodeBody(t, rec)["code"])

	rec = env.do(t, http.MethodGet, "/is-authenticated", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

type loadFailingBackend struct {
	session.Backend
	failing *bool
}

func (b loadFailingBackend) Load(ctx context.Context, id string) (*session.Record, error) {
	if *b.failing {
		return nil, errors.New("backend timeout")
	}
	return b.Backend.Load(ctx, id)
}

func TestSessionLoadFailureKeepsLogin(t *testing.T) {
	memory := session.NewMemoryBackend(0)
	t.Cleanup(func() { _ = memory.Close() })
	failing := false
	env := newTestEnv(t, newServiceAccounts(), loadFailingBackend{Backend: memory, failing: &failing})
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/sign-up", credentials("alice", "pw"), nil).Code)

	rec := env.do(t, http.MethodPost, "/sign-in", credentials("alice", "pw"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	stored := memory.Len()

	failing = true
	rec = env.do(t, http.MethodGet, "/is-authenticated", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, sessionCookie(rec), "cookie must not be replaced while the backend is failing")
	assert.Equal(t, stored, memory.Len())

	rec = env.do(t, http.MethodPost, "/logout", nil, cookie)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "LOGOUT_FAILED", decodeBody(t, rec)["code"])
	assert.Nil(t, sessionCookie(rec))

	failing = false
	rec = env.do(t, http.MethodGet, "/is-authenticated", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireLoginRejectsUnauthenticated(t *testing.T) {
	env := newTestEnv(t, newServiceAccounts(), nil)

	rec := env.do(t, http.MethodGet, "/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "UNAUTHENTICATED", body["code"])
	assert.Equal(t, "You are not authenticated", body["message"])
}

func TestReadUnix(t *testing.T) {
	assert.Equal(t, int64(42), readUnix(int64(42)).Unix())
	assert.Equal(t, int64(42), readUnix(42).Unix())
	assert.Equal(t, int64(42), readUnix(float64(42)).Unix())
	assert.True(t, readUnix("42").IsZero())
	assert.True(t, readUnix(nil).IsZero())
}
