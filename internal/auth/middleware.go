package auth

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/codedeck-auth/internal/account"
	"github.com/yourusername/codedeck-auth/internal/metrics"
	sessionstore "github.com/yourusername/codedeck-auth/internal/session"
)

// LoadSession はリクエストごとのセッションを取得し、なければ作成するミドルウェアです。
// sessions.Sessions の後に登録してください。新規セッションかどうかは SessionIsNew で参照できます。
func (m *Manager) LoadSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if sessionstore.LoadFailed(session) {
			// 既存のクッキーは残し、匿名として処理を続ける
			c.Set(contextSessionLoadFailedKey, true)
			c.Next()
			return
		}
		if readUnix(session.Get(sessionKeyCreatedAt)).IsZero() {
			c.Set(contextSessionNewKey, true)
			if m.saveUninitialized {
				session.Set(sessionKeyCreatedAt, time.Now().Unix())
				if err := session.Save(); err != nil {
					m.logger.WarnContext(c.Request.Context(), "failed to save new session", "error", err)
				}
			}
		}
		c.Next()
	}
}

// SessionIsNew はこのリクエストでセッションが新規作成されたかどうかを返します。
func SessionIsNew(c *gin.Context) bool {
	return c.GetBool(contextSessionNewKey)
}

// RequireLogin はセッションにユーザー情報があるか検証する認証ゲートです。
// 未認証の場合は 401 を返し、後続のハンドラーは実行しません。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, ok := userRefFromSession(sessions.Default(c))
		if !ok {
			m.metrics.ObserveOperation(metrics.OperationAuthGate, metrics.OutcomeRejected)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "You are not authenticated",
			})
			return
		}

		c.Set(ContextUserKey, ref)
		c.Next()
	}
}

// CurrentUser は RequireLogin を通過したリクエストの UserRef を返します。
func CurrentUser(c *gin.Context) (account.UserRef, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return account.UserRef{}, false
	}
	ref, ok := v.(account.UserRef)
	return ref, ok
}
