package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/codedeck-auth/internal/account"
	"github.com/yourusername/codedeck-auth/internal/metrics"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func bindCredentials(c *gin.Context) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username and password must be sent as JSON",
		})
		return req, false
	}
	return req, true
}

// SignUp は POST /sign-up のハンドラーです。登録のみでログインはしません。
func (m *Manager) SignUp(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		m.metrics.ObserveOperation(metrics.OperationSignUp, metrics.OutcomeRejected)
		return
	}

	ctx := c.Request.Context()
	_, err := m.accounts.Register(ctx, req.Username, req.Password)
	switch {
	case err == nil:
		m.metrics.ObserveOperation(metrics.OperationSignUp, metrics.OutcomeSuccess)
		m.logger.InfoContext(ctx, "user registered", "username", req.Username)
		c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully."})
	case errors.Is(err, account.ErrDuplicateAccount):
		m.metrics.ObserveOperation(metrics.OperationSignUp, metrics.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "DUPLICATE_ACCOUNT",
			"message": "Username already taken.",
		})
	case errors.Is(err, account.ErrInvalidInput):
		m.metrics.ObserveOperation(metrics.OperationSignUp, metrics.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "Username and password are required.",
		})
	default:
		// 原因はクライアントに返さずログにだけ残す
		m.metrics.ObserveOperation(metrics.OperationSignUp, metrics.OutcomeError)
		m.logger.ErrorContext(ctx, "registration failed", "username", req.Username, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "REGISTRATION_FAILED",
			"message": "Registration failed.",
		})
	}
}

// SignIn は POST /sign-in のハンドラーです。成功するとセッションに UserRef を保存します。
func (m *Manager) SignIn(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		m.metrics.ObserveOperation(metrics.OperationSignIn, metrics.OutcomeRejected)
		return
	}

	ctx := c.Request.Context()
	ref, err := m.accounts.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrAuthenticationFailed) {
			m.metrics.ObserveOperation(metrics.OperationSignIn, metrics.OutcomeRejected)
			m.logger.InfoContext(ctx, "authentication failed", "username", req.Username)
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "AUTHENTICATION_FAILED",
				"message": "Authentication failed",
			})
			return
		}
		m.metrics.ObserveOperation(metrics.OperationSignIn, metrics.OutcomeError)
		m.logger.ErrorContext(ctx, "authentication error", "username", req.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "Internal server error",
		})
		return
	}

	session := sessions.Default(c)
	setUserRef(session, ref, time.Now())
	if err := session.Save(); err != nil {
		m.metrics.ObserveOperation(metrics.OperationSignIn, metrics.OutcomeError)
		m.logger.ErrorContext(ctx, "failed to save session", "username", ref.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "Internal server error",
		})
		return
	}

	m.metrics.ObserveOperation(metrics.OperationSignIn, metrics.OutcomeSuccess)
	m.logger.InfoContext(ctx, "user signed in", "user_id", ref.ID, "username", ref.Username)
	c.JSON(http.StatusOK, gin.H{"message": "Logged in successfully"})
}

// Logout は POST /logout のハンドラーです。セッションを破棄します。
func (m *Manager) Logout(c *gin.Context) {
	if c.GetBool(contextSessionLoadFailedKey) {
		m.metrics.ObserveOperation(metrics.OperationLogout, metrics.OutcomeError)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "LOGOUT_FAILED",
			"message": "Could not log out, please try again",
		})
		return
	}
	if SessionIsNew(c) {
		m.metrics.ObserveOperation(metrics.OperationLogout, metrics.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "NO_ACTIVE_SESSION",
			"message": "You are not logged in",
		})
		return
	}

	session := sessions.Default(c)
	session.Clear()
	expired := m.cookie
	expired.MaxAge = -1
	session.Options(expired)
	if err := session.Save(); err != nil {
		m.metrics.ObserveOperation(metrics.OperationLogout, metrics.OutcomeError)
		m.logger.ErrorContext(c.Request.Context(), "failed to destroy session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "LOGOUT_FAILED",
			"message": "Could not log out, please try again",
		})
		return
	}

	m.metrics.ObserveOperation(metrics.OperationLogout, metrics.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

// IsAuthenticated は GET /is-authenticated のハンドラーです。RequireLogin の後に登録します。
func (m *Manager) IsAuthenticated(c *gin.Context) {
	m.metrics.ObserveOperation(metrics.OperationIsAuthenticated, metrics.OutcomeSuccess)
	c.JSON(http.StatusOK, gin.H{"message": "Authenticated"})
}
