// Package auth はユーザー登録・ログインとJWTによる認証を提供します。
package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/chatpdf/internal/store"
)

var (
	tokenLifetime    = 7 * 24 * time.Hour
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

// ContextUserIDKey は、ハンドラー間でログイン済みユーザーIDを共有するためのキーです。
const ContextUserIDKey = "auth.userID"

// ContextUserKey は、ログイン済みユーザーの全体を共有するためのキーです。
const ContextUserKey = "auth.user"

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// UserStore はユーザーの永続化を提供します。
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*store.User, error)
	UserByEmail(ctx context.Context, email string) (*store.User, error)
	UserByID(ctx context.Context, id string) (*store.User, error)
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	users     UserStore
	jwtSecret []byte
	lock      sync.Mutex
	attempts  map[string]*attemptState
	now       func() time.Time
}

// NewManager は認証マネージャーを作成します。
func NewManager(users UserStore, jwtSecret string) *Manager {
	return &Manager{
		users:     users,
		jwtSecret: []byte(jwtSecret),
		attempts:  make(map[string]*attemptState),
		now:       time.Now,
	}
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Signup は POST /api/auth/signup のハンドラーです。
func (m *Manager) Signup(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "email と password を JSON で送ってください。",
		})
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || len(req.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "emailは必須、passwordは8文字以上で指定してください。",
		})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "パスワードの処理に失敗しました。",
		})
		return
	}

	user, err := m.users.CreateUser(c.Request.Context(), req.Email, string(hashed))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "USER_EXISTS",
			"message": "このメールアドレスは既に登録されています。",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":    user.ID,
		"email": user.Email,
	})
}

// Login は POST /api/auth/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "email と password を JSON で送ってください。",
		})
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "一定時間後に再度お試しください。",
		})
		return
	}

	user, err := m.users.UserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.rejectCredentials(c, ip)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ログイン処理に失敗しました。",
		})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		m.rejectCredentials(c, ip)
		return
	}

	m.resetAttempts(ip)

	token, err := m.issueToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "トークンの生成に失敗しました。",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
		},
	})
}

// RequireAuth は Bearer トークンを検証し、ユーザーをコンテキストに載せる
// ミドルウェアを返します。
func (m *Manager) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "MISSING_TOKEN",
				"message": "Authorizationヘッダーに Bearer トークンを指定してください。",
			})
			return
		}

		userID, err := m.verifyToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "INVALID_TOKEN",
				"message": "トークンが無効か期限切れです。",
			})
			return
		}

		user, err := m.users.UserByID(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "USER_NOT_FOUND",
				"message": "ユーザーが存在しません。",
			})
			return
		}

		c.Set(ContextUserIDKey, user.ID)
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

func (m *Manager) issueToken(userID string) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.jwtSecret)
}

func (m *Manager) verifyToken(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("invalid claims")
	}
	return claims.Subject, nil
}

func (m *Manager) rejectCredentials(c *gin.Context, ip string) {
	remaining := m.recordFailure(ip)
	c.JSON(http.StatusUnauthorized, gin.H{
		"code":              "INVALID_CREDENTIALS",
		"message":           "メールアドレスまたはパスワードが正しくありません。",
		"remainingAttempts": remaining,
	})
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := m.now()
	if state.lockedUntil.After(now) {
		return state.lockedUntil.Sub(now)
	}
	if now.Sub(state.firstAttempt) > loginWindow {
		delete(m.attempts, ip)
	}
	return 0
}

func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}
	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		return 0
	}
	return maxLoginAttempts - state.count
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}
