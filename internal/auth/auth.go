package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminSubject = "admin"
	issuer       = "prize_wheel"
	bearerSchema = "Bearer "
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidPassword = errors.New("invalid password")
	ErrNotConfigured   = errors.New("admin login is not configured")
	ErrResetDisabled   = errors.New("data reset is not configured")
)

// Manager issues and verifies admin session tokens.
type Manager struct {
	secret       []byte
	passwordHash []byte
	resetHash    []byte
	ttl          time.Duration
	now          func() time.Time
}

func NewManager(secret string, passwordHash []byte, ttl time.Duration) *Manager {
	return &Manager{
		secret:       []byte(secret),
		passwordHash: passwordHash,
		ttl:          ttl,
		now:          time.Now,
	}
}

// WithResetPassword 设置清库二次确认密码（bcrypt 哈希）。为空则清库不可用。
func (m *Manager) WithResetPassword(hash []byte) *Manager {
	m.resetHash = hash
	return m
}

// CheckResetPassword verifies the separate password that confirms a data reset.
func (m *Manager) CheckResetPassword(password string) error {
	if len(m.resetHash) == 0 {
		return ErrResetDisabled
	}
	if err := bcrypt.CompareHashAndPassword(m.resetHash, []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

// Login 校验管理员密码并签发会话令牌。
func (m *Manager) Login(password string) (string, time.Time, error) {
	if len(m.passwordHash) == 0 || len(m.secret) == 0 {
		return "", time.Time{}, ErrNotConfigured
	}
	if err := bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, ErrInvalidPassword
	}
	return m.Issue()
}

// Issue signs a fresh admin token.
func (m *Manager) Issue() (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   adminSubject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, exp, nil
}

// Parse verifies signature, expiry and subject.
func (m *Manager) Parse(tokenString string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithSubject(adminSubject),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// AdminAuth 要求 Authorization: Bearer <token>。
func (m *Manager) AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerSchema) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "authorization required"})
			return
		}
		claims, err := m.Parse(strings.TrimSpace(header[len(bearerSchema):]))
		if err != nil {
			zap.S().Warnw("admin token rejected", "error", err, "ip", c.ClientIP())
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": msg})
			return
		}
		c.Set("admin", claims.Subject)
		c.Next()
	}
}
