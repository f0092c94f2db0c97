package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	clientIDKey     = "client_id"
	unknownClientID = "unknown"
)

// ClientIdentifier 限流使用的客户端标识：X-Forwarded-For 第一个地址，
// 其次 X-Real-IP，都没有则为 "unknown"。
func ClientIdentifier(c *gin.Context) string {
	if v, ok := c.Get(clientIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return identify(c.GetHeader("X-Forwarded-For"), c.GetHeader("X-Real-IP"))
}

func identify(forwardedFor, realIP string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP = strings.TrimSpace(realIP); realIP != "" {
		return realIP
	}
	return unknownClientID
}

// Identify resolves the client identifier once per request.
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(clientIDKey, identify(c.GetHeader("X-Forwarded-For"), c.GetHeader("X-Real-IP")))
		c.Next()
	}
}
