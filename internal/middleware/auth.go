package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// ContextUserIDKey 是认证后用户 ID 在 gin.Context 中的键
const ContextUserIDKey = "user_id"

var (
	// ErrMissingAuthHeader 请求既没有 Authorization 头也没有 token 参数
	ErrMissingAuthHeader = errors.New("missing Authorization header")
	errInvalidUserClaim  = errors.New("user_id claim missing or not a string")
)

// Auth 返回验证 HS256 JWT 的中间件。通过后 user_id 写入 ContextUserIDKey。
func Auth(jwtSecret string) gin.HandlerFunc {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty for Auth middleware")
	}
	key := []byte(jwtSecret)

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		if err != nil {
			logrus.WithError(err).WithField("path", c.FullPath()).Warn("Auth middleware: No usable token")
			if errors.Is(err, ErrMissingAuthHeader) {
				abort(c, http.StatusUnauthorized, "Authorization header is required")
			} else {
				abort(c, http.StatusUnauthorized, "Invalid token format")
			}
			return
		}

		userID, err := userIDFromToken(tokenStr, key)
		switch {
		case errors.Is(err, errInvalidUserClaim):
			// token 签名有效但内容不对，属于签发方的问题
			logrus.WithError(err).Error("Auth middleware: Token carries no usable user id")
			abort(c, http.StatusInternalServerError, "Token processing error: invalid user_id")
			return
		case err != nil:
			logCtx := logrus.WithError(err)
			var ve *jwt.ValidationError
			if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
				logCtx = logCtx.WithField("reason", "expired")
			}
			logCtx.Warn("Auth middleware: Invalid token")
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

// UserID 返回 Auth 中间件写入的用户 ID
func UserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextUserIDKey)
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// extractToken 优先读取 "Bearer <token>" 头。
// 浏览器的 WebSocket 握手无法设置请求头，因此没有头时接受 token 查询参数。
func extractToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("token"); token != "" {
			return token, nil
		}
		return "", ErrMissingAuthHeader
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.Contains(token, " ") {
		return "", jwt.ErrTokenMalformed
	}
	return token, nil
}

func userIDFromToken(tokenStr string, key []byte) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}
	userID, ok := claims["user_id"].(string)
	if !ok || strings.TrimSpace(userID) == "" {
		return "", errInvalidUserClaim
	}
	return userID, nil
}

func abort(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}
