package websocket

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"groupwatch/internal/domain"
	"groupwatch/internal/hub"
	"groupwatch/internal/middleware"
	"groupwatch/internal/service"
	"groupwatch/internal/session"
)

// MemberResolver 把认证用户解析为小组成员身份
type MemberResolver interface {
	Member(ctx context.Context, userID string) (domain.Member, error)
}

// Joiner 打开小组会话，由 *session.Coordinator 实现
type Joiner interface {
	Join(ctx context.Context, groupID string, member domain.Member) (*session.Session, error)
}

// WebSocketHandler 负责处理 WebSocket 升级请求并把连接绑定到小组会话
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	members  MemberResolver
	joiner   Joiner
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空时接受任意来源。
func NewWebSocketHandler(h *hub.Hub, members MemberResolver, joiner Joiner, allowedOrigin string) *WebSocketHandler {
	if h == nil || members == nil || joiner == nil {
		panic("Hub, MemberResolver and Joiner cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		},
	}

	return &WebSocketHandler{
		upgrader: upgrader,
		hub:      h,
		members:  members,
		joiner:   joiner,
	}
}

// HandleConnection 处理 WebSocket 连接请求
// URL 预期格式: /ws/groups/{groupId}
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	// 1. 获取认证用户 ID (由 Auth 中间件设置)
	userID, ok := middleware.UserID(c)
	if !ok {
		logrus.Warn("WS Handler: User ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return // 此时还未升级到 WebSocket，可以返回 HTTP 错误
	}
	groupID := c.Param("groupId")
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "group_id": groupID})

	member, err := h.members.Member(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			logCtx.Warn("WS Handler: Authenticated user no longer exists")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		} else {
			logCtx.WithError(err).Error("WS Handler: Failed to resolve member")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	// 2. 打开会话 (升级之前，这样找不到小组时还能返回 404)
	sess, err := h.joiner.Join(c.Request.Context(), groupID, member)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrGroupNotFound):
			logCtx.Warn("WS Handler: Group not found")
			c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
		case errors.Is(err, session.ErrTransientIO):
			logCtx.WithError(err).Warn("WS Handler: Membership lookup failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Temporarily unavailable"})
		default:
			logCtx.WithError(err).Error("WS Handler: Failed to join group session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join group"})
		}
		return
	}

	// 3. 升级 HTTP 连接到 WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写入了 HTTP 错误响应
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		sess.Leave(context.Background())
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	// 4. 创建 Client 并启动读写 goroutine
	hub.NewClient(h.hub, conn, sess).Run()
}
