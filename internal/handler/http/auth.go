package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"groupwatch/internal/domain"
	"groupwatch/internal/middleware"
)

// Authenticator 是身份协作方，由 *service.AuthService 实现。
type Authenticator interface {
	MemberResolver
	Register(ctx context.Context, username, password, displayName, email string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (string, error)
}

// AuthHandler 处理注册、登录和当前成员查询
type AuthHandler struct {
	auth Authenticator
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(auth Authenticator) *AuthHandler {
	if auth == nil {
		panic("Authenticator cannot be nil for AuthHandler")
	}
	return &AuthHandler{auth: auth}
}

// RegisterRequest 注册请求。display_name 为空时使用 username 作为显示名。
type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=50"`
	Password    string `json:"password" binding:"required,min=6"`
	DisplayName string `json:"display_name" binding:"omitempty,max=100"`
	Email       string `json:"email" binding:"omitempty,email"`
}

// RegisterResponse 注册成功的响应
type RegisterResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录成功的响应
type LoginResponse struct {
	Token string `json:"token"`
}

// Register POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Register: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req.Username, req.Password, req.DisplayName, req.Email)
	if err != nil {
		logrus.WithError(err).WithField("username", req.Username).Warn("Handler.Register: Registration rejected")
		HandleServiceError(c, err)
		return
	}

	logrus.WithField("user_id", user.ID).Info("Handler.Register: User registered")
	SuccessResponse(c, http.StatusCreated, RegisterResponse{UserID: user.ID, DisplayName: user.Name()})
}

// Login POST /api/auth/login，返回的 token 同时用于 REST 与 WebSocket 连接
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: username and password required")
		return
	}

	token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		logrus.WithError(err).WithField("username", req.Username).Warn("Handler.Login: Login rejected")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, LoginResponse{Token: token})
}

// Me GET /api/auth/me，返回当前用户在会话中的成员身份
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return
	}
	member, err := h.auth.Member(c.Request.Context(), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, member)
}
