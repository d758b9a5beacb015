package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"groupwatch/internal/domain"
	"groupwatch/internal/middleware"
	"groupwatch/internal/service"
)

// MemberResolver 把认证用户解析为小组成员身份，由 *service.AuthService 实现。
type MemberResolver interface {
	Member(ctx context.Context, userID string) (domain.Member, error)
}

// GroupHandler 封装了与小组管理相关的 HTTP 处理逻辑
type GroupHandler struct {
	groupService *service.GroupService
	members      MemberResolver
}

// NewGroupHandler 创建 GroupHandler 实例
func NewGroupHandler(groupService *service.GroupService, members MemberResolver) *GroupHandler {
	if groupService == nil || members == nil {
		panic("GroupService and MemberResolver cannot be nil for GroupHandler")
	}
	return &GroupHandler{groupService: groupService, members: members}
}

// CreateGroupRequest 定义创建小组请求的结构体
type CreateGroupRequest struct {
	Name        string            `json:"name" binding:"required,max=191"`
	Description string            `json:"description"`
	Visibility  domain.Visibility `json:"visibility" binding:"omitempty,oneof=public private"`
}

// JoinGroupRequest 定义按加入码加入小组请求的结构体。
// 格式校验交给 Service 层，以便统一返回 InvalidJoinCode。
type JoinGroupRequest struct {
	JoinCode string `json:"join_code" binding:"required"`
}

// CreateGroup 处理创建新小组的请求
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	member, ok := h.currentMember(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", member.ID)

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateGroup: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input", "details": err.Error()})
		return
	}

	group, err := h.groupService.CreateGroup(c.Request.Context(), member, req.Name, req.Description, req.Visibility)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logCtx.WithFields(logrus.Fields{"group_id": group.ID, "join_code": group.JoinCode}).Info("Handler.CreateGroup: Group created successfully")
	SuccessResponse(c, http.StatusCreated, group)
}

// JoinGroup 处理用户通过加入码加入小组的请求
func (h *GroupHandler) JoinGroup(c *gin.Context) {
	member, ok := h.currentMember(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", member.ID)

	var req JoinGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.JoinGroup: Invalid input format")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input: join_code is required"})
		return
	}

	group, err := h.groupService.JoinByCode(c.Request.Context(), member, req.JoinCode)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.JoinGroup: Failed to join group via service")
		HandleServiceError(c, err)
		return
	}

	logCtx.WithField("group_id", group.ID).Info("Handler.JoinGroup: User joined group successfully")
	SuccessResponse(c, http.StatusOK, group)
}

// GetGroup 返回小组详情
func (h *GroupHandler) GetGroup(c *gin.Context) {
	group, err := h.groupService.FindGroupByID(c.Request.Context(), c.Param("groupId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, group)
}

// ListMembers 返回小组成员名册
func (h *GroupHandler) ListMembers(c *gin.Context) {
	members, err := h.groupService.ListMembers(c.Request.Context(), c.Param("groupId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"members": members})
}

// currentMember 读取 Auth 中间件设置的用户并解析为成员身份。失败时已写入响应。
func (h *GroupHandler) currentMember(c *gin.Context) (domain.Member, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		logrus.Warn("Handler: User ID not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return domain.Member{}, false
	}
	member, err := h.members.Member(c.Request.Context(), userID)
	if err != nil {
		HandleServiceError(c, err)
		return domain.Member{}, false
	}
	return member, true
}
