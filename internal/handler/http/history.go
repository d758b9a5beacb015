package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"groupwatch/internal/archive"
	"groupwatch/internal/domain"
)

// ChatHistory 由 *archive.EventLog 实现
type ChatHistory interface {
	ChatHistory(ctx context.Context, groupID string, since int64) ([]domain.ChatMessage, error)
}

// HistoryHandler 提供归档中的聊天历史。实时会话不依赖它。
type HistoryHandler struct {
	history ChatHistory
}

func NewHistoryHandler(history ChatHistory) *HistoryHandler {
	if history == nil {
		panic("ChatHistory cannot be nil for HistoryHandler")
	}
	return &HistoryHandler{history: history}
}

// ListMessages GET /api/groups/:groupId/messages?since=<server_ts>
func (h *HistoryHandler) ListMessages(c *gin.Context) {
	groupID := c.Param("groupId")
	var since int64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			ErrorResponse(c, http.StatusBadRequest, "since must be a non-negative server timestamp")
			return
		}
		since = v
	}

	msgs, err := h.history.ChatHistory(c.Request.Context(), groupID, since)
	switch {
	case errors.Is(err, archive.ErrArchiveDisabled):
		ErrorResponse(c, http.StatusNotFound, "message history is not enabled")
		return
	case err != nil:
		logrus.WithError(err).WithField("group_id", groupID).Error("Handler.ListMessages: Failed to read archive")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"messages": msgs})
}
