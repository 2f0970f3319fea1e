package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/U00A/Mental-univ-sub001/internal/middleware"
	"github.com/U00A/Mental-univ-sub001/internal/service"
	"github.com/U00A/Mental-univ-sub001/pkg/response"
)

// ConversationHandler 会话处理器
type ConversationHandler struct {
	conversations *service.ConversationService
	delivery      *service.DeliveryService
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(conversations *service.ConversationService, delivery *service.DeliveryService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, delivery: delivery}
}

type openConversationRequest struct {
	PeerID string `json:"peerId" binding:"required"`
}

// Open 获取与对方的会话 ID
// POST /api/v1/conversations
func (h *ConversationHandler) Open(c *gin.Context) {
	var req openConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeValidation, err.Error())
		return
	}

	id, err := h.conversations.GetOrCreateID(middleware.GetUserID(c), req.PeerID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"conversationId": id})
}

// List 会话列表，按最近消息倒序，带未读数
// GET /api/v1/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	list, err := h.conversations.ListForUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"list": nonNil(list)})
}

// Unread 全部会话的未读总数
// GET /api/v1/conversations/unread
func (h *ConversationHandler) Unread(c *gin.Context) {
	total, err := h.conversations.TotalUnread(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"unread": total})
}

// Get 会话详情
// GET /api/v1/conversations/:id
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.conversations.Get(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, conv)
}

// MarkRead 把发给自己的消息全部标记为已读
// POST /api/v1/conversations/:id/read
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	n, err := h.delivery.MarkRead(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": n})
}

// MarkDelivered 确认已收到会话中的消息
// POST /api/v1/conversations/:id/delivered
func (h *ConversationHandler) MarkDelivered(c *gin.Context) {
	n, err := h.delivery.MarkDelivered(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": n})
}

// nonNil 空列表序列化为 []
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
