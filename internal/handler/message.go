package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/U00A/Mental-univ-sub001/internal/middleware"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/service"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
	"github.com/U00A/Mental-univ-sub001/pkg/response"
)

// MessageHandler 消息处理器
type MessageHandler struct {
	messages *service.MessageService
	delivery *service.DeliveryService
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(messages *service.MessageService, delivery *service.DeliveryService) *MessageHandler {
	return &MessageHandler{messages: messages, delivery: delivery}
}

type sendMessageRequest struct {
	Kind        model.MessageKind `json:"kind"`
	Content     string            `json:"content"`
	Attachment  *model.Attachment `json:"attachment"`
	ReplyToID   string            `json:"replyToId"`
	ClientMsgID string            `json:"clientMsgId"`
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type ackRequest struct {
	Status model.DeliveryStatus `json:"status" binding:"required"`
}

// List 会话消息，包含自己尚未落库的消息
// GET /api/v1/conversations/:id/messages
func (h *MessageHandler) List(c *gin.Context) {
	msgs, err := h.messages.List(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"list": nonNil(msgs)})
}

// Send 发送消息；写入失败时 data 中带回停留在 sending 的消息，供客户端重试或放弃
// POST /api/v1/conversations/:id/messages
func (h *MessageHandler) Send(c *gin.Context) {
	me := middleware.GetIdentity(c)
	conversationID := c.Param("id")

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeValidation, err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = model.MessageKindText
	}

	peerID, err := service.PeerOf(conversationID, me.UserID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	msg, err := h.messages.Append(c.Request.Context(), service.SendRequest{
		ConversationID: conversationID,
		Sender:         me,
		ReceiverID:     peerID,
		Kind:           req.Kind,
		Content:        req.Content,
		Attachment:     req.Attachment,
		ReplyToID:      req.ReplyToID,
		ClientMsgID:    req.ClientMsgID,
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSendFailed) && msg != nil {
			response.ErrorWithData(c, err, msg)
			return
		}
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, msg)
}

// Get 单条消息
// GET /api/v1/messages/:id
func (h *MessageHandler) Get(c *gin.Context) {
	msg, err := h.messages.Get(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, msg)
}

// Replies 回复了该消息的消息
// GET /api/v1/messages/:id/replies
func (h *MessageHandler) Replies(c *gin.Context) {
	msgs, err := h.messages.ListReplies(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"list": nonNil(msgs)})
}

// Edit 编辑文本消息
// PUT /api/v1/messages/:id
func (h *MessageHandler) Edit(c *gin.Context) {
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeValidation, err.Error())
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.Content)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, msg)
}

// Delete 软删除消息
// DELETE /api/v1/messages/:id
func (h *MessageHandler) Delete(c *gin.Context) {
	msg, err := h.messages.SoftDelete(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, msg)
}

// Retry 重发失败的消息
// POST /api/v1/messages/:id/retry
func (h *MessageHandler) Retry(c *gin.Context) {
	msg, err := h.messages.Retry(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		if apperrors.Is(err, apperrors.ErrSendFailed) && msg != nil {
			response.ErrorWithData(c, err, msg)
			return
		}
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, msg)
}

// Discard 放弃失败的消息
// DELETE /api/v1/messages/:id/pending
func (h *MessageHandler) Discard(c *gin.Context) {
	if err := h.messages.Discard(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// Acknowledge 接收方确认单条消息
// POST /api/v1/messages/:id/ack
func (h *MessageHandler) Acknowledge(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeValidation, err.Error())
		return
	}

	msg, err := h.delivery.Acknowledge(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.Status)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, msg)
}
