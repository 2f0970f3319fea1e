package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/U00A/Mental-univ-sub001/internal/middleware"
	"github.com/U00A/Mental-univ-sub001/internal/service"
	"github.com/U00A/Mental-univ-sub001/pkg/response"
)

// ReactionHandler 消息回应处理器
type ReactionHandler struct {
	reactions *service.ReactionService
}

// NewReactionHandler 创建回应处理器
func NewReactionHandler(reactions *service.ReactionService) *ReactionHandler {
	return &ReactionHandler{reactions: reactions}
}

type toggleReactionRequest struct {
	Reaction string `json:"reaction" binding:"required"`
}

// Toggle 添加、替换或取消回应
// POST /api/v1/messages/:id/reactions
func (h *ReactionHandler) Toggle(c *gin.Context) {
	var req toggleReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeValidation, err.Error())
		return
	}

	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)
	messageID := c.Param("id")

	result, err := h.reactions.Toggle(ctx, messageID, userID, req.Reaction)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	summary, err := h.reactions.Summary(ctx, messageID, userID)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{
		"previous": result.Previous,
		"current":  result.Current,
		"summary":  summary,
	})
}

// Summary 回应计数与自己的回应
// GET /api/v1/messages/:id/reactions
func (h *ReactionHandler) Summary(c *gin.Context) {
	summary, err := h.reactions.Summary(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, summary)
}
