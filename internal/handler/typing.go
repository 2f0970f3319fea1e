package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/U00A/Mental-univ-sub001/internal/middleware"
	"github.com/U00A/Mental-univ-sub001/internal/service"
	"github.com/U00A/Mental-univ-sub001/pkg/response"
)

// TypingHandler 输入状态处理器
type TypingHandler struct {
	typing *service.TypingService
}

// NewTypingHandler 创建输入状态处理器
func NewTypingHandler(typing *service.TypingService) *TypingHandler {
	return &TypingHandler{typing: typing}
}

// Signal 正在输入
// POST /api/v1/conversations/:id/typing
func (h *TypingHandler) Signal(c *gin.Context) {
	if err := h.typing.Signal(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// Clear 停止输入
// DELETE /api/v1/conversations/:id/typing
func (h *TypingHandler) Clear(c *gin.Context) {
	if err := h.typing.Clear(c.Request.Context(), c.Param("id"), middleware.GetUserID(c)); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// Active 会话中除自己外正在输入的用户
// GET /api/v1/conversations/:id/typing
func (h *TypingHandler) Active(c *gin.Context) {
	users, err := h.typing.Active(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, gin.H{"users": nonNil(users)})
}
