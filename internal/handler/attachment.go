package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/U00A/Mental-univ-sub001/internal/middleware"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/service"
	"github.com/U00A/Mental-univ-sub001/pkg/response"
)

// AttachmentHandler 附件上传处理器
type AttachmentHandler struct {
	attachments *service.AttachmentService
}

// NewAttachmentHandler 创建附件处理器
func NewAttachmentHandler(attachments *service.AttachmentService) *AttachmentHandler {
	return &AttachmentHandler{attachments: attachments}
}

// Upload 上传附件，返回的元数据随后放进消息的 attachment 字段
// POST /api/v1/attachments  (multipart: file, kind, duration)
func (h *AttachmentHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.ErrorWithMsg(c, response.CodeValidation, "缺少文件")
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.Error(c, response.CodeUploadFailed)
		return
	}
	defer f.Close()

	kind := model.MessageKind(c.DefaultPostForm("kind", string(model.MessageKindFile)))

	contentType := fh.Header.Get("Content-Type")
	if contentType == "application/octet-stream" {
		contentType = ""
	}

	att, err := h.attachments.Upload(c.Request.Context(), middleware.GetUserID(c), service.Blob{
		Reader:      f,
		FileName:    fh.Filename,
		ContentType: contentType,
		Duration:    c.PostForm("duration"),
	}, kind)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, att)
}
