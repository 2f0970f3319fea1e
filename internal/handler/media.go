package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/U00A/Mental-univ-sub001/internal/blob"
)

// ObjectReader 可按 key 读取对象的存储
type ObjectReader interface {
	Get(key string) (*blob.Object, error)
}

// MediaHandler 内嵌存储中的附件下载
type MediaHandler struct {
	objects ObjectReader
}

// NewMediaHandler 创建附件下载处理器
func NewMediaHandler(objects ObjectReader) *MediaHandler {
	return &MediaHandler{objects: objects}
}

// Serve 输出附件内容
// GET /media/*key
func (h *MediaHandler) Serve(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.Status(http.StatusNotFound)
		return
	}

	obj, err := h.objects.Get(key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		c.Status(http.StatusInternalServerError)
		return
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, max-age=31536000, immutable")
	c.Data(http.StatusOK, contentType, obj.Data)
}
