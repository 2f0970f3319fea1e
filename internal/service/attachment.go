package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/blob"
	"github.com/U00A/Mental-univ-sub001/internal/metrics"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
)

// Blob 待上传的附件内容
type Blob struct {
	Reader      io.Reader
	FileName    string
	ContentType string
	Duration    string // 语音时长，录音时测得，原样保存
}

// AttachmentService 附件上传管道
type AttachmentService struct {
	store    blob.Store
	maxBytes int64
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	last int64
}

// NewAttachmentService 创建附件服务
func NewAttachmentService(store blob.Store, maxBytes int64) *AttachmentService {
	return &AttachmentService{
		store:    store,
		maxBytes: maxBytes,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// stamp 纳秒时间戳，进程内严格递增
func (s *AttachmentService) stamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UnixNano()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return ts
}

// objectKey chat/<kind>/<userID>/<ts>-<name>
func (s *AttachmentService) objectKey(kind model.MessageKind, userID, fileName string) string {
	return "chat/" + string(kind) + "/" + userID + "/" + strconv.FormatInt(s.stamp(), 10) + "-" + sanitizeFileName(fileName)
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "blob"
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
}

// Upload 上传附件，返回可直接放进消息的附件元数据；失败时返回 UploadFailed，不重试
func (s *AttachmentService) Upload(ctx context.Context, userID string, b Blob, kind model.MessageKind) (*model.Attachment, error) {
	if userID == "" {
		return nil, apperrors.ErrValidation.WithMessage("用户 ID 不能为空")
	}
	if !kind.RequiresAttachment() {
		return nil, apperrors.ErrValidation.WithMessage("该类型消息不支持附件")
	}
	if b.Reader == nil {
		return nil, apperrors.ErrValidation.WithMessage("附件内容为空")
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(b.Reader, s.maxBytes+1))
	if err != nil {
		metrics.Uploads.WithLabelValues(string(kind), "read_error").Inc()
		return nil, apperrors.ErrUploadFailed.Wrap(err)
	}
	if n == 0 {
		return nil, apperrors.ErrValidation.WithMessage("附件内容为空")
	}
	if n > s.maxBytes {
		metrics.Uploads.WithLabelValues(string(kind), "too_large").Inc()
		return nil, apperrors.ErrValidation.WithMessage("附件超过大小限制")
	}

	contentType := b.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(buf.Bytes())
	}
	if kind == model.MessageKindImage && !strings.HasPrefix(contentType, "image/") {
		return nil, apperrors.ErrValidation.WithMessage("图片消息只能上传图片")
	}

	key := s.objectKey(kind, userID, b.FileName)
	url, err := s.store.Put(ctx, key, bytes.NewReader(buf.Bytes()), n, contentType)
	if err != nil {
		metrics.Uploads.WithLabelValues(string(kind), "failed").Inc()
		s.logger.Error("Failed to upload attachment", "userId", userID, "key", key, "error", err)
		return nil, apperrors.ErrUploadFailed.Wrap(err)
	}

	metrics.Uploads.WithLabelValues(string(kind), "ok").Inc()
	metrics.UploadBytes.Add(float64(n))

	att := &model.Attachment{
		URL:         url,
		FileName:    sanitizeFileName(b.FileName),
		FileSize:    n,
		ContentType: contentType,
	}
	if kind == model.MessageKindAudio {
		att.Duration = b.Duration
	}
	return att, nil
}
