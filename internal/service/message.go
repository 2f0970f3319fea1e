package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/live"
	"github.com/U00A/Mental-univ-sub001/internal/metrics"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	"github.com/U00A/Mental-univ-sub001/internal/repository"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
	"github.com/U00A/Mental-univ-sub001/pkg/snowflake"
)

// SendRequest 发送消息请求
type SendRequest struct {
	ConversationID string
	Sender         model.Identity
	ReceiverID     string
	Kind           model.MessageKind
	Content        string
	Attachment     *model.Attachment
	ReplyToID      string
	ClientMsgID    string
}

// MessageService 会话消息日志：追加、编辑、软删除与实时订阅
type MessageService struct {
	repo     repository.MessageRepository
	delivery *DeliveryService
	bus      pubsub.Bus
	ids      *snowflake.Node
	feed     FeedConfig
	now      func() time.Time
	events   publisher
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*model.Message // 写入失败或尚未确认的本地回显
}

// NewMessageService 创建消息服务
func NewMessageService(repo repository.MessageRepository, delivery *DeliveryService, bus pubsub.Bus, ids *snowflake.Node, feed FeedConfig) *MessageService {
	logger := slog.Default()
	return &MessageService{
		repo:     repo,
		delivery: delivery,
		bus:      bus,
		ids:      ids,
		feed:     feed,
		now:      time.Now,
		events:   publisher{bus: bus, logger: logger},
		logger:   logger,
		pending:  make(map[string]*model.Message),
	}
}

// validateSend 校验各类型必填字段
func validateSend(req *SendRequest) error {
	if req.Sender.UserID == "" || req.ReceiverID == "" {
		return apperrors.ErrValidation.WithMessage("发送方与接收方不能为空")
	}
	convID, err := ConversationID(req.Sender.UserID, req.ReceiverID)
	if err != nil {
		return err
	}
	if req.ConversationID == "" {
		req.ConversationID = convID
	} else if req.ConversationID != convID {
		return apperrors.ErrValidation.WithMessage("会话 ID 与参与者不匹配")
	}
	if !req.Kind.Valid() {
		return apperrors.ErrValidation.WithMessage("不支持的消息类型")
	}

	hasAttachment := req.Attachment != nil && req.Attachment.URL != ""
	switch {
	case req.Kind.RequiresAttachment():
		if !hasAttachment {
			return apperrors.ErrValidation.WithMessage("附件消息缺少 attachment.url")
		}
	case req.Kind == model.MessageKindText:
		if strings.TrimSpace(req.Content) == "" && !hasAttachment {
			return apperrors.ErrValidation.WithMessage("消息内容不能为空")
		}
	case req.Kind == model.MessageKindLink:
		if strings.TrimSpace(req.Content) == "" {
			return apperrors.ErrValidation.WithMessage("链接不能为空")
		}
	}
	return nil
}

// Append 发送消息
// 先以 sending 状态回显给发送方，落库成功后变为 sent。写入失败时消息停留在 sending，
// 返回该消息与 SendFailed，由调用方决定 Retry 或 Discard
func (s *MessageService) Append(ctx context.Context, req SendRequest) (*model.Message, error) {
	if err := validateSend(&req); err != nil {
		return nil, err
	}

	var reply *model.ReplyRef
	if req.ReplyToID != "" {
		target, err := s.repo.FindByID(ctx, req.ReplyToID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.ErrNotFound.WithMessage("被回复的消息不存在")
			}
			return nil, apperrors.ErrDBError.Wrap(err)
		}
		if target.ConversationID != req.ConversationID {
			return nil, apperrors.ErrNotFound.WithMessage("被回复的消息不存在")
		}
		if target.IsDeleted() {
			return nil, apperrors.ErrValidation.WithMessage("不能回复已删除的消息")
		}
		reply = target.ReplyRef()
	}

	msg := &model.Message{
		ID:             s.ids.Generate().String(),
		ClientMsgID:    req.ClientMsgID,
		ConversationID: req.ConversationID,
		SenderID:       req.Sender.UserID,
		SenderName:     req.Sender.DisplayName,
		ReceiverID:     req.ReceiverID,
		Kind:           req.Kind,
		Content:        req.Content,
		ReplyTo:        reply,
		CreatedAt:      s.now(),
		Status:         model.StatusSending,
		Pending:        true,
	}
	if req.Attachment != nil {
		a := *req.Attachment
		msg.Attachment = &a
	}

	s.mu.Lock()
	s.pending[msg.ID] = msg.Clone()
	s.mu.Unlock()
	s.events.message(ctx, messagePending, msg)

	return s.write(ctx, msg)
}

// write 落库并发布变更
func (s *MessageService) write(ctx context.Context, msg *model.Message) (*model.Message, error) {
	stored, created, err := s.repo.Append(ctx, msg)
	if err != nil {
		failed := msg.Clone()
		failed.Status = model.StatusSending
		failed.Pending = true
		failed.SendError = err.Error()

		s.mu.Lock()
		s.pending[failed.ID] = failed.Clone()
		s.mu.Unlock()

		metrics.SendFailures.Inc()
		s.logger.Error("Failed to append message", "conversationId", msg.ConversationID, "messageId", msg.ID, "error", err)
		s.events.message(ctx, messagePending, failed)
		return failed, apperrors.ErrSendFailed.Wrap(err)
	}

	s.mu.Lock()
	delete(s.pending, msg.ID)
	s.mu.Unlock()

	if !created && stored.ID != msg.ID {
		// ClientMsgID 重放：撤销本次回显，返回已有消息
		s.events.message(ctx, messageDiscarded, msg)
		return stored, nil
	}

	metrics.MessagesAppended.WithLabelValues(string(stored.Kind)).Inc()
	s.events.message(ctx, messageUpserted, stored)
	s.events.conversationChanged(ctx, stored.ConversationID)
	return stored, nil
}

// Retry 重新写入一条发送失败的消息，沿用原 ID
func (s *MessageService) Retry(ctx context.Context, senderID, messageID string) (*model.Message, error) {
	msg, err := s.takePending(senderID, messageID)
	if err != nil {
		return nil, err
	}
	msg.SendError = ""
	s.mu.Lock()
	s.pending[msg.ID] = msg.Clone()
	s.mu.Unlock()
	s.events.message(ctx, messagePending, msg)

	return s.write(ctx, msg)
}

// Discard 放弃一条发送失败的消息
func (s *MessageService) Discard(ctx context.Context, senderID, messageID string) error {
	msg, err := s.takePending(senderID, messageID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.pending, messageID)
	s.mu.Unlock()
	s.events.message(ctx, messageDiscarded, msg)
	return nil
}

func (s *MessageService) takePending(senderID, messageID string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.pending[messageID]
	if !ok {
		return nil, apperrors.ErrNotFound.WithMessage("没有待发送的消息")
	}
	if msg.SenderID != senderID {
		return nil, apperrors.ErrForbidden
	}
	return msg.Clone(), nil
}

// Pending 发送方在该会话中尚未落库的消息
func (s *MessageService) Pending(conversationID, senderID string) []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Message
	for _, m := range s.pending {
		if m.ConversationID == conversationID && m.SenderID == senderID {
			out = append(out, m.Clone())
		}
	}
	repository.SortMessages(out)
	return out
}

// errUnchanged 更新函数判定无需写入
var errUnchanged = errors.New("message unchanged")

// Edit 编辑文本消息，仅发送者可操作
func (s *MessageService) Edit(ctx context.Context, userID, messageID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.ErrValidation.WithMessage("消息内容不能为空")
	}
	return s.mutate(ctx, messageID, func(m *model.Message) error {
		if m.SenderID != userID {
			return apperrors.ErrForbidden.WithMessage("只能编辑自己发送的消息")
		}
		if m.Kind != model.MessageKindText {
			return apperrors.ErrForbidden.WithMessage("只能编辑文本消息")
		}
		if m.IsDeleted() {
			return apperrors.ErrValidation.WithMessage("消息已删除")
		}
		if m.Content == content {
			return errUnchanged
		}
		now := s.now()
		m.Content = content
		m.EditedAt = &now
		return nil
	})
}

// SoftDelete 软删除消息，清空内容与附件，位置不变；重复删除无副作用
func (s *MessageService) SoftDelete(ctx context.Context, userID, messageID string) (*model.Message, error) {
	return s.mutate(ctx, messageID, func(m *model.Message) error {
		if m.SenderID != userID {
			return apperrors.ErrForbidden.WithMessage("只能删除自己发送的消息")
		}
		if m.IsDeleted() {
			return errUnchanged
		}
		now := s.now()
		m.Content = ""
		m.Attachment = nil
		m.DeletedAt = &now
		return nil
	})
}

func (s *MessageService) mutate(ctx context.Context, messageID string, fn func(*model.Message) error) (*model.Message, error) {
	updated, err := s.repo.Update(ctx, messageID, fn)
	switch {
	case err == nil:
	case errors.Is(err, errUnchanged):
		return s.repo.FindByID(ctx, messageID)
	case errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.ErrNotFound.WithMessage("消息不存在")
	default:
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		s.logger.Error("Failed to update message", "messageId", messageID, "error", err)
		return nil, apperrors.ErrWriteFailed.Wrap(err)
	}

	s.events.message(ctx, messageUpserted, updated)
	s.events.conversationChanged(ctx, updated.ConversationID)
	return updated, nil
}

// Get 获取单条消息，按查看者渲染
func (s *MessageService) Get(ctx context.Context, viewerID, messageID string) (*model.Message, error) {
	m, err := s.repo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("消息不存在")
		}
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if _, err := requireParticipant(m.ConversationID, viewerID); err != nil {
		return nil, err
	}
	return renderMessage(m, viewerID, nil), nil
}

// List 会话消息快照
func (s *MessageService) List(ctx context.Context, conversationID, viewerID string) ([]*model.Message, error) {
	if _, err := requireParticipant(conversationID, viewerID); err != nil {
		return nil, err
	}
	msgs, err := s.repo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	return render(msgs, s.Pending(conversationID, viewerID), viewerID), nil
}

// ListReplies 回复了指定消息的消息
func (s *MessageService) ListReplies(ctx context.Context, viewerID, messageID string) ([]*model.Message, error) {
	target, err := s.repo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("消息不存在")
		}
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if _, err := requireParticipant(target.ConversationID, viewerID); err != nil {
		return nil, err
	}
	replies, err := s.repo.ListReplies(ctx, messageID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	deleted := map[string]bool{target.ID: target.IsDeleted()}
	out := make([]*model.Message, 0, len(replies))
	for _, m := range replies {
		out = append(out, renderMessage(m, viewerID, deleted))
	}
	return out, nil
}

// Subscribe 实时订阅会话消息，每次变化都回调完整有序序列
// 查看者是接收方时，收到的 sent 消息会被自动确认为 delivered（可用 WithoutDeliveryAck 关闭）
func (s *MessageService) Subscribe(ctx context.Context, conversationID, viewerID string, cb func([]*model.Message), opts ...SubscribeOption) (*live.Subscription, error) {
	if _, err := requireParticipant(conversationID, viewerID); err != nil {
		return nil, err
	}
	o := s.feed.apply(opts)

	r := &messageFeed{
		repo:           s.repo,
		pending:        s.Pending,
		conversationID: conversationID,
		viewerID:       viewerID,
	}
	ackCtx := context.WithoutCancel(ctx)
	deliver := func(st *feedState) {
		cb(st.render())
		if o.deliveryAck && s.delivery != nil && st.undelivered() {
			if _, err := s.delivery.MarkDelivered(ackCtx, conversationID, viewerID); err != nil {
				s.logger.Warn("Failed to acknowledge delivery", "conversationId", conversationID, "userId", viewerID, "error", err)
			}
		}
	}
	return live.Subscribe[*feedState](ctx, s.bus, pubsub.ConversationMessagesSubject(conversationID), r, deliver, s.feed.live("messages", o))
}
