package service

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/U00A/Mental-univ-sub001/internal/metrics"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	"github.com/U00A/Mental-univ-sub001/internal/repository"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
)

const lockStripes = 64

// DeliveryService 投递状态机，状态只前进，后退请求静默忽略
// 同一会话的状态写入与通知发布串行进行，订阅方按顺序看到每一次迁移
type DeliveryService struct {
	repo   repository.MessageRepository
	events publisher
	logger *slog.Logger
	locks  [lockStripes]sync.Mutex
}

func (s *DeliveryService) lock(conversationID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// NewDeliveryService 创建投递状态服务
func NewDeliveryService(repo repository.MessageRepository, bus pubsub.Bus) *DeliveryService {
	logger := slog.Default()
	return &DeliveryService{
		repo:   repo,
		events: publisher{bus: bus, logger: logger},
		logger: logger,
	}
}

// MarkDelivered 接收方确认收到会话中的全部消息
func (s *DeliveryService) MarkDelivered(ctx context.Context, conversationID, recipientID string) (int, error) {
	if _, err := requireParticipant(conversationID, recipientID); err != nil {
		return 0, err
	}
	return s.advance(ctx, conversationID, recipientID, model.StatusDelivered)
}

// MarkRead 打开会话时把发给 readerID 的未读消息批量标记为已读
// sent 的消息先经过 delivered，保证发送方能观察到每个状态
func (s *DeliveryService) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	if _, err := requireParticipant(conversationID, readerID); err != nil {
		return 0, err
	}
	if _, err := s.advance(ctx, conversationID, readerID, model.StatusDelivered); err != nil {
		return 0, err
	}
	return s.advance(ctx, conversationID, readerID, model.StatusRead)
}

func (s *DeliveryService) advance(ctx context.Context, conversationID, recipientID string, to model.DeliveryStatus) (int, error) {
	defer s.lock(conversationID)()

	changed, err := s.repo.AdvanceStatus(ctx, conversationID, recipientID, to)
	if err != nil {
		s.logger.Error("Failed to advance status", "conversationId", conversationID, "status", to, "error", err)
		return 0, apperrors.ErrWriteFailed.Wrap(err)
	}
	for _, m := range changed {
		s.events.message(ctx, messageUpserted, m)
	}
	if len(changed) > 0 {
		metrics.StatusTransitions.WithLabelValues(string(to)).Add(float64(len(changed)))
		s.events.conversationChanged(ctx, conversationID)
	}
	return len(changed), nil
}

// Acknowledge 接收方对单条消息的确认，乱序到达的旧确认不会让状态后退
// 每次只前进一级，跨级确认会依次写入中间状态；不高于当前状态的确认原样返回当前消息
func (s *DeliveryService) Acknowledge(ctx context.Context, recipientID, messageID string, to model.DeliveryStatus) (*model.Message, error) {
	if !to.Valid() || to == model.StatusSending {
		return nil, apperrors.ErrValidation.WithMessage("无效的确认状态")
	}

	current, err := s.repo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("消息不存在")
		}
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	defer s.lock(current.ConversationID)()

	var last *model.Message
	for {
		updated, err := s.repo.Update(ctx, messageID, func(m *model.Message) error {
			if m.ReceiverID != recipientID {
				return apperrors.ErrForbidden.WithMessage("只有接收方可以确认消息")
			}
			path := m.Status.Path(to)
			if len(path) == 0 {
				return errUnchanged
			}
			m.Status = path[0]
			return nil
		})
		switch {
		case err == nil:
		case errors.Is(err, errUnchanged):
			if last != nil {
				return last, nil
			}
			m, err := s.repo.FindByID(ctx, messageID)
			if err != nil {
				return nil, apperrors.ErrDBError.Wrap(err)
			}
			return m, nil
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperrors.ErrNotFound.WithMessage("消息不存在")
		default:
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				return nil, appErr
			}
			return nil, apperrors.ErrWriteFailed.Wrap(err)
		}

		metrics.StatusTransitions.WithLabelValues(string(updated.Status)).Inc()
		s.events.message(ctx, messageUpserted, updated)
		s.events.conversationChanged(ctx, updated.ConversationID)
		last = updated
	}
}
