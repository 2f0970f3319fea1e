package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/U00A/Mental-univ-sub001/internal/live"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	"github.com/U00A/Mental-univ-sub001/internal/repository"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
)

// ConversationID 由两个用户 ID 计算会话 ID，与参数顺序无关，无需查询存储
func ConversationID(userA, userB string) (string, error) {
	if userA == "" || userB == "" {
		return "", apperrors.ErrValidation.WithMessage("用户 ID 不能为空")
	}
	if strings.Contains(userA, model.ConversationIDSeparator) || strings.Contains(userB, model.ConversationIDSeparator) {
		return "", apperrors.ErrValidation.WithMessage("用户 ID 不能包含分隔符 _")
	}
	if userA == userB {
		return "", apperrors.ErrValidation.WithMessage("不能与自己建立会话")
	}
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + model.ConversationIDSeparator + userB, nil
}

// ParticipantsOf 从会话 ID 解析出两位参与者
func ParticipantsOf(conversationID string) ([2]string, error) {
	a, b, ok := strings.Cut(conversationID, model.ConversationIDSeparator)
	if !ok || a == "" || b == "" || a >= b || strings.Contains(b, model.ConversationIDSeparator) {
		return [2]string{}, apperrors.ErrValidation.WithMessage("会话 ID 格式错误")
	}
	return [2]string{a, b}, nil
}

// requireParticipant 校验 userID 属于会话，返回对方 ID
func requireParticipant(conversationID, userID string) (string, error) {
	participants, err := ParticipantsOf(conversationID)
	if err != nil {
		return "", err
	}
	switch userID {
	case participants[0]:
		return participants[1], nil
	case participants[1]:
		return participants[0], nil
	}
	return "", apperrors.ErrForbidden.WithMessage("不是该会话的成员")
}

// PeerOf 校验 userID 属于会话并返回对方 ID
func PeerOf(conversationID, userID string) (string, error) {
	return requireParticipant(conversationID, userID)
}

// ConversationService 会话注册表
type ConversationService struct {
	repo   repository.ConversationRepository
	bus    pubsub.Bus
	feed   FeedConfig
	logger *slog.Logger
}

// NewConversationService 创建会话服务
func NewConversationService(repo repository.ConversationRepository, bus pubsub.Bus, feed FeedConfig) *ConversationService {
	return &ConversationService{
		repo:   repo,
		bus:    bus,
		feed:   feed,
		logger: slog.Default(),
	}
}

// GetOrCreateID 返回两人的规范会话 ID，会话本身在首条消息写入时才创建
func (s *ConversationService) GetOrCreateID(userA, userB string) (string, error) {
	return ConversationID(userA, userB)
}

// Get 获取会话详情，仅成员可见
func (s *ConversationService) Get(ctx context.Context, conversationID, userID string) (*model.ConversationSummary, error) {
	if _, err := requireParticipant(conversationID, userID); err != nil {
		return nil, err
	}
	conv, err := s.repo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("会话不存在")
		}
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	unread, err := s.repo.CountUnread(ctx, conversationID, userID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	return &model.ConversationSummary{Conversation: *conv, UnreadCount: unread}, nil
}

// ListForUser 用户的会话列表，最近更新在前，附带未读数
func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]*model.ConversationSummary, error) {
	if userID == "" {
		return nil, apperrors.ErrValidation.WithMessage("用户 ID 不能为空")
	}
	convs, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to list conversations", "userId", userID, "error", err)
		return nil, apperrors.ErrDBError.Wrap(err)
	}

	out := make([]*model.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		unread, err := s.repo.CountUnread(ctx, conv.ID, userID)
		if err != nil {
			return nil, apperrors.ErrDBError.Wrap(err)
		}
		out = append(out, &model.ConversationSummary{Conversation: *conv, UnreadCount: unread})
	}
	return out, nil
}

// TotalUnread 用户所有会话的未读总数
func (s *ConversationService) TotalUnread(ctx context.Context, userID string) (int, error) {
	list, err := s.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range list {
		total += c.UnreadCount
	}
	return total, nil
}

// SubscribeList 实时订阅用户的会话列表
func (s *ConversationService) SubscribeList(ctx context.Context, userID string, cb func([]*model.ConversationSummary), opts ...SubscribeOption) (*live.Subscription, error) {
	if userID == "" {
		return nil, apperrors.ErrValidation.WithMessage("用户 ID 不能为空")
	}
	o := s.feed.apply(opts)
	r := &conversationListReducer{svc: s, userID: userID}
	return live.Subscribe[[]*model.ConversationSummary](ctx, s.bus, pubsub.UserConversationsSubject(userID), r, cb, s.feed.live("conversations", o))
}

// conversationListReducer 每次变更都重新读取列表
type conversationListReducer struct {
	svc    *ConversationService
	userID string
}

func (r *conversationListReducer) Snapshot(ctx context.Context) ([]*model.ConversationSummary, error) {
	return r.svc.ListForUser(ctx, r.userID)
}

func (r *conversationListReducer) Apply(ctx context.Context, _ []*model.ConversationSummary, _ []byte) ([]*model.ConversationSummary, bool, error) {
	list, err := r.svc.ListForUser(ctx, r.userID)
	if err != nil {
		return nil, false, err
	}
	return list, true, nil
}
