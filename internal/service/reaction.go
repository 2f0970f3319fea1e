package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/live"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	"github.com/U00A/Mental-univ-sub001/internal/repository"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
)

// ReactionSummary 某条消息的回应计数以及查看者自己的回应
type ReactionSummary struct {
	MessageID string               `json:"messageId"`
	Counts    model.ReactionCounts `json:"counts"`
	Mine      model.ReactionType   `json:"mine,omitempty"`
}

// ReactionService 表情回应账本
type ReactionService struct {
	repo     repository.ReactionRepository
	messages repository.MessageRepository
	bus      pubsub.Bus
	feed     FeedConfig
	events   publisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewReactionService 创建回应服务
func NewReactionService(repo repository.ReactionRepository, messages repository.MessageRepository, bus pubsub.Bus, feed FeedConfig) *ReactionService {
	logger := slog.Default()
	return &ReactionService{
		repo:     repo,
		messages: messages,
		bus:      bus,
		feed:     feed,
		events:   publisher{bus: bus, logger: logger},
		logger:   logger,
		now:      time.Now,
	}
}

// target 校验消息存在、未删除且 userID 是会话成员
func (s *ReactionService) target(ctx context.Context, messageID, userID string) (*model.Message, error) {
	m, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("消息不存在")
		}
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if _, err := requireParticipant(m.ConversationID, userID); err != nil {
		return nil, err
	}
	return m, nil
}

// Toggle 切换回应：无则新增，同类移除，异类替换
func (s *ReactionService) Toggle(ctx context.Context, messageID, userID, reaction string) (model.ToggleResult, error) {
	t, ok := model.ParseReactionType(reaction)
	if !ok {
		return model.ToggleResult{}, apperrors.ErrValidation.WithMessage("不支持的回应类型")
	}
	m, err := s.target(ctx, messageID, userID)
	if err != nil {
		return model.ToggleResult{}, err
	}
	if m.IsDeleted() {
		return model.ToggleResult{}, apperrors.ErrValidation.WithMessage("消息已删除")
	}

	res, err := s.repo.Toggle(ctx, messageID, userID, t, s.now())
	if err != nil {
		s.logger.Error("Failed to toggle reaction", "messageId", messageID, "userId", userID, "error", err)
		return model.ToggleResult{}, apperrors.ErrWriteFailed.Wrap(err)
	}
	s.events.publish(ctx, pubsub.ReactionsSubject(messageID), signalEvent{ID: messageID})
	return res, nil
}

// GetCounts 各类型计数
func (s *ReactionService) GetCounts(ctx context.Context, messageID, viewerID string) (model.ReactionCounts, error) {
	if _, err := s.target(ctx, messageID, viewerID); err != nil {
		return nil, err
	}
	counts, err := s.repo.Counts(ctx, messageID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	return counts, nil
}

// GetMine 查看者自己的回应，没有时为 nil
func (s *ReactionService) GetMine(ctx context.Context, messageID, userID string) (*model.Reaction, error) {
	if _, err := s.target(ctx, messageID, userID); err != nil {
		return nil, err
	}
	mine, err := s.repo.Mine(ctx, messageID, userID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	return mine, nil
}

// Summary 计数与自己的回应
func (s *ReactionService) Summary(ctx context.Context, messageID, viewerID string) (*ReactionSummary, error) {
	counts, err := s.GetCounts(ctx, messageID, viewerID)
	if err != nil {
		return nil, err
	}
	mine, err := s.repo.Mine(ctx, messageID, viewerID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	summary := &ReactionSummary{MessageID: messageID, Counts: counts}
	if mine != nil {
		summary.Mine = mine.Type
	}
	return summary, nil
}

// Subscribe 实时订阅某条消息的回应
func (s *ReactionService) Subscribe(ctx context.Context, messageID, viewerID string, cb func(*ReactionSummary), opts ...SubscribeOption) (*live.Subscription, error) {
	if _, err := s.target(ctx, messageID, viewerID); err != nil {
		return nil, err
	}
	o := s.feed.apply(opts)
	r := &reactionReducer{svc: s, messageID: messageID, viewerID: viewerID}
	return live.Subscribe[*ReactionSummary](ctx, s.bus, pubsub.ReactionsSubject(messageID), r, cb, s.feed.live("reactions", o))
}

type reactionReducer struct {
	svc       *ReactionService
	messageID string
	viewerID  string
}

func (r *reactionReducer) Snapshot(ctx context.Context) (*ReactionSummary, error) {
	return r.svc.Summary(ctx, r.messageID, r.viewerID)
}

func (r *reactionReducer) Apply(ctx context.Context, cur *ReactionSummary, _ []byte) (*ReactionSummary, bool, error) {
	next, err := r.svc.Summary(ctx, r.messageID, r.viewerID)
	if err != nil {
		return cur, false, err
	}
	return next, !sameSummary(cur, next), nil
}

func sameSummary(a, b *ReactionSummary) bool {
	if a == nil || b == nil || a.Mine != b.Mine || len(a.Counts) != len(b.Counts) {
		return false
	}
	for k, v := range a.Counts {
		if b.Counts[k] != v {
			return false
		}
	}
	return true
}
