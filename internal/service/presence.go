package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/live"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	"github.com/U00A/Mental-univ-sub001/internal/repository"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
)

// PresenceService 在线状态，由会话连接/断开驱动
type PresenceService struct {
	repo   repository.PresenceRepository
	bus    pubsub.Bus
	feed   FeedConfig
	now    func() time.Time
	events publisher
	logger *slog.Logger
}

// NewPresenceService 创建在线状态服务
func NewPresenceService(repo repository.PresenceRepository, bus pubsub.Bus, feed FeedConfig) *PresenceService {
	logger := slog.Default()
	return &PresenceService{
		repo:   repo,
		bus:    bus,
		feed:   feed,
		now:    time.Now,
		events: publisher{bus: bus, logger: logger},
		logger: logger,
	}
}

// SetOnline 标记在线
func (s *PresenceService) SetOnline(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.ErrValidation.WithMessage("用户 ID 不能为空")
	}
	changed, err := s.repo.SetOnline(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to set user online", "userId", userID, "error", err)
		return apperrors.ErrWriteFailed.Wrap(err)
	}
	if changed {
		s.publish(ctx, userID)
	}
	return nil
}

// SetOffline 标记离线并记录最后在线时间，未来时间按当前时间处理
func (s *PresenceService) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	if userID == "" {
		return apperrors.ErrValidation.WithMessage("用户 ID 不能为空")
	}
	if now := s.now(); lastSeen.IsZero() || lastSeen.After(now) {
		lastSeen = now
	}
	changed, err := s.repo.SetOffline(ctx, userID, lastSeen)
	if err != nil {
		s.logger.Error("Failed to set user offline", "userId", userID, "error", err)
		return apperrors.ErrWriteFailed.Wrap(err)
	}
	if changed {
		s.publish(ctx, userID)
	}
	return nil
}

// Get 在线状态快照
func (s *PresenceService) Get(ctx context.Context, userID string) (*model.Presence, error) {
	if userID == "" {
		return nil, apperrors.ErrValidation.WithMessage("用户 ID 不能为空")
	}
	p, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	return p, nil
}

// Subscribe 实时订阅用户在线状态
func (s *PresenceService) Subscribe(ctx context.Context, userID string, cb func(model.Presence), opts ...SubscribeOption) (*live.Subscription, error) {
	if userID == "" {
		return nil, apperrors.ErrValidation.WithMessage("用户 ID 不能为空")
	}
	o := s.feed.apply(opts)
	r := &presenceReducer{svc: s, userID: userID}
	return live.Subscribe[model.Presence](ctx, s.bus, pubsub.PresenceSubject(userID), r, cb, s.feed.live("presence", o))
}

func (s *PresenceService) publish(ctx context.Context, userID string) {
	p, err := s.repo.Get(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to read presence for broadcast", "userId", userID, "error", err)
		return
	}
	s.events.publish(ctx, pubsub.PresenceSubject(userID), p)
}

type presenceReducer struct {
	svc    *PresenceService
	userID string
}

func (r *presenceReducer) Snapshot(ctx context.Context) (model.Presence, error) {
	p, err := r.svc.Get(ctx, r.userID)
	if err != nil {
		return model.Presence{}, err
	}
	return *p, nil
}

func (r *presenceReducer) Apply(_ context.Context, cur model.Presence, data []byte) (model.Presence, bool, error) {
	var next model.Presence
	if err := json.Unmarshal(data, &next); err != nil {
		return cur, false, err
	}
	if next.UserID != r.userID {
		return cur, false, nil
	}
	if next.IsOnline == cur.IsOnline && next.LastSeen.Equal(cur.LastSeen) {
		return cur, false, nil
	}
	return next, true, nil
}
