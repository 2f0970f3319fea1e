package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/U00A/Mental-univ-sub001/internal/live"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	"github.com/U00A/Mental-univ-sub001/internal/repository"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
)

const limiterSweepThreshold = 4096

// TypingService 输入中信号，过期判断发生在读取时
type TypingService struct {
	repo        repository.TypingRepository
	bus         pubsub.Bus
	feed        FeedConfig
	ttl         time.Duration
	minInterval time.Duration
	now         func() time.Time
	events      publisher
	logger      *slog.Logger

	mu       sync.Mutex
	limiters map[string]*typingLimiter
}

type typingLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTypingService 创建输入信号服务；同一用户在同一会话内 minInterval 内只广播一次
func NewTypingService(repo repository.TypingRepository, bus pubsub.Bus, ttl, minInterval time.Duration, feed FeedConfig) *TypingService {
	if minInterval >= ttl {
		minInterval = ttl / 2
	}
	logger := slog.Default()
	return &TypingService{
		repo:        repo,
		bus:         bus,
		feed:        feed,
		ttl:         ttl,
		minInterval: minInterval,
		now:         time.Now,
		events:      publisher{bus: bus, logger: logger},
		logger:      logger,
		limiters:    make(map[string]*typingLimiter),
	}
}

// allow 节流：令牌桶容量 1，每 minInterval 补充一个
func (s *TypingService) allow(conversationID, userID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.limiters) > limiterSweepThreshold {
		for k, l := range s.limiters {
			if now.Sub(l.lastSeen) > s.ttl {
				delete(s.limiters, k)
			}
		}
	}

	key := conversationID + "|" + userID
	l, ok := s.limiters[key]
	if !ok {
		l = &typingLimiter{limiter: rate.NewLimiter(rate.Every(s.minInterval), 1)}
		s.limiters[key] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

func (s *TypingService) reset(conversationID, userID string) {
	s.mu.Lock()
	delete(s.limiters, conversationID+"|"+userID)
	s.mu.Unlock()
}

// Signal 广播输入意图，被节流的调用直接返回
func (s *TypingService) Signal(ctx context.Context, conversationID, userID string) error {
	if _, err := requireParticipant(conversationID, userID); err != nil {
		return err
	}
	now := s.now()
	if !s.allow(conversationID, userID, now) {
		return nil
	}

	ev := model.TypingEvent{ConversationID: conversationID, UserID: userID, ExpiresAt: now.Add(s.ttl)}
	if err := s.repo.Touch(ctx, ev); err != nil {
		s.logger.Warn("Failed to record typing signal", "conversationId", conversationID, "userId", userID, "error", err)
		return apperrors.ErrWriteFailed.Wrap(err)
	}
	s.events.publish(ctx, pubsub.ConversationTypingSubject(conversationID), ev)
	return nil
}

// Clear 发送消息后立即清除输入状态
func (s *TypingService) Clear(ctx context.Context, conversationID, userID string) error {
	if _, err := requireParticipant(conversationID, userID); err != nil {
		return err
	}
	s.reset(conversationID, userID)
	if err := s.repo.Clear(ctx, conversationID, userID); err != nil {
		return apperrors.ErrWriteFailed.Wrap(err)
	}
	s.events.publish(ctx, pubsub.ConversationTypingSubject(conversationID), model.TypingEvent{ConversationID: conversationID, UserID: userID})
	return nil
}

// Active 当前仍在输入的用户
func (s *TypingService) Active(ctx context.Context, conversationID, viewerID string) ([]string, error) {
	if _, err := requireParticipant(conversationID, viewerID); err != nil {
		return nil, err
	}
	events, err := s.repo.Active(ctx, conversationID, s.now())
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	return typingUsers(events, viewerID), nil
}

// Subscribe 实时订阅输入中的用户集合（不含查看者自己），在最早过期时刻重新评估
func (s *TypingService) Subscribe(ctx context.Context, conversationID, viewerID string, cb func([]string), opts ...SubscribeOption) (*live.Subscription, error) {
	if _, err := requireParticipant(conversationID, viewerID); err != nil {
		return nil, err
	}
	o := s.feed.apply(opts)
	r := &typingReducer{svc: s, conversationID: conversationID, viewerID: viewerID}
	deliver := func(events []model.TypingEvent) {
		cb(typingUsers(events, viewerID))
	}
	return live.Subscribe[[]model.TypingEvent](ctx, s.bus, pubsub.ConversationTypingSubject(conversationID), r, deliver, s.feed.live("typing", o))
}

func typingUsers(events []model.TypingEvent, viewerID string) []string {
	users := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.UserID != viewerID {
			users = append(users, ev.UserID)
		}
	}
	return users
}

type typingReducer struct {
	svc            *TypingService
	conversationID string
	viewerID       string
}

func (r *typingReducer) Snapshot(ctx context.Context) ([]model.TypingEvent, error) {
	return r.svc.repo.Active(ctx, r.conversationID, r.svc.now())
}

func (r *typingReducer) Apply(ctx context.Context, cur []model.TypingEvent, _ []byte) ([]model.TypingEvent, bool, error) {
	next, err := r.svc.repo.Active(ctx, r.conversationID, r.svc.now())
	if err != nil {
		return cur, false, err
	}
	a, b := typingUsers(cur, r.viewerID), typingUsers(next, r.viewerID)
	return next, !sameUsers(a, b), nil
}

// NextDeadline 最早过期的条目
func (r *typingReducer) NextDeadline(cur []model.TypingEvent) (time.Time, bool) {
	var earliest time.Time
	for _, ev := range cur {
		if earliest.IsZero() || ev.ExpiresAt.Before(earliest) {
			earliest = ev.ExpiresAt
		}
	}
	return earliest, !earliest.IsZero()
}

func sameUsers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, u := range a {
		set[u] = struct{}{}
	}
	for _, u := range b {
		if _, ok := set[u]; !ok {
			return false
		}
	}
	return true
}
