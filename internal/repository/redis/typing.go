package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/U00A/Mental-univ-sub001/internal/model"
)

// typingKeySlack 整个 ZSet 在最后一条信号过期后再保留的时间
const typingKeySlack = time.Minute

// TypingStore 输入中信号存储，每个会话一个 ZSet
type TypingStore struct {
	rdb redis.Cmdable
}

// NewTypingStore 创建输入信号存储
func NewTypingStore(rdb redis.Cmdable) *TypingStore {
	return &TypingStore{rdb: rdb}
}

func (s *TypingStore) Touch(ctx context.Context, ev model.TypingEvent) error {
	key := BuildTypingKey(ev.ConversationID)
	ttl := time.Until(ev.ExpiresAt) + typingKeySlack

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(ev.ExpiresAt.UnixMilli()), Member: ev.UserID})
	pipe.PExpire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *TypingStore) Clear(ctx context.Context, conversationID, userID string) error {
	return s.rdb.ZRem(ctx, BuildTypingKey(conversationID), userID).Err()
}

// Active 先剔除 score <= now 的条目，再按过期时间升序返回
func (s *TypingStore) Active(ctx context.Context, conversationID string, now time.Time) ([]model.TypingEvent, error) {
	key := BuildTypingKey(conversationID)
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)

	pipe := s.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", nowMs)
	live := pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: "(" + nowMs, Max: "+inf"})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	zs := live.Val()
	out := make([]model.TypingEvent, 0, len(zs))
	for _, z := range zs {
		userID, _ := z.Member.(string)
		out = append(out, model.TypingEvent{
			ConversationID: conversationID,
			UserID:         userID,
			ExpiresAt:      time.UnixMilli(int64(z.Score)),
		})
	}
	return out, nil
}
