package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/U00A/Mental-univ-sub001/internal/model"
)

// toggleReactionScript 原子切换：同类移除，异类替换，不存在则新增
// Hash 字段值为 type|unixms；返回 {previous, current}，current 为空表示已移除
var toggleReactionScript = redis.NewScript(`
local prev = redis.call('HGET', KEYS[1], ARGV[1])
if prev then
    prev = string.match(prev, '^([^|]*)')
else
    prev = ''
end
if prev == ARGV[2] then
    redis.call('HDEL', KEYS[1], ARGV[1])
    return {prev, ''}
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2] .. '|' .. ARGV[3])
return {prev, ARGV[2]}
`)

// ReactionStore 回应存储，每条消息一个 Hash
type ReactionStore struct {
	rdb redis.Cmdable
}

// NewReactionStore 创建回应存储
func NewReactionStore(rdb redis.Cmdable) *ReactionStore {
	return &ReactionStore{rdb: rdb}
}

func (s *ReactionStore) Toggle(ctx context.Context, messageID, userID string, t model.ReactionType, at time.Time) (model.ToggleResult, error) {
	res, err := toggleReactionScript.Run(ctx, s.rdb, []string{BuildReactionKey(messageID)},
		userID, string(t), strconv.FormatInt(at.UnixMilli(), 10)).StringSlice()
	if err != nil {
		return model.ToggleResult{}, fmt.Errorf("toggle reaction: %w", err)
	}
	if len(res) != 2 {
		return model.ToggleResult{}, fmt.Errorf("toggle reaction: unexpected reply %v", res)
	}
	return model.ToggleResult{
		Previous: model.ReactionType(res[0]),
		Current:  model.ReactionType(res[1]),
	}, nil
}

// Counts 统计 Hash 中的取值，不含计数为零的类型
func (s *ReactionStore) Counts(ctx context.Context, messageID string) (model.ReactionCounts, error) {
	vals, err := s.rdb.HVals(ctx, BuildReactionKey(messageID)).Result()
	if err != nil {
		return nil, err
	}
	counts := model.ReactionCounts{}
	for _, v := range vals {
		t, _ := splitReaction(v)
		counts[t]++
	}
	return counts, nil
}

func (s *ReactionStore) Mine(ctx context.Context, messageID, userID string) (*model.Reaction, error) {
	v, err := s.rdb.HGet(ctx, BuildReactionKey(messageID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t, at := splitReaction(v)
	return &model.Reaction{MessageID: messageID, UserID: userID, Type: t, CreatedAt: at}, nil
}

// splitReaction 解析 type|unixms，缺少时间部分时返回零值时间
func splitReaction(v string) (model.ReactionType, time.Time) {
	typ, ms, ok := strings.Cut(v, "|")
	if !ok {
		return model.ReactionType(typ), time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return model.ReactionType(typ), time.Time{}
	}
	return model.ReactionType(typ), time.UnixMilli(n)
}
