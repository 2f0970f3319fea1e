package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/U00A/Mental-univ-sub001/internal/model"
)

// setOnlineScript 已在线时不写入，返回是否发生变化
var setOnlineScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'online') == '1' then
    return 0
end
redis.call('HSET', KEYS[1], 'online', '1')
return 1
`)

// setOfflineScript 仅在线 -> 离线时写入最后在线时间
var setOfflineScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'online') ~= '1' then
    return 0
end
redis.call('HSET', KEYS[1], 'online', '0', 'last_seen', ARGV[1])
return 1
`)

// PresenceStore 在线状态存储
// Hash 字段：online 为 "1"/"0"，last_seen 为毫秒时间戳
type PresenceStore struct {
	rdb redis.Cmdable
}

// NewPresenceStore 创建在线状态存储
func NewPresenceStore(rdb redis.Cmdable) *PresenceStore {
	return &PresenceStore{rdb: rdb}
}

func (s *PresenceStore) SetOnline(ctx context.Context, userID string) (bool, error) {
	n, err := setOnlineScript.Run(ctx, s.rdb, []string{BuildPresenceKey(userID)}).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PresenceStore) SetOffline(ctx context.Context, userID string, lastSeen time.Time) (bool, error) {
	n, err := setOfflineScript.Run(ctx, s.rdb, []string{BuildPresenceKey(userID)}, lastSeen.UnixMilli()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PresenceStore) Get(ctx context.Context, userID string) (*model.Presence, error) {
	fields, err := s.rdb.HGetAll(ctx, BuildPresenceKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	p := &model.Presence{UserID: userID, IsOnline: fields["online"] == "1"}
	if ms, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil && ms > 0 {
		p.LastSeen = time.UnixMilli(ms)
	}
	return p, nil
}
