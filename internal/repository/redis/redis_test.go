package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/U00A/Mental-univ-sub001/internal/model"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestReactionStore_Toggle(t *testing.T) {
	_, rdb := newTestClient(t)
	store := NewReactionStore(rdb)
	ctx := context.Background()
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	res, err := store.Toggle(ctx, "m1", "alice", model.ReactionLove, at)
	require.NoError(t, err)
	assert.Equal(t, model.ToggleResult{Current: model.ReactionLove}, res)

	res, err = store.Toggle(ctx, "m1", "alice", model.ReactionHaha, at)
	require.NoError(t, err)
	assert.Equal(t, model.ToggleResult{Previous: model.ReactionLove, Current: model.ReactionHaha}, res)

	_, err = store.Toggle(ctx, "m1", "bob", model.ReactionHaha, at)
	require.NoError(t, err)

	counts, err := store.Counts(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.ReactionCounts{model.ReactionHaha: 2}, counts)

	res, err = store.Toggle(ctx, "m1", "alice", model.ReactionHaha, at)
	require.NoError(t, err)
	assert.Equal(t, model.ToggleResult{Previous: model.ReactionHaha}, res)

	mine, err := store.Mine(ctx, "m1", "alice")
	require.NoError(t, err)
	assert.Nil(t, mine)

	mine, err = store.Mine(ctx, "m1", "bob")
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, model.ReactionHaha, mine.Type)
	assert.True(t, mine.CreatedAt.Equal(at))
	assert.Equal(t, "m1", mine.MessageID)
}

func TestReactionStore_ConcurrentToggle(t *testing.T) {
	_, rdb := newTestClient(t)
	store := NewReactionStore(rdb)
	ctx := context.Background()
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Toggle(ctx, "m1", "alice", model.ReactionLike, at)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 偶数次切换后回到无回应
	counts, err := store.Counts(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestPresenceStore_Transitions(t *testing.T) {
	_, rdb := newTestClient(t)
	store := NewPresenceStore(rdb)
	ctx := context.Background()

	p, err := store.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, &model.Presence{UserID: "bob"}, p)

	changed, err := store.SetOffline(ctx, "bob", time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = store.SetOnline(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.SetOnline(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, changed)

	seen := time.Date(2026, 2, 3, 4, 5, 6, 7_000_000, time.UTC)
	changed, err = store.SetOffline(ctx, "bob", seen)
	require.NoError(t, err)
	assert.True(t, changed)

	p, err = store.Get(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, p.IsOnline)
	assert.True(t, p.LastSeen.Equal(seen))

	// 重新上线保留上次的最后在线时间
	_, err = store.SetOnline(ctx, "bob")
	require.NoError(t, err)
	p, err = store.Get(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, p.IsOnline)
	assert.True(t, p.LastSeen.Equal(seen))
}

func TestTypingStore_ActivePrunesExpired(t *testing.T) {
	mr, rdb := newTestClient(t)
	store := NewTypingStore(rdb)
	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)

	require.NoError(t, store.Touch(ctx, model.TypingEvent{ConversationID: "alice_bob", UserID: "alice", ExpiresAt: now.Add(2 * time.Second)}))
	require.NoError(t, store.Touch(ctx, model.TypingEvent{ConversationID: "alice_bob", UserID: "bob", ExpiresAt: now.Add(time.Second)}))

	active, err := store.Active(ctx, "alice_bob", now)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "bob", active[0].UserID)
	assert.Equal(t, "alice", active[1].UserID)
	assert.True(t, active[0].ExpiresAt.Equal(now.Add(time.Second)))

	active, err = store.Active(ctx, "alice_bob", now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "alice", active[0].UserID)

	members, err := mr.ZMembers(BuildTypingKey("alice_bob"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
	assert.Greater(t, mr.TTL(BuildTypingKey("alice_bob")), time.Duration(0))

	require.NoError(t, store.Clear(ctx, "alice_bob", "alice"))
	active, err = store.Active(ctx, "alice_bob", now)
	require.NoError(t, err)
	assert.Empty(t, active)
}
