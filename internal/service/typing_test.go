package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	apperrors "github.com/U00A/Mental-univ-sub001/pkg/errors"
)

func TestTyping_SignalIsThrottled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chat.Typing

	clock := time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	var published atomic.Int32
	sub, err := env.bus.Subscribe(pubsub.ConversationTypingSubject("alice_bob"), func([]byte) { published.Add(1) })
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Signal(ctx, "alice_bob", "alice"))
	}
	assert.EqualValues(t, 1, published.Load())

	clock = clock.Add(20 * time.Millisecond)
	require.NoError(t, svc.Signal(ctx, "alice_bob", "alice"))
	assert.EqualValues(t, 1, published.Load())

	clock = clock.Add(60 * time.Millisecond)
	require.NoError(t, svc.Signal(ctx, "alice_bob", "alice"))
	assert.EqualValues(t, 2, published.Load())

	// 另一位参与者有独立的节流窗口
	require.NoError(t, svc.Signal(ctx, "alice_bob", "bob"))
	assert.EqualValues(t, 3, published.Load())
}

func TestTyping_ActiveExpiresOnRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chat.Typing

	clock := time.Date(2026, 5, 6, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	require.NoError(t, svc.Signal(ctx, "alice_bob", "alice"))

	users, err := svc.Active(ctx, "alice_bob", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)

	users, err = svc.Active(ctx, "alice_bob", "alice")
	require.NoError(t, err)
	assert.Empty(t, users)

	clock = clock.Add(200 * time.Millisecond)
	users, err = svc.Active(ctx, "alice_bob", "bob")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestTyping_NonParticipantForbidden(t *testing.T) {
	env := newTestEnv(t)
	err := env.chat.Typing.Signal(context.Background(), "alice_bob", "mallory")
	assert.True(t, apperrors.Is(err, apperrors.ErrForbidden))
}

func TestTyping_SubscribeClearsAfterTTL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chat.Typing

	var got collector[[]string]
	sub, err := svc.Subscribe(ctx, "alice_bob", "bob", got.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	got.eventually(t, func(u []string) bool { return len(u) == 0 })

	// 查看者自己的信号不会出现在视图里
	require.NoError(t, svc.Signal(ctx, "alice_bob", "bob"))

	require.NoError(t, svc.Signal(ctx, "alice_bob", "alice"))
	got.eventually(t, func(u []string) bool { return len(u) == 1 && u[0] == "alice" })

	// 无需新的写入，过期后视图自行变空
	got.eventually(t, func(u []string) bool { return len(u) == 0 })

	for _, users := range got.all() {
		assert.NotContains(t, users, "bob")
	}
}

func TestTyping_ClearRemovesImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.chat.Typing

	var got collector[[]string]
	sub, err := svc.Subscribe(ctx, "alice_bob", "bob", got.add)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, svc.Signal(ctx, "alice_bob", "alice"))
	got.eventually(t, func(u []string) bool { return len(u) == 1 })

	require.NoError(t, svc.Clear(ctx, "alice_bob", "alice"))
	got.eventually(t, func(u []string) bool { return len(u) == 0 })

	// 清除后立即可以再次广播
	require.NoError(t, svc.Signal(ctx, "alice_bob", "alice"))
	got.eventually(t, func(u []string) bool { return len(u) == 1 })
}
