package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/U00A/Mental-univ-sub001/internal/blob"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	"github.com/U00A/Mental-univ-sub001/internal/repository/memory"
	"github.com/U00A/Mental-univ-sub001/pkg/snowflake"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	alice = model.Identity{UserID: "alice", DisplayName: "Alice"}
	bob   = model.Identity{UserID: "bob", DisplayName: "Dr. Bob"}
)

// flakyMessages 可按需让 Append 失败
type flakyMessages struct {
	*memory.MessageStore
	fail atomic.Bool
}

var errStorageDown = errors.New("storage unavailable")

func (f *flakyMessages) Append(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	if f.fail.Load() {
		return nil, false, errStorageDown
	}
	return f.MessageStore.Append(ctx, msg)
}

type testEnv struct {
	chat     *Chat
	bus      *pubsub.LocalBus
	messages *flakyMessages
	blobs    *blob.PebbleStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := &flakyMessages{MessageStore: memory.NewMessageStore()}
	bus := pubsub.NewLocalBus()
	blobs, err := blob.OpenPebbleMem("http://media.test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	chat := New(Deps{
		Messages:      store,
		Conversations: store.Conversations(),
		Reactions:     memory.NewReactionStore(),
		Presence:      memory.NewPresenceStore(),
		Typing:        memory.NewTypingStore(),
		Bus:           bus,
		Blobs:         blobs,
		IDs:           snowflake.NewNode(1),
	}, Options{
		TypingTTL:         200 * time.Millisecond,
		TypingMinInterval: 50 * time.Millisecond,
		MaxUploadBytes:    1 << 20,
		Feed: FeedConfig{
			MaxRetries:      2,
			RetryBackoff:    time.Millisecond,
			AutoAckDelivery: true,
		},
	})
	return &testEnv{chat: chat, bus: bus, messages: store, blobs: blobs}
}

func (e *testEnv) sendText(t *testing.T, from, to model.Identity, text string) *model.Message {
	t.Helper()
	msg, err := e.chat.Messages.Append(context.Background(), SendRequest{
		Sender:     from,
		ReceiverID: to.UserID,
		Kind:       model.MessageKindText,
		Content:    text,
	})
	require.NoError(t, err)
	return msg
}

// collector 线程安全地收集回调值
type collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	c.items = append(c.items, v)
	c.mu.Unlock()
}

func (c *collector[T]) all() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

func (c *collector[T]) last() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	if len(c.items) == 0 {
		return zero, false
	}
	return c.items[len(c.items)-1], true
}

func (c *collector[T]) eventually(t *testing.T, cond func(T) bool) T {
	t.Helper()
	var got T
	require.Eventually(t, func() bool {
		v, ok := c.last()
		if ok && cond(v) {
			got = v
			return true
		}
		return false
	}, timeout, tick)
	return got
}

func ids(msgs []*model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
