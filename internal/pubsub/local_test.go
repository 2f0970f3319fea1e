package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBus_PublishSubscribe(t *testing.T) {
	bus := NewLocalBus()
	subject := ConversationMessagesSubject("alice_bob")

	var got [][]byte
	sub, err := bus.Subscribe(subject, func(data []byte) { got = append(got, data) })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), subject, []byte("1")))
	require.NoError(t, bus.Publish(context.Background(), "other", []byte("x")))
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(context.Background(), subject, []byte("2")))

	assert.Equal(t, [][]byte{[]byte("1")}, got)
	assert.Equal(t, 0, bus.Subscribers(subject))
}

func TestLocalBus_DropNotifiesSubscriber(t *testing.T) {
	bus := NewLocalBus()
	sub, err := bus.Subscribe("s", func([]byte) {})
	require.NoError(t, err)

	cause := errors.New("link down")
	bus.Drop("s", cause)

	assert.Equal(t, cause, <-sub.Dropped())
	assert.Equal(t, 0, bus.Subscribers("s"))
}

func TestLocalBus_Closed(t *testing.T) {
	bus := NewLocalBus()
	sub, _ := bus.Subscribe("s", func([]byte) {})
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, <-sub.Dropped(), ErrClosed)
	assert.ErrorIs(t, bus.Publish(context.Background(), "s", nil), ErrClosed)
	_, err := bus.Subscribe("s", func([]byte) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubjectsEscapeReservedCharacters(t *testing.T) {
	assert.Equal(t, "carechat.presence.a%2Eb%2A", PresenceSubject("a.b*"))
	assert.Equal(t, "carechat.conv.alice_bob.typing", ConversationTypingSubject("alice_bob"))
}
