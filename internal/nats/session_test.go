package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

type mockSessionHandler struct {
	mock.Mock
}

func (m *mockSessionHandler) HandleUserOnline(ctx context.Context, event *UserOnline) {
	m.Called(event.UserID)
}

func (m *mockSessionHandler) HandleUserOffline(ctx context.Context, event *UserOffline) {
	m.Called(event.UserID, event.LastSeen)
}

func (m *mockSessionHandler) HandleConversationRead(ctx context.Context, event *ConversationRead) {
	m.Called(event.ConversationID, event.UserID)
}

func TestSessionSubscriber_Dispatch(t *testing.T) {
	seen := time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		data  string
		setup func(h *mockSessionHandler)
	}{
		{
			name:  "online",
			data:  `{"userOnline":{"userId":"alice"}}`,
			setup: func(h *mockSessionHandler) { h.On("HandleUserOnline", "alice").Once() },
		},
		{
			name:  "offline",
			data:  `{"userOffline":{"userId":"bob","lastSeen":"2026-06-01T08:30:00Z"}}`,
			setup: func(h *mockSessionHandler) { h.On("HandleUserOffline", "bob", seen).Once() },
		},
		{
			name:  "conversation read",
			data:  `{"conversationRead":{"userId":"bob","conversationId":"alice_bob"}}`,
			setup: func(h *mockSessionHandler) { h.On("HandleConversationRead", "alice_bob", "bob").Once() },
		},
		{name: "empty", data: `{}`},
		{name: "garbage", data: `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &mockSessionHandler{}
			if tt.setup != nil {
				tt.setup(h)
			}
			s := NewSessionSubscriber(nil, h, SubscriberConfig{})
			s.handle(context.Background(), []byte(tt.data))
			h.AssertExpectations(t)
		})
	}
}

func TestNewSessionSubscriber_Defaults(t *testing.T) {
	s := NewSessionSubscriber(nil, &mockSessionHandler{}, SubscriberConfig{})
	if s.config.WorkerCount != 16 || s.config.BufferSize != 1024 {
		t.Fatalf("unexpected defaults: %+v", s.config)
	}
	if cur, capacity := s.GetBufferUsage(); cur != 0 || capacity != 0 {
		t.Fatalf("buffer should not exist before Start")
	}
}
