package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/model"
)

// TypingStore 内存输入中信号存储
type TypingStore struct {
	mu     sync.Mutex
	events map[string]map[string]time.Time // conversationID -> userID -> expiresAt
}

// NewTypingStore 创建内存输入信号存储
func NewTypingStore() *TypingStore {
	return &TypingStore{events: make(map[string]map[string]time.Time)}
}

func (s *TypingStore) Touch(_ context.Context, ev model.TypingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.events[ev.ConversationID]
	if !ok {
		users = make(map[string]time.Time)
		s.events[ev.ConversationID] = users
	}
	users[ev.UserID] = ev.ExpiresAt
	return nil
}

func (s *TypingStore) Clear(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events[conversationID], userID)
	return nil
}

// Active 剔除已过期条目后返回，按过期时间升序
func (s *TypingStore) Active(_ context.Context, conversationID string, now time.Time) ([]model.TypingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.TypingEvent
	for userID, exp := range s.events[conversationID] {
		if !now.Before(exp) {
			delete(s.events[conversationID], userID)
			continue
		}
		out = append(out, model.TypingEvent{ConversationID: conversationID, UserID: userID, ExpiresAt: exp})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}
