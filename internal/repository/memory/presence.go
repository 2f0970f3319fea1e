package memory

import (
	"context"
	"sync"
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/model"
)

// PresenceStore 内存在线状态存储
type PresenceStore struct {
	mu    sync.Mutex
	users map[string]model.Presence
}

// NewPresenceStore 创建内存在线状态存储
func NewPresenceStore() *PresenceStore {
	return &PresenceStore{users: make(map[string]model.Presence)}
}

func (s *PresenceStore) SetOnline(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.users[userID]
	if p.IsOnline {
		return false, nil
	}
	p.UserID = userID
	p.IsOnline = true
	s.users[userID] = p
	return true, nil
}

func (s *PresenceStore) SetOffline(_ context.Context, userID string, lastSeen time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.users[userID]
	if !ok || !p.IsOnline {
		return false, nil
	}
	p.IsOnline = false
	p.LastSeen = lastSeen
	s.users[userID] = p
	return true, nil
}

func (s *PresenceStore) Get(_ context.Context, userID string) (*model.Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.users[userID]
	p.UserID = userID
	return &p, nil
}
