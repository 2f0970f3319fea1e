package memory

import (
	"context"
	"sync"
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/model"
)

// ReactionStore 内存表情回应存储
type ReactionStore struct {
	mu        sync.Mutex
	reactions map[string]map[string]model.Reaction // messageID -> userID -> reaction
}

// NewReactionStore 创建内存回应存储
func NewReactionStore() *ReactionStore {
	return &ReactionStore{reactions: make(map[string]map[string]model.Reaction)}
}

// Toggle 相同类型移除，不同类型替换，不存在则新增
func (s *ReactionStore) Toggle(_ context.Context, messageID, userID string, t model.ReactionType, at time.Time) (model.ToggleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.reactions[messageID]
	if !ok {
		byUser = make(map[string]model.Reaction)
		s.reactions[messageID] = byUser
	}

	prev := byUser[userID].Type
	res := model.ToggleResult{Previous: prev}
	if prev == t {
		delete(byUser, userID)
	} else {
		byUser[userID] = model.Reaction{MessageID: messageID, UserID: userID, Type: t, CreatedAt: at}
		res.Current = t
	}
	return res, nil
}

// Counts 各类型计数
func (s *ReactionStore) Counts(_ context.Context, messageID string) (model.ReactionCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := model.ReactionCounts{}
	for _, r := range s.reactions[messageID] {
		counts[r.Type]++
	}
	return counts, nil
}

// Mine 当前用户的回应
func (s *ReactionStore) Mine(_ context.Context, messageID, userID string) (*model.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reactions[messageID][userID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}
