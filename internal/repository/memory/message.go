package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/repository"
)

// MessageStore 内存消息与会话存储，同时实现 MessageRepository 与 ConversationRepository
type MessageStore struct {
	mu            sync.RWMutex
	messages      map[string]*model.Message
	byConv        map[string][]string
	byClientMsgID map[string]string
	conversations map[string]*model.Conversation
	now           func() time.Time
}

// NewMessageStore 创建内存消息存储
func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages:      make(map[string]*model.Message),
		byConv:        make(map[string][]string),
		byClientMsgID: make(map[string]string),
		conversations: make(map[string]*model.Conversation),
		now:           time.Now,
	}
}

// SetClock 替换服务端时钟
func (s *MessageStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Append 写入消息并刷新会话摘要
func (s *MessageStore) Append(_ context.Context, msg *model.Message) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ClientMsgID != "" {
		if id, ok := s.byClientMsgID[msg.SenderID+"/"+msg.ClientMsgID]; ok {
			return s.messages[id].Clone(), false, nil
		}
	}
	if existing, ok := s.messages[msg.ID]; ok {
		return existing.Clone(), false, nil
	}

	now := s.now()
	stored := msg.Clone()
	stored.CreatedAt = now
	stored.Status = model.StatusSent
	stored.Version = 1
	stored.Pending = false
	stored.SendError = ""

	conv, ok := s.conversations[stored.ConversationID]
	if !ok {
		ids := [2]string{stored.SenderID, stored.ReceiverID}
		if ids[1] < ids[0] {
			ids[0], ids[1] = ids[1], ids[0]
		}
		conv = &model.Conversation{
			ID:             stored.ConversationID,
			ParticipantIDs: ids,
			CreatedAt:      now,
		}
		s.conversations[conv.ID] = conv
	}

	s.messages[stored.ID] = stored
	s.byConv[conv.ID] = append(s.byConv[conv.ID], stored.ID)
	if stored.ClientMsgID != "" {
		s.byClientMsgID[stored.SenderID+"/"+stored.ClientMsgID] = stored.ID
	}
	s.refreshPreviewLocked(conv.ID)

	return stored.Clone(), true, nil
}

// FindByID 根据 ID 查找消息
func (s *MessageStore) FindByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.Clone(), nil
}

// ListByConversation 有序返回会话内全部消息
func (s *MessageStore) ListByConversation(_ context.Context, conversationID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listLocked(conversationID), nil
}

func (s *MessageStore) listLocked(conversationID string) []*model.Message {
	ids := s.byConv[conversationID]
	out := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id].Clone())
	}
	repository.SortMessages(out)
	return out
}

// Update 读改写单条消息
func (s *MessageStore) Update(_ context.Context, id string, fn func(*model.Message) error) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	s.messages[id] = next
	s.refreshPreviewLocked(next.ConversationID)

	return next.Clone(), nil
}

// AdvanceStatus 批量推进投递状态
func (s *MessageStore) AdvanceStatus(_ context.Context, conversationID, recipientID string, to model.DeliveryStatus) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []*model.Message
	for _, id := range s.byConv[conversationID] {
		m := s.messages[id]
		if m.ReceiverID != recipientID {
			continue
		}
		next, ok := m.Status.Advance(to)
		if !ok {
			continue
		}
		updated := m.Clone()
		updated.Status = next
		updated.Version++
		s.messages[id] = updated
		changed = append(changed, updated.Clone())
	}
	repository.SortMessages(changed)
	return changed, nil
}

// ListReplies 返回引用了 messageID 的消息
func (s *MessageStore) ListReplies(_ context.Context, messageID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.messages[messageID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	var out []*model.Message
	for _, m := range s.listLocked(target.ConversationID) {
		if m.ReplyTo != nil && m.ReplyTo.MessageID == messageID {
			out = append(out, m)
		}
	}
	return out, nil
}

// refreshPreviewLocked 以会话内最后一条消息刷新摘要，与写入处于同一把锁内
// 更新时间取最后一条消息的创建时间，状态变化与编辑不改变会话排序
func (s *MessageStore) refreshPreviewLocked(conversationID string) {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	var last *model.Message
	for _, id := range s.byConv[conversationID] {
		m := s.messages[id]
		if last == nil || repository.LessMessage(last, m) {
			last = m
		}
	}
	if last != nil {
		conv.LastMessage = last.Preview()
		conv.UpdatedAt = last.CreatedAt
	}
}

// FindConversation 根据 ID 查找会话
func (s *MessageStore) FindConversation(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneConversation(conv), nil
}

// ListForUser 返回用户参与的会话，最近更新在前
func (s *MessageStore) ListForUser(_ context.Context, userID string) ([]*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Conversation
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, cloneConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CountUnread 统计会话中 userID 的未读数
func (s *MessageStore) CountUnread(_ context.Context, conversationID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, id := range s.byConv[conversationID] {
		if repository.UnreadFor(s.messages[id], userID) {
			n++
		}
	}
	return n, nil
}

// Conversations 以 ConversationRepository 视图暴露同一份数据
func (s *MessageStore) Conversations() repository.ConversationRepository {
	return conversationView{s}
}

type conversationView struct{ s *MessageStore }

func (v conversationView) FindByID(ctx context.Context, id string) (*model.Conversation, error) {
	return v.s.FindConversation(ctx, id)
}

func (v conversationView) ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error) {
	return v.s.ListForUser(ctx, userID)
}

func (v conversationView) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	return v.s.CountUnread(ctx, conversationID, userID)
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	out := *c
	if c.LastMessage != nil {
		p := *c.LastMessage
		out.LastMessage = &p
	}
	return &out
}
