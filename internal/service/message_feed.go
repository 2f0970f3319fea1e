package service

import (
	"context"
	"encoding/json"

	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/repository"
)

// feedState 某个查看者眼中的会话消息
type feedState struct {
	viewerID string
	messages map[string]*model.Message
	pending  map[string]*model.Message // 查看者自己的本地回显
}

// undelivered 是否存在发给查看者但尚未确认送达的消息
func (st *feedState) undelivered() bool {
	for _, m := range st.messages {
		if m.ReceiverID == st.viewerID && !m.IsDeleted() && m.Status.Rank() < model.StatusDelivered.Rank() {
			return true
		}
	}
	return false
}

func (st *feedState) render() []*model.Message {
	persisted := make([]*model.Message, 0, len(st.messages))
	for _, m := range st.messages {
		persisted = append(persisted, m)
	}
	pending := make([]*model.Message, 0, len(st.pending))
	for _, m := range st.pending {
		pending = append(pending, m)
	}
	return render(persisted, pending, st.viewerID)
}

// render 合并已落库消息与本地回显，排序并按查看者脱敏
func render(persisted, pending []*model.Message, viewerID string) []*model.Message {
	deleted := make(map[string]bool, len(persisted))
	seen := make(map[string]bool, len(persisted))
	for _, m := range persisted {
		deleted[m.ID] = m.IsDeleted()
		seen[m.ID] = true
	}

	out := make([]*model.Message, 0, len(persisted)+len(pending))
	for _, m := range persisted {
		out = append(out, renderMessage(m, viewerID, deleted))
	}
	for _, m := range pending {
		if !seen[m.ID] && m.SenderID == viewerID {
			out = append(out, renderMessage(m, viewerID, deleted))
		}
	}
	repository.SortMessages(out)
	return out
}

// renderMessage 状态只对发送方可见；被回复的消息已删除时隐藏摘要
func renderMessage(m *model.Message, viewerID string, deleted map[string]bool) *model.Message {
	c := m.Clone()
	if c.SenderID != viewerID {
		c.Status = ""
		c.Pending = false
		c.SendError = ""
	}
	if c.ReplyTo != nil && deleted[c.ReplyTo.MessageID] {
		c.ReplyTo.Snippet = ""
	}
	return c
}

// messageFeed 会话消息的实时视图，按版本号应用变更，重复或过期的事件被忽略
type messageFeed struct {
	repo           repository.MessageRepository
	pending        func(conversationID, senderID string) []*model.Message
	conversationID string
	viewerID       string
}

func (f *messageFeed) Snapshot(ctx context.Context) (*feedState, error) {
	msgs, err := f.repo.ListByConversation(ctx, f.conversationID)
	if err != nil {
		return nil, err
	}
	st := &feedState{
		viewerID: f.viewerID,
		messages: make(map[string]*model.Message, len(msgs)),
		pending:  make(map[string]*model.Message),
	}
	for _, m := range msgs {
		st.messages[m.ID] = m
	}
	for _, m := range f.pending(f.conversationID, f.viewerID) {
		if _, ok := st.messages[m.ID]; !ok {
			st.pending[m.ID] = m
		}
	}
	return st, nil
}

func (f *messageFeed) Apply(_ context.Context, st *feedState, data []byte) (*feedState, bool, error) {
	if data == nil {
		return st, false, nil
	}
	var ev messageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return st, false, err
	}
	m := ev.Message
	if m == nil || m.ConversationID != f.conversationID {
		return st, false, nil
	}

	switch ev.Type {
	case messageUpserted:
		_, wasPending := st.pending[m.ID]
		delete(st.pending, m.ID)
		if cur, ok := st.messages[m.ID]; ok && cur.Version >= m.Version {
			return st, wasPending, nil
		}
		st.messages[m.ID] = m
		return st, true, nil

	case messagePending:
		if m.SenderID != f.viewerID {
			return st, false, nil
		}
		if _, ok := st.messages[m.ID]; ok {
			return st, false, nil
		}
		st.pending[m.ID] = m
		return st, true, nil

	case messageDiscarded:
		if _, ok := st.pending[m.ID]; !ok {
			return st, false, nil
		}
		delete(st.pending, m.ID)
		return st, true, nil
	}
	return st, false, nil
}
