package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/pkg/snowflake"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// MessageRepository 消息存储
// 所有写操作都会在同一次原子写入中刷新会话的最后一条消息摘要
type MessageRepository interface {
	// Append 写入消息，服务端时间戳由存储层赋值，状态为 sent
	// 会话不存在时一并创建；ClientMsgID 重复时返回已存在的消息且 created 为 false
	Append(ctx context.Context, msg *model.Message) (stored *model.Message, created bool, err error)
	FindByID(ctx context.Context, id string) (*model.Message, error)
	// ListByConversation 按 (CreatedAt, ID) 升序返回
	ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error)
	// Update 读改写单条消息，fn 返回错误时不落库
	Update(ctx context.Context, id string, fn func(*model.Message) error) (*model.Message, error)
	// AdvanceStatus 把会话中发往 recipientID 且状态低于 to 的消息前进到 to，返回发生变化的消息
	AdvanceStatus(ctx context.Context, conversationID, recipientID string, to model.DeliveryStatus) ([]*model.Message, error)
	ListReplies(ctx context.Context, messageID string) ([]*model.Message, error)
}

// ConversationRepository 会话存储
type ConversationRepository interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
	// ListForUser 按最近更新时间倒序
	ListForUser(ctx context.Context, userID string) ([]*model.Conversation, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
}

// ReactionRepository 表情回应存储，Toggle 必须原子
type ReactionRepository interface {
	// Toggle 新增或替换时以 at 作为回应时间
	Toggle(ctx context.Context, messageID, userID string, t model.ReactionType, at time.Time) (model.ToggleResult, error)
	Counts(ctx context.Context, messageID string) (model.ReactionCounts, error)
	// Mine 未回应时返回 nil
	Mine(ctx context.Context, messageID, userID string) (*model.Reaction, error)
}

// PresenceRepository 在线状态存储
type PresenceRepository interface {
	// SetOnline 返回是否发生了离线到在线的变化
	SetOnline(ctx context.Context, userID string) (bool, error)
	// SetOffline 仅在在线到离线时写入 lastSeen
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) (bool, error)
	// Get 未知用户视为离线
	Get(ctx context.Context, userID string) (*model.Presence, error)
}

// TypingRepository 输入中信号存储，过期条目在读取时剔除
type TypingRepository interface {
	Touch(ctx context.Context, ev model.TypingEvent) error
	Clear(ctx context.Context, conversationID, userID string) error
	Active(ctx context.Context, conversationID string, now time.Time) ([]model.TypingEvent, error)
}

// LessMessage 消息排序：先按创建时间，再按 ID 数值
func LessMessage(a, b *model.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return snowflake.Compare(a.ID, b.ID) < 0
}

// SortMessages 原地排序
func SortMessages(msgs []*model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return LessMessage(msgs[i], msgs[j]) })
}

// UnreadFor 消息对 userID 是否计为未读
func UnreadFor(m *model.Message, userID string) bool {
	return m.ReceiverID == userID && !m.IsDeleted() && m.Status.Rank() < model.StatusRead.Rank()
}
