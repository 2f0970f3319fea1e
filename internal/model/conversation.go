package model

import "time"

// ConversationIDSeparator 会话 ID 中两个参与者之间的分隔符
const ConversationIDSeparator = "_"

// Conversation 双人会话
// ID 由两个参与者 ID 唯一确定，ParticipantIDs 按字典序排列
type Conversation struct {
	ID             string          `json:"id" db:"id"`
	ParticipantIDs [2]string       `json:"participantIds" db:"participant_ids"`
	LastMessage    *MessagePreview `json:"lastMessage,omitempty" db:"-"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// MessagePreview 会话列表中展示的最后一条消息摘要
type MessagePreview struct {
	MessageID string      `json:"messageId"`
	Content   string      `json:"content"`
	SenderID  string      `json:"senderId"`
	Kind      MessageKind `json:"kind"`
	CreatedAt time.Time   `json:"createdAt"`
	Deleted   bool        `json:"deleted,omitempty"`
}

// HasParticipant 判断用户是否为会话成员
func (c *Conversation) HasParticipant(userID string) bool {
	return c.ParticipantIDs[0] == userID || c.ParticipantIDs[1] == userID
}

// PeerOf 返回会话中的另一方，非成员返回空字符串
func (c *Conversation) PeerOf(userID string) string {
	switch userID {
	case c.ParticipantIDs[0]:
		return c.ParticipantIDs[1]
	case c.ParticipantIDs[1]:
		return c.ParticipantIDs[0]
	}
	return ""
}

// ConversationSummary 带未读数的会话条目，用于会话列表
type ConversationSummary struct {
	Conversation
	UnreadCount int `json:"unreadCount"`
}
