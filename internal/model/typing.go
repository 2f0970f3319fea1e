package model

import "time"

// TypingEvent 输入中信号，过期后视为不存在
type TypingEvent struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Live 在 now 时刻是否仍有效
func (e TypingEvent) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
