package model

import "time"

// ReactionType 表情回应类型，取值封闭
type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionLove  ReactionType = "love"
	ReactionHaha  ReactionType = "haha"
	ReactionWow   ReactionType = "wow"
	ReactionSad   ReactionType = "sad"
	ReactionAngry ReactionType = "angry"
)

// ReactionTypes 全部回应类型，按展示顺序排列
var ReactionTypes = []ReactionType{
	ReactionLike, ReactionLove, ReactionHaha, ReactionWow, ReactionSad, ReactionAngry,
}

// FallbackReactionIcon 未知类型的展示图标
const FallbackReactionIcon = "👍"

// ParseReactionType 解析回应类型
func ParseReactionType(s string) (ReactionType, bool) {
	t := ReactionType(s)
	return t, t.Valid()
}

// Valid 是否为已知类型
func (t ReactionType) Valid() bool {
	switch t {
	case ReactionLike, ReactionLove, ReactionHaha, ReactionWow, ReactionSad, ReactionAngry:
		return true
	}
	return false
}

// Icon 展示图标
func (t ReactionType) Icon() string {
	switch t {
	case ReactionLike:
		return "👍"
	case ReactionLove:
		return "❤️"
	case ReactionHaha:
		return "😂"
	case ReactionWow:
		return "😮"
	case ReactionSad:
		return "😢"
	case ReactionAngry:
		return "😠"
	}
	return FallbackReactionIcon
}

// Reaction 某用户对某条消息的回应，每个 (消息, 用户) 至多一条
type Reaction struct {
	MessageID string       `json:"messageId"`
	UserID    string       `json:"userId"`
	Type      ReactionType `json:"type"`
	CreatedAt time.Time    `json:"createdAt"`
}

// ReactionCounts 各类型回应计数，不含计数为零的类型
type ReactionCounts map[ReactionType]int

// Total 回应总数
func (c ReactionCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// ToggleResult 切换回应后的结果
type ToggleResult struct {
	Previous ReactionType `json:"previous,omitempty"`
	Current  ReactionType `json:"current,omitempty"` // 为空表示已移除
}
