package redis

const (
	// ReactionKeyPrefix 回应 Hash 前缀，field 为 userId，value 为回应类型
	ReactionKeyPrefix = "carechat:reactions:"

	// PresenceKeyPrefix 在线状态 Hash 前缀
	PresenceKeyPrefix = "carechat:presence:"

	// TypingKeyPrefix 输入中 ZSet 前缀，member 为 userId，score 为过期毫秒时间戳
	TypingKeyPrefix = "carechat:typing:"
)

// BuildReactionKey Key: carechat:reactions:{messageId}
func BuildReactionKey(messageID string) string {
	return ReactionKeyPrefix + messageID
}

// BuildPresenceKey Key: carechat:presence:{userId}
func BuildPresenceKey(userID string) string {
	return PresenceKeyPrefix + userID
}

// BuildTypingKey Key: carechat:typing:{conversationId}
func BuildTypingKey(conversationID string) string {
	return TypingKeyPrefix + conversationID
}
