package pubsub

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed 总线已关闭
var ErrClosed = errors.New("pubsub: bus closed")

// Handler 处理一条变更通知，必须快速返回，不得阻塞
type Handler func(data []byte)

// Bus 变更通知总线，进程内实现与 NATS 实现共用该接口
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, h Handler) (Subscription, error)
	Close() error
}

// Subscription 单个订阅
type Subscription interface {
	Unsubscribe() error
	// Dropped 订阅被动中断时写入原因并关闭，主动 Unsubscribe 不会触发
	Dropped() <-chan error
}

const subjectPrefix = "carechat."

// ConversationMessagesSubject 会话消息变更
func ConversationMessagesSubject(conversationID string) string {
	return subjectPrefix + "conv." + token(conversationID) + ".messages"
}

// ConversationTypingSubject 会话输入中信号
func ConversationTypingSubject(conversationID string) string {
	return subjectPrefix + "conv." + token(conversationID) + ".typing"
}

// UserConversationsSubject 用户会话列表变更
func UserConversationsSubject(userID string) string {
	return subjectPrefix + "user." + token(userID) + ".conversations"
}

// PresenceSubject 用户在线状态变更
func PresenceSubject(userID string) string {
	return subjectPrefix + "presence." + token(userID)
}

// ReactionsSubject 消息表情回应变更
func ReactionsSubject(messageID string) string {
	return subjectPrefix + "reactions." + token(messageID)
}

var tokenEscaper = strings.NewReplacer(
	"%", "%25",
	".", "%2E",
	"*", "%2A",
	">", "%3E",
	" ", "%20",
)

// token 转义 NATS subject 中有特殊含义的字符
func token(s string) string {
	return tokenEscaper.Replace(s)
}
