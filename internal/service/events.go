package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/live"
	"github.com/U00A/Mental-univ-sub001/internal/model"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
)

// messageEventType 会话消息变更类型
type messageEventType string

const (
	messageUpserted  messageEventType = "upsert"
	messagePending   messageEventType = "pending"
	messageDiscarded messageEventType = "discard"
)

// messageEvent 会话消息总线上的变更通知
type messageEvent struct {
	Type    messageEventType `json:"type"`
	Message *model.Message   `json:"message"`
}

// signalEvent 仅用于触发订阅方重新读取
type signalEvent struct {
	ID string `json:"id"`
}

// publisher 封装变更通知发布，发布失败只记日志，不影响已完成的写入
type publisher struct {
	bus    pubsub.Bus
	logger *slog.Logger
}

func (p publisher) publish(ctx context.Context, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("Failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, subject, data); err != nil {
		p.logger.Warn("Failed to publish event", "subject", subject, "error", err)
	}
}

func (p publisher) message(ctx context.Context, t messageEventType, m *model.Message) {
	p.publish(ctx, pubsub.ConversationMessagesSubject(m.ConversationID), messageEvent{Type: t, Message: m})
}

// conversationChanged 通知两位参与者刷新会话列表
func (p publisher) conversationChanged(ctx context.Context, conversationID string) {
	participants, err := ParticipantsOf(conversationID)
	if err != nil {
		return
	}
	for _, userID := range participants {
		p.publish(ctx, pubsub.UserConversationsSubject(userID), signalEvent{ID: conversationID})
	}
}

// SubscribeOption 订阅选项
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	onError     func(error)
	deliveryAck bool
}

// WithErrorHandler 订阅最终中断时收到 SubscriptionError
func WithErrorHandler(fn func(error)) SubscribeOption {
	return func(o *subscribeOptions) { o.onError = fn }
}

// WithoutDeliveryAck 消息订阅不再自动把收到的消息标记为 delivered
func WithoutDeliveryAck() SubscribeOption {
	return func(o *subscribeOptions) { o.deliveryAck = false }
}

// FeedConfig 实时订阅的重试参数
type FeedConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	AutoAckDelivery bool
}

func (c FeedConfig) apply(opts []SubscribeOption) subscribeOptions {
	o := subscribeOptions{deliveryAck: c.AutoAckDelivery}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (c FeedConfig) live(feed string, o subscribeOptions) live.Options {
	return live.Options{
		Feed:         feed,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		OnError:      o.onError,
	}
}
