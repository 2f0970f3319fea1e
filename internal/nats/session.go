package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SessionEvent 上行会话事件，三个载荷至多一个非空
type SessionEvent struct {
	UserOnline       *UserOnline       `json:"userOnline,omitempty"`
	UserOffline      *UserOffline      `json:"userOffline,omitempty"`
	ConversationRead *ConversationRead `json:"conversationRead,omitempty"`
}

// UserOnline 用户建立连接
type UserOnline struct {
	UserID string `json:"userId"`
}

// UserOffline 用户最后一个连接断开
type UserOffline struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// ConversationRead 用户在客户端打开了会话
type ConversationRead struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// SessionHandler 会话事件处理器接口
type SessionHandler interface {
	HandleUserOnline(ctx context.Context, event *UserOnline)
	HandleUserOffline(ctx context.Context, event *UserOffline)
	HandleConversationRead(ctx context.Context, event *ConversationRead)
}

// SubscriberConfig Worker Pool 配置
type SubscriberConfig struct {
	WorkerCount int // Worker 数量
	BufferSize  int // 消息缓冲区大小
}

// SessionSubscriber 会话事件订阅器
type SessionSubscriber struct {
	nc           *nats.Conn
	handler      SessionHandler
	logger       *slog.Logger
	subscription *nats.Subscription
	config       SubscriberConfig
	msgChan      chan *nats.Msg
	wg           sync.WaitGroup
	cancelFunc   context.CancelFunc
}

// NewSessionSubscriber 创建会话事件订阅器
func NewSessionSubscriber(nc *nats.Conn, handler SessionHandler, config SubscriberConfig) *SessionSubscriber {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 16
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1024
	}

	return &SessionSubscriber{
		nc:      nc,
		handler: handler,
		logger:  slog.Default(),
		config:  config,
	}
}

// Start 启动订阅
func (s *SessionSubscriber) Start(ctx context.Context) error {
	s.msgChan = make(chan *nats.Msg, s.config.BufferSize)

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(workerCtx)
	}

	// 队列组实现多实例负载均衡
	sub, err := s.nc.QueueSubscribe(SubjectSessionEvents, QueueGroupSession, func(msg *nats.Msg) {
		select {
		case s.msgChan <- msg:
		default:
			s.logger.Warn("Session event buffer full, dropping event", "bufferSize", s.config.BufferSize)
		}
	})
	if err != nil {
		cancel()
		s.wg.Wait()
		return err
	}

	s.subscription = sub
	s.logger.Info("NATS session subscriber started",
		"subject", SubjectSessionEvents,
		"workerCount", s.config.WorkerCount,
		"bufferSize", s.config.BufferSize,
	)
	return nil
}

func (s *SessionSubscriber) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.msgChan:
			s.handle(ctx, msg.Data)
		}
	}
}

// handle 解析并分发一条会话事件
func (s *SessionSubscriber) handle(ctx context.Context, data []byte) {
	var event SessionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Error("Failed to unmarshal session event", "error", err)
		return
	}

	switch {
	case event.UserOnline != nil:
		s.handler.HandleUserOnline(ctx, event.UserOnline)
	case event.UserOffline != nil:
		s.handler.HandleUserOffline(ctx, event.UserOffline)
	case event.ConversationRead != nil:
		s.handler.HandleConversationRead(ctx, event.ConversationRead)
	default:
		s.logger.Warn("Ignoring empty session event")
	}
}

// Stop 停止订阅并等待 worker 退出，缓冲区中未处理的事件被丢弃
func (s *SessionSubscriber) Stop() error {
	if s.subscription != nil {
		if err := s.subscription.Unsubscribe(); err != nil {
			s.logger.Error("Failed to unsubscribe", "error", err)
		}
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()

	s.logger.Info("NATS session subscriber stopped")
	return nil
}

// GetBufferUsage 获取缓冲区使用情况（用于监控）
func (s *SessionSubscriber) GetBufferUsage() (current int, capacity int) {
	if s.msgChan == nil {
		return 0, 0
	}
	return len(s.msgChan), cap(s.msgChan)
}

// PublishSessionEvent 接入层上报会话事件
func PublishSessionEvent(nc *nats.Conn, event *SessionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return nc.Publish(SubjectSessionEvents, data)
}
