package service

import (
	"context"
	"log/slog"

	"github.com/U00A/Mental-univ-sub001/internal/nats"
)

// SessionService 把接入层的会话事件落到在线状态与已读状态上
type SessionService struct {
	presence *PresenceService
	delivery *DeliveryService
	logger   *slog.Logger
}

// NewSessionService 创建会话事件服务
func NewSessionService(presence *PresenceService, delivery *DeliveryService) *SessionService {
	return &SessionService{
		presence: presence,
		delivery: delivery,
		logger:   slog.Default(),
	}
}

// HandleUserOnline 用户上线
func (s *SessionService) HandleUserOnline(ctx context.Context, event *nats.UserOnline) {
	if err := s.presence.SetOnline(ctx, event.UserID); err != nil {
		s.logger.Warn("Failed to handle user online", "userId", event.UserID, "error", err)
	}
}

// HandleUserOffline 用户离线，LastSeen 为空时取当前时间
func (s *SessionService) HandleUserOffline(ctx context.Context, event *nats.UserOffline) {
	if err := s.presence.SetOffline(ctx, event.UserID, event.LastSeen); err != nil {
		s.logger.Warn("Failed to handle user offline", "userId", event.UserID, "error", err)
	}
}

// HandleConversationRead 客户端打开会话
func (s *SessionService) HandleConversationRead(ctx context.Context, event *nats.ConversationRead) {
	n, err := s.delivery.MarkRead(ctx, event.ConversationID, event.UserID)
	if err != nil {
		s.logger.Warn("Failed to mark conversation read",
			"conversationId", event.ConversationID,
			"userId", event.UserID,
			"error", err)
		return
	}
	s.logger.Debug("Conversation marked read", "conversationId", event.ConversationID, "userId", event.UserID, "count", n)
}
