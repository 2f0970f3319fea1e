package service

import (
	"time"

	"github.com/U00A/Mental-univ-sub001/internal/blob"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	"github.com/U00A/Mental-univ-sub001/internal/repository"
	"github.com/U00A/Mental-univ-sub001/pkg/snowflake"
)

// Deps 存储与基础设施依赖
type Deps struct {
	Messages      repository.MessageRepository
	Conversations repository.ConversationRepository
	Reactions     repository.ReactionRepository
	Presence      repository.PresenceRepository
	Typing        repository.TypingRepository
	Bus           pubsub.Bus
	Blobs         blob.Store
	IDs           *snowflake.Node
}

// Options 业务参数
type Options struct {
	TypingTTL         time.Duration
	TypingMinInterval time.Duration
	MaxUploadBytes    int64
	Feed              FeedConfig
}

// Chat 聚合全部会话能力
type Chat struct {
	Conversations *ConversationService
	Messages      *MessageService
	Delivery      *DeliveryService
	Presence      *PresenceService
	Reactions     *ReactionService
	Typing        *TypingService
	Attachments   *AttachmentService
	Sessions      *SessionService
}

// New 组装服务
func New(deps Deps, opts Options) *Chat {
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = 5 * time.Second
	}
	if opts.TypingMinInterval <= 0 {
		opts.TypingMinInterval = 2 * time.Second
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 25 << 20
	}
	if deps.IDs == nil {
		deps.IDs = snowflake.NewNode(1)
	}

	delivery := NewDeliveryService(deps.Messages, deps.Bus)
	presence := NewPresenceService(deps.Presence, deps.Bus, opts.Feed)
	return &Chat{
		Conversations: NewConversationService(deps.Conversations, deps.Bus, opts.Feed),
		Messages:      NewMessageService(deps.Messages, delivery, deps.Bus, deps.IDs, opts.Feed),
		Delivery:      delivery,
		Presence:      presence,
		Reactions:     NewReactionService(deps.Reactions, deps.Messages, deps.Bus, opts.Feed),
		Typing:        NewTypingService(deps.Typing, deps.Bus, opts.TypingTTL, opts.TypingMinInterval, opts.Feed),
		Attachments:   NewAttachmentService(deps.Blobs, opts.MaxUploadBytes),
		Sessions:      NewSessionService(presence, delivery),
	}
}
