package router

import (
	"github.com/gin-gonic/gin"

	"github.com/U00A/Mental-univ-sub001/internal/auth"
	"github.com/U00A/Mental-univ-sub001/internal/config"
	"github.com/U00A/Mental-univ-sub001/internal/handler"
	"github.com/U00A/Mental-univ-sub001/internal/middleware"
	"github.com/U00A/Mental-univ-sub001/internal/service"
)

// Handlers 全部 HTTP 处理器
type Handlers struct {
	Conversations *handler.ConversationHandler
	Messages      *handler.MessageHandler
	Reactions     *handler.ReactionHandler
	Typing        *handler.TypingHandler
	Presence      *handler.PresenceHandler
	Attachments   *handler.AttachmentHandler
	Media         *handler.MediaHandler // 仅内嵌存储需要
}

// NewHandlers 由服务组装处理器，media 为 nil 时不挂载 /media
func NewHandlers(chat *service.Chat, media handler.ObjectReader) Handlers {
	h := Handlers{
		Conversations: handler.NewConversationHandler(chat.Conversations, chat.Delivery),
		Messages:      handler.NewMessageHandler(chat.Messages, chat.Delivery),
		Reactions:     handler.NewReactionHandler(chat.Reactions),
		Typing:        handler.NewTypingHandler(chat.Typing),
		Presence:      handler.NewPresenceHandler(chat.Presence),
		Attachments:   handler.NewAttachmentHandler(chat.Attachments),
	}
	if media != nil {
		h.Media = handler.NewMediaHandler(media)
	}
	return h
}

// SetupRouter 设置路由
func SetupRouter(
	cfg *config.Config,
	jwtService *auth.Service,
	limiter *middleware.KeyedRateLimiter,
	h Handlers,
) *gin.Engine {
	// 设置 Gin 模式
	gin.SetMode(cfg.App.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowCredentials,
	))

	if h.Media != nil {
		r.GET("/media/*key", h.Media.Serve)
	}

	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtService))
	if limiter != nil {
		v1.Use(middleware.RateLimit(limiter))
	}
	{
		conversations := v1.Group("/conversations")
		{
			conversations.POST("", h.Conversations.Open)
			conversations.GET("", h.Conversations.List)
			conversations.GET("/unread", h.Conversations.Unread)
			conversations.GET("/:id", h.Conversations.Get)
			conversations.POST("/:id/read", h.Conversations.MarkRead)
			conversations.POST("/:id/delivered", h.Conversations.MarkDelivered)
			conversations.GET("/:id/messages", h.Messages.List)
			conversations.POST("/:id/messages", h.Messages.Send)
			conversations.POST("/:id/typing", h.Typing.Signal)
			conversations.DELETE("/:id/typing", h.Typing.Clear)
			conversations.GET("/:id/typing", h.Typing.Active)
		}

		messages := v1.Group("/messages")
		{
			messages.GET("/:id", h.Messages.Get)
			messages.PUT("/:id", h.Messages.Edit)
			messages.DELETE("/:id", h.Messages.Delete)
			messages.GET("/:id/replies", h.Messages.Replies)
			messages.POST("/:id/retry", h.Messages.Retry)
			messages.DELETE("/:id/pending", h.Messages.Discard)
			messages.POST("/:id/ack", h.Messages.Acknowledge)
			messages.POST("/:id/reactions", h.Reactions.Toggle)
			messages.GET("/:id/reactions", h.Reactions.Summary)
		}

		presence := v1.Group("/presence")
		{
			presence.POST("/online", h.Presence.Online)
			presence.POST("/offline", h.Presence.Offline)
			presence.GET("/:userId", h.Presence.Get)
		}

		v1.POST("/attachments", h.Attachments.Upload)
	}

	return r
}
