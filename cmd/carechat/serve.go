package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/U00A/Mental-univ-sub001/internal/auth"
	"github.com/U00A/Mental-univ-sub001/internal/blob"
	"github.com/U00A/Mental-univ-sub001/internal/config"
	"github.com/U00A/Mental-univ-sub001/internal/handler"
	"github.com/U00A/Mental-univ-sub001/internal/health"
	"github.com/U00A/Mental-univ-sub001/internal/metrics"
	"github.com/U00A/Mental-univ-sub001/internal/middleware"
	imNats "github.com/U00A/Mental-univ-sub001/internal/nats"
	"github.com/U00A/Mental-univ-sub001/internal/pubsub"
	"github.com/U00A/Mental-univ-sub001/internal/repository/memory"
	"github.com/U00A/Mental-univ-sub001/internal/repository/postgres"
	redisrepo "github.com/U00A/Mental-univ-sub001/internal/repository/redis"
	"github.com/U00A/Mental-univ-sub001/internal/router"
	"github.com/U00A/Mental-univ-sub001/internal/service"
	"github.com/U00A/Mental-univ-sub001/pkg/snowflake"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply the schema before serving (postgres driver only)")
}

// infra 按配置选择的存储与消息总线
type infra struct {
	deps    service.Deps
	media   handler.ObjectReader
	checker *health.Checker
	nats    *imNats.Client
	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (in *infra) close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i].Close(); err != nil {
			slog.Warn("Failed to close resource", "error", err)
		}
	}
}

// buildInfra 连接配置中启用的外部组件，失败时释放已建立的连接
func buildInfra(ctx context.Context, cfg *config.Config) (_ *infra, err error) {
	in := &infra{checker: health.NewChecker()}
	defer func() {
		if err != nil {
			in.close()
		}
	}()

	// 消息与会话
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		in.closers = append(in.closers, closerFunc(func() error { db.Close(); return nil }))
		in.checker.Add("database", health.DatabaseProbe(db))
		if migrateOnStart {
			if err := postgres.Migrate(ctx, db); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		in.deps.Messages = postgres.NewMessageStore(db)
		in.deps.Conversations = postgres.NewConversationStore(db)
	default:
		store := memory.NewMessageStore()
		in.deps.Messages = store
		in.deps.Conversations = store.Conversations()
	}

	// 回应、在线、输入状态
	switch cfg.Storage.EphemeralDriver {
	case "redis":
		rdb, err := redisrepo.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		in.closers = append(in.closers, rdb)
		in.checker.Add("redis", health.RedisProbe(rdb))
		in.deps.Reactions = redisrepo.NewReactionStore(rdb)
		in.deps.Presence = redisrepo.NewPresenceStore(rdb)
		in.deps.Typing = redisrepo.NewTypingStore(rdb)
	default:
		in.deps.Reactions = memory.NewReactionStore()
		in.deps.Presence = memory.NewPresenceStore()
		in.deps.Typing = memory.NewTypingStore()
	}

	// 变更通知
	switch cfg.NATS.Bus {
	case "nats":
		client, err := imNats.NewClient(cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		slog.Info("Connected to NATS", "url", cfg.NATS.URL)
		in.nats = client
		bus := imNats.NewBus(client)
		in.closers = append(in.closers, closerFunc(func() error { client.Close(); return nil }), bus)
		in.checker.Add("nats", health.NATSProbe(client.Conn()))
		in.deps.Bus = bus
	default:
		bus := pubsub.NewLocalBus()
		in.closers = append(in.closers, bus)
		in.deps.Bus = bus
	}

	// 附件
	switch cfg.Blob.Driver {
	case "s3":
		store := blob.NewS3Store(blob.S3Config{
			Endpoint:        cfg.Blob.S3Endpoint,
			Region:          cfg.Blob.S3Region,
			AccessKeyID:     cfg.Blob.S3AccessKeyID,
			SecretAccessKey: cfg.Blob.S3SecretAccessKey,
			Bucket:          cfg.Blob.S3Bucket,
			PublicBaseURL:   cfg.Blob.S3PublicBaseURL,
			ForcePathStyle:  cfg.Blob.S3ForcePathStyle,
		})
		in.checker.Add("blob", store.Ping)
		in.deps.Blobs = store
	default:
		store, err := blob.OpenPebble(cfg.Blob.PebblePath, cfg.Blob.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("open media store: %w", err)
		}
		in.closers = append(in.closers, store)
		in.checker.Add("blob", func(context.Context) error { return store.Ping() })
		in.deps.Blobs = store
		in.media = store
	}

	in.deps.IDs = snowflake.NewNode(cfg.App.NodeID)
	return in, nil
}

func serve(cfg *config.Config) error {
	if cfg.JWT.SecretKey == "" {
		return errors.New("JWT_SECRET is not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in, err := buildInfra(ctx, cfg)
	if err != nil {
		return err
	}
	defer in.close()

	chat := service.New(in.deps, service.Options{
		TypingTTL:         cfg.Chat.TypingTTL,
		TypingMinInterval: cfg.Chat.TypingMinInterval,
		MaxUploadBytes:    cfg.Blob.MaxBytes,
		Feed: service.FeedConfig{
			MaxRetries:      cfg.Chat.FeedMaxRetries,
			RetryBackoff:    cfg.Chat.FeedRetryBackoff,
			AutoAckDelivery: cfg.Chat.AutoAckDelivery,
		},
	})

	// 接入层的上线、下线、已读事件
	var subscriber *imNats.SessionSubscriber
	if in.nats != nil {
		subscriber = imNats.NewSessionSubscriber(in.nats.Conn(), chat.Sessions, imNats.SubscriberConfig{
			WorkerCount: cfg.NATS.WorkerCount,
			BufferSize:  cfg.NATS.BufferSize,
		})
		if err := subscriber.Start(ctx); err != nil {
			return fmt.Errorf("start session subscriber: %w", err)
		}
	}

	var limiter *middleware.KeyedRateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewKeyedRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		go limiter.RunSweeper(ctx, time.Minute)
	}

	jwtService := auth.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire)
	engine := router.SetupRouter(cfg, jwtService, limiter, router.NewHandlers(chat, in.media))

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthServer := newHealthServer(cfg.App.HealthPort, in.checker)

	errCh := make(chan error, 2)
	go func() {
		slog.Info("HTTP server started", "addr", apiServer.Addr, "storage", cfg.Storage.Driver,
			"ephemeral", cfg.Storage.EphemeralDriver, "bus", cfg.NATS.Bus, "blob", cfg.Blob.Driver)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		slog.Info("Health check server started", "addr", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("Shutting down...", "signal", sig.String())
	case err := <-errCh:
		slog.Error("Server failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown", "error", err)
	}
	_ = healthServer.Shutdown(shutdownCtx)

	cancel()
	if subscriber != nil {
		if err := subscriber.Stop(); err != nil {
			slog.Warn("Session subscriber stop", "error", err)
		}
	}
	slog.Info("carechat stopped")
	return nil
}

// newHealthServer /health、/ready 与 /metrics
func newHealthServer(port int, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/health", checker)
	mux.HandleFunc("/ready", checker.ReadyHandler())
	mux.Handle("/metrics", metrics.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
