package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"go-dm/internal/chat"
	"go-dm/internal/config"
	"go-dm/internal/db"
	"go-dm/internal/events"
	"go-dm/internal/httpx"
	"go-dm/internal/logger"
	"go-dm/internal/media"
	"go-dm/internal/metrics"
	myMiddleware "go-dm/internal/middleware"
	"go-dm/internal/ratelimit"
	"go-dm/internal/telemetry"
	"go-dm/internal/user"
)

func main() {
	addr := flag.String("addr", "", "http service address (overrides ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "json")
		boot.Fatal().Err(err).Msg("config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	shutdownTracing, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELServiceName)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	// Platform layer
	database, err := db.NewDatabase(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("connect to db: %w", err)
	}
	defer database.Close()
	if err := database.AutoMigrate(); err != nil {
		return err
	}
	log.Info().Str("driver", cfg.DBDriver).Msg("database ready")

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("redis ready")
	}

	var (
		blobs media.BlobStore
		disk  *media.DiskStore
	)
	if cfg.S3.Enabled() {
		s3, err := media.NewS3Store(cfg.S3)
		if err != nil {
			return fmt.Errorf("s3: %w", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("s3 bucket: %w", err)
		}
		blobs = s3
		log.Info().Str("bucket", cfg.S3.Bucket).Msg("media in s3")
	} else {
		disk, err = media.NewDiskStore(cfg.UploadDir)
		if err != nil {
			return err
		}
		blobs = disk
		log.Info().Str("dir", cfg.UploadDir).Msg("media on disk")
	}
	resolver := media.NewResolver(blobs)

	// User feature
	userRepo := user.NewRepository(database)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// Chat feature
	chatRepo := chat.NewRepository(database)
	hub := chat.NewHub(log)

	var index chat.Index = chat.NewStoreIndex(chatRepo)
	opts := []chat.Option{chat.WithPushTimeout(cfg.PushTimeout)}
	var limiter *ratelimit.Limiter
	if rdb != nil {
		index = chat.NewRedisIndex(rdb, chatRepo, userRepo, log)
		limiter = ratelimit.New(rdb, cfg.SendRateLimit, cfg.SendRateWindow)
		opts = append(opts, chat.WithRateLimiter(limiter))
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, func(err error) {
			metrics.OutboxErrors.Inc()
			log.Warn().Err(err).Msg("kafka delivery")
		})
		defer pub.Close()
		opts = append(opts, chat.WithPublisher(pub))
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("outbox enabled")
	}

	chatService := chat.NewService(chatRepo, index, hub, userRepo, resolver, log, opts...)
	chatHandler := chat.NewHandler(chatService, hub, resolver, cfg.MaxUploadBytes, log)
	mediaHandler := media.NewHandler(resolver, cfg.MaxUploadBytes)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Conn.PingContext(r.Context()); err != nil {
			httpx.WriteError(w, http.StatusServiceUnavailable, err, "db_unavailable")
			return
		}
		httpx.WriteJSON(w, map[string]any{"status": "ok", "live_channels": hub.Count()}, http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	if disk != nil {
		r.Handle(media.DiskPrefix+"*", disk.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/users", userHandler.ListUsers)
		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Get("/api/chats", chatHandler.ListChats)
		r.Get("/api/messages/{userID}", chatHandler.ListMessages)
		r.Post("/api/messages", chatHandler.SendMessage)
		r.Post("/api/messages/upload", chatHandler.UploadAndSend)

		upload := http.Handler(http.HandlerFunc(mediaHandler.Upload))
		if limiter != nil {
			upload = limiter.LimitHTTP(func(r *http.Request) (string, error) {
				id, _, ok := myMiddleware.UserFromContext(r.Context())
				if !ok {
					return "", errors.New("no user")
				}
				return fmt.Sprintf("upload:%d", id), nil
			})(upload)
		}
		r.Method(http.MethodPost, "/api/media", upload)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           telemetry.Handler(r),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		c, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(c)
	})
	return g.Wait()
}
