package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pushkarjay/safecom/internal/api"
	"github.com/pushkarjay/safecom/internal/config"
	"github.com/pushkarjay/safecom/internal/db"
	"github.com/pushkarjay/safecom/internal/messaging"
	"github.com/pushkarjay/safecom/internal/notify"
	"github.com/pushkarjay/safecom/internal/observ"
	"github.com/pushkarjay/safecom/internal/realtime"
	"github.com/pushkarjay/safecom/internal/repository"
	"github.com/pushkarjay/safecom/internal/repository/memory"
	"github.com/pushkarjay/safecom/internal/repository/postgres"
	"github.com/pushkarjay/safecom/internal/tasks"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stores is the entity store the services run on, whichever driver backs it.
type stores struct {
	users         repository.UserRepository
	tasks         repository.TaskRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Config and logger
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Cancelled on SIGINT/SIGTERM; everything long-lived hangs off it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 2. Entity store
	// ---------------------------------------------------------------
	var st stores
	switch cfg.StorageDriver {
	case "memory":
		mem := memory.NewDB()
		st = stores{
			users:         memory.NewUserStore(mem),
			tasks:         memory.NewTaskStore(mem),
			conversations: memory.NewConversationStore(mem),
			messages:      memory.NewMessageStore(mem),
		}
		logger.Warn("using in-memory store, data is lost on restart")
	default:
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}

		pool := database.Pool()
		st = stores{
			users:         postgres.NewUserStore(pool),
			tasks:         postgres.NewTaskStore(pool),
			conversations: postgres.NewConversationStore(pool),
			messages:      postgres.NewMessageStore(pool),
		}
	}

	// ---------------------------------------------------------------
	// 3. Broadcast channel. With REDIS_URL set, events published on
	// one instance reach websocket clients connected to any other.
	// ---------------------------------------------------------------
	hub := realtime.NewHub(logger)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}

		bridge := realtime.NewRedisBridge(rdb, hub, logger)
		hub.SetRelay(bridge)
		go func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Error("redis bridge stopped", zap.Error(err))
			}
		}()
	}

	// ---------------------------------------------------------------
	// 4. Push notifications
	// ---------------------------------------------------------------
	var gateway notify.PushGateway = notify.NewNopGateway(logger)
	if cfg.FCMProjectID != "" && cfg.FCMCredentialsFile != "" {
		fcm, err := notify.NewFCMGateway(ctx, cfg.FCMProjectID, cfg.FCMCredentialsFile)
		if err != nil {
			return fmt.Errorf("create FCM gateway: %w", err)
		}
		gateway = fcm
		logger.Info("FCM push enabled", zap.String("project_id", cfg.FCMProjectID))
	}
	dispatcher := notify.NewDispatcher(st.users, gateway, cfg.PushWorkers, logger)

	// ---------------------------------------------------------------
	// 5. Services and HTTP surface
	// ---------------------------------------------------------------
	manager := tasks.NewManager(st.tasks, st.users, dispatcher, hub, logger)
	tracker := messaging.NewTracker(st.conversations, st.messages, st.users, dispatcher, hub, cfg.EditWindow, logger)

	router := api.NewRouter(api.Handlers{
		Auth:          api.NewAuthHandler(st.users, cfg.JWTSecret, cfg.JWTTTL, cfg.BootstrapAdminEmail, logger),
		Users:         api.NewUserHandler(st.users, logger),
		Tasks:         api.NewTaskHandler(manager, logger),
		Conversations: api.NewConversationHandler(tracker, logger),
		Messages:      api.NewMessageHandler(tracker, logger),
		WS:            api.NewWSHandler(hub, tracker, cfg.JWTSecret, logger),
	}, cfg.JWTSecret, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown does not track hijacked connections, so websockets are
	// closed by the hub.
	srv.RegisterOnShutdown(hub.CloseAll)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting SafeCom",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("storage", cfg.StorageDriver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve http: %w", err)
		}
	case <-ctx.Done():
	}

	// ---------------------------------------------------------------
	// 6. Graceful shutdown: stop accepting requests, then give queued
	// pushes a chance to leave.
	// ---------------------------------------------------------------
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("pending notifications dropped", zap.Error(err))
	}
	return nil
}
