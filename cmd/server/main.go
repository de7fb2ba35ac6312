package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"lets-chat/api"
	"lets-chat/auth"
	"lets-chat/internal"
	"lets-chat/moderation"
	"lets-chat/observability"
	"lets-chat/repositories"
	"lets-chat/runtime"
	"lets-chat/runtime/workers"
	"lets-chat/search"
	"lets-chat/services"
	"lets-chat/ws"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and owns the lifecycle, so that deferred cleanup
// always runs before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage: badger for records, bluge for search
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		url := fmt.Sprintf("http://localhost:%d%s?prefix=%s", config.DebugPort, endpoint, repositories.MessagePrefix)
		logger.Info("Debug Badger inspector available", "url", url)
		database.StartDebugServer(db, config.DebugPort, endpoint, MessageMapper)
	}

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	userRepository, err := repositories.NewCachedUserRepository(repositories.NewUserRepository(db), config.UserCacheSize)
	if err != nil {
		return exitConfig, fmt.Errorf("user cache: %w", err)
	}
	messageRepository := repositories.NewMessageRepository(db, logger)
	index := search.NewMessageIndex(blugeWriter, logger)

	// 3. Live path
	promRegistry, metrics := observability.NewRegistry()
	tokens := auth.NewTokenManager(config.JWTSecret, config.AuthTokenDuration)
	registry := runtime.NewRegistry(logger)
	presence := workers.NewPresenceRecorder(logger, userRepository, config.PresenceBufferSize, config.PresenceTimeout)

	engine := runtime.NewEngine(logger, registry, tokens, metrics, runtime.EngineConfig{
		SinkTimeout:  config.SinkTimeout,
		MessageRate:  config.MessageRate,
		MessageBurst: config.MessageBurst,
	}).Observe(presence)

	chatService := services.NewChatService(logger, messageRepository, userRepository, index, engine, metrics,
		services.HistoryLimits{Default: config.HistoryDefaultLimit, Max: config.HistoryMaxLimit})

	if config.ModerationEnabled {
		censor, err := buildModerator(charReplacement, logger)
		if err != nil {
			return exitConfig, err
		}
		engine.WithCensor(censor)
		chatService.WithCensor(censor)
	}

	// 4. Background workers
	supervisor := workers.NewSupervisor(logger, config.RestartInterval).CountRestarts(metrics.WorkerRestarts)
	supervisor.Add(
		presence,
		workers.NewTelemetryWorker(logger, registry, config.MetricInterval),
		workers.NewBadgerGCWorker(logger, db, config.GCInterval),
	)
	supervised := make(chan struct{})
	go func() {
		defer close(supervised)
		supervisor.Run(ctx)
	}()

	// 5. HTTP
	wsConfig := ws.Config{
		AllowedOrigins:  config.Origins(),
		AuthGracePeriod: config.AuthGracePeriod,
		PongTimeout:     config.PongTimeout,
		PingInterval:    config.PingInterval,
		WriteTimeout:    config.WriteTimeout,
		SendBuffer:      config.ConnectionBufferSize,
		MaxFrameBytes:   config.MaxFrameBytes,
	}
	router := api.NewRouter(logger, api.Dependencies{
		Auth:           services.NewAuthService(userRepository, tokens),
		Chat:           chatService,
		Users:          services.NewUserService(userRepository, registry),
		Verifier:       tokens,
		Websocket:      ws.NewHandler(logger, engine, tokens, wsConfig),
		Metrics:        observability.Handler(promRegistry),
		AllowedOrigins: config.Origins(),
	})

	address := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	server := &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Websocket handlers see the root context and close with it.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	code := exitOK
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully...")
	case err = <-errChan:
		logger.Error("HTTP server failed", "error", err)
		code = exitRuntime
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	stop()
	supervisor.Stop()
	<-supervised
	logger.Info("Program stopped cleanly")

	return code, err
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}

func buildModerator(charReplacement rune, logger *slog.Logger) (*moderation.Moderator, error) {
	data, err := moderation.DefaultLoader().LoadAll("censored")
	if err != nil {
		return nil, fmt.Errorf("loading censored words: %w", err)
	}
	logger.Info("Moderation enabled", "words", len(data.Words), "languages", data.Languages)
	return moderation.NewModerator(data.Words, charReplacement, logger)
}

// MessageMapper renders one badger entry in the debug inspector.
func MessageMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)

	message, err := repositories.DecodeMessage(val)
	if err != nil {
		row.Detail = "Error: decode failed"
		return row
	}

	row.Type = "MESSAGE"
	row.Detail = fmt.Sprintf("%s -> %s: %s", message.SenderUsername, message.ReceiverUsername, message.Content)
	if message.IsRead {
		row.Scores = "read"
	} else {
		row.Scores = "unread"
	}
	return row
}
