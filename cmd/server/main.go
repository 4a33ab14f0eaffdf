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
	"strings"
	"syscall"
	"time"
	"trade-chat/auth"
	"trade-chat/contract"
	"trade-chat/identity"
	grpcserver "trade-chat/infrastructure/grpc/server"
	httpserver "trade-chat/infrastructure/http/server"
	"trade-chat/infrastructure/postgres"
	"trade-chat/internal"
	"trade-chat/repositories"
	"trade-chat/runtime"
	"trade-chat/runtime/workers"
	"trade-chat/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = time.Second
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "trade-chat terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, serves until a signal arrives, then shuts down
// in reverse order. Deferred closers run before main calls os.Exit.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Conversation store
	repository, closeStore, err := openStore(ctx, config, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer closeStore()

	// 3. Identity directory, optionally cached
	lookup, closeLookup, err := openIdentity(ctx, config, logger)
	if err != nil {
		return exitRuntime, err
	}
	defer closeLookup()
	resolver := identity.NewRoleResolver(lookup, logger, config.IdentityTimeout)

	// 4. Live delivery
	registry := runtime.NewRegistry()
	supervisor := workers.NewSupervisor(logger)
	orchestrator := runtime.NewOrchestrator(logger, supervisor, registry,
		config.NumberOfWorkers, config.BufferSize, config.SinkTimeout, config.MetricInterval)

	// 5. Core services
	conversations := services.NewConversationRegistry(repository, resolver, logger, config.ListTimeout)
	messages := services.NewMessageLog(repository, config.MaxContentLength)
	chatService := services.NewChatService(conversations, messages, orchestrator, logger)

	errChan := make(chan error, 2)
	go func() {
		if err := orchestrator.Start(ctx); err != nil {
			errChan <- fmt.Errorf("orchestrator error: %w", err)
		}
	}()

	// 6. HTTP and websocket boundary
	tokens := auth.NewTokenManager(config.JWTSecret, config.AuthTokenDuration)
	router := httpserver.NewRouter(logger, chatService, registry, tokens, httpserver.Config{
		SessionBufferSize: config.ConnectionBufferSize,
		InflightTimeout:   config.InflightTimeout,
		ReadTimeout:       config.ReadTimeout,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 7. gRPC health
	address := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	health := grpcserver.NewHealthServer(logger)
	go health.Watch(ctx, orchestrator.Running, healthInterval)
	go func() {
		if err := health.Serve(listener); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 9. Graceful shutdown: stop accepting work, then stop delivery.
	logger.Info("Shutting down gracefully...")
	health.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	health.Stop()
	orchestrator.Stop()
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

func openStore(ctx context.Context, config internal.Config, logger *slog.Logger) (repositories.IConversationRepository, func(), error) {
	if strings.EqualFold(config.Store, internal.StorePostgres) {
		pool, err := postgres.Connect(ctx, config.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		repository := postgres.NewConversationRepository(pool, logger, config.MaxRetries)
		if err = repository.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("Using postgres conversation store")
		return repository, pool.Close, nil
	}

	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("database opening failed: %w", err)
	}
	var debug interface{ Close() error }
	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint))
		debug = internal.StartDebugServer(db, config.DebugPort, endpoint, internal.ConversationMapper, nil)
	}
	logger.Info("Using badger conversation store", "path", config.BadgerFilepath)
	return repositories.NewConversationRepository(db, logger, config.MaxRetries), func() {
		if debug != nil {
			_ = debug.Close()
		}
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}, nil
}

func openIdentity(ctx context.Context, config internal.Config, logger *slog.Logger) (contract.IdentityLookup, func(), error) {
	var lookup contract.IdentityLookup
	if config.IdentityURL != "" {
		lookup = identity.NewHTTPDirectory(config.IdentityURL, config.IdentityTimeout)
	} else {
		static, err := identity.LoadStaticDirectory(config.IdentityFile)
		if err != nil {
			return nil, nil, err
		}
		lookup = static
	}
	if config.IdentityCacheTTL <= 0 {
		return lookup, func() {}, nil
	}

	if config.RedisURL != "" {
		cache, err := identity.NewRedisCache(ctx, config.RedisURL, config.IdentityCacheTTL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Identity cache enabled", "backend", "redis", "ttl", config.IdentityCacheTTL)
		return identity.NewCachedLookup(lookup, cache, logger), func() { _ = cache.Close() }, nil
	}
	cache, err := identity.NewLocalCache(int64(config.IdentityCacheMax), config.IdentityCacheTTL)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Identity cache enabled", "backend", "ristretto", "ttl", config.IdentityCacheTTL)
	return identity.NewCachedLookup(lookup, cache, logger), func() { _ = cache.Close() }, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if logger.Enabled(ctx, slog.LevelDebug) {
		return options.WithLoggingLevel(badger.DEBUG).WithBypassLockGuard(true)
	}
	return options.WithLoggingLevel(badger.WARNING)
}
