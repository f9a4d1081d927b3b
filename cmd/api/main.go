package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/claudio/backend/internal/config"
	"github.com/zhouzirui/claudio/backend/internal/handler"
	"github.com/zhouzirui/claudio/backend/internal/middleware"
	"github.com/zhouzirui/claudio/backend/internal/model/persona"
	"github.com/zhouzirui/claudio/backend/internal/service/ai"
	"github.com/zhouzirui/claudio/backend/internal/service/chat"
	"github.com/zhouzirui/claudio/backend/internal/service/completion"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogger(cfg.Log)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file loaded, using system environment only")
	}

	// Initialize persona store and chat service
	personaStore := persona.NewMemoryStore(persona.Seed())
	chatService := chat.NewService()

	if !cfg.Completion.Enabled() {
		log.Warn().Msg("COMPLETION_API_KEY not set, requests will be sent without Authorization")
	}
	if unknown := completion.UnknownExtensions(cfg.Completion.Extensions); len(unknown) > 0 {
		log.Warn().Strs("fields", unknown).Msg("unrecognised completion extensions will be sent as-is")
	}

	client := completion.NewClient(cfg.Completion.ClientConfig())
	aiService := ai.NewService(client, chatService, ai.Config{ContextWindow: cfg.Completion.ContextWindow})
	log.Info().
		Str("endpoint", cfg.Completion.Endpoint).
		Str("model", cfg.Completion.Model).
		Int("context_window", cfg.Completion.ContextWindow).
		Msg("completion client initialized")

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst)
	router, err := handler.NewRouter(personaStore, chatService, aiService, limiter)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}

	startServer(ctx, cfg.Server, router)
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("invalid LOG_LEVEL, using info")
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Claudio listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
