package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pulsefit/coach-server-go/internal/config"
	"github.com/pulsefit/coach-server-go/internal/database"
	"github.com/pulsefit/coach-server-go/internal/handler"
	"github.com/pulsefit/coach-server-go/internal/jobs"
	"github.com/pulsefit/coach-server-go/internal/lock"
	"github.com/pulsefit/coach-server-go/internal/middleware"
	"github.com/pulsefit/coach-server-go/internal/redis"
	"github.com/pulsefit/coach-server-go/internal/repository"
	"github.com/pulsefit/coach-server-go/internal/service"
	"github.com/pulsefit/coach-server-go/internal/spotify"
	"github.com/pulsefit/coach-server-go/internal/util"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	cipher, err := util.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token encryption")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	ctx, cancel = context.WithTimeout(context.Background(), config.DBPingTimeout)
	redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	integrationRepo := repository.NewIntegrationRepository(db.DB)
	oauthStateRepo := repository.NewOAuthStateRepository(db.DB)
	interactionRepo := repository.NewMusicInteractionRepository(db.DB)

	httpClient := &http.Client{Timeout: cfg.SpotifyTimeout()}
	oauthClient := spotify.NewOAuthClient(spotify.OAuthConfig{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		RedirectURI:  cfg.SpotifyRedirectURI,
		Scopes:       cfg.SpotifyScopes,
	}, httpClient)
	apiClient := spotify.NewClient(httpClient, spotify.DefaultAPIBaseURL)

	refreshLocker := lock.NewRedisLocker(redisClient.Client, config.RefreshLockTTL)

	authService := service.NewSpotifyAuthService(oauthClient, cipher, integrationRepo, oauthStateRepo, cfg.OAuthStateTTL())
	tokenManager := service.NewTokenManager(integrationRepo, oauthClient, cipher, refreshLocker)
	musicService := service.NewMusicService(tokenManager, apiClient, interactionRepo)

	authMiddleware := middleware.NewAuthMiddleware(cfg.SupabaseJWTSecret)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(middleware.NewRedisRateLimiter(redisClient.Client), cfg.RateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	musicHandler := handler.NewMusicHandler(
		authService, musicService,
		authMiddleware.Handler, authMiddleware.Optional, rateLimitMiddleware.Handler,
		cfg.FrontendRedirectURL,
	)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Mount("/api/v1/music", musicHandler.Routes())

	cleanupJob := jobs.NewCleanupJob(oauthStateRepo, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
