package main

import (
	"chatus/auth"
	"chatus/canvas"
	"chatus/chat"
	"chatus/config"
	"chatus/crypto"
	"chatus/logger"
	"chatus/retry"
	"chatus/storage"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	shutdownTimeout = 10 * time.Second
	pingTimeout     = 5 * time.Second
)

func CreateServer(allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware())
	r.GET("/health", func(ctx *gin.Context) { ctx.String(200, "healthy") })

	r.Use(func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")

		if slices.Contains(allowedOrigins, origin) {
			ctx.Next()
			return
		}
		ctx.String(http.StatusForbidden, "forbidden origin")
		ctx.Abort()
	})

	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Content-Type",
			"Authorization",
			"Upgrade",
			"Connection",
			"Sec-WebSocket-Key",
			"Sec-WebSocket-Version",
			"Sec-WebSocket-Extensions",
			"Sec-WebSocket-Protocol",
		},
	}))

	return r
}

func hubConfigs(cfg config.Config) chat.HubConfigs {
	return chat.HubConfigs{
		TickInterval: cfg.TickInterval,
		PingInterval: cfg.PingInterval,
		Room: chat.RoomConfigs{
			MaxSessions:   chat.DefaultRoomConfigs().MaxSessions,
			IdleTimeout:   cfg.RoomIdleTimeout,
			FlushInterval: cfg.StrokeFlushInterval,
			Canvas:        canvas.DefaultOptions(),
		},
	}
}

// connectPostgres opens the pool and retries the first ping with backoff.
func connectPostgres(ctx context.Context, url string) (*storage.PostgresRepo, error) {
	pgRepo, err := storage.NewPostgresRepo(ctx, url)
	if err != nil {
		return nil, err
	}
	ping := retry.NewController("postgres", retry.DefaultConfig())
	err = ping.Run(ctx, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		return pgRepo.Ping(pctx)
	})
	if err != nil {
		pgRepo.Close()
		return nil, err
	}
	return pgRepo, nil
}

// serve runs the HTTP server until ctx is done. When limitsFile is set, the
// rate limits of new sessions follow its [limits] table.
func serve(ctx context.Context, cfg config.Config, limitsFile string, baseLimits config.Limits, changed map[string]bool) error {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	pgRepo, err := connectPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgRepo.Close()

	passwordHasher := crypto.NewPasswordHasher(crypto.DefaultHashParams())
	tokenManager := crypto.NewSessionTokens(cfg.JWTKey, cfg.TokenAge)

	authService := auth.NewService(pgRepo, passwordHasher, tokenManager)
	authHandler := auth.NewAuthHandler(authService, cfg.TokenAge)

	r := CreateServer(cfg.AllowedOrigins)

	{
		authGroup := r.Group("/auth")
		authGroup.POST("/signup", authHandler.SignupHandler)
		authGroup.POST("/login", authHandler.LoginHandler)
		authGroup.POST("/logout", authHandler.LogoutHandler)
		authGroup.GET("/refresh", authHandler.RefreshSessionHandler)
		authGroup.GET("/me", authHandler.RequireAuthMiddleware(cfg.TrollTime), authHandler.MeHandler)
	}

	tickerGen := chat.NewTickerGen()
	wg := &sync.WaitGroup{}
	hub := chat.NewHub(hubConfigs(cfg), pgRepo, &tickerGen, wg)

	hubStarted := make(chan struct{})
	go hub.Run(hubStarted)
	<-hubStarted
	defer func() {
		hub.Stop()
		wg.Wait()
	}()

	chatHandler := chat.NewChatHandler(hub, pgRepo, pgRepo, pgRepo, cfg.AllowedOrigins, cfg.Limits)
	{
		chatGroup := r.Group("/")
		chatGroup.Use(authHandler.RequireAuthMiddleware(cfg.TrollTime))

		chatGroup.GET("/conversations", chatHandler.ListConversationsHandler)
		chatGroup.POST("/conversations", chatHandler.CreateConversationHandler)
		chatGroup.GET("/conversations/:id/messages", chatHandler.ListMessagesHandler)
		chatGroup.GET("/ws/:id", chatHandler.WebsocketHandler)
	}

	if limitsFile != "" {
		go func() {
			err := config.WatchLimits(ctx, limitsFile, baseLimits, changed, func(l config.Limits) {
				chatHandler.SetLimits(l)
				log.Info().Interface("limits", l).Msg("rate limits reloaded")
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("path", limitsFile).Msg("config watcher stopped")
			}
		}()
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", cfg.Addr).Strs("origins", cfg.AllowedOrigins).Msg("listening")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
