package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatsync/internal/adapter/api/handler"
	"chatsync/internal/adapter/api/middleware"
	"chatsync/internal/adapter/api/router"
	"chatsync/internal/adapter/repository"
	"chatsync/internal/infrastructure/auth"
	"chatsync/internal/infrastructure/metrics"
	"chatsync/internal/infrastructure/ratelimit"
	"chatsync/internal/infrastructure/websocket"
	"chatsync/pkg/logger"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the in-memory reference relay",
	RunE:  runRelay,
}

func init() {
	relayCmd.Flags().String("addr", "", "listen address (default from RELAY_ADDR)")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.RelayAddr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	issuer := auth.NewIssuer(cfg.RelayJWTSecret, cfg.RelayTokenTTL)
	chatRepo := repository.NewMemoryChatRepository()

	frameLimiter := ratelimit.NewRateLimiter(cfg.RelayFrameRate, cfg.RelayFrameBurst)
	frameLimiter.StartCleanupRoutine(10*time.Minute, time.Hour, ctx.Done())
	httpLimiter := ratelimit.NewRateLimiter(5, 20)
	httpLimiter.StartCleanupRoutine(10*time.Minute, time.Hour, ctx.Done())

	wsManager := websocket.NewManager(websocket.ManagerConfig{
		PongWait:      cfg.PongWait,
		PingPeriod:    cfg.PingPeriod,
		WriteWait:     cfg.WriteWait,
		MaxFrameBytes: cfg.RelayMaxFrameLen,
	}, chatRepo, frameLimiter, m)
	wsManager.Start(ctx)

	authMiddleware := middleware.NewAuthMiddleware(issuer)

	e := router.New()
	router.SetupHealthRouter(e, handler.NewHealthHandler(func() map[string]interface{} {
		return map[string]interface{}{"online_users": len(wsManager.OnlineUsers())}
	}))
	router.SetupMetricsRouter(e, m.Registry)
	router.SetupAuthRouter(e, handler.NewAuthHandler(issuer), httpLimiter)
	router.SetupDevRouter(e, cfg.Environment, handler.NewDevTokenHandler(issuer))
	router.SetupChatRouter(e, handler.NewChatHandler(chatRepo, wsManager), authMiddleware, httpLimiter)
	router.SetupWebSocketRouter(e, cfg.WSPath, handler.NewWebSocketHandler(wsManager, authMiddleware))

	if cfg.Environment != "development" && cfg.RelayJWTSecret == "your-secret-key" {
		logger.Warn("Relay: running with the default JWT secret")
	}

	return serve(ctx, e, cfg.RelayAddr, "relay")
}

type server interface {
	Start(address string) error
	Shutdown(ctx context.Context) error
}

// serve runs srv until ctx ends, then shuts it down gracefully.
func serve(ctx context.Context, srv server, addr, name string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting %s on %s...", name, addr)
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("Shutting down %s", name)
	return srv.Shutdown(shutdownCtx)
}
