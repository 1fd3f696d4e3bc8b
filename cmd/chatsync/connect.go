package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatsync/internal/adapter/api/handler"
	"chatsync/internal/adapter/api/router"
	"chatsync/internal/adapter/rest"
	"chatsync/internal/domain/repository"
	"chatsync/internal/infrastructure/auth"
	"chatsync/internal/infrastructure/metrics"
	"chatsync/internal/infrastructure/storage"
	ws "chatsync/internal/infrastructure/websocket"
	"chatsync/internal/usecase"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Run a chat session against a relay and serve the inspect API",
	Example: `  chatsync connect --dev --user alice
  chatsync connect --access-token $ACCESS --refresh-token $REFRESH`,
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().String("user", "", "signed-in user id (default from CHATSYNC_USER_ID)")
	connectCmd.Flags().String("access-token", "", "access token (default from CHATSYNC_ACCESS_TOKEN)")
	connectCmd.Flags().String("refresh-token", "", "refresh token (default from CHATSYNC_REFRESH_TOKEN)")
	connectCmd.Flags().String("api", "", "relay base URL (default from CHATSYNC_API_BASE_URL)")
	connectCmd.Flags().Bool("dev", false, "mint tokens from the relay's development endpoint")
	rootCmd.AddCommand(connectCmd)
}

func applyConnectFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("user"); v != "" {
		cfg.UserID = v
	}
	if v, _ := cmd.Flags().GetString("access-token"); v != "" {
		cfg.AccessToken = v
	}
	if v, _ := cmd.Flags().GetString("refresh-token"); v != "" {
		cfg.RefreshToken = v
	}
	if v, _ := cmd.Flags().GetString("api"); v != "" {
		cfg.APIBaseURL = v
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyConnectFlags(cmd, cfg)
	if cfg.UserID == "" {
		return fmt.Errorf("a user id is required (--user or CHATSYNC_USER_ID)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := rest.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout)
	if dev, _ := cmd.Flags().GetBool("dev"); dev {
		pair, err := client.DevToken(ctx, cfg.UserID)
		if err != nil {
			return fmt.Errorf("failed to mint development tokens: %w", err)
		}
		cfg.AccessToken, cfg.RefreshToken = pair.AccessToken, pair.RefreshToken
	}
	if cfg.AccessToken == "" && cfg.RefreshToken == "" {
		return fmt.Errorf("no credentials: pass --access-token/--refresh-token or --dev")
	}

	tokens := auth.NewTokenProvider(cfg.AccessToken, cfg.RefreshToken, client, cfg.TokenRefreshSkew)
	client.UseTokens(tokens)

	m := metrics.New()
	conn := ws.NewConnection(ws.ConnectionConfig{
		BaseURL:           cfg.APIBaseURL,
		Path:              cfg.WSPath,
		ReconnectDelay:    cfg.ReconnectDelay,
		ReconnectMaxDelay: cfg.ReconnectMaxDelay,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		PingPeriod:        cfg.PingPeriod,
		PongWait:          cfg.PongWait,
		WriteWait:         cfg.WriteWait,
	}, tokens, ws.WithMetrics(m))

	store, err := openStore(cfg.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	session := usecase.NewChatSession(usecase.SessionConfig{
		UserID:          cfg.UserID,
		AckTimeout:      cfg.AckTimeout,
		TypingExpiry:    cfg.TypingExpiry,
		TypingQuiet:     cfg.TypingQuiet,
		TypingHeartbeat: cfg.TypingHeartbeat,
	}, conn, client, store, m)

	out := cmd.OutOrStdout()
	since := time.Now()
	conn.OnStateChange(func(connected bool) {
		if connected {
			fmt.Fprintf(out, "connected as %s (%s)\n", cfg.UserID, cfg.APIBaseURL)
		} else {
			fmt.Fprintf(out, "disconnected, reconnecting (session started %s)\n", humanize.Time(since))
		}
	})

	if err := session.Start(ctx); err != nil {
		logger.Warn("Session: initial connect failed: %v", err)
	}
	defer session.Stop()

	e := router.New()
	router.SetupHealthRouter(e, handler.NewHealthHandler(func() map[string]interface{} {
		return map[string]interface{}{
			"user_id":    cfg.UserID,
			"connection": conn.State().String(),
		}
	}))
	router.SetupMetricsRouter(e, m.Registry)
	router.SetupSessionRouter(e, handler.NewSessionHandler(session, cfg.UserID, func() string {
		return conn.State().String()
	}))

	return serve(ctx, e, cfg.InspectAddr, "inspect API")
}

// openStore opens the on-disk timeline cache, or an in-memory one when path is empty.
func openStore(path string) (repository.TimelineStore, error) {
	if path == "" {
		return storage.NewMemoryPebbleStore()
	}
	store, err := storage.NewPebbleStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline store %s: %w", path, err)
	}
	return store, nil
}
