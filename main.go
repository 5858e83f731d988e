// Parlor is a board game server: REST API for game lifecycle, websockets for
// live play, an /mcp endpoint for agent clients, and optional ngrok tunneling
// for easy external access during development.
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

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/meeplelab/parlor/api"
	"github.com/meeplelab/parlor/config"
	"github.com/meeplelab/parlor/game/games/outpost"
	"github.com/meeplelab/parlor/game/matchmaking"
	"github.com/meeplelab/parlor/game/registry"
	"github.com/meeplelab/parlor/game/store"
	"github.com/meeplelab/parlor/transport/mcp"
)

const (
	appName = "parlor"
	version = "1.0.0"
)

func main() {
	// A missing .env is fine; the environment still applies.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:    appName,
		Version: version,
		Usage:   "board game server with live play, bots, undo and matchmaking",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "listen host (overrides PARLOR_HOST)"},
			&cli.IntFlag{Name: "port", Usage: "listen port (overrides PARLOR_PORT)"},
			&cli.StringFlag{Name: "storage", Usage: "storage backend: memory or sqlite"},
			&cli.StringFlag{Name: "db", Usage: "sqlite database path"},
			&cli.BoolFlag{Name: "debug", Usage: "verbose development logging"},
			&cli.BoolFlag{Name: "ngrok", Usage: "expose the server through an ngrok tunnel"},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("storage") {
		cfg.StorageBackend = cmd.String("storage")
	}
	if cmd.IsSet("db") {
		cfg.StoragePath = cmd.String("db")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := buildLogger(cmd.Bool("debug"))
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("starting", zap.String("app", appName), zap.String("version", version),
		zap.String("addr", cfg.Addr()), zap.String("storage", cfg.StorageBackend))

	reg := registry.New()
	if err := reg.Register(outpost.Definition()); err != nil {
		return err
	}

	var backend store.Backend
	switch cfg.StorageBackend {
	case config.BackendSQLite:
		backend, err = store.NewSQLiteBackend(cfg.StoragePath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
	default:
		backend = store.NewMemoryBackend()
	}

	manager := store.NewManager(reg, backend, store.Config{
		CheckpointInterval: cfg.CheckpointInterval,
		CheckpointWindow:   cfg.CheckpointWindow,
		ThinkTimeout:       cfg.ThinkTimeout,
		GameTTL:            cfg.GameTTL,
	}, log)
	if err := manager.LoadAll(); err != nil {
		log.Warn("loading stored games", zap.Error(err))
	}
	defer manager.CloseAll()

	matchmaker := matchmaking.New(reg, manager, cfg.MatchmakingTTL, log)

	mcpClient := mcp.NewClient(fmt.Sprintf("http://127.0.0.1:%d", cfg.Port))
	server := api.NewServer(reg, manager, matchmaker, mcpClient.HTTPHandler(), log)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go sweepLoop(runCtx, manager, matchmaker, cfg.ConnectionIdle, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening",
			zap.String("rest", fmt.Sprintf("http://%s/api", cfg.Addr())),
			zap.String("websocket", fmt.Sprintf("ws://%s/ws/{gameId}", cfg.Addr())),
			zap.String("mcp", fmt.Sprintf("http://%s/mcp", cfg.Addr())))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if cmd.Bool("ngrok") {
		go runNgrok(runCtx, server, cmd.String("ngrok-domain"), log)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	log.Info("server stopped")
	return nil
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// sweepLoop periodically expires stale games, matchmaking tickets and idle
// websocket connections.
func sweepLoop(ctx context.Context, manager *store.Manager, matchmaker *matchmaking.Matchmaker, connIdle time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := manager.SweepExpired(); n > 0 {
				log.Info("expired games swept", zap.Int("count", n))
			}
			matchmaker.SweepExpired()
			if connIdle > 0 {
				dropped := 0
				for _, g := range manager.List() {
					dropped += g.SweepIdleConns(connIdle)
				}
				if dropped > 0 {
					log.Info("idle connections dropped", zap.Int("count", dropped))
				}
			}
		}
	}
}

// runNgrok provisions a public tunnel and serves the same handler through it.
func runNgrok(ctx context.Context, handler http.Handler, domain string, log *zap.Logger) {
	token := os.Getenv("NGROK_AUTHTOKEN")
	if token == "" {
		log.Warn("ngrok enabled but NGROK_AUTHTOKEN is not set")
		return
	}
	if domain == "" {
		domain = os.Getenv("NGROK_DOMAIN")
	}

	tunnel := ngrokConfig.HTTPEndpoint()
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(token))
	if err != nil {
		log.Error("ngrok tunnel failed", zap.Error(err))
		return
	}
	defer tun.Close()

	log.Info("ngrok tunnel established", zap.String("url", tun.URL()))
	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("ngrok server closed", zap.Error(err))
	}
}
