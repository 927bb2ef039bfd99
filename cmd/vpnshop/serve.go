package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sqliteadapter "github.com/NikoleTW/VPNBot/internal/adapters/db/sqlite"
	httpadapter "github.com/NikoleTW/VPNBot/internal/adapters/http"
	rpcadapter "github.com/NikoleTW/VPNBot/internal/adapters/rpcjson"
	"github.com/NikoleTW/VPNBot/internal/adapters/telegram"
	"github.com/NikoleTW/VPNBot/internal/adapters/xui"
	"github.com/NikoleTW/VPNBot/internal/application"
	"github.com/NikoleTW/VPNBot/internal/bridge"
	"github.com/NikoleTW/VPNBot/internal/cache"
	"github.com/NikoleTW/VPNBot/internal/conversation"
	"github.com/NikoleTW/VPNBot/internal/domain"
	"github.com/NikoleTW/VPNBot/internal/platform/config"
	"github.com/NikoleTW/VPNBot/internal/platform/otel"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the bot, the admin HTTP server and the JSON-RPC socket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address (overrides VPNSHOP_HTTP_ADDR)"},
			&cli.StringFlag{Name: "rpc-socket", Usage: "JSON-RPC unix socket path (overrides VPNSHOP_RPC_SOCKET)"},
			&cli.StringFlag{Name: "db-path", Usage: "SQLite database path (overrides VPNSHOP_DB_PATH)"},
			&cli.BoolFlag{Name: "memory-panel", Usage: "provision against an in-process panel instead of 3x-ui (local runs only)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if v := c.String("addr"); v != "" {
				cfg.HTTPAddr = v
			}
			if v := c.String("rpc-socket"); v != "" {
				cfg.RPCSocket = v
			}
			if v := c.String("db-path"); v != "" {
				cfg.DBPath = v
			}
			return runServe(ctx, cfg, c.Bool("memory-panel"))
		},
	}
}

// logSender stands in for Telegram when no bot token is configured. The loop
// still runs so cache invalidations from the admin surfaces are served.
type logSender struct {
	logger *slog.Logger
}

func (s logSender) Send(_ context.Context, r conversation.Reply) error {
	s.logger.Info("reply dropped, telegram disabled", "chat_id", r.ChatID, "screen", r.Screen.String())
	return nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func openStore(ctx context.Context, path string) (*sqliteadapter.Repository, func(), error) {
	db, err := sqliteadapter.Open(path)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := sqliteadapter.RunMigrations(ctx, db); err != nil {
		closeDB()
		return nil, nil, err
	}
	return sqliteadapter.NewRepository(db), closeDB, nil
}

var errNoPanel = errors.New("XUI_PANEL_URL is required (pass --memory-panel for a local run without a VPN server)")

// newPanel returns the 3x-ui client. The in-memory panel issues credentials
// that exist on no server, so it is only used when asked for explicitly.
func newPanel(cfg config.Config, memory bool, logger *slog.Logger) (domain.Panel, error) {
	if memory {
		logger.Warn("using in-memory panel, issued credentials will not connect")
		return xui.NewMemory("127.0.0.1"), nil
	}
	if cfg.PanelURL == "" {
		return nil, errNoPanel
	}
	client, err := xui.New(xui.Config{
		BaseURL:  cfg.PanelURL,
		Username: cfg.PanelUsername,
		Password: cfg.PanelPassword,
		Logger:   logger.With("component", "xui"),
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func runServe(ctx context.Context, cfg config.Config, memoryPanel bool) error {
	logger := newLogger(cfg.SlogLevel())
	slog.SetDefault(logger)

	panel, err := newPanel(cfg, memoryPanel, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, "vpnshop", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	repo, closeDB, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeDB()

	caches := cache.NewSet(cfg.CacheTTL)
	b := bridge.New(bridge.Options{Timeout: cfg.BridgeTimeout, ReadyWait: cfg.BridgeReadyWait, Logger: logger})
	inv := bridge.NewInvalidator(b, caches, logger)

	service := application.NewService(repo, inv, logger)
	if cfg.AdminPassword != "" {
		if err := service.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return err
		}
	}

	prov := application.NewProvisioner(repo, panel, application.ProvisionerOptions{
		Invalidator:  inv,
		Logger:       logger,
		PanelTimeout: cfg.PanelTimeout,
	})

	actions := make(chan conversation.Action, 64)
	var (
		sender conversation.Sender = logSender{logger: logger}
		bot    *telegram.Bot
	)
	if cfg.TelegramToken != "" {
		bot, err = telegram.New(cfg.TelegramToken, logger.With("component", "telegram"))
		if err != nil {
			return err
		}
		prov.SetNotifier(bot)
		sender = bot
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, bot disabled")
	}

	// The loop goroutine owns the caches, so bot-side confirmations
	// invalidate directly instead of going through the bridge.
	flow := conversation.NewFlow(service, prov.WithInvalidator(caches), caches, logger)
	loop := conversation.NewLoop(flow, b, actions, sender, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpadapter.NewRouter(service, prov, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	rpcSrv, err := rpcadapter.Start(cfg.RPCSocket, service, prov, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rpcSrv.Close() }()
	logger.Info("json-rpc listening", "socket", cfg.RPCSocket)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	if bot != nil {
		g.Go(func() error { return bot.Updates(gctx, actions) })
	}
	g.Go(func() error {
		logger.Info("http listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
