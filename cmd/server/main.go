package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jaredcannon/device-metrics-hub/internal/api"
	"github.com/jaredcannon/device-metrics-hub/internal/config"
	"github.com/jaredcannon/device-metrics-hub/internal/db"
	"github.com/jaredcannon/device-metrics-hub/internal/logs"
	"github.com/jaredcannon/device-metrics-hub/internal/models"
	"github.com/jaredcannon/device-metrics-hub/internal/services"
	"github.com/jaredcannon/device-metrics-hub/internal/websocket"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// Version info set via ldflags at build time
var version = "dev"

const shutdownTimeout = 10 * time.Second

var log = logs.Component("server")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "metrics-server",
		Short:        "Collect device metrics and stock prices from client agents",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to server.yaml (default: ./server.yaml or ./config/server.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and backfill legacy device rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			gdb, err := openDatabase(cfg, true)
			if err != nil {
				return err
			}
			defer closeDatabase(gdb)
			fmt.Fprintln(cmd.OutOrStdout(), "migrations complete")
			return nil
		},
	})

	return root
}

func loadConfig(path string) (*config.ServerConfig, error) {
	cfg, err := config.LoadServer(path)
	if err != nil {
		return nil, err
	}
	if err := logs.Init(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDatabase connects and migrates. The legacy MAC backfill runs when
// backfill is set or the config enables it.
func openDatabase(cfg *config.ServerConfig, backfill bool) (*gorm.DB, error) {
	quiet := !strings.EqualFold(cfg.Logging.Level, "debug") && !strings.EqualFold(cfg.Logging.Level, "trace")
	gdb, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, quiet)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		closeDatabase(gdb)
		return nil, err
	}
	log.WithField("driver", cfg.Database.Driver).Info("database ready")

	if backfill || cfg.Database.MigrateLegacyMAC {
		updated, err := models.MigrateMACAddresses(gdb)
		if err != nil {
			closeDatabase(gdb)
			return nil, err
		}
		log.WithField("devices", updated).Info("legacy mac_address backfill complete")
	}
	return gdb, nil
}

func closeDatabase(gdb *gorm.DB) {
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.Close()
	}
}

// server holds the wired application
type server struct {
	db       *gorm.DB
	hub      *websocket.Hub
	presence *services.PresenceService
	app      *fiber.App
}

func newServer(cfg *config.ServerConfig) (*server, error) {
	gdb, err := openDatabase(cfg, false)
	if err != nil {
		return nil, err
	}

	hub := websocket.NewHub()
	go hub.Run()

	identity := services.NewIdentityService(gdb)
	identity.SetBroadcastFunc(hub.Broadcast)

	metrics := services.NewMetricsService(gdb, identity, cfg.Metrics.Recognized)
	metrics.SetBroadcastFunc(hub.Broadcast)

	stocks := services.NewStockService(gdb)
	stocks.SetBroadcastFunc(hub.Broadcast)

	mailbox := services.NewSymbolMailbox()
	mailbox.SetBroadcastFunc(hub.Broadcast)

	presence := services.NewPresenceService(gdb, &services.PresenceConfig{
		CheckInterval: cfg.Presence.CheckInterval,
		OfflineAfter:  cfg.Presence.OfflineAfter,
	})
	presence.SetBroadcastFunc(hub.Broadcast)

	app := api.NewApp(api.Dependencies{
		DB:        gdb,
		Identity:  identity,
		Metrics:   metrics,
		Stocks:    stocks,
		Mailbox:   mailbox,
		Presence:  presence,
		Hub:       hub,
		AccessLog: true,
	})

	return &server{db: gdb, hub: hub, presence: presence, app: app}, nil
}

// close stops background work and releases the database
func (s *server) close() {
	if s.presence.IsRunning() {
		if err := s.presence.Stop(); err != nil {
			log.WithError(err).Warn("presence monitor did not stop cleanly")
		}
	}
	s.hub.Shutdown()
	closeDatabase(s.db)
}

func serve(ctx context.Context, cfg *config.ServerConfig) error {
	s, err := newServer(cfg)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.presence.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.ListenAddr()).Info("server starting")
		errCh <- s.app.Listen(cfg.ListenAddr())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.WithError(err).Warn("http shutdown did not complete")
	}
	return nil
}
