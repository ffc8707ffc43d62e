package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/99designs/keyring"
	"github.com/jaredcannon/device-metrics-hub/internal/agent"
	"github.com/jaredcannon/device-metrics-hub/internal/config"
	"github.com/jaredcannon/device-metrics-hub/internal/logs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time
var version = "dev"

var log = logs.Component("agent")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "metrics-agent",
		Short:        "Report host metrics and stock prices to the metrics server",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildAgent(ctx, cfg, openKeyStore)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to agent.yaml (default: ./agent.yaml or ./config/agent.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "set-api-key KEY",
		Short: "Store the quote provider API key in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ks, err := openKeyStore(cfg)
			if err != nil {
				return err
			}
			if err := ks.SetQuoteAPIKey(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key stored; set stocks.use_keyring: true to use it")
			return nil
		},
	})

	return root
}

func loadConfig(path string) (*config.AgentConfig, error) {
	cfg, err := config.LoadAgent(path)
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

// openKeyStore opens the keyring, keeping the file fallback next to the state file
func openKeyStore(cfg *config.AgentConfig) (*agent.KeyStore, error) {
	dir := filepath.Join(filepath.Dir(cfg.StateFile), ".keyring")
	return agent.OpenKeyStore(dir, keyring.TerminalPrompt)
}

type keyStoreOpener func(cfg *config.AgentConfig) (*agent.KeyStore, error)

// resolveAPIKey prefers the configured key and falls back to the keyring
// when enabled. An empty result disables the stock loop.
func resolveAPIKey(cfg *config.AgentConfig, open keyStoreOpener) string {
	if cfg.Stocks.APIKey != "" || !cfg.Stocks.UseKeyring {
		return cfg.Stocks.APIKey
	}
	ks, err := open(cfg)
	if err != nil {
		log.WithError(err).Warn("keyring unavailable")
		return ""
	}
	key, err := ks.QuoteAPIKey()
	if err != nil {
		log.WithError(err).Warn("failed to read API key from keyring")
		return ""
	}
	return key
}

func buildAgent(ctx context.Context, cfg *config.AgentConfig, open keyStoreOpener) (*agent.Agent, error) {
	symbols, err := agent.LoadSymbolSet(cfg.StateFile, cfg.Stocks.Symbols)
	if err != nil {
		return nil, err
	}

	identity := agent.DetectIdentity(ctx)
	log.WithFields(logrus.Fields{
		"device_id": identity.DeviceID,
		"mac":       identity.MACAddress,
		"hostname":  identity.Hostname,
		"symbols":   symbols.List(),
	}).Info("agent starting")

	var quotes agent.QuoteSource
	if key := resolveAPIKey(cfg, open); key != "" {
		quotes = agent.NewFinnhubQuotes(cfg.Stocks.ProviderURL, key, cfg.HTTPTimeout)
	}

	return agent.New(agent.Options{
		Identity:           identity,
		Server:             agent.NewClient(cfg.ServerURL, cfg.HTTPTimeout),
		Metrics:            agent.NewCollector(cfg.Metrics.Enabled, cfg.Metrics.DiskPath),
		Quotes:             quotes,
		Symbols:            symbols,
		CollectionInterval: cfg.CollectionInterval,
		StockInterval:      cfg.StockInterval,
		RegisterAttempts:   cfg.RegisterAttempts,
	}), nil
}
