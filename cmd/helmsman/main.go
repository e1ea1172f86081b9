package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jcorwin/helmsman/api"
	"github.com/jcorwin/helmsman/internal/config"
	"github.com/jcorwin/helmsman/internal/session"
	"github.com/jcorwin/helmsman/pkg/mexc"
	"github.com/jcorwin/helmsman/pkg/provider"
	"github.com/jcorwin/helmsman/pkg/trader"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "helmsman",
		Short: "Automated leveraged-trading orchestration engine",
		Long:  `Polls a market price feed, asks a pluggable decision provider for a trade action, and routes authorized decisions to the derivatives exchange`,
		Run:   runEngine,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runEngine(cmd *cobra.Command, args []string) {
	// Local .env is convenient for development; ignore its absence.
	_ = godotenv.Load()

	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := config.NewStore(*cfg)
	gate := session.NewGate(cfg.Server.SessionSecret)
	gateway := mexc.NewClient(logger)
	analyzer := provider.NewAnalyzer(provider.NewFactory(), logger)

	markets := trader.NewMarketPoller(gateway, store, logger)
	accounts := trader.NewAccountSynchronizer(gateway, store, gate, logger)
	orchestrator := trader.NewOrchestrator(analyzer, gateway, markets, accounts, store, logger)

	markets.Start(ctx)
	accounts.Start(ctx)
	orchestrator.Start(ctx)

	// Headless deployments skip the login gate and authorize from the
	// configured credentials directly.
	if cfg.Exchange.HasCredentials() {
		if _, err := gate.Open("local"); err != nil {
			logger.WithError(err).Error("Failed to open session gate")
		}
	}

	apiServer := api.NewServer(markets, accounts, orchestrator, gate, store, logger, fmt.Sprintf("%d", cfg.Server.Port))
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Helmsman is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	orchestrator.Stop()
	accounts.Stop()
	markets.Stop()
	apiServer.Stop()
	cancel()

	logger.Info("Helmsman stopped")
}
