package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gregtusar/futures-trader/internal/config"
	"github.com/gregtusar/futures-trader/pkg/binance"
	"github.com/gregtusar/futures-trader/pkg/trader"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "futures-trader",
		Short:         "Binance USD-M futures order execution",
		Long:          `Places validated futures orders and runs grid, OCO and TWAP execution strategies`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(
		newMarketCmd(),
		newLimitCmd(),
		newStopLimitCmd(),
		newOCOCmd(),
		newTWAPCmd(),
		newGridCmd(),
		newServeCmd(),
		newTokenCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type session struct {
	cfg    *config.Config
	client *binance.Client
	trader *trader.Trader
	closer io.Closer
}

func (s *session) Close() {
	if s.closer != nil {
		s.closer.Close()
	}
}

// setup loads configuration, configures the logger and builds the exchange
// client and trader every subcommand works with.
func setup() (*session, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	closer, err := setupLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	if err := cfg.Binance.CheckCredentials(); err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("API credentials not set: %w", err)
	}

	client, err := binance.NewClient(cfg.Binance.ClientConfig(), logger)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}

	return &session{
		cfg:    cfg,
		client: client,
		trader: trader.New(client, cfg.Strategy.Settings(), logger),
		closer: closer,
	}, nil
}

func setupLogger(cfg config.LoggingConfig) (io.Closer, error) {
	logger = logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.File == "" {
		logger.SetOutput(os.Stderr)
		return nil, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(f)
	return f, nil
}
