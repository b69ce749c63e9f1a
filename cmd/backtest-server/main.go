package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-backtest/internal/config"
	"github.com/rxtech-lab/argo-backtest/internal/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/server"
	"github.com/rxtech-lab/argo-backtest/internal/version"
)

// serveAction loads the configuration, applies flag overrides and runs the service until SIGINT or SIGTERM.
func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	if cmd.IsSet("addr") {
		cfg.Server.Addr = cmd.String("addr")
	}
	if cmd.IsSet("workers") {
		cfg.Jobs.Workers = int(cmd.Int("workers"))
	}
	if cmd.IsSet("provider") {
		cfg.Data.Provider = datasource.ProviderType(cmd.String("provider"))
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}

	appLogger, err := logger.NewLoggerWithLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Sync() //nolint:errcheck

	appLogger.Debug("Loaded configuration", zap.String("config", cfg.String()))

	app, err := server.New(cfg, appLogger)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, listener)
}

func main() {
	cmd := &cli.Command{
		Name:    "backtest-server",
		Usage:   "Serve the asynchronous backtesting API",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				Sources: cli.EnvVars("BACKTEST_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides the config file",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of concurrent backtests, overrides the config file",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: fmt.Sprintf("Price data provider (one of %v)", datasource.SupportedProviders()),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Action: serveAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
