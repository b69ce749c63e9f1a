package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/argo-backtest/internal/httpapi"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/version"
	"github.com/rxtech-lab/argo-backtest/pkg/client"
)

func newClient(cmd *cli.Command) (*client.Client, error) {
	return client.New(cmd.String("server"))
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	return encoder.Encode(v)
}

func configFromFlags(cmd *cli.Command) types.BacktestConfig {
	config := types.BacktestConfig{
		StrategyName: cmd.String("strategy"),
		InitialCash:  cmd.Float("cash"),
		Lookback:     types.Timeframe(cmd.String("lookback")),
		Benchmark:    cmd.String("benchmark"),
		Broker:       types.Broker(cmd.String("broker")),
	}

	if cmd.IsSet("risk-free-rate") {
		config.RiskFreeRate = optional.Some(cmd.Float("risk-free-rate"))
	}

	return config
}

// readConfigs decodes a YAML list of backtest configs.
func readConfigs(path string) ([]types.BacktestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var configs []types.BacktestConfig
	if err := yaml.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return configs, nil
}

// waitWithProgress polls until the backtest is terminal and renders its progress.
func waitWithProgress(ctx context.Context, c *client.Client, w io.Writer, id string, interval time.Duration) (httpapi.StatusResponse, error) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(fmt.Sprintf("Backtest %s", id)),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	status, err := c.Wait(ctx, id, interval, func(status httpapi.StatusResponse) {
		_ = bar.Set(int(status.Progress * 100))
	})
	if err != nil {
		return status, err
	}

	_ = bar.Finish()

	return status, nil
}

func submitAction(ctx context.Context, cmd *cli.Command) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	submitted, err := c.Submit(ctx, configFromFlags(cmd))
	if err != nil {
		return err
	}

	if !cmd.Bool("wait") {
		return printJSON(cmd.Root().Writer, submitted)
	}

	status, err := waitWithProgress(ctx, c, cmd.Root().ErrWriter, submitted.BacktestID, cmd.Duration("interval"))
	if err != nil {
		return err
	}

	if status.Status == types.JobStatusFailed {
		return printJSON(cmd.Root().Writer, status)
	}

	metrics, err := c.Metrics(ctx, submitted.BacktestID)
	if err != nil {
		return err
	}

	return printJSON(cmd.Root().Writer, metrics)
}

// idAction builds a command action that looks up one backtest by id.
func idAction(fetch func(ctx context.Context, c *client.Client, id string) (any, error)) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		id := cmd.Args().First()
		if id == "" {
			return fmt.Errorf("backtest id is required")
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		result, err := fetch(ctx, c, id)
		if err != nil {
			return err
		}

		return printJSON(cmd.Root().Writer, result)
	}
}

func runningAction(ctx context.Context, cmd *cli.Command) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	running, err := c.Running(ctx)
	if err != nil {
		return err
	}

	return printJSON(cmd.Root().Writer, running)
}

func compareAction(ctx context.Context, cmd *cli.Command) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	var result types.ComparisonResult

	switch {
	case cmd.IsSet("file"):
		configs, err := readConfigs(cmd.String("file"))
		if err != nil {
			return err
		}

		result, err = c.Compare(ctx, configs)
		if err != nil {
			return err
		}
	case cmd.Args().Len() > 0:
		result, err = c.CompareIDs(ctx, cmd.Args().Slice())
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("pass --file or at least one backtest id")
	}

	if cmd.Bool("table") {
		printComparisonTable(cmd.Root().Writer, result)

		return nil
	}

	return printJSON(cmd.Root().Writer, result)
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// printComparisonTable renders one row per entry in ranked order.
func printComparisonTable(w io.Writer, result types.ComparisonResult) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Rank", "Strategy", "Status", "Total Return", "Sharpe", "Max Drawdown", "Backtest"})

	for _, entry := range result.Entries {
		rank, ret, sharpe, drawdown := "-", "-", "-", "-"
		if r, err := entry.Rank.Take(); err == nil {
			rank = fmt.Sprint(r)
		}

		if m, err := entry.Metrics.Take(); err == nil {
			ret = percent(m.TotalReturn)
			drawdown = percent(m.MaxDrawdown)

			if s, err := m.SharpeRatio.Take(); err == nil {
				sharpe = fmt.Sprintf("%.2f", s)
			}
		}

		status := string(entry.Status)
		if failure, err := entry.Error.Take(); err == nil {
			status = fmt.Sprintf("%s (%s)", status, failure.Message)
		}

		t.AppendRow(table.Row{rank, entry.StrategyName, status, ret, sharpe, drawdown, entry.BacktestID})
	}

	if !result.Complete {
		t.AppendFooter(table.Row{"", "", "incomplete: deadline expired"})
	}

	t.Render()
}

func newApp() *cli.Command {
	configFlags := []cli.Flag{
		&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}, Usage: "Strategy name", Required: true},
		&cli.FloatFlag{Name: "cash", Usage: "Initial cash", Value: 10000},
		&cli.StringFlag{Name: "lookback", Aliases: []string{"l"}, Usage: "Lookback window (1D 1W 1M 3M 6M YTD 1Y 3Y 5Y 7Y)", Value: "1Y"},
		&cli.StringFlag{Name: "benchmark", Aliases: []string{"b"}, Usage: "Benchmark ticker"},
		&cli.FloatFlag{Name: "risk-free-rate", Usage: "Annual risk-free rate as a fraction"},
		&cli.StringFlag{Name: "broker", Usage: "Commission model override"},
		&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Wait for completion and print the metrics"},
		&cli.DurationFlag{Name: "interval", Usage: "Polling interval with --wait", Value: client.DefaultPollInterval},
	}

	return &cli.Command{
		Name:    "backtest",
		Usage:   "Submit and inspect backtests on a backtest server",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "Backtest server URL",
				Value:   "http://localhost:8080",
				Sources: cli.EnvVars("BACKTEST_SERVER"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "submit",
				Usage:  "Submit a backtest",
				Flags:  configFlags,
				Action: submitAction,
			},
			{
				Name:      "status",
				Usage:     "Show the status of a backtest",
				ArgsUsage: "<backtest-id>",
				Action: idAction(func(ctx context.Context, c *client.Client, id string) (any, error) {
					return c.Status(ctx, id)
				}),
			},
			{
				Name:      "result",
				Usage:     "Show the complete result of a finished backtest",
				ArgsUsage: "<backtest-id>",
				Action: idAction(func(ctx context.Context, c *client.Client, id string) (any, error) {
					return c.Result(ctx, id)
				}),
			},
			{
				Name:      "metrics",
				Usage:     "Show the metrics of a completed backtest",
				ArgsUsage: "<backtest-id>",
				Action: idAction(func(ctx context.Context, c *client.Client, id string) (any, error) {
					return c.Metrics(ctx, id)
				}),
			},
			{
				Name:      "trades",
				Usage:     "Show the trade ledger of a completed backtest",
				ArgsUsage: "<backtest-id>",
				Action: idAction(func(ctx context.Context, c *client.Client, id string) (any, error) {
					return c.Trades(ctx, id)
				}),
			},
			{
				Name:   "running",
				Usage:  "List queued and running backtests",
				Action: runningAction,
			},
			{
				Name:      "compare",
				Usage:     "Rank backtests from a YAML config list or by id",
				ArgsUsage: "[backtest-id...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "YAML file with a list of backtest configs"},
					&cli.BoolFlag{Name: "table", Aliases: []string{"t"}, Usage: "Print a ranked table instead of JSON"},
				},
				Action: compareAction,
			},
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
