package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-backtest/internal/compare"
	"github.com/rxtech-lab/argo-backtest/internal/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/httpapi"
	"github.com/rxtech-lab/argo-backtest/internal/job"
	"github.com/rxtech-lab/argo-backtest/internal/store"
	"github.com/rxtech-lab/argo-backtest/internal/strategy"
	"github.com/rxtech-lab/argo-backtest/internal/types"
)

type BacktestCmdTestSuite struct {
	suite.Suite
	manager *job.Manager
	compare *compare.Orchestrator
	server  *httptest.Server
	stdout  *bytes.Buffer
}

func TestBacktestCmdSuite(t *testing.T) {
	suite.Run(t, new(BacktestCmdTestSuite))
}

func (suite *BacktestCmdTestSuite) SetupTest() {
	data := datasource.NewMemoryService(datasource.DefaultMemoryConfig())
	suite.manager = job.NewManager(job.DefaultConfig(), strategy.DefaultRegistry(), data, store.New(nil, nil))
	suite.Require().NoError(suite.manager.Start(context.Background()))
	suite.compare = compare.New(suite.manager, 30*time.Second)
	suite.server = httptest.NewServer(httpapi.New(suite.manager, suite.compare))
	suite.stdout = &bytes.Buffer{}
}

func (suite *BacktestCmdTestSuite) TearDownTest() {
	suite.server.Close()
	_ = suite.manager.Shutdown(context.Background())
	suite.compare.Close()
}

func (suite *BacktestCmdTestSuite) run(args ...string) error {
	app := newApp()
	app.Writer = suite.stdout
	app.ErrWriter = &bytes.Buffer{}

	suite.stdout.Reset()

	return app.Run(context.Background(), append([]string{"backtest", "--server", suite.server.URL}, args...))
}

func (suite *BacktestCmdTestSuite) TestSubmitAndWait() {
	err := suite.run("submit", "--strategy", "buy-and-hold", "--lookback", "6M", "--benchmark", "QQQ",
		"--risk-free-rate", "0.03", "--wait", "--interval", "5ms")
	suite.Require().NoError(err)

	var metrics map[string]any
	suite.Require().NoError(json.Unmarshal(suite.stdout.Bytes(), &metrics), suite.stdout.String())
	suite.Contains(metrics, "total_return")
	suite.Contains(metrics, "benchmark")
}

func (suite *BacktestCmdTestSuite) TestSubmitThenLookups() {
	suite.Require().NoError(suite.run("submit", "--strategy", "sma-crossover", "--cash", "5000"))

	var submitted httpapi.SubmitResponse
	suite.Require().NoError(json.Unmarshal(suite.stdout.Bytes(), &submitted))
	suite.NotEmpty(submitted.BacktestID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := suite.manager.Wait(ctx, submitted.BacktestID)
	suite.Require().NoError(err)

	suite.Require().NoError(suite.run("status", submitted.BacktestID))
	suite.Contains(suite.stdout.String(), `"status": "completed"`)

	suite.Require().NoError(suite.run("result", submitted.BacktestID))
	suite.Contains(suite.stdout.String(), `"strategy_name": "sma-crossover"`)

	suite.Require().NoError(suite.run("trades", submitted.BacktestID))

	var trades []types.Trade
	suite.NoError(json.Unmarshal(suite.stdout.Bytes(), &trades))

	suite.Require().NoError(suite.run("running"))
	suite.Equal("[]\n", suite.stdout.String())
}

func (suite *BacktestCmdTestSuite) TestLookupErrors() {
	suite.Error(suite.run("status"))
	suite.Error(suite.run("metrics", "missing"))
	suite.Error(suite.run("submit", "--strategy", "buy-and-hold", "--lookback", "10Y"))
	suite.Error(suite.run("compare"))
}

func (suite *BacktestCmdTestSuite) TestCompareFromFile() {
	path := filepath.Join(suite.T().TempDir(), "backtests.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte(`
- strategy_name: buy-and-hold
  initial_cash: 10000
  lookback: 1Y
  benchmark: SPY
- strategy_name: sma-crossover
  initial_cash: 10000
  lookback: 1Y
  risk_free_rate: 0.02
`), 0o600))

	suite.Require().NoError(suite.run("compare", "--file", path))

	var result types.ComparisonResult
	suite.Require().NoError(json.Unmarshal(suite.stdout.Bytes(), &result))
	suite.True(result.Complete)
	suite.Require().Len(result.Entries, 2)

	ids := []string{result.Entries[0].BacktestID, result.Entries[1].BacktestID}
	suite.Require().NoError(suite.run(append([]string{"compare"}, ids...)...))

	var again types.ComparisonResult
	suite.Require().NoError(json.Unmarshal(suite.stdout.Bytes(), &again))
	suite.Len(again.Entries, 2)
}

func (suite *BacktestCmdTestSuite) TestCompareTable() {
	path := filepath.Join(suite.T().TempDir(), "backtests.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte(`
- strategy_name: buy-and-hold
  initial_cash: 10000
  lookback: 1Y
- strategy_name: unknown
  initial_cash: 10000
  lookback: 1Y
`), 0o600))

	suite.Require().NoError(suite.run("compare", "--table", "--file", path))

	out := suite.stdout.String()
	suite.Contains(out, "TOTAL RETURN")
	suite.Contains(out, "buy-and-hold")
	suite.Contains(out, "unknown")
	suite.Contains(out, "failed")
}
