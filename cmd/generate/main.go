package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/argo-backtest/internal/types"
)

const (
	configSchemaName     = "backtest-config.json"
	comparisonSchemaName = "backtest-comparison.json"
	sampleComparisonName = "backtest-comparison.yaml"
)

// sampleConfigs seeds the comparison file used by `backtest compare --file`.
var sampleConfigs = []types.BacktestConfig{
	{StrategyName: "buy-and-hold", InitialCash: 10000, Lookback: types.Timeframe1Y, Benchmark: "SPY"},
	{StrategyName: "sma-crossover", InitialCash: 10000, Lookback: types.Timeframe1Y, Benchmark: "SPY"},
	{
		StrategyName: "nancy-p-chips",
		InitialCash:  10000,
		Lookback:     types.Timeframe5Y,
		Benchmark:    "SPY",
		RiskFreeRate: optional.Some(0.02),
	},
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// generateSchemaFiles writes the schema of one submission and of a comparison list.
func generateSchemaFiles(dir string) error {
	config := (&types.BacktestConfig{}).GenerateSchema()

	if err := writeJSON(filepath.Join(dir, configSchemaName), config); err != nil {
		return err
	}

	list := &jsonschema.Schema{
		Version:     config.Version,
		Title:       "backtest-comparison",
		Description: "Body of POST /backtest/compare and input of backtest compare --file",
		Type:        "array",
		Items:       config,
	}

	return writeJSON(filepath.Join(dir, comparisonSchemaName), list)
}

// generateSampleComparison writes a sample comparison file unless one exists.
func generateSampleComparison(path, schemaName string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	data, err := yaml.Marshal(sampleConfigs)
	if err != nil {
		return fmt.Errorf("failed to marshal sample comparison: %w", err)
	}

	data = append([]byte("# yaml-language-server: $schema="+schemaName+"\n"), data...)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sample comparison: %w", err)
	}

	return nil
}

func generate(dir string) error {
	if err := generateSchemaFiles(dir); err != nil {
		return err
	}

	return generateSampleComparison(filepath.Join(dir, sampleComparisonName), comparisonSchemaName)
}

func main() {
	dir := "./config"

	if err := generate(dir); err != nil {
		log.Fatal(err)
	}

	log.Printf("Schemas and sample comparison generated in %s", dir)
}
