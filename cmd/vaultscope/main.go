package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "vaultscope",
		Short:        "Yield vault portfolio tracker",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	portfolioCmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Poll balances, prices, APRs and supplies of an account's vaults",
		RunE:  runPortfolio,
	}

	addCommonFlags(portfolioCmd)
	portfolioCmd.Flags().Duration("interval", 30*time.Second, "time between fetch cycles")
	portfolioCmd.Flags().Bool("once", false, "run a single cycle and exit")
	portfolioCmd.Flags().String("out", "./data/portfolio.jsonl", "output snapshots JSONL path")
	portfolioCmd.Flags().Int("max-calls-per-chunk", 500, "calls per aggregate call")
	portfolioCmd.Flags().Int("max-chunk-bytes", 128*1024, "encoded call data per aggregate call, negative disables")
	portfolioCmd.Flags().Int("concurrency", 4, "aggregate calls in flight")
	portfolioCmd.Flags().Duration("retry-backoff", 200*time.Millisecond, "wait before retrying a failed aggregate call")

	root.AddCommand(portfolioCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Classify an account's vault deposits and redeems from its transfer log",
		RunE:  runHistory,
	}

	addCommonFlags(historyCmd)
	historyCmd.Flags().String("explorer-url", "https://api.etherscan.io/v2/api", "etherscan-compatible API URL")
	historyCmd.Flags().String("explorer-key", "", "explorer API key")
	historyCmd.Flags().Int("page-size", 1000, "explorer page size")
	historyCmd.Flags().Uint64("start-block", 0, "first block when no cursor is stored")
	historyCmd.Flags().String("out", "./data/history.jsonl", "output transactions JSONL path")
	historyCmd.Flags().String("state-file", "", "optional local cursor file, defaults to Postgres when pg-dsn is set")
	historyCmd.Flags().String("redis-addr", "", "optional Redis address for the historical price cache")
	historyCmd.Flags().String("redis-password", "", "Redis password")
	historyCmd.Flags().Int("redis-db", 0, "Redis database")
	historyCmd.Flags().Duration("price-ttl", 0, "expiry of cached prices, 0 keeps them")

	root.AddCommand(historyCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "RPC URL")
	cmd.Flags().String("registry", "", "vault and token registry YAML")
	cmd.Flags().String("account", "", "account address")
	cmd.Flags().StringSlice("vault", nil, "vault addresses to load (comma-separated), all registry vaults when empty")
	cmd.Flags().String("pg-dsn", "", "optional Postgres DSN")
	cmd.Flags().String("metrics-addr", "", "optional listen address for /metrics")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().Uint64("max-gas", 0, "gas limit per aggregate call, 0 leaves the node default")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
