package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vaultScope/internal/config"
	"vaultScope/internal/explorer"
	"vaultScope/internal/history"
	"vaultScope/internal/multicall"
	"vaultScope/internal/pricecache"
	"vaultScope/internal/storage"
)

func runHistory(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadHistory(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx, cfg.Common, multicall.Config{MaxGas: cfg.MaxGas}, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	var cache history.PriceCache = history.NewMemoryCache()
	if cfg.RedisAddr != "" {
		client, err := pricecache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer client.Close()
		cache = pricecache.NewRedis(client, cfg.PriceTTL)
	}

	prices := history.NewHistoricalPrices(e.exec, cache, e.registry.ChainID, logger)
	classifier := history.NewClassifier(prices, e.metrics, logger)
	feed := explorer.NewClient(nil, explorer.Config{
		BaseURL:  cfg.ExplorerURL,
		APIKey:   cfg.ExplorerKey,
		ChainID:  e.registry.ChainID,
		PageSize: cfg.PageSize,
	}, logger)

	account := strings.ToLower(cfg.Account)
	sink := storage.Multi{Transactions: []storage.TransactionSink{storage.NewJsonlStorage(cfg.Out)}}
	var state history.StateStore
	switch {
	case cfg.StateFile != "":
		state = &history.FileStateStore{Path: cfg.StateFile}
	case e.store != nil:
		state = &history.DBStateStore{Store: e.store, Name: history.CursorName(e.registry.ChainID, account)}
	}
	if e.store != nil {
		sink.Transactions = append(sink.Transactions, e.store)
	}

	runner := history.NewRunner(history.RunConfig{
		ChainID:    e.registry.ChainID,
		Account:    account,
		StartBlock: cfg.StartBlock,
		Vaults:     e.vaults,
	}, feed, classifier, sink, state, logger)

	logger.Info("history start",
		zap.String("account", account),
		zap.Int("vaults", len(e.vaults)),
		zap.Uint64("start_block", cfg.StartBlock),
		zap.Bool("redis_cache", cfg.RedisAddr != ""),
		zap.String("out", cfg.Out),
	)

	_, err = runner.Run(ctx)
	return err
}
