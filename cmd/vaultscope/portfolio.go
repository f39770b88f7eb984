package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vaultScope/internal/config"
	"vaultScope/internal/model"
	"vaultScope/internal/multicall"
	"vaultScope/internal/portfolio"
	"vaultScope/internal/storage"
)

func runPortfolio(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadPortfolio(cfgFile, cmd.Flags())
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

	e, err := setup(ctx, cfg.Common, multicall.Config{
		MaxCallsPerChunk: cfg.MaxCallsPerChunk,
		MaxChunkBytes:    cfg.MaxChunkBytes,
		Concurrency:      cfg.Concurrency,
		RetryBackoff:     cfg.RetryBackoff,
		MaxGas:           cfg.MaxGas,
	}, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	sink := storage.Multi{Snapshots: []storage.SnapshotSink{storage.NewJsonlStorage(cfg.Out)}}
	if e.store != nil {
		sink.Snapshots = append(sink.Snapshots, e.store)
	}

	session := portfolio.Session{
		Account:  common.HexToAddress(cfg.Account),
		ChainID:  e.registry.ChainID,
		Vaults:   e.vaults,
		Registry: e.registry.Pricing,
	}
	loop := portfolio.NewLoop(e.exec, nil, e.metrics, logger)

	interval := cfg.Interval
	if cfg.Once {
		interval = 0
	}

	logger.Info("portfolio start",
		zap.String("account", session.Account.Hex()),
		zap.Int("vaults", len(session.Vaults)),
		zap.Duration("interval", interval),
		zap.String("out", cfg.Out),
	)

	err = loop.Run(ctx, session, interval, func(report portfolio.CycleReport, assets []model.AssetSnapshot) {
		if !loop.Loaded() {
			return
		}
		if err := sink.PutSnapshots(ctx, assets); err != nil {
			logger.Error("store snapshots", zap.Uint64("cycle", report.Cycle), zap.Error(err))
			return
		}
		logger.Info("cycle stored",
			zap.Uint64("cycle", report.Cycle),
			zap.Int("assets", len(assets)),
			zap.Int("calls", report.Calls),
			zap.Int("failed", report.Stats.Failed),
			zap.Bool("partial", report.Partial),
			zap.Duration("took", report.Took),
		)
	})
	if errors.Is(err, context.Canceled) {
		logger.Info("portfolio stopped")
		return nil
	}
	return err
}
