package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vaultScope/internal/chain"
	"vaultScope/internal/config"
	"vaultScope/internal/metrics"
	"vaultScope/internal/multicall"
	"vaultScope/internal/registry"
	"vaultScope/internal/storage/postgres"
	"vaultScope/internal/vault"
)

// env is what both commands need before they diverge.
type env struct {
	chain    *chain.Client
	exec     *multicall.Executor
	registry *registry.Registry
	vaults   []vault.Vault
	metrics  *metrics.Metrics
	store    *postgres.Store
}

func (e *env) Close() {
	if e.store != nil {
		e.store.Close()
	}
	if e.chain != nil {
		e.chain.Close()
	}
}

func setup(ctx context.Context, cfg config.Common, mc multicall.Config, logger *zap.Logger) (*env, error) {
	file, err := registry.Load(cfg.Registry)
	if err != nil {
		return nil, err
	}

	e := &env{}
	e.chain, err = chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	chainID, err := e.chain.GetChainID(ctx)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if chainID.Uint64() != file.ChainID {
		e.Close()
		return nil, fmt.Errorf("rpc serves chain %s, registry is for chain %d", chainID, file.ChainID)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e.metrics, err = metrics.New(promReg)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	if cfg.MetricsAddr != "" {
		serveMetrics(ctx, cfg.MetricsAddr, promReg, logger)
	}

	mc.Address = common.HexToAddress(file.Multicall)
	e.exec, err = multicall.NewExecutor(mc, e.chain, e.metrics, logger)
	if err != nil {
		e.Close()
		return nil, err
	}

	metas, err := file.ResolveDecimals(ctx, e.exec, registry.NewDecimalsCache(), logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("resolve decimals: %w", err)
	}
	if len(metas) > 0 {
		logger.Info("token decimals resolved on chain", zap.Int("tokens", len(metas)))
	}

	e.registry, err = file.Build()
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("build registry: %w", err)
	}
	e.vaults, err = selectVaults(e.registry, cfg.Vaults)
	if err != nil {
		e.Close()
		return nil, err
	}

	if cfg.PGDSN != "" {
		e.store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := e.store.EnsureSchema(ctx); err != nil {
			e.Close()
			return nil, err
		}
	}

	head, err := e.chain.LatestBlockNumber(ctx)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("latest block: %w", err)
	}

	logger.Info("registry loaded",
		zap.Uint64("chain_id", e.registry.ChainID),
		zap.Uint64("head", head),
		zap.String("multicall", mc.Address.Hex()),
		zap.Int("vaults", len(e.vaults)),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
	)
	return e, nil
}

func selectVaults(reg *registry.Registry, addresses []string) ([]vault.Vault, error) {
	if len(addresses) == 0 {
		return reg.Vaults, nil
	}
	parsed, err := config.ParseAddresses(addresses)
	if err != nil {
		return nil, err
	}
	out := make([]vault.Vault, 0, len(parsed))
	for _, addr := range parsed {
		v, ok := reg.Vault(addr.Hex())
		if !ok {
			return nil, fmt.Errorf("vault %s is not in the registry", addr.Hex())
		}
		out = append(out, v)
	}
	return out, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
