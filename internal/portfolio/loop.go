package portfolio

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultScope/internal/metrics"
	"vaultScope/internal/model"
	"vaultScope/internal/multicall"
	"vaultScope/internal/pricing"
	"vaultScope/internal/vault"
)

// BatchExecutor runs several call batches together.
type BatchExecutor interface {
	ExecuteBatches(ctx context.Context, batches [][]*multicall.Call) ([][]multicall.Result, error)
}

// Session is the (account, chain, vault set) a cycle loads.
type Session struct {
	Account  common.Address
	ChainID  uint64
	Vaults   []vault.Vault
	Registry *pricing.Registry
}

// Key identifies the session; any change re-registers the assets.
func (s Session) Key() string {
	ids := make([]string, 0, len(s.Vaults))
	for _, v := range s.Vaults {
		ids = append(ids, v.ID())
	}
	sort.Strings(ids)
	return strings.ToLower(s.Account.Hex()) + "|" + strconv.FormatUint(s.ChainID, 10) + "|" + strings.Join(ids, ",")
}

// Batch order inside a cycle.
const (
	batchBalance = iota
	batchPrice
	batchUSDPrice
	batchAPR
	batchTotalSupply
	batchCount
)

// CycleReport summarizes one cycle.
type CycleReport struct {
	Cycle   uint64
	Calls   int
	Stats   ApplyStats
	Took    time.Duration
	Partial bool
}

// Loop runs fetch cycles against one Store.
type Loop struct {
	exec    BatchExecutor
	store   *Store
	metrics *metrics.Metrics
	logger  *zap.Logger

	cycle  atomic.Uint64
	loaded atomic.Bool

	mu           sync.Mutex
	sessionKey   string
	sessionCycle uint64
}

func NewLoop(exec BatchExecutor, store *Store, m *metrics.Metrics, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewStore(logger)
	}
	return &Loop{
		exec:    exec,
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// Store returns the arena the loop writes into.
func (l *Loop) Store() *Store {
	return l.store
}

// Loaded reports whether a cycle of the current session has been fully routed.
func (l *Loop) Loaded() bool {
	return l.loaded.Load()
}

// RunCycle loads every asset of the session once. The five batches are
// submitted together and all of them are routed before the loaded flag is set.
// The returned error only carries chunk transport failures after their retry;
// results of the other chunks are still applied.
func (l *Loop) RunCycle(ctx context.Context, session Session) (CycleReport, error) {
	start := time.Now()
	key := session.Key()
	cycle := l.beginCycle(key, session)
	report := CycleReport{Cycle: cycle}

	batches := buildBatches(session)
	for _, batch := range batches {
		report.Calls += len(batch)
	}

	results, execErr := l.exec.ExecuteBatches(ctx, batches)
	if err := ctx.Err(); err != nil {
		l.metrics.ObserveCycle(metrics.StatusFailed, time.Since(start))
		return report, fmt.Errorf("cycle %d: %w", cycle, err)
	}

	for i := range results {
		report.Stats.add(l.store.Apply(cycle, results[i]))
	}

	report.Took = time.Since(start)
	report.Partial = execErr != nil

	l.mu.Lock()
	current := l.sessionKey == key && cycle >= l.sessionCycle
	l.mu.Unlock()
	if current {
		l.loaded.Store(true)
	}

	status := metrics.StatusOK
	if execErr != nil {
		status = metrics.StatusFailed
		l.logger.Warn("cycle completed with failed chunks", zap.Uint64("cycle", cycle), zap.Error(execErr))
	}
	l.metrics.ObserveCycle(status, report.Took)
	l.logger.Info("cycle routed",
		zap.Uint64("cycle", cycle),
		zap.Int("calls", report.Calls),
		zap.Int("applied", report.Stats.Applied),
		zap.Int("failed", report.Stats.Failed),
		zap.Int("unknown", report.Stats.Unknown),
		zap.Int("stale", report.Stats.Stale),
		zap.Duration("took", report.Took),
	)

	if execErr != nil {
		return report, fmt.Errorf("cycle %d: %w", cycle, execErr)
	}
	return report, nil
}

// Run repeats cycles every interval until ctx is done. A non-positive interval
// runs a single cycle. onCycle, when set, receives each cycle's report and snapshot.
// In both modes Run returns ctx.Err() once ctx is done and nil otherwise.
func (l *Loop) Run(ctx context.Context, session Session, interval time.Duration, onCycle func(CycleReport, []model.AssetSnapshot)) error {
	runOnce := func() {
		report, err := l.RunCycle(ctx, session)
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			l.logger.Warn("cycle failed", zap.Uint64("cycle", report.Cycle), zap.Error(err))
		}
		if onCycle != nil {
			onCycle(report, l.store.Snapshot())
		}
	}

	runOnce()
	if interval <= 0 {
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			runOnce()
		}
	}
}

// beginCycle allocates the next cycle id and, when the session changed,
// registers the new session at that id. Both happen under one lock so
// registrations always see increasing floors.
func (l *Loop) beginCycle(key string, session Session) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	cycle := l.cycle.Add(1)
	if l.sessionKey == key {
		return cycle
	}

	metas := make([]vault.AssetMetadata, 0, len(session.Vaults))
	for _, v := range session.Vaults {
		metas = append(metas, v.AssetMetadata())
	}
	if !l.store.Register(cycle, session.Account.Hex(), session.ChainID, metas) {
		l.logger.Warn("session registration rejected", zap.Uint64("cycle", cycle))
		return cycle
	}
	l.sessionKey = key
	l.sessionCycle = cycle
	l.loaded.Store(false)
	l.logger.Info("session registered",
		zap.String("account", session.Account.Hex()),
		zap.Uint64("chain_id", session.ChainID),
		zap.Int("vaults", len(session.Vaults)),
		zap.Int("assets", l.store.Len()),
		zap.Uint64("cycle", cycle),
	)
	return cycle
}

// buildBatches concatenates same-kind calls across vaults into five batches.
func buildBatches(session Session) [][]*multicall.Call {
	batches := make([][]*multicall.Call, batchCount)
	for _, v := range session.Vaults {
		batches[batchBalance] = append(batches[batchBalance], v.BalanceCalls(session.Account)...)
		batches[batchPrice] = append(batches[batchPrice], v.PriceCalls()...)
		if session.Registry != nil {
			batches[batchUSDPrice] = append(batches[batchUSDPrice], v.USDPriceCalls(session.Registry)...)
		}
		batches[batchAPR] = append(batches[batchAPR], v.APRCalls()...)
		batches[batchTotalSupply] = append(batches[batchTotalSupply], v.TotalSupplyCalls()...)
	}
	return batches
}
