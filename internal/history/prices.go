package history

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultScope/internal/multicall"
	"vaultScope/internal/vault"
)

// ErrNoPrice is returned when a vault has no way to price itself at a block.
var ErrNoPrice = errors.New("no historical price")

// PriceLookup returns a vault's price in its underlying at a block height.
type PriceLookup interface {
	PriceAt(ctx context.Context, v vault.Vault, block uint64) (decimal.Decimal, error)
}

// PriceCache stores historical prices; prices at a past block never change.
type PriceCache interface {
	Get(ctx context.Context, key string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, key string, price decimal.Decimal) error
}

// BlockExecutor runs one batch pinned to a block.
type BlockExecutor interface {
	ExecuteAt(ctx context.Context, calls []*multicall.Call, block uint64) ([]multicall.Result, error)
}

// PriceKey identifies a vault price at a block on a chain.
func PriceKey(chainID uint64, vaultID string, block uint64) string {
	return fmt.Sprintf("%d:%s:%d", chainID, vaultID, block)
}

// MemoryCache is an in-process PriceCache.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]decimal.Decimal
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]decimal.Decimal)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (decimal.Decimal, bool, error) {
	c.mu.RLock()
	price, ok := c.data[key]
	c.mu.RUnlock()
	return price, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, price decimal.Decimal) error {
	c.mu.Lock()
	c.data[key] = price
	c.mu.Unlock()
	return nil
}

// HistoricalPrices reads vault prices at a block through a single off-cycle
// multicall batch, caching every hit.
type HistoricalPrices struct {
	exec    BlockExecutor
	cache   PriceCache
	chainID uint64
	logger  *zap.Logger
}

func NewHistoricalPrices(exec BlockExecutor, cache PriceCache, chainID uint64, logger *zap.Logger) *HistoricalPrices {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoricalPrices{exec: exec, cache: cache, chainID: chainID, logger: logger}
}

// PriceAt returns the vault price at block. Plain tokens are always 1.
func (h *HistoricalPrices) PriceAt(ctx context.Context, v vault.Vault, block uint64) (decimal.Decimal, error) {
	if v.Kind() == vault.KindUnderlying {
		return decimal.NewFromInt(1), nil
	}

	key := PriceKey(h.chainID, v.ID(), block)
	if price, ok, err := h.cache.Get(ctx, key); err != nil {
		h.logger.Warn("price cache get", zap.String("key", key), zap.Error(err))
	} else if ok {
		return price, nil
	}

	calls := v.PriceCallsFor(v.ID())
	if len(calls) == 0 {
		return decimal.Decimal{}, fmt.Errorf("vault %s: %w", v.ID(), ErrNoPrice)
	}
	if h.exec == nil {
		return decimal.Decimal{}, fmt.Errorf("executor is nil")
	}

	results, err := h.exec.ExecuteAt(ctx, calls, block)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("price of %s at %d: %w", v.ID(), block, err)
	}
	for _, res := range results {
		if !res.OK() {
			continue
		}
		price, err := res.Decimal(v.Config().Decimals)
		if err != nil {
			h.logger.Warn("decode historical price", zap.String("vault", v.ID()), zap.Uint64("block", block), zap.Error(err))
			continue
		}
		if err := h.cache.Set(ctx, key, price); err != nil {
			h.logger.Warn("price cache set", zap.String("key", key), zap.Error(err))
		}
		return price, nil
	}
	return decimal.Decimal{}, fmt.Errorf("vault %s at %d: %w", v.ID(), block, ErrNoPrice)
}
