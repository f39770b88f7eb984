package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vaultScope/internal/contracts"
	"vaultScope/internal/model"
	"vaultScope/internal/multicall"
	"vaultScope/internal/vault"
)

// Executor runs one batch of calls against the latest block.
type Executor interface {
	Execute(ctx context.Context, calls []*multicall.Call) ([]multicall.Result, error)
}

// DecimalsCache caches token metadata by address.
type DecimalsCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewDecimalsCache() *DecimalsCache {
	return &DecimalsCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *DecimalsCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *DecimalsCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// ResolveDecimals fills every token and vault entry that omits decimals by
// reading ERC20 decimals() through one multicall batch. Entries whose call
// fails stay unresolved: tokens then produce no price calls and Build rejects
// such vaults. Only a transport failure is returned as an error.
func (f *File) ResolveDecimals(ctx context.Context, exec Executor, cache *DecimalsCache, logger *zap.Logger) ([]model.TokenMeta, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewDecimalsCache()
	}

	var (
		calls   []*multicall.Call
		pending = make(map[common.Address]struct{})
	)
	want := func(raw string) {
		addr := common.HexToAddress(raw)
		if _, ok := cache.Get(addr); ok {
			return
		}
		if _, ok := pending[addr]; ok {
			return
		}
		pending[addr] = struct{}{}
		calls = append(calls, vault.DecimalsCall(addr.Hex(), addr))
	}
	for _, token := range f.Tokens {
		if token.Decimals == nil {
			want(token.Address)
		}
	}
	for _, v := range f.Vaults {
		if v.Decimals == nil {
			want(v.Address)
		}
	}

	var resolved []model.TokenMeta
	if len(calls) > 0 {
		if exec == nil {
			return nil, fmt.Errorf("executor is nil")
		}
		results, err := exec.Execute(ctx, calls)
		for _, res := range results {
			if !res.OK() {
				continue
			}
			values, uerr := res.Call.Unpack(res.Raw)
			if uerr != nil || len(values) == 0 {
				logger.Warn("decode decimals", zap.String("token", res.EntityID), zap.Error(uerr))
				continue
			}
			decimals, cerr := contracts.AsUint8(values[0])
			if cerr != nil {
				logger.Warn("decode decimals", zap.String("token", res.EntityID), zap.Error(cerr))
				continue
			}
			meta := model.TokenMeta{Address: res.EntityID, Decimals: decimals}
			cache.Set(res.Call.Target, meta)
			resolved = append(resolved, meta)
		}
		if err != nil {
			return resolved, fmt.Errorf("resolve decimals: %w", err)
		}
	}

	fill := func(raw string) *int {
		meta, ok := cache.Get(common.HexToAddress(raw))
		if !ok {
			return nil
		}
		d := int(meta.Decimals)
		return &d
	}
	for symbol, token := range f.Tokens {
		if token.Decimals != nil {
			continue
		}
		if token.Decimals = fill(token.Address); token.Decimals == nil {
			logger.Warn("token decimals unresolved", zap.String("token", symbol), zap.String("address", strings.ToLower(token.Address)))
		}
		f.Tokens[symbol] = token
	}
	for i := range f.Vaults {
		if f.Vaults[i].Decimals == nil {
			f.Vaults[i].Decimals = fill(f.Vaults[i].Address)
		}
	}
	return resolved, nil
}
