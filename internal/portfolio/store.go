package portfolio

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultScope/internal/model"
	"vaultScope/internal/multicall"
	"vaultScope/internal/vault"
)

// stamped is a field value with the cycle that wrote it.
type stamped struct {
	value decimal.NullDecimal
	cycle uint64
}

// asset is the mutable state of one entity inside the store.
type asset struct {
	meta        vault.AssetMetadata
	balance     stamped
	vaultPrice  stamped
	priceUSD    stamped
	apr         stamped
	totalSupply stamped
	balanceUSD  decimal.NullDecimal
	tvl         decimal.NullDecimal
	tvlUSD      decimal.NullDecimal
	cycle       uint64
}

func (a *asset) field(f multicall.Field) *stamped {
	switch f {
	case multicall.FieldBalance:
		return &a.balance
	case multicall.FieldVaultPrice:
		return &a.vaultPrice
	case multicall.FieldPriceUSD:
		return &a.priceUSD
	case multicall.FieldAPR:
		return &a.apr
	case multicall.FieldTotalSupply:
		return &a.totalSupply
	default:
		return nil
	}
}

// ApplyStats counts what one Apply call did.
type ApplyStats struct {
	Applied int
	Failed  int
	Unknown int
	Stale   int
}

func (s *ApplyStats) add(o ApplyStats) {
	s.Applied += o.Applied
	s.Failed += o.Failed
	s.Unknown += o.Unknown
	s.Stale += o.Stale
}

// Store is the asset arena of one session: a map keyed by entity id, written
// only by Apply and the derived-field recomputation, read through Snapshot.
type Store struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	account string
	chainID uint64
	floor   uint64
	assets  map[string]*asset
	order   []string

	// registered is false until the first Register.
	registered bool
}

func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		logger: logger,
		assets: make(map[string]*asset),
	}
}

// Register replaces the arena with one asset per metadata entry. Results from
// cycles older than floor are dropped from now on. Floors only move forward: a
// registration at or below the current floor is rejected and returns false.
func (s *Store) Register(floor uint64, account string, chainID uint64, metas []vault.AssetMetadata) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered && floor <= s.floor {
		s.logger.Warn("registration below current floor",
			zap.Uint64("floor", floor),
			zap.Uint64("current", s.floor),
			zap.String("account", strings.ToLower(account)),
		)
		return false
	}
	s.registered = true
	s.account = strings.ToLower(account)
	s.chainID = chainID
	s.floor = floor
	s.assets = make(map[string]*asset, len(metas))
	s.order = s.order[:0]
	for _, meta := range metas {
		id := strings.ToLower(meta.ID)
		if _, ok := s.assets[id]; ok {
			continue
		}
		a := &asset{meta: meta, cycle: floor}
		if meta.VaultPrice != nil {
			a.vaultPrice = stamped{value: decimal.NewNullDecimal(*meta.VaultPrice), cycle: floor}
		}
		if meta.PriceUSD != nil {
			a.priceUSD = stamped{value: decimal.NewNullDecimal(*meta.PriceUSD), cycle: floor}
		}
		recompute(a)
		s.assets[id] = a
		s.order = append(s.order, id)
	}
	return true
}

// Apply routes decoded results into their assets. A write only lands when its
// cycle is not older than the cycle that last wrote the same field, so a slow
// stale cycle never overwrites a newer one. Derived fields of every touched
// asset are recomputed before the lock is released.
func (s *Store) Apply(cycle uint64, results []multicall.Result) ApplyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats ApplyStats
	if cycle < s.floor {
		stats.Stale = len(results)
		s.logger.Debug("drop results of previous session", zap.Uint64("cycle", cycle), zap.Uint64("floor", s.floor))
		return stats
	}

	touched := make(map[*asset]struct{})
	for _, res := range results {
		if res.Call == nil {
			continue
		}
		a, ok := s.assets[res.EntityID]
		if !ok {
			stats.Unknown++
			s.logger.Warn("result for unknown entity",
				zap.String("entity", res.EntityID),
				zap.String("method", res.Call.Method),
			)
			continue
		}
		slot := a.field(res.Call.Field)
		if slot == nil {
			stats.Unknown++
			s.logger.Warn("result for unroutable field", zap.String("entity", res.EntityID), zap.String("field", string(res.Call.Field)))
			continue
		}
		if cycle < slot.cycle {
			stats.Stale++
			continue
		}

		value, ok, err := decode(res, a.meta.Decimals)
		if err != nil {
			s.logger.Warn("decode result",
				zap.String("entity", res.EntityID),
				zap.String("method", res.Call.Method),
				zap.Error(err),
			)
		}
		if !ok {
			stats.Failed++
			continue
		}

		*slot = stamped{value: decimal.NewNullDecimal(value), cycle: cycle}
		if cycle > a.cycle {
			a.cycle = cycle
		}
		touched[a] = struct{}{}
		stats.Applied++
	}

	for a := range touched {
		recompute(a)
	}
	return stats
}

// Snapshot copies every asset in registration order.
func (s *Store) Snapshot() []model.AssetSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	out := make([]model.AssetSnapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.snapshotLocked(id, s.assets[id], now))
	}
	return out
}

// Asset returns a copy of one asset.
func (s *Store) Asset(id string) (model.AssetSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id = strings.ToLower(id)
	a, ok := s.assets[id]
	if !ok {
		return model.AssetSnapshot{}, false
	}
	return s.snapshotLocked(id, a, time.Now().UTC()), true
}

// Len returns the number of registered assets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets)
}

func (s *Store) snapshotLocked(id string, a *asset, now time.Time) model.AssetSnapshot {
	return model.AssetSnapshot{
		ChainID:     s.chainID,
		Account:     s.account,
		ID:          id,
		Name:        a.meta.Name,
		Kind:        string(a.meta.Kind),
		Underlying:  a.meta.Underlying,
		Decimals:    a.meta.Decimals,
		Balance:     a.balance.value,
		VaultPrice:  a.vaultPrice.value,
		PriceUSD:    a.priceUSD.value,
		APR:         a.apr.value,
		TotalSupply: a.totalSupply.value,
		BalanceUSD:  a.balanceUSD,
		TVL:         a.tvl,
		TVLUSD:      a.tvlUSD,
		Cycle:       a.cycle,
		TakenAt:     now,
	}
}

// decode turns a result into a field value. ok is false when the field must
// stay untouched.
func decode(res multicall.Result, defaultDecimals int) (decimal.Decimal, bool, error) {
	call := res.Call
	if call.PostProcess != nil {
		var (
			values []interface{}
			err    error
		)
		if res.OK() {
			values, err = call.Unpack(res.Raw)
			if err != nil {
				values = nil
			}
		}
		return call.PostProcess(values), true, err
	}
	if !res.OK() {
		return decimal.Decimal{}, false, nil
	}

	value, err := res.Decimal(defaultDecimals)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return value, true, nil
}
