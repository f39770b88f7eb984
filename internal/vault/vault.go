package vault

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vaultScope/internal/multicall"
	"vaultScope/internal/pricing"
)

// Kind tags a vault variant.
type Kind string

const (
	KindUnderlying Kind = "underlying"
	KindYield      Kind = "yield"
	KindTranche    Kind = "tranche"
	KindGauge      Kind = "gauge"
)

// aprDecimals is the scale of getAvgAPR and getApr results (percent with 18 decimals).
const aprDecimals = 18

// Config is the immutable static configuration of a vault.
type Config struct {
	Kind            Kind
	Address         common.Address
	Name            string
	Decimals        int
	Underlying      *pricing.Token
	CDO             common.Address
	TrancheType     string
	Tranche         common.Address
	Gauges          []common.Address
	ReferralMethods []string
}

// ID returns the lower-cased vault address.
func (c Config) ID() string {
	return strings.ToLower(c.Address.Hex())
}

// AssetMetadata is what the aggregation loop needs to register an asset.
type AssetMetadata struct {
	ID         string
	Name       string
	Kind       Kind
	Decimals   int
	Underlying string
	// VaultPrice is preset for vaults priced 1:1 with their own token.
	VaultPrice *decimal.Decimal
	// PriceUSD is preset for underlyings with a static USD price.
	PriceUSD *decimal.Decimal
}

// Vault produces the call descriptors that load one asset. Every variant
// implements every capability; capabilities that do not apply return nil.
type Vault interface {
	ID() string
	Kind() Kind
	Config() Config
	BalanceCalls(owner common.Address) []*multicall.Call
	PriceCalls() []*multicall.Call
	// PriceCallsFor returns the vault price calls routed to another entity.
	PriceCallsFor(entityID string) []*multicall.Call
	USDPriceCalls(reg *pricing.Registry) []*multicall.Call
	APRCalls() []*multicall.Call
	TotalSupplyCalls() []*multicall.Call
	AssetMetadata() AssetMetadata
}

type base struct {
	cfg Config
}

func (b base) ID() string     { return b.cfg.ID() }
func (b base) Kind() Kind     { return b.cfg.Kind }
func (b base) Config() Config { return b.cfg }

func (b base) BalanceCalls(owner common.Address) []*multicall.Call {
	return []*multicall.Call{balanceOfCall(b.ID(), b.cfg.Address, owner, b.cfg.Decimals)}
}

func (b base) TotalSupplyCalls() []*multicall.Call {
	return []*multicall.Call{totalSupplyCall(b.ID(), b.cfg.Address, b.cfg.Decimals)}
}

// USDPriceCalls prices the vault's underlying in USD for the vault's entity.
func (b base) USDPriceCalls(reg *pricing.Registry) []*multicall.Call {
	if b.cfg.Underlying == nil || b.cfg.Underlying.StaticUSD != nil {
		return nil
	}
	spec, ok := pricing.Resolve(*b.cfg.Underlying, reg)
	if !ok {
		return nil
	}
	return []*multicall.Call{spec.Call(b.ID())}
}

func (b base) AssetMetadata() AssetMetadata {
	meta := AssetMetadata{
		ID:       b.ID(),
		Name:     b.cfg.Name,
		Kind:     b.cfg.Kind,
		Decimals: b.cfg.Decimals,
	}
	if b.cfg.Underlying != nil {
		meta.Underlying = b.cfg.Underlying.Symbol
		if b.cfg.Underlying.StaticUSD != nil {
			usd := *b.cfg.Underlying.StaticUSD
			meta.PriceUSD = &usd
		}
	}
	return meta
}

func (b base) underlyingDecimals() (int, bool) {
	if b.cfg.Underlying == nil || b.cfg.Underlying.Decimals == nil {
		return 0, false
	}
	return *b.cfg.Underlying.Decimals, true
}

// UnderlyingToken is a plain ERC20 held directly. Its vault price is always 1.
type UnderlyingToken struct {
	base
}

func NewUnderlyingToken(cfg Config) *UnderlyingToken {
	cfg.Kind = KindUnderlying
	return &UnderlyingToken{base{cfg: cfg}}
}

func (u *UnderlyingToken) PriceCalls() []*multicall.Call { return nil }

func (u *UnderlyingToken) PriceCallsFor(string) []*multicall.Call { return nil }

func (u *UnderlyingToken) APRCalls() []*multicall.Call { return nil }

func (u *UnderlyingToken) AssetMetadata() AssetMetadata {
	meta := u.base.AssetMetadata()
	price := decimal.NewFromInt(1)
	meta.VaultPrice = &price
	return meta
}

// YieldAggregatorToken is a lending-aggregator token with tokenPrice/getAvgAPR.
type YieldAggregatorToken struct {
	base
}

func NewYieldAggregatorToken(cfg Config) *YieldAggregatorToken {
	cfg.Kind = KindYield
	return &YieldAggregatorToken{base{cfg: cfg}}
}

func (y *YieldAggregatorToken) PriceCalls() []*multicall.Call {
	return y.PriceCallsFor(y.ID())
}

func (y *YieldAggregatorToken) PriceCallsFor(entityID string) []*multicall.Call {
	decimals, ok := y.underlyingDecimals()
	if !ok {
		return nil
	}
	return []*multicall.Call{tokenPriceCall(entityID, y.cfg.Address, decimals)}
}

func (y *YieldAggregatorToken) APRCalls() []*multicall.Call {
	return []*multicall.Call{avgAPRCall(y.ID(), y.cfg.Address)}
}

// TrancheToken is one side (AA/BB) of a CDO. Both tranches share the CDO
// contract and differ only by the tranche address argument.
type TrancheToken struct {
	base
}

func NewTrancheToken(cfg Config) *TrancheToken {
	cfg.Kind = KindTranche
	return &TrancheToken{base{cfg: cfg}}
}

func (tr *TrancheToken) PriceCalls() []*multicall.Call {
	return tr.PriceCallsFor(tr.ID())
}

func (tr *TrancheToken) PriceCallsFor(entityID string) []*multicall.Call {
	decimals, ok := tr.underlyingDecimals()
	if !ok || tr.cfg.CDO == (common.Address{}) {
		return nil
	}
	return []*multicall.Call{virtualPriceCall(entityID, tr.cfg.CDO, tr.cfg.Address, decimals)}
}

func (tr *TrancheToken) APRCalls() []*multicall.Call {
	if tr.cfg.CDO == (common.Address{}) {
		return nil
	}
	return []*multicall.Call{trancheAPRCall(tr.ID(), tr.cfg.CDO, tr.cfg.Address)}
}

// GaugeToken is a staking gauge over a tranche. It has no price of its own.
type GaugeToken struct {
	base
	tranche *TrancheToken
}

// NewGaugeToken builds a gauge; tranche may be nil when the registry has no
// matching tranche, in which case price calls are empty.
func NewGaugeToken(cfg Config, tranche *TrancheToken) *GaugeToken {
	cfg.Kind = KindGauge
	if tranche != nil && cfg.Underlying == nil {
		cfg.Underlying = tranche.cfg.Underlying
	}
	return &GaugeToken{base: base{cfg: cfg}, tranche: tranche}
}

func (g *GaugeToken) PriceCalls() []*multicall.Call {
	return g.PriceCallsFor(g.ID())
}

// PriceCallsFor re-keys the tranche's price call; a gauge has no price of its own.
func (g *GaugeToken) PriceCallsFor(entityID string) []*multicall.Call {
	if g.tranche == nil {
		return nil
	}
	calls := g.tranche.PriceCalls()
	out := make([]*multicall.Call, 0, len(calls))
	for _, call := range calls {
		out = append(out, call.Rekey(entityID, multicall.FieldVaultPrice))
	}
	return out
}

func (g *GaugeToken) APRCalls() []*multicall.Call { return nil }

// New dispatches on cfg.Kind. Gauges must be built with NewGaugeToken.
func New(cfg Config) (Vault, bool) {
	switch cfg.Kind {
	case KindUnderlying:
		return NewUnderlyingToken(cfg), true
	case KindYield:
		return NewYieldAggregatorToken(cfg), true
	case KindTranche:
		return NewTrancheToken(cfg), true
	default:
		return nil, false
	}
}
