package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetSnapshot is a read-only copy of one asset's state after a cycle.
// Null fields have not been loaded yet, which is distinct from zero.
type AssetSnapshot struct {
	ChainID     uint64              `json:"chain_id"`
	Account     string              `json:"account"`
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Kind        string              `json:"kind"`
	Underlying  string              `json:"underlying,omitempty"`
	Decimals    int                 `json:"decimals"`
	Balance     decimal.NullDecimal `json:"balance"`
	VaultPrice  decimal.NullDecimal `json:"vault_price"`
	PriceUSD    decimal.NullDecimal `json:"price_usd"`
	APR         decimal.NullDecimal `json:"apr"`
	TotalSupply decimal.NullDecimal `json:"total_supply"`
	BalanceUSD  decimal.NullDecimal `json:"balance_usd"`
	TVL         decimal.NullDecimal `json:"tvl"`
	TVLUSD      decimal.NullDecimal `json:"tvl_usd"`
	Cycle       uint64              `json:"cycle"`
	TakenAt     time.Time           `json:"taken_at"`
}
