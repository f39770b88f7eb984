package model

import "github.com/shopspring/decimal"

// Action is the semantic action reconstructed from a transfer group.
type Action string

const (
	ActionDeposit Action = "deposit"
	ActionRedeem  Action = "redeem"
)

// Sub-actions qualify how a deposit or redeem happened.
const (
	SubActionReferral = "referral"
	SubActionSend     = "send"
	SubActionReceive  = "receive"
	SubActionSwap     = "swap"
)

// PriceSource tells where the exchange rate of a classified transaction came from.
type PriceSource string

const (
	PriceImplied    PriceSource = "implied"
	PriceHistorical PriceSource = "historical"
	PriceMissing    PriceSource = "missing"
)

// ClassifiedTransaction is a vault-token transfer with its inferred action.
type ClassifiedTransaction struct {
	RawTransferRecord
	ChainID          uint64          `json:"chain_id"`
	Account          string          `json:"account"`
	VaultID          string          `json:"vault_id"`
	Action           Action          `json:"action"`
	SubAction        string          `json:"sub_action,omitempty"`
	VaultTokenAmount decimal.Decimal `json:"vault_token_amount"`
	UnderlyingAmount decimal.Decimal `json:"underlying_amount"`
	ExchangeRateUsed decimal.Decimal `json:"exchange_rate_used"`
	PriceSource      PriceSource     `json:"price_source"`
}
