package history

import (
	"context"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vaultScope/internal/metrics"
	"vaultScope/internal/model"
	"vaultScope/internal/vault"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// Classifier reconstructs deposits and redeems from a wallet's transfer log.
//
// The rules infer intent from the shape of each transaction's transfers, not
// from decoded calldata, so they are a best-effort heuristic. Every transfer of
// the vault token that touches the wallet ends up as exactly one deposit or
// redeem; the swap fallback catches whatever the explicit patterns miss.
type Classifier struct {
	prices  PriceLookup
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewClassifier(prices PriceLookup, m *metrics.Metrics, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{prices: prices, metrics: m, logger: logger}
}

// txGroup is every non-zero transfer sharing one hash.
type txGroup struct {
	hash      string
	transfers []model.RawTransferRecord
}

// groupByHash groups records by hash in first-appearance order and drops
// zero-value transfers.
func groupByHash(records []model.RawTransferRecord) []txGroup {
	index := make(map[string]int)
	var groups []txGroup
	for _, rec := range records {
		rec = rec.Normalize()
		if rec.IsZero() {
			continue
		}
		i, ok := index[rec.Hash]
		if !ok {
			i = len(groups)
			index[rec.Hash] = i
			groups = append(groups, txGroup{hash: rec.Hash})
		}
		groups[i].transfers = append(groups[i].transfers, rec)
	}
	return groups
}

// vaultView is the per-vault context the predicates read.
type vaultView struct {
	token      string
	underlying string
	gauges     map[string]struct{}
	referral   []string
	decimals   int32
	underDec   *int32
	account    string
}

func newVaultView(v vault.Vault, account string) vaultView {
	cfg := v.Config()
	view := vaultView{
		token:    v.ID(),
		gauges:   make(map[string]struct{}, len(cfg.Gauges)),
		referral: cfg.ReferralMethods,
		decimals: int32(cfg.Decimals),
		account:  strings.ToLower(account),
	}
	if cfg.Underlying != nil {
		underlying := cfg.Underlying.ID()
		// A plain token is its own underlying; it has nothing to correlate with.
		if underlying != view.token {
			view.underlying = underlying
			if cfg.Underlying.Decimals != nil {
				d := int32(*cfg.Underlying.Decimals)
				view.underDec = &d
			}
		}
	}
	for _, g := range cfg.Gauges {
		view.gauges[strings.ToLower(g.Hex())] = struct{}{}
	}
	return view
}

func (w vaultView) touchesWallet(rec model.RawTransferRecord) bool {
	return rec.From == w.account || rec.To == w.account
}

func (w vaultView) isGaugeTransfer(rec model.RawTransferRecord) bool {
	_, from := w.gauges[rec.From]
	_, to := w.gauges[rec.To]
	return from || to
}

// underlyingFlows splits the group's underlying transfers by direction
// relative to the wallet.
func (w vaultView) underlyingFlows(g txGroup) (out, in []model.RawTransferRecord) {
	if w.underlying == "" {
		return nil, nil
	}
	for _, rec := range g.transfers {
		if rec.ContractAddress != w.underlying {
			continue
		}
		switch w.account {
		case rec.From:
			out = append(out, rec)
		case rec.To:
			in = append(in, rec)
		}
	}
	return out, in
}

// isRightToken: a multi-transfer group that also moves the vault's underlying.
func (w vaultView) isRightToken(g txGroup) bool {
	if len(g.transfers) < 2 || w.underlying == "" {
		return false
	}
	for _, rec := range g.transfers {
		if rec.ContractAddress == w.underlying {
			return true
		}
	}
	return false
}

// isWalletToWallet is a lone transfer between two ordinary accounts.
func (w vaultView) isWalletToWallet(g txGroup, rec model.RawTransferRecord) bool {
	if len(g.transfers) != 1 {
		return false
	}
	other := rec.From
	if other == w.account {
		other = rec.To
	}
	return other != w.token && other != zeroAddress && other != ""
}

func (w vaultView) isReferral(functionName string) bool {
	if functionName == "" {
		return false
	}
	name := functionName
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if len(w.referral) == 0 {
		return strings.Contains(strings.ToLower(functionName), "referral")
	}
	for _, method := range w.referral {
		if strings.EqualFold(name, method) {
			return true
		}
	}
	return false
}

// Classify emits one classified transaction per vault-token transfer touching
// the account. chainID is carried onto the output only.
func (c *Classifier) Classify(ctx context.Context, v vault.Vault, chainID uint64, account string, records []model.RawTransferRecord) []model.ClassifiedTransaction {
	view := newVaultView(v, account)
	var out []model.ClassifiedTransaction
	seen := make(map[string]struct{})

	for _, g := range groupByHash(records) {
		rightToken := view.isRightToken(g)
		underOut, underIn := view.underlyingFlows(g)

		for _, rec := range g.transfers {
			if rec.ContractAddress != view.token || !view.touchesWallet(rec) {
				continue
			}
			if view.isGaugeTransfer(rec) {
				c.logger.Debug("skip gauge transfer", zap.String("vault", view.token), zap.String("hash", rec.Hash))
				continue
			}

			incoming := rec.To == view.account
			var (
				action     model.Action
				subAction  string
				correlated []model.RawTransferRecord
			)
			switch {
			case incoming && rightToken && len(underOut) > 0:
				action, correlated = model.ActionDeposit, underOut
			case !incoming && rightToken && len(underIn) > 0:
				action, correlated = model.ActionRedeem, underIn
			case view.isWalletToWallet(g, rec) && incoming:
				action, subAction = model.ActionDeposit, model.SubActionReceive
			case view.isWalletToWallet(g, rec):
				action, subAction = model.ActionRedeem, model.SubActionSend
			case incoming:
				action, subAction = model.ActionDeposit, model.SubActionSwap
			default:
				action, subAction = model.ActionRedeem, model.SubActionSwap
			}
			if action == model.ActionDeposit && subAction == "" && view.isReferral(rec.FunctionName) {
				subAction = model.SubActionReferral
			}

			key := rec.Hash + ":" + string(action)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			if subAction == model.SubActionSwap {
				c.logger.Debug("classified by swap fallback",
					zap.String("vault", view.token),
					zap.String("hash", rec.Hash),
					zap.String("action", string(action)),
				)
			}

			tx := model.ClassifiedTransaction{
				RawTransferRecord: rec,
				ChainID:           chainID,
				Account:           view.account,
				VaultID:           view.token,
				Action:            action,
				SubAction:         subAction,
				VaultTokenAmount:  scale(rec.Value, view.decimals),
			}
			c.price(ctx, v, view, &tx, correlated)
			c.metrics.IncClassified(string(tx.Action), tx.SubAction)
			out = append(out, tx)
		}
	}
	return out
}

// price fills the underlying amount and rate, from the correlated underlying
// transfers when there are any and from the vault price at the block otherwise.
func (c *Classifier) price(ctx context.Context, v vault.Vault, view vaultView, tx *model.ClassifiedTransaction, correlated []model.RawTransferRecord) {
	if len(correlated) > 0 && view.underDec != nil && !tx.VaultTokenAmount.IsZero() {
		total := new(big.Int)
		for _, rec := range correlated {
			total.Add(total, rec.Value)
		}
		tx.UnderlyingAmount = scale(total, *view.underDec)
		tx.ExchangeRateUsed = tx.UnderlyingAmount.Div(tx.VaultTokenAmount)
		tx.PriceSource = model.PriceImplied
		return
	}

	if c.prices == nil {
		tx.PriceSource = model.PriceMissing
		return
	}
	price, err := c.prices.PriceAt(ctx, v, tx.BlockNumber)
	if err != nil {
		c.logger.Warn("historical price unavailable",
			zap.String("vault", view.token),
			zap.String("hash", tx.Hash),
			zap.Uint64("block", tx.BlockNumber),
			zap.Error(err),
		)
		tx.PriceSource = model.PriceMissing
		return
	}
	tx.ExchangeRateUsed = price
	tx.UnderlyingAmount = tx.VaultTokenAmount.Mul(price)
	tx.PriceSource = model.PriceHistorical
}

func scale(value *big.Int, decimals int32) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -decimals)
}
