package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vaultScope/internal/pricing"
	"vaultScope/internal/vault"
)

// Registry is the built, read-only registry of one chain.
type Registry struct {
	ChainID   uint64
	Multicall common.Address
	Pricing   *pricing.Registry
	Vaults    []vault.Vault
}

// Vault looks up a vault by address.
func (r *Registry) Vault(address string) (vault.Vault, bool) {
	id := strings.ToLower(address)
	for _, v := range r.Vaults {
		if v.ID() == id {
			return v, true
		}
	}
	return nil, false
}

// Build turns the file into vault providers. Vault decimals must be known;
// call ResolveDecimals first when the file omits some.
func (f *File) Build() (*Registry, error) {
	reg := &pricing.Registry{
		Contracts: make(map[string]common.Address, len(f.Contracts)),
		Tokens:    make(map[string]pricing.Token, len(f.Tokens)),
	}
	for name, addr := range f.Contracts {
		reg.Contracts[name] = common.HexToAddress(addr)
	}
	for symbol, tf := range f.Tokens {
		token, err := buildToken(symbol, tf)
		if err != nil {
			return nil, err
		}
		reg.Tokens[symbol] = token
	}
	if f.WrappedNative != "" {
		wrapped, _ := reg.Token(f.WrappedNative)
		reg.WrappedNative = wrapped.Address
	}

	// Gauges point at their tranche; tranches learn their gauges here.
	gaugesOf := make(map[string][]common.Address)
	for _, vf := range f.Vaults {
		if vf.Type == string(vault.KindGauge) && vf.Tranche != "" {
			key := strings.ToLower(vf.Tranche)
			gaugesOf[key] = append(gaugesOf[key], common.HexToAddress(vf.Address))
		}
	}

	out := &Registry{
		ChainID:   f.ChainID,
		Multicall: common.HexToAddress(f.Multicall),
		Pricing:   reg,
	}
	tranches := make(map[string]*vault.TrancheToken)
	var gauges []vault.Config
	for _, vf := range f.Vaults {
		cfg, err := vaultConfig(vf, reg)
		if err != nil {
			return nil, err
		}
		if cfg.Kind == vault.KindGauge {
			gauges = append(gauges, cfg)
			continue
		}
		if cfg.Kind == vault.KindTranche {
			cfg.Gauges = gaugesOf[cfg.ID()]
		}
		v, ok := vault.New(cfg)
		if !ok {
			return nil, fmt.Errorf("vault %s: unknown type %q", vf.Address, vf.Type)
		}
		if tr, ok := v.(*vault.TrancheToken); ok {
			tranches[tr.ID()] = tr
		}
		out.Vaults = append(out.Vaults, v)
	}
	for _, cfg := range gauges {
		tranche := tranches[strings.ToLower(cfg.Tranche.Hex())]
		out.Vaults = append(out.Vaults, vault.NewGaugeToken(cfg, tranche))
	}
	return out, nil
}

func buildToken(symbol string, tf TokenFile) (pricing.Token, error) {
	token := pricing.Token{
		Symbol:   symbol,
		Address:  common.HexToAddress(tf.Address),
		Decimals: tf.Decimals,
	}
	if tf.USDPrice != "" {
		price, err := decimal.NewFromString(tf.USDPrice)
		if err != nil {
			return pricing.Token{}, fmt.Errorf("token %s: invalid usd_price: %w", symbol, err)
		}
		token.StaticUSD = &price
	}
	if tf.Rate != nil {
		method := pricing.AmountsOut
		if strings.EqualFold(tf.Rate.Method, string(pricing.AmountsIn)) {
			method = pricing.AmountsIn
		}
		token.Rate = &pricing.RateConfig{
			Router:           tf.Rate.Router,
			To:               tf.Rate.To,
			Method:           method,
			Invert:           tf.Rate.Invert,
			SkipIntermediate: tf.Rate.SkipIntermediate,
		}
	}
	return token, nil
}

func vaultConfig(vf VaultFile, reg *pricing.Registry) (vault.Config, error) {
	if vf.Decimals == nil {
		return vault.Config{}, fmt.Errorf("vault %s: decimals unknown", vf.Address)
	}
	cfg := vault.Config{
		Kind:            vault.Kind(vf.Type),
		Address:         common.HexToAddress(vf.Address),
		Name:            vf.Name,
		Decimals:        *vf.Decimals,
		TrancheType:     vf.TrancheType,
		ReferralMethods: vf.ReferralMethods,
	}
	if vf.CDO != "" {
		cfg.CDO = common.HexToAddress(vf.CDO)
	}
	if vf.Tranche != "" {
		cfg.Tranche = common.HexToAddress(vf.Tranche)
	}
	if underlying, ok := lookupUnderlying(vf, reg); ok {
		cfg.Underlying = &underlying
	}
	return cfg, nil
}

// lookupUnderlying resolves by symbol, and for plain tokens also by the vault's
// own address. A miss leaves the vault without an underlying.
func lookupUnderlying(vf VaultFile, reg *pricing.Registry) (pricing.Token, bool) {
	if vf.Underlying != "" {
		return reg.Token(vf.Underlying)
	}
	if vf.Type != string(vault.KindUnderlying) {
		return pricing.Token{}, false
	}
	addr := common.HexToAddress(vf.Address)
	for _, token := range reg.Tokens {
		if token.Address == addr {
			return token, true
		}
	}
	return pricing.Token{}, false
}
