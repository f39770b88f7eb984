package portfolio

import "github.com/shopspring/decimal"

// recompute derives balanceUsd, tvl and tvlUsd from the primitive fields. It
// only reads primitives, so running it twice yields the same output. A derived
// field is null while any of its inputs is not loaded.
func recompute(a *asset) {
	a.balanceUSD = product(a.balance.value, a.vaultPrice.value, a.priceUSD.value)
	a.tvl = product(a.totalSupply.value, a.vaultPrice.value)
	a.tvlUSD = product(a.totalSupply.value, a.vaultPrice.value, a.priceUSD.value)
}

func product(factors ...decimal.NullDecimal) decimal.NullDecimal {
	out := decimal.NewFromInt(1)
	for _, f := range factors {
		if !f.Valid {
			return decimal.NullDecimal{}
		}
		out = out.Mul(f.Decimal)
	}
	return decimal.NewNullDecimal(out)
}
