package pricing

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// RouterMethod selects the router quote used for a conversion rate.
type RouterMethod string

const (
	AmountsOut RouterMethod = "amountsOut"
	AmountsIn  RouterMethod = "amountsIn"
)

// RateConfig is the static per-token description of how to price it through a DEX router.
type RateConfig struct {
	Router           string
	To               string
	Method           RouterMethod
	Invert           bool
	SkipIntermediate bool
}

// Token is a static token registry entry.
type Token struct {
	Symbol    string
	Address   common.Address
	Decimals  *int
	Rate      *RateConfig
	StaticUSD *decimal.Decimal
}

// ID returns the lower-cased token address.
func (t Token) ID() string {
	return strings.ToLower(t.Address.Hex())
}

// Registry is the read-only contract and token registry of one chain.
type Registry struct {
	Contracts     map[string]common.Address
	WrappedNative common.Address
	Tokens        map[string]Token
}

// Token looks up a token by symbol, case-insensitively.
func (r *Registry) Token(symbol string) (Token, bool) {
	if r == nil {
		return Token{}, false
	}
	if token, ok := r.Tokens[symbol]; ok {
		return token, true
	}
	for key, token := range r.Tokens {
		if strings.EqualFold(key, symbol) {
			return token, true
		}
	}
	return Token{}, false
}

// Contract looks up a named contract address.
func (r *Registry) Contract(name string) (common.Address, bool) {
	if r == nil {
		return common.Address{}, false
	}
	address, ok := r.Contracts[name]
	if !ok || address == (common.Address{}) {
		return common.Address{}, false
	}
	return address, true
}
