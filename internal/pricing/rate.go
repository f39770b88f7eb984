package pricing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vaultScope/internal/contracts"
	"vaultScope/internal/multicall"
)

var one = decimal.NewFromInt(1)

// ConversionRateSpec prices a token without a direct oracle through a router quote.
type ConversionRateSpec struct {
	Router          common.Address
	Path            []common.Address
	Method          RouterMethod
	Invert          bool
	NormalizingUnit *big.Int
	FromDecimals    *int
	ToDecimals      *int
}

// Resolve builds the conversion-rate spec of a token from static configuration.
// It reports false when the token has no rate config or its router or target
// token are not registered.
func Resolve(token Token, reg *Registry) (*ConversionRateSpec, bool) {
	if token.Rate == nil {
		return nil, false
	}
	router, ok := reg.Contract(token.Rate.Router)
	if !ok {
		return nil, false
	}
	to, ok := reg.Token(token.Rate.To)
	if !ok {
		return nil, false
	}

	path := []common.Address{token.Address}
	wrapped := reg.WrappedNative
	if !token.Rate.SkipIntermediate && wrapped != (common.Address{}) && token.Address != wrapped && to.Address != wrapped {
		path = append(path, wrapped)
	}
	path = append(path, to.Address)

	method := token.Rate.Method
	if method == "" {
		method = AmountsOut
	}

	unitDecimals := token.Decimals
	if method == AmountsIn {
		unitDecimals = to.Decimals
	}
	unit := big.NewInt(1)
	if unitDecimals != nil {
		unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(*unitDecimals)), nil)
	}

	return &ConversionRateSpec{
		Router:          router,
		Path:            path,
		Method:          method,
		Invert:          token.Rate.Invert,
		NormalizingUnit: unit,
		FromDecimals:    token.Decimals,
		ToDecimals:      to.Decimals,
	}, true
}

// Call returns the router quote call routed to entityID's USD price.
func (s *ConversionRateSpec) Call(entityID string) *multicall.Call {
	routerABI := contracts.MustParsed(contracts.RouterABI)
	name := "getAmountsOut"
	if s.Method == AmountsIn {
		name = "getAmountsIn"
	}
	return multicall.NewCall(entityID, multicall.FieldPriceUSD, s.Router, routerABI, name, new(big.Int).Set(s.NormalizingUnit), s.Path).
		WithPostProcess(s.PostProcess)
}

// PostProcess converts the router's amount array into a price. It falls back to
// 1 when the call failed, decimals are unknown or the quote is unusable.
func (s *ConversionRateSpec) PostProcess(values []interface{}) decimal.Decimal {
	if len(values) == 0 || s.FromDecimals == nil || s.ToDecimals == nil {
		return one
	}
	amounts, err := contracts.AsBigIntSlice(values[0])
	if err != nil || len(amounts) < 2 {
		return one
	}
	first := amounts[0]
	last := amounts[len(amounts)-1]
	if first.Sign() <= 0 || last.Sign() <= 0 {
		return one
	}

	in := decimal.NewFromBigInt(first, -int32(*s.FromDecimals))
	out := decimal.NewFromBigInt(last, -int32(*s.ToDecimals))
	if s.Invert {
		return in.Div(out)
	}
	return out.Div(in)
}
