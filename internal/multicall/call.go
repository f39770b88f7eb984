package multicall

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vaultScope/internal/contracts"
)

// Field names the asset field a call result is routed into.
type Field string

const (
	FieldBalance     Field = "balance"
	FieldVaultPrice  Field = "vault_price"
	FieldPriceUSD    Field = "price_usd"
	FieldAPR         Field = "apr"
	FieldTotalSupply Field = "total_supply"
	FieldDecimals    Field = "decimals"
)

// PostProcessFunc turns the unpacked outputs of a call into a value. It is
// called with nil values when the call failed, so it can choose a fallback.
type PostProcessFunc func(values []interface{}) decimal.Decimal

// Call describes one pending read-only contract call plus the metadata needed to
// route its result back to the entity that asked for it.
type Call struct {
	EntityID    string
	Field       Field
	Target      common.Address
	ABI         *abi.ABI
	Method      string
	Args        []interface{}
	Decimals    *int
	PostProcess PostProcessFunc
}

// NewCall builds a call descriptor. The entity id is lower-cased.
func NewCall(entityID string, field Field, target common.Address, parsed *abi.ABI, method string, args ...interface{}) *Call {
	return &Call{
		EntityID: strings.ToLower(entityID),
		Field:    field,
		Target:   target,
		ABI:      parsed,
		Method:   method,
		Args:     args,
	}
}

// WithDecimals sets the scale used to normalize the numeric result.
func (c *Call) WithDecimals(decimals int) *Call {
	c.Decimals = &decimals
	return c
}

// WithPostProcess replaces the default numeric decode.
func (c *Call) WithPostProcess(fn PostProcessFunc) *Call {
	c.PostProcess = fn
	return c
}

// Rekey returns a copy of the call routed to another entity and field.
func (c *Call) Rekey(entityID string, field Field) *Call {
	cp := *c
	cp.EntityID = strings.ToLower(entityID)
	cp.Field = field
	return &cp
}

// CallData packs the method selector and arguments.
func (c *Call) CallData() ([]byte, error) {
	if c.ABI == nil {
		return nil, fmt.Errorf("call %s.%s: abi is nil", c.EntityID, c.Method)
	}
	data, err := c.ABI.Pack(c.Method, c.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", c.Method, err)
	}
	return data, nil
}

// Unpack decodes raw return data with the call's ABI method.
func (c *Call) Unpack(raw []byte) ([]interface{}, error) {
	if c.ABI == nil {
		return nil, fmt.Errorf("call %s.%s: abi is nil", c.EntityID, c.Method)
	}
	values, err := c.ABI.Unpack(c.Method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", c.Method, err)
	}
	return values, nil
}

// Result is one call's outcome. Raw is nil when the call reverted, returned no
// data, or its chunk failed in transport (Err is set in that last case only).
type Result struct {
	EntityID string
	Raw      []byte
	Call     *Call
	Block    uint64
	Err      error
}

// OK reports whether the call returned data.
func (r Result) OK() bool {
	return r.Raw != nil
}

// Decimal decodes the first output as an integer scaled down by the call's
// decimals, or defaultDecimals when the call carries none.
func (r Result) Decimal(defaultDecimals int) (decimal.Decimal, error) {
	if !r.OK() {
		return decimal.Decimal{}, fmt.Errorf("call %s returned no data", r.EntityID)
	}
	values, err := r.Call.Unpack(r.Raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(values) == 0 {
		return decimal.Decimal{}, fmt.Errorf("%s returned no values", r.Call.Method)
	}
	n, err := contracts.AsBigInt(values[0])
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", r.Call.Method, err)
	}

	decimals := defaultDecimals
	if r.Call.Decimals != nil {
		decimals = *r.Call.Decimals
	}
	return decimal.NewFromBigInt(n, -int32(decimals)), nil
}
