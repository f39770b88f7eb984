package registry

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"vaultScope/internal/multicall"
	"vaultScope/internal/vault"
)

const fixture = `
chain_id: 1
multicall: "0xcA11bde05977b3631167028862bE2a173976CA11"
wrapped_native: WETH
contracts:
  uniswapRouter: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
tokens:
  WETH:
    address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
    decimals: 18
    rate: {router: uniswapRouter, to: USDC}
  USDC:
    address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    decimals: 6
    usd_price: "1"
  DAI:
    address: "0x6B175474E89094C44Da98b954EedeAC495271d0F"
    rate: {router: uniswapRouter, to: USDC, method: amountsIn}
vaults:
  - type: underlying
    address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    name: USDC
    decimals: 6
  - type: yield
    address: "0x3fE7940616e5Bc47b0775a0dccf6237893353bB4"
    name: idleDAI
    decimals: 18
    underlying: DAI
    referral_methods: [mintIdleTokenRef]
  - type: tranche
    address: "0xE9ada97bDB86d827ecbaACCa63eBcD8201D8b12E"
    name: AA_USDC
    decimals: 18
    underlying: USDC
    cdo: "0xd0DbcD556cA22d3f3c142e9a3220053FD7a247BC"
    tranche_type: AA
  - type: tranche
    address: "0x730348a54bA58F64295154F0662A08Cbde1225c2"
    name: BB_USDC
    decimals: 18
    underlying: USDC
    cdo: "0xd0DbcD556cA22d3f3c142e9a3220053FD7a247BC"
    tranche_type: BB
  - type: gauge
    address: "0x675eb2a0e1d8da4d1dd49c1c8ebae2b03d7e3f8d"
    name: gauge AA_USDC
    decimals: 18
    tranche: "0xE9ada97bDB86d827ecbaACCa63eBcD8201D8b12E"
  - type: gauge
    address: "0x1111111111111111111111111111111111111111"
    name: orphan gauge
    decimals: 18
    tranche: "0x2222222222222222222222222222222222222222"
`

func TestBuildRegistry(t *testing.T) {
	f, err := Parse([]byte(fixture))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg, err := f.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if reg.ChainID != 1 || reg.Multicall != common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11") {
		t.Fatalf("chain %d multicall %s", reg.ChainID, reg.Multicall.Hex())
	}
	if reg.Pricing.WrappedNative != common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2") {
		t.Fatalf("wrapped native %s", reg.Pricing.WrappedNative.Hex())
	}
	if len(reg.Vaults) != 6 {
		t.Fatalf("vaults %d", len(reg.Vaults))
	}

	usdc, ok := reg.Vault("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	if !ok || usdc.Kind() != vault.KindUnderlying || usdc.Config().Underlying == nil {
		t.Fatalf("underlying vault should resolve its own token")
	}

	dai, _ := reg.Pricing.Token("dai")
	if dai.Rate == nil || dai.Rate.Method != "amountsIn" {
		t.Fatalf("dai rate %+v", dai.Rate)
	}

	aa, _ := reg.Vault("0xE9ada97bDB86d827ecbaACCa63eBcD8201D8b12E")
	if gauges := aa.Config().Gauges; len(gauges) != 1 || gauges[0] != common.HexToAddress("0x675eb2a0e1d8da4d1dd49c1c8ebae2b03d7e3f8d") {
		t.Fatalf("tranche gauges %v", gauges)
	}

	gauge, _ := reg.Vault("0x675eb2a0e1d8da4d1dd49c1c8ebae2b03d7e3f8d")
	if gauge.Kind() != vault.KindGauge || len(gauge.PriceCalls()) != 1 {
		t.Fatalf("gauge should price through its tranche")
	}
	if gauge.Config().Underlying == nil || gauge.Config().Underlying.Symbol != "USDC" {
		t.Fatalf("gauge should inherit USDC")
	}

	orphan, _ := reg.Vault("0x1111111111111111111111111111111111111111")
	if len(orphan.PriceCalls()) != 0 {
		t.Fatalf("gauge with unknown tranche should have no price calls")
	}

	idle, _ := reg.Vault("0x3fE7940616e5Bc47b0775a0dccf6237893353bB4")
	if len(idle.PriceCalls()) != 0 {
		t.Fatalf("yield token priced before dai decimals were known")
	}
	if methods := idle.Config().ReferralMethods; len(methods) != 1 || methods[0] != "mintIdleTokenRef" {
		t.Fatalf("referral methods %v", methods)
	}
}

func TestParseRejectsInvalidRegistry(t *testing.T) {
	cases := map[string]string{
		"multicall":      "multicall: nope\n",
		"vault type":     "multicall: \"0xcA11bde05977b3631167028862bE2a173976CA11\"\nvaults:\n  - {type: vault, address: \"0x1111111111111111111111111111111111111111\"}\n",
		"duplicate":      "multicall: \"0xcA11bde05977b3631167028862bE2a173976CA11\"\nvaults:\n  - {type: yield, address: \"0x1111111111111111111111111111111111111111\"}\n  - {type: yield, address: \"0x1111111111111111111111111111111111111111\"}\n",
		"router method":  "multicall: \"0xcA11bde05977b3631167028862bE2a173976CA11\"\ntokens:\n  DAI: {address: \"0x6B175474E89094C44Da98b954EedeAC495271d0F\", rate: {router: r, to: USDC, method: swap}}\n",
		"wrapped native": "multicall: \"0xcA11bde05977b3631167028862bE2a173976CA11\"\nwrapped_native: WETH\n",
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestBuildRequiresVaultDecimals(t *testing.T) {
	f, err := Parse([]byte("multicall: \"0xcA11bde05977b3631167028862bE2a173976CA11\"\nvaults:\n  - {type: yield, address: \"0x1111111111111111111111111111111111111111\"}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := f.Build(); err == nil || !strings.Contains(err.Error(), "decimals") {
		t.Fatalf("expected decimals error, got %v", err)
	}
}

type decimalsExecutor struct {
	decimals map[common.Address]uint8
	calls    int
}

func (d *decimalsExecutor) Execute(_ context.Context, calls []*multicall.Call) ([]multicall.Result, error) {
	d.calls += len(calls)
	out := make([]multicall.Result, len(calls))
	for i, call := range calls {
		out[i] = multicall.Result{EntityID: call.EntityID, Call: call}
		if value, ok := d.decimals[call.Target]; ok {
			raw, err := call.ABI.Methods[call.Method].Outputs.Pack(value)
			if err != nil {
				return nil, err
			}
			out[i].Raw = raw
		}
	}
	return out, nil
}

func TestResolveDecimalsFillsMissingEntries(t *testing.T) {
	f, err := Parse([]byte(fixture))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	daiAddr := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	exec := &decimalsExecutor{decimals: map[common.Address]uint8{daiAddr: 18}}

	cache := NewDecimalsCache()
	resolved, err := f.ResolveDecimals(context.Background(), exec, cache, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if exec.calls != 1 || len(resolved) != 1 || resolved[0].Decimals != 18 {
		t.Fatalf("calls %d resolved %+v", exec.calls, resolved)
	}
	if f.Tokens["DAI"].Decimals == nil || *f.Tokens["DAI"].Decimals != 18 {
		t.Fatalf("dai decimals not filled")
	}

	reg, err := f.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	idle, _ := reg.Vault("0x3fE7940616e5Bc47b0775a0dccf6237893353bB4")
	if calls := idle.PriceCalls(); len(calls) != 1 || *calls[0].Decimals != 18 {
		t.Fatalf("yield token price calls after resolving decimals: %v", calls)
	}

	if _, err := f.ResolveDecimals(context.Background(), exec, cache, nil); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if exec.calls != 1 {
		t.Fatalf("resolved entries should not be queried again")
	}
}

func TestResolveDecimalsWithNothingMissing(t *testing.T) {
	f := &File{Tokens: map[string]TokenFile{"USDC": {Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: new(int)}}}
	if _, err := f.ResolveDecimals(context.Background(), nil, nil, nil); err != nil {
		t.Fatalf("nothing to resolve should not need an executor: %v", err)
	}
}
