package portfolio

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"vaultScope/internal/model"
	"vaultScope/internal/multicall"
	"vaultScope/internal/pricing"
	"vaultScope/internal/vault"
)

var (
	daiAddr    = common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f")
	usdcAddr   = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	idleAddr   = common.HexToAddress("0x3fe7940616e5bc47b0775a0dccf6237893353bb4")
	cdoAddr    = common.HexToAddress("0xd0dbcd556ca22d3f3c142e9a3220053fd7a247bc")
	aaAddr     = common.HexToAddress("0xe9ada97bdb86d827ecbaacca63ebcd8201d8b12e")
	gaugeAddr  = common.HexToAddress("0x675eb2a0e1d8da4d1dd49c1c8ebae2b03d7e3f8d")
	routerAddr = common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
)

type answerKey struct {
	entity string
	field  multicall.Field
}

// fakeExecutor answers every call from a table keyed by entity and field;
// missing entries come back as failed calls.
type fakeExecutor struct {
	mu      sync.Mutex
	answers map[answerKey]interface{}
	batches [][][]*multicall.Call
	before  func()
	err     error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{answers: make(map[answerKey]interface{})}
}

func (f *fakeExecutor) answer(addr common.Address, field multicall.Field, value interface{}) {
	f.answers[answerKey{entity: vault.Config{Address: addr}.ID(), field: field}] = value
}

func (f *fakeExecutor) ExecuteBatches(_ context.Context, batches [][]*multicall.Call) ([][]multicall.Result, error) {
	if f.before != nil {
		hook := f.before
		f.before = nil
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batches)

	out := make([][]multicall.Result, len(batches))
	for i, batch := range batches {
		out[i] = make([]multicall.Result, len(batch))
		for j, call := range batch {
			out[i][j] = multicall.Result{EntityID: call.EntityID, Call: call, Block: 100}
			value, ok := f.answers[answerKey{entity: call.EntityID, field: call.Field}]
			if !ok {
				continue
			}
			raw, err := call.ABI.Methods[call.Method].Outputs.Pack(value)
			if err != nil {
				panic(err)
			}
			out[i][j].Raw = raw
		}
	}
	return out, f.err
}

func intPtr(v int) *int { return &v }

func e18(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func testSession() Session {
	usd := decimal.NewFromInt(1)
	usdc := pricing.Token{Symbol: "USDC", Address: usdcAddr, Decimals: intPtr(6), StaticUSD: &usd}
	dai := pricing.Token{Symbol: "DAI", Address: daiAddr, Decimals: intPtr(18), Rate: &pricing.RateConfig{Router: "uniswapRouter", To: "USDC", SkipIntermediate: true}}
	reg := &pricing.Registry{
		Contracts: map[string]common.Address{"uniswapRouter": routerAddr},
		Tokens:    map[string]pricing.Token{"USDC": usdc, "DAI": dai},
	}

	idle := vault.NewYieldAggregatorToken(vault.Config{Address: idleAddr, Name: "idleDAI", Decimals: 18, Underlying: &dai})
	aa := vault.NewTrancheToken(vault.Config{Address: aaAddr, Name: "AA", Decimals: 18, Underlying: &usdc, CDO: cdoAddr})
	gauge := vault.NewGaugeToken(vault.Config{Address: gaugeAddr, Name: "gauge AA", Decimals: 18, Tranche: aaAddr}, aa)

	return Session{Account: holder, ChainID: 1, Vaults: []vault.Vault{idle, aa, gauge}, Registry: reg}
}

func TestRunCycleLoadsEveryField(t *testing.T) {
	exec := newFakeExecutor()
	exec.answer(idleAddr, multicall.FieldBalance, e18(10))
	exec.answer(idleAddr, multicall.FieldVaultPrice, big.NewInt(1_050_000_000_000_000_000))
	exec.answer(idleAddr, multicall.FieldPriceUSD, []*big.Int{e18(1), big.NewInt(998_000)})
	exec.answer(idleAddr, multicall.FieldAPR, big.NewInt(4_200_000_000_000_000_000))
	exec.answer(idleAddr, multicall.FieldTotalSupply, e18(1000))
	exec.answer(aaAddr, multicall.FieldVaultPrice, big.NewInt(1_100_000))
	exec.answer(gaugeAddr, multicall.FieldVaultPrice, big.NewInt(1_100_000))
	exec.answer(gaugeAddr, multicall.FieldBalance, e18(3))

	loop := NewLoop(exec, nil, nil, nil)
	if loop.Loaded() {
		t.Fatalf("loaded before first cycle")
	}
	report, err := loop.RunCycle(context.Background(), testSession())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !loop.Loaded() {
		t.Fatalf("loaded flag not set after cycle")
	}
	if len(exec.batches) != 1 || len(exec.batches[0]) != batchCount {
		t.Fatalf("expected one submission of %d batches, got %d", batchCount, len(exec.batches))
	}
	if report.Cycle != 1 || report.Stats.Applied != 8 {
		t.Fatalf("report %+v", report)
	}

	idle, _ := loop.Store().Asset(idleAddr.Hex())
	if !idle.Balance.Decimal.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("balance %v", idle.Balance)
	}
	if !idle.PriceUSD.Decimal.Equal(decimal.RequireFromString("0.998")) {
		t.Fatalf("usd price %v", idle.PriceUSD)
	}
	if !idle.APR.Decimal.Equal(decimal.RequireFromString("4.2")) {
		t.Fatalf("apr %v", idle.APR)
	}
	want := decimal.NewFromInt(1000).Mul(decimal.RequireFromString("1.05")).Mul(decimal.RequireFromString("0.998"))
	if !idle.TVLUSD.Decimal.Equal(want) {
		t.Fatalf("tvlUsd %s, want %s", idle.TVLUSD.Decimal, want)
	}

	gauge, _ := loop.Store().Asset(gaugeAddr.Hex())
	if !gauge.VaultPrice.Decimal.Equal(decimal.RequireFromString("1.1")) || !gauge.PriceUSD.Decimal.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("gauge price %v usd %v", gauge.VaultPrice, gauge.PriceUSD)
	}
	if !gauge.BalanceUSD.Decimal.Equal(decimal.RequireFromString("3.3")) {
		t.Fatalf("gauge balanceUsd %v", gauge.BalanceUSD)
	}
	if gauge.APR.Valid {
		t.Fatalf("gauge apr should not be loaded")
	}
}

func TestRunCycleReportsChunkFailureButRoutes(t *testing.T) {
	exec := newFakeExecutor()
	exec.answer(idleAddr, multicall.FieldBalance, e18(1))
	exec.err = errors.New("batch 0: aggregate chunk [0,1): connection reset")

	loop := NewLoop(exec, nil, nil, nil)
	report, err := loop.RunCycle(context.Background(), testSession())
	if err == nil || !report.Partial {
		t.Fatalf("expected partial cycle error")
	}
	if !loop.Loaded() {
		t.Fatalf("a routed cycle marks the portfolio loaded even with failed chunks")
	}
	if idle, _ := loop.Store().Asset(idleAddr.Hex()); !idle.Balance.Valid {
		t.Fatalf("results of healthy chunks must still be applied")
	}
}

func TestSessionChangeDropsInFlightCycle(t *testing.T) {
	exec := newFakeExecutor()
	exec.answer(idleAddr, multicall.FieldBalance, e18(5))
	loop := NewLoop(exec, nil, nil, nil)

	first := testSession()
	second := testSession()
	second.Account = common.HexToAddress("0x00000000000000000000000000000000000000ee")

	exec.before = func() {
		if _, err := loop.RunCycle(context.Background(), second); err != nil {
			t.Errorf("second session cycle: %v", err)
		}
	}
	report, err := loop.RunCycle(context.Background(), first)
	if err != nil {
		t.Fatalf("first session cycle: %v", err)
	}
	if report.Stats.Applied != 0 || report.Stats.Stale == 0 {
		t.Fatalf("stale session results were applied: %+v", report.Stats)
	}

	snap, _ := loop.Store().Asset(idleAddr.Hex())
	if snap.Account != "0x00000000000000000000000000000000000000ee" {
		t.Fatalf("store should belong to the newer session, got %s", snap.Account)
	}
	if snap.Cycle != 2 {
		t.Fatalf("asset written by cycle %d, want 2", snap.Cycle)
	}
}

// ownerExecutor answers every balanceOf with a value chosen by the owner
// argument, so a balance routed into the wrong session is visible.
type ownerExecutor struct {
	balances map[common.Address]*big.Int
}

func (o ownerExecutor) ExecuteBatches(_ context.Context, batches [][]*multicall.Call) ([][]multicall.Result, error) {
	out := make([][]multicall.Result, len(batches))
	for i, batch := range batches {
		out[i] = make([]multicall.Result, len(batch))
		for j, call := range batch {
			out[i][j] = multicall.Result{EntityID: call.EntityID, Call: call}
			if call.Field != multicall.FieldBalance {
				continue
			}
			raw, err := call.ABI.Methods[call.Method].Outputs.Pack(o.balances[call.Args[0].(common.Address)])
			if err != nil {
				panic(err)
			}
			out[i][j].Raw = raw
		}
	}
	return out, nil
}

func TestConcurrentCyclesNeverMixSessions(t *testing.T) {
	x := testSession()
	y := testSession()
	y.Account = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	want := map[string]decimal.Decimal{
		strings.ToLower(x.Account.Hex()): decimal.NewFromInt(7),
		strings.ToLower(y.Account.Hex()): decimal.NewFromInt(9),
	}
	exec := ownerExecutor{balances: map[common.Address]*big.Int{x.Account: e18(7), y.Account: e18(9)}}
	loop := NewLoop(exec, nil, nil, nil)

	check := func() {
		for _, snap := range loop.Store().Snapshot() {
			if !snap.Balance.Valid {
				continue
			}
			if !snap.Balance.Decimal.Equal(want[snap.Account]) {
				t.Fatalf("%s holds balance %s of another session", snap.Account, snap.Balance.Decimal)
			}
		}
	}

	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			session := x
			if i%2 == 1 {
				session = y
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := loop.RunCycle(context.Background(), session); err != nil {
					t.Errorf("cycle: %v", err)
				}
			}()
		}
		wg.Wait()
		check()
	}

	if _, err := loop.RunCycle(context.Background(), y); err != nil {
		t.Fatalf("final cycle: %v", err)
	}
	check()
	idle, _ := loop.Store().Asset(idleAddr.Hex())
	if idle.Account != strings.ToLower(y.Account.Hex()) || !idle.Balance.Decimal.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("final session account %s balance %v", idle.Account, idle.Balance)
	}
	if !loop.Loaded() {
		t.Fatalf("loaded flag not set after a cycle of the current session")
	}
}

func TestRunCycleKeepsAssetsAcrossCyclesOfSameSession(t *testing.T) {
	exec := newFakeExecutor()
	exec.answer(idleAddr, multicall.FieldBalance, e18(5))
	loop := NewLoop(exec, nil, nil, nil)
	session := testSession()

	if _, err := loop.RunCycle(context.Background(), session); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	delete(exec.answers, answerKey{entity: vault.Config{Address: idleAddr}.ID(), field: multicall.FieldBalance})
	if _, err := loop.RunCycle(context.Background(), session); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}

	idle, _ := loop.Store().Asset(idleAddr.Hex())
	if !idle.Balance.Valid || !idle.Balance.Decimal.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("balance should survive a failed read in the same session, got %v", idle.Balance)
	}
}

func TestRunSingleCycleCallsSink(t *testing.T) {
	exec := newFakeExecutor()
	loop := NewLoop(exec, nil, nil, nil)

	var got int
	err := loop.Run(context.Background(), testSession(), 0, func(report CycleReport, assets []model.AssetSnapshot) {
		got = len(assets)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got != 3 {
		t.Fatalf("sink saw %d assets", got)
	}
}

func TestRunReturnsContextErrorInBothModes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := NewLoop(newFakeExecutor(), nil, nil, nil)
	if err := loop.Run(ctx, testSession(), 0, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("single cycle: got %v, want context.Canceled", err)
	}
	if err := loop.Run(ctx, testSession(), time.Hour, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("interval: got %v, want context.Canceled", err)
	}
}

func TestRunIntervalStopsOnCancel(t *testing.T) {
	exec := newFakeExecutor()
	loop := NewLoop(exec, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	cycles := 0
	err := loop.Run(ctx, testSession(), time.Millisecond, func(CycleReport, []model.AssetSnapshot) {
		cycles++
		if cycles == 3 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if cycles != 3 {
		t.Fatalf("sink ran %d times after cancel", cycles)
	}
}

func TestSessionKeyIgnoresVaultOrder(t *testing.T) {
	s := testSession()
	reversed := s
	reversed.Vaults = []vault.Vault{s.Vaults[2], s.Vaults[1], s.Vaults[0]}
	if s.Key() != reversed.Key() {
		t.Fatalf("vault order changed the session key")
	}
	other := s
	other.ChainID = 137
	if s.Key() == other.Key() {
		t.Fatalf("chain change kept the session key")
	}
}
