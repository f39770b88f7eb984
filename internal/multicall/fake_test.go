package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"vaultScope/internal/contracts"
)

// fakeChain executes tryBlockAndAggregate in memory: each target maps to a
// handler returning (returnData, success).
type fakeChain struct {
	mu        sync.Mutex
	block     uint64
	handlers  map[common.Address]func(data []byte) ([]byte, bool)
	failUntil map[common.Address]int
	failures  map[common.Address]int
	aggCalls  int
	blocks    []*big.Int
	chunkLens []int
	payloads  [][]byte
	gas       []uint64
}

func newFakeChain(block uint64) *fakeChain {
	return &fakeChain{
		block:     block,
		handlers:  make(map[common.Address]func(data []byte) ([]byte, bool)),
		failUntil: make(map[common.Address]int),
		failures:  make(map[common.Address]int),
	}
}

// failChunkContaining makes every aggregate call that includes target fail in
// transport for the first n attempts.
func (f *fakeChain) failChunkContaining(target common.Address, n int) {
	f.failUntil[target] = n
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	parsed, err := contracts.Multicall3ABI()
	if err != nil {
		return nil, err
	}
	method := parsed.Methods[aggregateMethod]
	values, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	var in struct {
		RequireSuccess bool
		Calls          []struct {
			Target   common.Address
			CallData []byte
		}
	}
	if err := method.Inputs.Copy(&in, values); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.aggCalls++
	f.blocks = append(f.blocks, blockNumber)
	f.payloads = append(f.payloads, msg.Data)
	f.gas = append(f.gas, msg.Gas)

	for _, call := range in.Calls {
		limit, ok := f.failUntil[call.Target]
		if ok && f.failures[call.Target] < limit {
			f.failures[call.Target]++
			return nil, errors.New("connection reset by peer")
		}
	}
	f.chunkLens = append(f.chunkLens, len(in.Calls))

	out := make([]struct {
		Success    bool
		ReturnData []byte
	}, len(in.Calls))
	for i, call := range in.Calls {
		handler, ok := f.handlers[call.Target]
		if !ok {
			continue
		}
		data, success := handler(call.CallData)
		out[i].Success = success
		out[i].ReturnData = data
	}

	return method.Outputs.Pack(new(big.Int).SetUint64(f.block), [32]byte{}, out)
}

// balanceHandler answers ERC20 balanceOf with a fixed amount.
func balanceHandler(amount int64) func([]byte) ([]byte, bool) {
	return func([]byte) ([]byte, bool) {
		parsed, err := contracts.ERC20ABI()
		if err != nil {
			panic(err)
		}
		data, err := parsed.Methods["balanceOf"].Outputs.Pack(big.NewInt(amount))
		if err != nil {
			panic(err)
		}
		return data, true
	}
}

func revertHandler([]byte) ([]byte, bool) {
	return nil, false
}

func addr(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x1000 + i)))
}

func balanceCall(i int, owner common.Address) *Call {
	erc20 := contracts.MustParsed(contracts.ERC20ABI)
	return NewCall(fmt.Sprintf("0xentity%d", i), FieldBalance, addr(i), erc20, "balanceOf", owner)
}
