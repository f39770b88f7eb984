package multicall

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vaultScope/internal/chain"
	"vaultScope/internal/contracts"
	"vaultScope/internal/metrics"
)

const aggregateMethod = "tryBlockAndAggregate"

const (
	defaultMaxCallsPerChunk = 500
	defaultMaxChunkBytes    = 128 * 1024
	defaultConcurrency      = 4
	defaultRetryBackoff     = 200 * time.Millisecond
)

// Config controls how batches are split and sent.
type Config struct {
	Address          common.Address
	MaxCallsPerChunk int
	MaxChunkBytes    int
	MaxGas           uint64
	Concurrency      int
	RetryBackoff     time.Duration
}

// ChunkError reports a chunk whose aggregate call failed in transport twice.
type ChunkError struct {
	From  int
	To    int
	Block *big.Int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("aggregate chunk [%d,%d): %v", e.From, e.To, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// aggregateCall mirrors the Multicall3.Call tuple.
type aggregateCall struct {
	Target   common.Address
	CallData []byte
}

// aggregateOutput mirrors the tryBlockAndAggregate return values.
type aggregateOutput struct {
	BlockNumber *big.Int
	BlockHash   [32]byte
	ReturnData  []struct {
		Success    bool
		ReturnData []byte
	}
}

// Executor turns lists of call descriptors into Multicall3 aggregate calls.
//
// Chunks of the same batch are independent eth_calls; under load they may be
// served at different block heights. Callers that need one consistent snapshot
// must keep dependent calls within MaxCallsPerChunk so they share a chunk, or use
// ExecuteAt with an explicit block.
type Executor struct {
	cfg     Config
	caller  chain.Caller
	abi     abi.ABI
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewExecutor validates the config and builds an executor.
func NewExecutor(cfg Config, caller chain.Caller, m *metrics.Metrics, logger *zap.Logger) (*Executor, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain caller is nil")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("multicall address is required")
	}
	if cfg.MaxCallsPerChunk <= 0 {
		cfg.MaxCallsPerChunk = defaultMaxCallsPerChunk
	}
	if cfg.MaxChunkBytes == 0 {
		cfg.MaxChunkBytes = defaultMaxChunkBytes
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parsed, err := contracts.Multicall3ABI()
	if err != nil {
		return nil, fmt.Errorf("parse multicall abi: %w", err)
	}

	return &Executor{
		cfg:     cfg,
		caller:  caller,
		abi:     parsed,
		logger:  logger,
		metrics: m,
	}, nil
}

// Pending is the future of one submitted batch.
type Pending struct {
	done    chan struct{}
	results []Result
	err     error
}

// Wait blocks until the batch has finished.
func (p *Pending) Wait() ([]Result, error) {
	<-p.done
	return p.results, p.err
}

// Submit starts executing a batch in the background at the given block (nil for latest).
func (e *Executor) Submit(ctx context.Context, calls []*Call, block *big.Int) *Pending {
	p := &Pending{done: make(chan struct{})}
	go func() {
		defer close(p.done)
		p.results, p.err = e.execute(ctx, calls, block)
	}()
	return p
}

// ExecuteBatches runs every batch concurrently and returns one result list per
// batch, position-aligned with its input. The error joins all chunk failures;
// results are always complete, failed entries carrying a nil Raw.
func (e *Executor) ExecuteBatches(ctx context.Context, batches [][]*Call) ([][]Result, error) {
	pending := make([]*Pending, len(batches))
	for i, batch := range batches {
		pending[i] = e.Submit(ctx, batch, nil)
	}

	out := make([][]Result, len(batches))
	var errs []error
	for i, p := range pending {
		results, err := p.Wait()
		out[i] = results
		if err != nil {
			errs = append(errs, fmt.Errorf("batch %d: %w", i, err))
		}
	}
	return out, errors.Join(errs...)
}

// Execute runs a single batch against the latest block.
func (e *Executor) Execute(ctx context.Context, calls []*Call) ([]Result, error) {
	return e.execute(ctx, calls, nil)
}

// ExecuteAt runs a single batch pinned to a block height.
func (e *Executor) ExecuteAt(ctx context.Context, calls []*Call, block uint64) ([]Result, error) {
	return e.execute(ctx, calls, new(big.Int).SetUint64(block))
}

func (e *Executor) execute(ctx context.Context, calls []*Call, block *big.Int) ([]Result, error) {
	results := make([]Result, len(calls))
	encoded := make([]aggregateCall, 0, len(calls))
	positions := make([]int, 0, len(calls))
	sizes := make([]int, 0, len(calls))

	for i, call := range calls {
		if call == nil {
			continue
		}
		results[i] = Result{EntityID: call.EntityID, Call: call}
		data, err := call.CallData()
		if err != nil {
			e.logger.Warn("encode call", zap.String("entity", call.EntityID), zap.String("method", call.Method), zap.Error(err))
			continue
		}
		encoded = append(encoded, aggregateCall{Target: call.Target, CallData: data})
		positions = append(positions, i)
		sizes = append(sizes, len(data)+len(call.Target))
	}
	if len(encoded) == 0 {
		return results, nil
	}

	ranges, err := splitChunks(sizes, e.cfg.MaxCallsPerChunk, e.cfg.MaxChunkBytes)
	if err != nil {
		return results, err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	for _, r := range ranges {
		r := r
		g.Go(func() error {
			if err := e.runChunk(ctx, encoded[r.From:r.To], positions[r.From:r.To], block, results); err != nil {
				chunkErr := &ChunkError{From: positions[r.From], To: positions[r.To-1] + 1, Block: block, Err: err}
				mu.Lock()
				errs = append(errs, chunkErr)
				mu.Unlock()
				for _, pos := range positions[r.From:r.To] {
					results[pos].Err = chunkErr
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// runChunk sends one aggregate call, retrying a transport failure once with the
// same payload, and writes each entry's outcome into results at its original position.
func (e *Executor) runChunk(ctx context.Context, chunk []aggregateCall, positions []int, block *big.Int, results []Result) error {
	start := time.Now()
	status := metrics.StatusOK

	out, err := e.aggregate(ctx, chunk, block)
	if err != nil {
		e.logger.Warn("aggregate call failed, retrying",
			zap.Int("calls", len(chunk)),
			zap.Duration("backoff", e.cfg.RetryBackoff),
			zap.Error(err),
		)
		timer := time.NewTimer(e.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
		case <-timer.C:
			status = metrics.StatusRetried
			out, err = e.aggregate(ctx, chunk, block)
		}
	}
	if err != nil {
		e.metrics.ObserveChunk(metrics.StatusFailed, 0, len(chunk), time.Since(start))
		e.logger.Error("aggregate chunk dropped", zap.Int("calls", len(chunk)), zap.Error(err))
		return err
	}

	var blockNumber uint64
	if out.BlockNumber != nil {
		blockNumber = out.BlockNumber.Uint64()
	}

	failed := 0
	for i, entry := range out.ReturnData {
		pos := positions[i]
		results[pos].Block = blockNumber
		if !entry.Success || len(entry.ReturnData) == 0 {
			failed++
			continue
		}
		results[pos].Raw = entry.ReturnData
	}

	e.metrics.ObserveChunk(status, len(chunk)-failed, failed, time.Since(start))
	if failed > 0 {
		e.logger.Debug("calls failed inside chunk", zap.Int("failed", failed), zap.Int("calls", len(chunk)), zap.Uint64("block", blockNumber))
	}
	return nil
}

func (e *Executor) aggregate(ctx context.Context, chunk []aggregateCall, block *big.Int) (aggregateOutput, error) {
	var out aggregateOutput

	data, err := e.abi.Pack(aggregateMethod, false, chunk)
	if err != nil {
		return out, fmt.Errorf("pack %s: %w", aggregateMethod, err)
	}

	msg := ethereum.CallMsg{To: &e.cfg.Address, Data: data, Gas: e.cfg.MaxGas}
	raw, err := e.caller.CallContract(ctx, msg, block)
	if err != nil {
		return out, fmt.Errorf("call %s: %w", aggregateMethod, err)
	}

	if err := e.abi.UnpackIntoInterface(&out, aggregateMethod, raw); err != nil {
		return out, fmt.Errorf("unpack %s: %w", aggregateMethod, err)
	}
	if len(out.ReturnData) != len(chunk) {
		return out, fmt.Errorf("return data length mismatch: %d != %d", len(out.ReturnData), len(chunk))
	}
	return out, nil
}
