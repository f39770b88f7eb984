package history

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"vaultScope/internal/model"
	"vaultScope/internal/vault"
)

// Feed supplies the transfer log of an account from a block onward.
type Feed interface {
	Transfers(ctx context.Context, account string, fromBlock uint64) ([]model.RawTransferRecord, error)
}

// Sink receives classified transactions.
type Sink interface {
	PutTransactions(ctx context.Context, txs []model.ClassifiedTransaction) error
}

// RunConfig holds runtime settings for one history run.
type RunConfig struct {
	ChainID    uint64
	Account    string
	StartBlock uint64
	Vaults     []vault.Vault
}

// Runner fetches an account's transfers, classifies them per vault, writes
// them to the sink and advances the cursor.
type Runner struct {
	cfg        RunConfig
	feed       Feed
	classifier *Classifier
	sink       Sink
	state      StateStore
	logger     *zap.Logger
}

// NewRunner builds a Runner with its dependencies. state may be nil.
func NewRunner(cfg RunConfig, feed Feed, classifier *Classifier, sink Sink, state StateStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Account = strings.ToLower(cfg.Account)
	return &Runner{
		cfg:        cfg,
		feed:       feed,
		classifier: classifier,
		sink:       sink,
		state:      state,
		logger:     logger,
	}
}

// Run executes one incremental pass and returns the classified transactions.
func (r *Runner) Run(ctx context.Context) ([]model.ClassifiedTransaction, error) {
	if r.feed == nil {
		return nil, fmt.Errorf("feed is nil")
	}
	if r.classifier == nil {
		return nil, fmt.Errorf("classifier is nil")
	}
	if r.cfg.Account == "" {
		return nil, fmt.Errorf("account is required")
	}
	if len(r.cfg.Vaults) == 0 {
		return nil, fmt.Errorf("at least one vault is required")
	}

	from := r.cfg.StartBlock
	if r.state != nil {
		last, ok, err := r.state.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load cursor: %w", err)
		}
		if ok && last >= from {
			from = last + 1
			r.logger.Info("resume from cursor", zap.Uint64("last_block", last), zap.Uint64("from", from))
		}
	}

	r.logger.Info("fetch transfers", zap.String("account", r.cfg.Account), zap.Uint64("from", from))
	records, err := r.feed.Transfers(ctx, r.cfg.Account, from)
	if err != nil {
		return nil, fmt.Errorf("fetch transfers: %w", err)
	}
	if len(records) == 0 {
		r.logger.Info("nothing to classify", zap.Uint64("from", from))
		return nil, nil
	}

	var (
		lastBlock uint64
		txs       []model.ClassifiedTransaction
	)
	for _, rec := range records {
		if rec.BlockNumber > lastBlock {
			lastBlock = rec.BlockNumber
		}
	}
	for _, v := range r.cfg.Vaults {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		classified := r.classifier.Classify(ctx, v, r.cfg.ChainID, r.cfg.Account, records)
		if len(classified) > 0 {
			r.logger.Info("vault classified", zap.String("vault", v.ID()), zap.Int("transactions", len(classified)))
		}
		txs = append(txs, classified...)
	}

	if r.sink != nil && len(txs) > 0 {
		if err := r.sink.PutTransactions(ctx, txs); err != nil {
			return nil, fmt.Errorf("store transactions: %w", err)
		}
	}
	if r.state != nil {
		if err := r.state.Save(ctx, lastBlock); err != nil {
			return txs, fmt.Errorf("save cursor: %w", err)
		}
	}

	r.logger.Info("history complete",
		zap.Int("records", len(records)),
		zap.Int("transactions", len(txs)),
		zap.Uint64("last_block", lastBlock),
	)
	return txs, nil
}
