package storage

import (
	"context"

	"vaultScope/internal/model"
)

// SnapshotSink receives the asset snapshot of each cycle.
type SnapshotSink interface {
	PutSnapshots(ctx context.Context, assets []model.AssetSnapshot) error
}

// TransactionSink receives classified transactions.
type TransactionSink interface {
	PutTransactions(ctx context.Context, txs []model.ClassifiedTransaction) error
}

// Multi fans writes out to several sinks in order and stops at the first error.
type Multi struct {
	Snapshots    []SnapshotSink
	Transactions []TransactionSink
}

func (m Multi) PutSnapshots(ctx context.Context, assets []model.AssetSnapshot) error {
	for _, sink := range m.Snapshots {
		if err := sink.PutSnapshots(ctx, assets); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) PutTransactions(ctx context.Context, txs []model.ClassifiedTransaction) error {
	for _, sink := range m.Transactions {
		if err := sink.PutTransactions(ctx, txs); err != nil {
			return err
		}
	}
	return nil
}
