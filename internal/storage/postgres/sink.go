package postgres

import (
	"context"

	"vaultScope/internal/model"
)

// PutSnapshots lets the store act as a snapshot sink.
func (s *Store) PutSnapshots(ctx context.Context, assets []model.AssetSnapshot) error {
	return s.UpsertAssets(ctx, assets)
}
