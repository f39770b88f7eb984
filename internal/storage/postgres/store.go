package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"vaultScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS asset_snapshots (
	chain_id     BIGINT      NOT NULL,
	account      TEXT        NOT NULL,
	asset_id     TEXT        NOT NULL,
	name         TEXT        NOT NULL,
	kind         TEXT        NOT NULL,
	underlying   TEXT        NOT NULL,
	decimals     INT         NOT NULL,
	balance      NUMERIC,
	vault_price  NUMERIC,
	price_usd    NUMERIC,
	apr          NUMERIC,
	total_supply NUMERIC,
	balance_usd  NUMERIC,
	tvl          NUMERIC,
	tvl_usd      NUMERIC,
	cycle        BIGINT      NOT NULL,
	taken_at     TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, account, asset_id)
);
CREATE TABLE IF NOT EXISTS classified_transactions (
	chain_id           BIGINT  NOT NULL,
	account            TEXT    NOT NULL,
	vault_id           TEXT    NOT NULL,
	tx_hash            TEXT    NOT NULL,
	action             TEXT    NOT NULL,
	sub_action         TEXT    NOT NULL,
	block_number       BIGINT  NOT NULL,
	block_timestamp    BIGINT  NOT NULL,
	sender             TEXT    NOT NULL,
	recipient          TEXT    NOT NULL,
	vault_token_amount NUMERIC NOT NULL,
	underlying_amount  NUMERIC NOT NULL,
	exchange_rate      NUMERIC NOT NULL,
	price_source       TEXT    NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, account, vault_id, tx_hash, action)
);
CREATE TABLE IF NOT EXISTS indexer_state (
	name       TEXT PRIMARY KEY,
	last_block BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for snapshots, transactions and cursors.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertAssets writes the latest snapshot of each asset.
func (s *Store) UpsertAssets(ctx context.Context, assets []model.AssetSnapshot) error {
	if len(assets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range assets {
		batch.Queue(`
			INSERT INTO asset_snapshots (
				chain_id, account, asset_id, name, kind, underlying, decimals,
				balance, vault_price, price_usd, apr, total_supply, balance_usd, tvl, tvl_usd,
				cycle, taken_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now())
			ON CONFLICT (chain_id, account, asset_id)
			DO UPDATE SET
				name = EXCLUDED.name,
				kind = EXCLUDED.kind,
				underlying = EXCLUDED.underlying,
				decimals = EXCLUDED.decimals,
				balance = COALESCE(EXCLUDED.balance, asset_snapshots.balance),
				vault_price = COALESCE(EXCLUDED.vault_price, asset_snapshots.vault_price),
				price_usd = COALESCE(EXCLUDED.price_usd, asset_snapshots.price_usd),
				apr = COALESCE(EXCLUDED.apr, asset_snapshots.apr),
				total_supply = COALESCE(EXCLUDED.total_supply, asset_snapshots.total_supply),
				balance_usd = COALESCE(EXCLUDED.balance_usd, asset_snapshots.balance_usd),
				tvl = COALESCE(EXCLUDED.tvl, asset_snapshots.tvl),
				tvl_usd = COALESCE(EXCLUDED.tvl_usd, asset_snapshots.tvl_usd),
				cycle = EXCLUDED.cycle,
				taken_at = EXCLUDED.taken_at,
				updated_at = now()
			WHERE asset_snapshots.taken_at <= EXCLUDED.taken_at
		`,
			int64(a.ChainID),
			a.Account,
			a.ID,
			a.Name,
			a.Kind,
			a.Underlying,
			a.Decimals,
			nullNumeric(a.Balance),
			nullNumeric(a.VaultPrice),
			nullNumeric(a.PriceUSD),
			nullNumeric(a.APR),
			nullNumeric(a.TotalSupply),
			nullNumeric(a.BalanceUSD),
			nullNumeric(a.TVL),
			nullNumeric(a.TVLUSD),
			int64(a.Cycle),
			a.TakenAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range assets {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertTransactions writes classified transactions, keyed by (hash, action) per vault.
func (s *Store) UpsertTransactions(ctx context.Context, txs []model.ClassifiedTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, tx := range txs {
		batch.Queue(`
			INSERT INTO classified_transactions (
				chain_id, account, vault_id, tx_hash, action, sub_action, block_number, block_timestamp,
				sender, recipient, vault_token_amount, underlying_amount, exchange_rate, price_source
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
			ON CONFLICT (chain_id, account, vault_id, tx_hash, action)
			DO UPDATE SET
				sub_action = EXCLUDED.sub_action,
				vault_token_amount = EXCLUDED.vault_token_amount,
				underlying_amount = EXCLUDED.underlying_amount,
				exchange_rate = EXCLUDED.exchange_rate,
				price_source = EXCLUDED.price_source
		`,
			int64(tx.ChainID),
			tx.Account,
			tx.VaultID,
			tx.Hash,
			string(tx.Action),
			tx.SubAction,
			int64(tx.BlockNumber),
			int64(tx.Timestamp),
			tx.From,
			tx.To,
			tx.VaultTokenAmount.String(),
			tx.UnderlyingAmount.String(),
			tx.ExchangeRateUsed.String(),
			string(tx.PriceSource),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range txs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// PutTransactions lets the store act as a history sink.
func (s *Store) PutTransactions(ctx context.Context, txs []model.ClassifiedTransaction) error {
	return s.UpsertTransactions(ctx, txs)
}

// LoadState returns last_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_block FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_block = EXCLUDED.last_block, updated_at = now()
	`, name, int64(block))
	return err
}

// nullNumeric maps a not-loaded value to SQL NULL.
func nullNumeric(v decimal.NullDecimal) *string {
	if !v.Valid {
		return nil
	}
	s := v.Decimal.String()
	return &s
}
