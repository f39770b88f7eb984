package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"vaultScope/internal/model"
)

func TestJsonlStorageAppendsTransactions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "transactions.jsonl")
	s := NewJsonlStorage(path)

	tx := model.ClassifiedTransaction{
		RawTransferRecord: model.RawTransferRecord{Hash: "0xabc", Value: big.NewInt(95), BlockNumber: 10},
		VaultID:           "0xvault",
		Action:            model.ActionDeposit,
		VaultTokenAmount:  decimal.NewFromInt(95),
		UnderlyingAmount:  decimal.NewFromInt(100),
	}
	if err := s.PutTransactions(context.Background(), []model.ClassifiedTransaction{tx}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.PutTransactions(context.Background(), []model.ClassifiedTransaction{tx}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var lines int
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var got model.ClassifiedTransaction
		if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		if got.Action != model.ActionDeposit || !got.UnderlyingAmount.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("line %d decoded as %+v", lines, got)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("lines %d, want 2", lines)
	}
}

func TestJsonlStorageSnapshotKeepsNotLoadedAsNull(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.jsonl")
	s := NewJsonlStorage(path)

	asset := model.AssetSnapshot{ID: "0xa", Balance: decimal.NewNullDecimal(decimal.Zero)}
	if err := s.PutSnapshots(context.Background(), []model.AssetSnapshot{asset}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw["balance"] != "0" {
		t.Fatalf("zero balance encoded as %v", raw["balance"])
	}
	if raw["apr"] != nil {
		t.Fatalf("missing apr encoded as %v", raw["apr"])
	}
}
