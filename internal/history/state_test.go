package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStateStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cursor.json")
	store := &FileStateStore{Path: path}

	if _, ok, err := store.Load(context.Background()); ok || err != nil {
		t.Fatalf("empty store: ok %v err %v", ok, err)
	}
	for _, block := range []uint64{10, 25} {
		if err := store.Save(context.Background(), block); err != nil {
			t.Fatalf("save %d: %v", block, err)
		}
	}
	last, ok, err := store.Load(context.Background())
	if err != nil || !ok || last != 25 {
		t.Fatalf("last %d ok %v err %v", last, ok, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind")
	}
}

func TestFileStateStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := (&FileStateStore{Path: path}).Load(context.Background()); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNilStateStoresAreNoops(t *testing.T) {
	var file *FileStateStore
	if err := file.Save(context.Background(), 1); err != nil {
		t.Fatalf("nil file store: %v", err)
	}
	var db *DBStateStore
	if _, ok, err := db.Load(context.Background()); ok || err != nil {
		t.Fatalf("nil db store: ok %v err %v", ok, err)
	}
}

func TestCursorName(t *testing.T) {
	if got := CursorName(1, "0xabc"); got != "history:1:0xabc" {
		t.Fatalf("cursor name %q", got)
	}
}
