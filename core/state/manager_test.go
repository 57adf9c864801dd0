package state

import (
	"errors"
	"testing"

	"aerocdp/storage"
)

func TestManagerKVRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	if err := mgr.KVPut([]byte("answer"), uint64(42)); err != nil {
		t.Fatalf("put: %v", err)
	}
	var got uint64
	ok, err := mgr.KVGet([]byte("answer"), &got)
	if err != nil || !ok || got != 42 {
		t.Fatalf("unexpected get: ok=%v value=%d err=%v", ok, got, err)
	}
	if ok, err := mgr.KVGet([]byte("missing"), &got); err != nil || ok {
		t.Fatalf("missing key reported present: %v", err)
	}
	if err := mgr.KVDelete([]byte("answer")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("answer"), &got); ok {
		t.Fatalf("deleted key still present")
	}
	if err := mgr.KVPut(nil, uint64(1)); err == nil {
		t.Fatalf("expected empty key rejection")
	}
}

func TestManagerKVAppendDeduplicates(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	var list [][]byte
	if err := mgr.KVGetList([]byte("idx"), &list); err != nil || len(list) != 0 {
		t.Fatalf("expected empty list, got %v, %v", list, err)
	}
	for _, v := range []string{"a", "b", "a"} {
		if err := mgr.KVAppend([]byte("idx"), []byte(v)); err != nil {
			t.Fatalf("append %s: %v", v, err)
		}
	}
	if err := mgr.KVGetList([]byte("idx"), &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 2 || string(list[0]) != "a" || string(list[1]) != "b" {
		t.Fatalf("unexpected list %q", list)
	}
}

func TestTxCommitAndDiscard(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)
	if err := mgr.KVPut([]byte("keep"), uint64(1)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx := mgr.Begin()
	if err := tx.KVPut([]byte("new"), uint64(7)); err != nil {
		t.Fatalf("tx put: %v", err)
	}
	if err := tx.KVDelete([]byte("keep")); err != nil {
		t.Fatalf("tx delete: %v", err)
	}
	var v uint64
	if ok, _ := tx.KVGet([]byte("new"), &v); !ok || v != 7 {
		t.Fatalf("tx must read its own writes")
	}
	if ok, _ := tx.KVGet([]byte("keep"), &v); ok {
		t.Fatalf("tx must observe its own delete")
	}
	if ok, _ := mgr.KVGet([]byte("new"), &v); ok {
		t.Fatalf("uncommitted write leaked to the database")
	}
	tx.Discard()
	if ok, _ := mgr.KVGet([]byte("keep"), &v); !ok {
		t.Fatalf("discarded delete reached the database")
	}
	if err := tx.KVPut([]byte("late"), uint64(1)); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("expected closed tx, got %v", err)
	}

	tx = mgr.Begin()
	if err := tx.KVPut([]byte("new"), uint64(9)); err != nil {
		t.Fatalf("tx put: %v", err)
	}
	if err := tx.KVDelete([]byte("keep")); err != nil {
		t.Fatalf("tx delete: %v", err)
	}
	if tx.Pending() != 2 {
		t.Fatalf("expected 2 pending writes, got %d", tx.Pending())
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := mgr.KVGet([]byte("new"), &v); !ok || v != 9 {
		t.Fatalf("committed write missing")
	}
	if ok, _ := mgr.KVGet([]byte("keep"), &v); ok {
		t.Fatalf("committed delete missing")
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxClosed) {
		t.Fatalf("expected closed tx on second commit, got %v", err)
	}
}
