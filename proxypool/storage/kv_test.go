package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

// exerciseKV 对任意后端执行同一组行为检查。
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "sub_proxy", "1.2.3.4:8388"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on empty table, but got %v", err)
	}

	if err := kv.Put(ctx, "sub_proxy", "1.2.3.4:8388", `{"v":1}`); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := kv.Put(ctx, "sub_proxy", "1.2.3.4:8388", `{"v":2}`); err != nil {
		t.Fatalf("Second Put failed: %v", err)
	}
	if err := kv.Put(ctx, "sub_proxy", "5.6.7.8:443", `{"v":3}`); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := kv.Put(ctx, "airports", "1.2.3.4:8388", `{"other":true}`); err != nil {
		t.Fatalf("Put into second table failed: %v", err)
	}

	v, err := kv.Get(ctx, "sub_proxy", "1.2.3.4:8388")
	if err != nil || v != `{"v":2}` {
		t.Errorf("Expected last write to win, got %q (err=%v)", v, err)
	}

	ok, err := kv.Exists(ctx, "sub_proxy", "5.6.7.8:443")
	if err != nil || !ok {
		t.Errorf("Expected key to exist, got %v (err=%v)", ok, err)
	}

	values, err := kv.Values(ctx, "sub_proxy")
	if err != nil || len(values) != 2 {
		t.Errorf("Expected 2 values in sub_proxy, got %v (err=%v)", values, err)
	}

	items, err := kv.Items(ctx, "sub_proxy")
	if err != nil || len(items) != 2 || items["5.6.7.8:443"] != `{"v":3}` {
		t.Errorf("Unexpected items %v (err=%v)", items, err)
	}

	if err := kv.Delete(ctx, "sub_proxy", "1.2.3.4:8388"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ok, _ = kv.Exists(ctx, "sub_proxy", "1.2.3.4:8388")
	if ok {
		t.Errorf("Expected key to be gone after Delete")
	}
	// 删除不影响其它表
	if _, err := kv.Get(ctx, "airports", "1.2.3.4:8388"); err != nil {
		t.Errorf("Expected other table to be untouched, got %v", err)
	}
	if err := kv.Delete(ctx, "sub_proxy", "missing"); err != nil {
		t.Errorf("Expected deleting a missing key to be a no-op, got %v", err)
	}
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, NewMemoryKV())
}

func TestFileKV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pool.tsv")
	kv := NewFileKV(path)
	exerciseKV(t, kv)

	// 重新打开后数据仍在
	reopened := NewFileKV(path)
	v, err := reopened.Get(context.Background(), "sub_proxy", "5.6.7.8:443")
	if err != nil || v != `{"v":3}` {
		t.Errorf("Expected persisted value after reopen, got %q (err=%v)", v, err)
	}
}

func TestFileKV_RejectsMultilineValues(t *testing.T) {
	kv := NewFileKV(filepath.Join(t.TempDir(), "pool.tsv"))
	err := kv.Put(context.Background(), "t", "k", "a\nb")
	var se *StoreError
	if !errors.As(err, &se) {
		t.Errorf("Expected *StoreError, but got %v", err)
	}
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)
	kv, err := Open(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("Open redis failed: %v", err)
	}
	defer kv.Close()
	exerciseKV(t, kv)

	// 每个逻辑表是一个 hash
	if got := mr.HGet("airports", "1.2.3.4:8388"); got != `{"other":true}` {
		t.Errorf("Expected hash field in airports, got %q", got)
	}
}

func TestGormKV_SQLite(t *testing.T) {
	kv, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Skipf("sqlite unavailable in this build: %v", err)
	}
	defer kv.Close()
	exerciseKV(t, kv)
}

func TestOpen_UnknownScheme(t *testing.T) {
	if _, err := Open(context.Background(), "etcd://localhost"); err == nil {
		t.Errorf("Expected an error for unsupported scheme")
	}
	if _, err := Open(context.Background(), "no-scheme"); err == nil {
		t.Errorf("Expected an error for dsn without scheme")
	}
}
