package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"subpool/internal/shared/config"
	manager "subpool/proxypool"
	"subpool/proxypool/storage"
	"subpool/proxypool/validator"
)

func testServer(t *testing.T) *AppServer {
	t.Helper()
	dir := t.TempDir()
	sources := filepath.Join(dir, "sources.yaml")
	content := "link:\n  - trojan://pw@1.1.1.1:443#HK\n  - ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@2.2.2.2:8388#JP\n"
	if err := os.WriteFile(sources, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.CommonConf.DataDir = dir
	cfg.StoreConf.DSN = "file://" + filepath.Join(dir, "pool.tsv")
	cfg.PoolConf.SourcesFile = sources
	cfg.CheckerConf.GeoIPDatabase = ""
	cfg.WebConf.Port = 0

	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestNew_RejectsZeroThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.StoreConf.DSN = "memory://"
	cfg.PoolConf.SourcesFile = ""
	cfg.PoolConf.EvictionThreshold = 0
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("Expected error for eviction threshold 0")
	}
}

func TestNew_UnknownStore(t *testing.T) {
	cfg := config.Default()
	cfg.StoreConf.DSN = "etcd://localhost"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("Expected error for unsupported store scheme")
	}
}

func TestBuildProber_SelectsMode(t *testing.T) {
	cfg := config.Default()
	if _, ok := buildProber(cfg).(*validator.Prober); !ok {
		t.Error("Expected forward mode to use the runtime prober")
	}
	cfg.CheckerConf.Mode = manager.ModeDirect
	cfg.CheckerConf.MaxLatencyMillis = 800
	p, ok := buildProber(cfg).(*validator.DirectProber)
	if !ok {
		t.Fatal("Expected direct mode to use the direct prober")
	}
	if p.MaxLatency != 800*time.Millisecond {
		t.Errorf("Expected max latency 800ms, but got %v", p.MaxLatency)
	}
}

func TestManagerOptions(t *testing.T) {
	cfg := config.Default()
	cfg.PoolConf.MergePolicy = "overwrite"
	opts := managerOptions(cfg)
	if opts.MergePolicy != storage.MergeOverwrite {
		t.Errorf("Expected overwrite policy, but got %v", opts.MergePolicy)
	}
	if opts.CheckInterval != 30*time.Minute || opts.Threshold != 3 {
		t.Errorf("Unexpected options %+v", opts)
	}
}

func TestRunTask_MergeThenExport(t *testing.T) {
	ctx := context.Background()
	s := testServer(t)
	if err := s.RunTask(ctx, TaskMerge); err != nil {
		t.Fatalf("merge task failed: %v", err)
	}

	// 重新打开同一个文件存储，确认合并结果已持久化
	s2, err := New(ctx, s.cfg)
	if err != nil {
		t.Fatal(err)
	}
	recs, err := s2.Manager().Proxies(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("Expected 2 persisted records, but got %d", len(recs))
	}
	if err := s2.RunTask(ctx, TaskExport); err != nil {
		t.Fatalf("export task failed: %v", err)
	}
	files, _ := filepath.Glob(filepath.Join(s2.ExportDir(), "mihomo_*.yml"))
	if len(files) != 1 {
		t.Errorf("Expected one exported config, but got %v", files)
	}
	if _, err := os.Stat(filepath.Join(s2.ExportDir(), "proxies.yaml")); err != nil {
		t.Errorf("Expected proxies.yaml next to the runtime configs, got %v", err)
	}
}

func TestRunTask_Unknown(t *testing.T) {
	s := testServer(t)
	if err := s.RunTask(context.Background(), "dance"); err == nil {
		t.Error("Expected error for unknown task")
	}
}

func TestServe_StopsOnRequest(t *testing.T) {
	s := testServer(t)
	done := make(chan error, 1)
	go func() { done <- s.RunTask(context.Background(), TaskServe) }()
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestRunTask_OneShotDoesNotQueueEvents(t *testing.T) {
	s := testServer(t)
	if err := s.RunTask(context.Background(), TaskMerge); err != nil {
		t.Fatalf("merge task failed: %v", err)
	}
	if n := s.hub.Pending(); n != 0 {
		t.Errorf("Expected no queued websocket events outside serve, but got %d", n)
	}
}

func TestNew_CreatesMissingSourcesFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StoreConf.DSN = "memory://"
	cfg.PoolConf.SourcesFile = filepath.Join(dir, "nested", "sources.yaml")
	cfg.CheckerConf.GeoIPDatabase = ""

	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.close()
	if _, err := os.Stat(cfg.PoolConf.SourcesFile); err != nil {
		t.Errorf("Expected an empty sources file to be created, got %v", err)
	}
	src, err := config.LoadSources(cfg.PoolConf.SourcesFile)
	if err != nil || len(src.Links) != 0 {
		t.Errorf("Expected an empty source list, got %+v (err=%v)", src, err)
	}
}
