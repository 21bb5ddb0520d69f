package config

import (
	"os"
	"path/filepath"
	"testing"

	"subpool/internal/shared/types"
)

func TestLoadIni_OverridesDefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	iniPath := filepath.Join(dir, "subpool.ini")
	content := `
[log]
level = debug

[store]
dsn = redis://127.0.0.1:6379/0
table = airports

[pool]
chunk_size = 100
eviction_threshold = 10

[checker]
start_port = 30000
loss_fail_ratio = 0.25
`
	if err := os.WriteFile(iniPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PROXY_POOL_START_PORT", "42001")
	t.Setenv("AUTH_USER", "alice")

	cfg := Default()
	if err := LoadIni(cfg, iniPath); err != nil {
		t.Fatalf("LoadIni failed: %v", err)
	}

	if cfg.LogConf.Level != "debug" {
		t.Errorf("Expected log level debug, but got %s", cfg.LogConf.Level)
	}
	if cfg.StoreConf.Table != "airports" {
		t.Errorf("Expected table airports, but got %s", cfg.StoreConf.Table)
	}
	if cfg.PoolConf.ChunkSize != 100 || cfg.PoolConf.EvictionThreshold != 10 {
		t.Errorf("Unexpected pool conf: %+v", cfg.PoolConf)
	}
	if cfg.CheckerConf.StartPort != 42001 {
		t.Errorf("Expected env override 42001, but got %d", cfg.CheckerConf.StartPort)
	}
	if cfg.CheckerConf.LossFailRatio != 0.25 {
		t.Errorf("Expected loss ratio 0.25, but got %v", cfg.CheckerConf.LossFailRatio)
	}
	// 未在文件中出现的键保留默认值
	if cfg.CheckerConf.ProbeTimeout != 10 {
		t.Errorf("Expected default probe timeout 10, but got %d", cfg.CheckerConf.ProbeTimeout)
	}
	if cfg.RuntimeConf.AuthUser != "alice" {
		t.Errorf("Expected auth user from env, but got %q", cfg.RuntimeConf.AuthUser)
	}
}

func TestLoadSources_MissingFileIsEmpty(t *testing.T) {
	sources, err := LoadSources(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if len(sources.Links)+len(sources.Base64)+len(sources.Clash)+len(sources.Pages) != 0 {
		t.Errorf("Expected empty sources, but got %+v", sources)
	}
}

func TestSaveAndLoadSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	in := &types.Sources{
		Links:  []string{"ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@1.2.3.4:8388#Test"},
		Base64: []string{"https://example.com/sub"},
	}
	if err := SaveSources(path, in); err != nil {
		t.Fatal(err)
	}
	out, err := LoadSources(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Links) != 1 || out.Links[0] != in.Links[0] {
		t.Errorf("Expected links %v, but got %v", in.Links, out.Links)
	}
	if len(out.Base64) != 1 || out.Base64[0] != in.Base64[0] {
		t.Errorf("Expected base64 sources %v, but got %v", in.Base64, out.Base64)
	}
}
