package validator

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"subpool/internal/shared/logger"
	"subpool/proxypool/model"
)

const visionFlow = "xtls-rprx-vision"

// RuntimeAuth 是本地 listener 的认证信息，两者都为空时不启用。
type RuntimeAuth struct {
	User     string
	Password string
}

type runtimeDNS struct {
	Enable            bool     `yaml:"enable"`
	EnhancedMode      string   `yaml:"enhanced-mode"`
	FakeIPRange       string   `yaml:"fake-ip-range"`
	DefaultNameserver []string `yaml:"default-nameserver"`
	Nameserver        []string `yaml:"nameserver"`
}

type runtimeListener struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Port  int    `yaml:"port"`
	Proxy string `yaml:"proxy"`
}

// RuntimeConfig 是交给转发程序的声明式配置文档。
type RuntimeConfig struct {
	AllowLan       bool              `yaml:"allow-lan"`
	DNS            runtimeDNS        `yaml:"dns"`
	Authentication []string          `yaml:"authentication,omitempty"`
	Proxies        []map[string]any  `yaml:"proxies"`
	Listeners      []runtimeListener `yaml:"listeners"`
}

// Binding 记录配置中 listener 与池记录的对应关系。
type Binding struct {
	Key       string
	Name      string
	LocalPort int
}

// FixupForRuntime 返回适合写入转发配置的副本；ok 为 false 表示该记录无法被转发程序加载。
// 输入记录不会被修改。
func FixupForRuntime(rec *model.Record) (*model.Record, bool) {
	c := rec.Clone()
	switch opts := c.Options.(type) {
	case *model.VLESSOptions:
		if opts.Flow != "" && opts.Flow != visionFlow {
			return nil, false
		}
	case *model.ShadowsocksOptions:
		if strings.Contains(opts.Cipher, "poly1305") {
			opts.Cipher = "chacha20-ietf-poly1305"
		}
		if p, err := url.QueryUnescape(opts.Password); err == nil {
			opts.Password = p
		}
	}
	return c, true
}

// BuildRuntimeConfig 为已分配 LocalPort 的记录生成配置。
// 名字通过 NameSet 去重，只作用于副本；skipped 为被 FixupForRuntime 排除的记录键。
func BuildRuntimeConfig(records []*model.Record, auth RuntimeAuth) (*RuntimeConfig, []Binding, []string) {
	l := logger.WithComponent("ProxyPool/Runtime")
	cfg := &RuntimeConfig{
		AllowLan: true,
		DNS: runtimeDNS{
			Enable:            true,
			EnhancedMode:      "fake-ip",
			FakeIPRange:       "198.18.0.1/16",
			DefaultNameserver: []string{"114.114.114.114"},
			Nameserver:        []string{"https://doh.pub/dns-query"},
		},
	}
	if auth.User != "" || auth.Password != "" {
		cfg.Authentication = []string{auth.User + ":" + auth.Password}
	}

	names := model.NewNameSet()
	var bindings []Binding
	var skipped []string
	for _, rec := range records {
		fixed, ok := FixupForRuntime(rec)
		if !ok {
			skipped = append(skipped, rec.Key())
			continue
		}
		fixed.Name = names.Claim(fixed.Name)
		fixed.StripBookkeeping()
		m, err := fixed.ToMap(false)
		if err != nil {
			l.Warn().Err(err).Str("key", rec.Key()).Msg("Failed to render record for runtime config.")
			skipped = append(skipped, rec.Key())
			continue
		}
		cfg.Proxies = append(cfg.Proxies, m)
		cfg.Listeners = append(cfg.Listeners, runtimeListener{
			Name:  "mixed" + strconv.Itoa(rec.LocalPort),
			Type:  "mixed",
			Port:  rec.LocalPort,
			Proxy: fixed.Name,
		})
		bindings = append(bindings, Binding{Key: rec.Key(), Name: fixed.Name, LocalPort: rec.LocalPort})
	}
	return cfg, bindings, skipped
}

// WriteRuntimeConfig 把配置写入 path，父目录不存在时自动创建。
func WriteRuntimeConfig(cfg *RuntimeConfig, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal runtime config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
