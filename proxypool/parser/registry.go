package parser

import (
	"strings"
	"sync"

	"subpool/proxypool/model"
)

// ParseFunc 把一条链接转换为记录。返回的记录中 Name 是链接自带的原始名，
// 去重由 ParseLink 在解析成功后统一完成。
type ParseFunc func(link string) (*model.Record, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]ParseFunc{
		"ss":        parseShadowsocks,
		"ssr":       parseShadowsocksR,
		"vmess":     parseVMess,
		"vless":     parseVLESS,
		"trojan":    parseTrojan,
		"hysteria":  parseHysteria,
		"hysteria2": parseHysteria2,
		"hy2":       parseHysteria2,
		"tuic":      parseTUIC,
	}
)

// Register 注册或替换一个 scheme 的解析函数。scheme 不区分大小写。
func Register(scheme string, fn ParseFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(scheme)] = fn
}

// Lookup 返回 scheme 对应的解析函数。
func Lookup(scheme string) (ParseFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[strings.ToLower(scheme)]
	return fn, ok
}

// Schemes 返回已注册的 scheme 列表 (无序)。
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}

// ParseLink 按 scheme 分发一条链接，成功后通过 names 分配批次内唯一的名字。
// 失败时返回 *ParseError，永不 panic。names 为 nil 时使用一次性的名字表。
func ParseLink(link string, names *NameTable) (*model.Record, error) {
	rec, err := parseRaw(link)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = NewNameTable()
	}
	rec.Name = names.Unique(rec.Name)
	return rec, nil
}

// parseRaw 返回带原始名字的记录，不触碰名字表。
func parseRaw(link string) (rec *model.Record, err error) {
	link = strings.TrimSpace(link)
	scheme, _, ok := strings.Cut(link, "://")
	if !ok {
		return nil, &ParseError{Link: link, Err: ErrMalformed}
	}
	scheme = strings.ToLower(scheme)

	fn, ok := Lookup(scheme)
	if !ok {
		return nil, &ParseError{Scheme: scheme, Link: link, Err: ErrUnsupportedScheme}
	}

	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = &ParseError{Scheme: scheme, Link: link, Err: malformed("parser panic: %v", r)}
		}
	}()

	rec, err = fn(link)
	if err != nil {
		return nil, &ParseError{Scheme: scheme, Link: link, Err: err}
	}
	return rec, nil
}
