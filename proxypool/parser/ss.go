package parser

import (
	"strings"

	"subpool/proxypool/model"
)

// parseShadowsocks 依次尝试三种写法：
//  1. userinfo 直接是 method:password
//  2. userinfo 是 base64(method:password)
//  3. 整个主体是 base64(method:password@host:port)
func parseShadowsocks(link string) (*model.Record, error) {
	p, err := splitLink(link)
	if err != nil {
		return parseShadowsocksWhole(link)
	}

	var cipher, password string
	switch {
	case !p.HasUserinfo:
		return parseShadowsocksWhole(link)
	case p.HasPassword && p.Port > 0 && p.Username != "" && p.Password != "":
		cipher, password = p.Username, p.Password
	default:
		decoded, err := decodeBase64Text(p.Username)
		if err != nil {
			return nil, err
		}
		var ok bool
		cipher, password, ok = strings.Cut(decoded, ":")
		if !ok {
			return nil, malformed("userinfo is not method:password")
		}
	}

	if p.Host == "" || p.Port == 0 {
		return nil, malformed("missing server or port")
	}
	if cipher == "" {
		return nil, malformed("empty cipher")
	}

	opts := &model.ShadowsocksOptions{
		Cipher:     cipher,
		Password:   password,
		UDPOverTCP: p.Query["udp-over-tcp"] == "true" || p.Query["uot"] == "1",
	}
	if plugin := p.Query["plugin"]; plugin != "" {
		opts.Plugin, opts.PluginOpts = translatePlugin(plugin)
	}

	return &model.Record{
		Name:    p.Fragment,
		Server:  p.Host,
		Port:    p.Port,
		UDP:     true,
		Options: opts,
	}, nil
}

func parseShadowsocksWhole(link string) (*model.Record, error) {
	_, body, _ := strings.Cut(strings.TrimSpace(link), "://")
	fragment := ""
	if i := strings.IndexByte(body, '#'); i >= 0 {
		fragment = body[i:]
		body = body[:i]
	}
	query := ""
	if i := strings.IndexByte(body, '?'); i >= 0 {
		query = body[i:]
		body = body[:i]
	}
	body = strings.TrimSuffix(body, "/")

	decoded, err := decodeBase64Text(body)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(decoded, "@") {
		return nil, malformed("decoded body has no server")
	}
	// 解码后再走一遍普通链接解析，但不能再次回落到整体 base64。
	p, err := splitLink("ss://" + decoded + query + fragment)
	if err != nil {
		return nil, err
	}
	if !p.HasPassword || p.Host == "" || p.Port == 0 || p.Username == "" {
		return nil, malformed("decoded body is not method:password@host:port")
	}
	opts := &model.ShadowsocksOptions{
		Cipher:     p.Username,
		Password:   p.Password,
		UDPOverTCP: p.Query["udp-over-tcp"] == "true" || p.Query["uot"] == "1",
	}
	if plugin := p.Query["plugin"]; plugin != "" {
		opts.Plugin, opts.PluginOpts = translatePlugin(plugin)
	}
	return &model.Record{
		Name:    p.Fragment,
		Server:  p.Host,
		Port:    p.Port,
		UDP:     true,
		Options: opts,
	}, nil
}

// translatePlugin 把 "name;k=v;flag" 形式的插件参数转换为声明式文档的结构。
// obfs 与 v2ray-plugin 两个家族有专门的映射，其它插件原样保留选项。
func translatePlugin(raw string) (string, map[string]any) {
	parts := strings.Split(raw, ";")
	name := strings.TrimSpace(parts[0])
	info := make(map[string]string)
	flags := make(map[string]bool)
	for _, part := range parts[1:] {
		if k, v, ok := strings.Cut(part, "="); ok {
			info[k] = v
		} else if part != "" {
			flags[part] = true
		}
	}

	opts := make(map[string]any)
	set := func(key, value string) {
		if value != "" {
			opts[key] = value
		}
	}

	switch {
	case strings.Contains(name, "obfs"):
		set("mode", info["obfs"])
		set("host", info["obfs-host"])
		return "obfs", opts
	case strings.Contains(name, "v2ray-plugin"):
		set("mode", firstNonEmpty(info["mode"], "websocket"))
		set("host", info["host"])
		set("path", info["path"])
		opts["tls"] = flags["tls"] || info["tls"] == "true"
		if flags["mux"] || truthy(info["mux"]) {
			opts["mux"] = true
		}
		return "v2ray-plugin", opts
	}

	for k, v := range info {
		opts[k] = v
	}
	for k := range flags {
		opts[k] = true
	}
	return name, opts
}
