package parser

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"subpool/internal/shared/logger"
	"subpool/proxypool/model"
)

// parseVMess 先按 base64(JSON) 约定解析，任何解码或字段错误都回落到 URI 约定。
func parseVMess(link string) (*model.Record, error) {
	rec, errJSON := parseVMessJSON(link)
	if errJSON == nil {
		return rec, nil
	}
	rec, errURI := parseVMessURI(link)
	if errURI == nil {
		return rec, nil
	}
	return nil, fmt.Errorf("json form: %v; uri form: %w", errJSON, errURI)
}

func parseVMessJSON(link string) (*model.Record, error) {
	_, body, _ := strings.Cut(strings.TrimSpace(link), "://")
	decoded, err := decodeBase64Text(body)
	if err != nil {
		return nil, err
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(decoded), &values); err != nil {
		return nil, malformed("invalid vmess json: %v", err)
	}
	get := func(key string) string { return jsonString(values, key) }

	name := get("ps")
	if name == "" {
		return nil, malformed("vmess json without ps")
	}
	server := get("add")
	port, err := strconv.Atoi(get("port"))
	if err != nil || port <= 0 || port > 65535 || server == "" {
		return nil, malformed("invalid vmess endpoint %q:%q", server, get("port"))
	}
	alterID := 0
	if aid := get("aid"); aid != "" {
		if alterID, err = strconv.Atoi(aid); err != nil {
			return nil, malformed("invalid aid %q", aid)
		}
	}

	id := get("id")
	if id == "" {
		return nil, malformed("vmess json without id")
	}
	warnIfNotUUID("vmess", id)

	opts := &model.VMessOptions{
		UUID:              id,
		AlterID:           alterID,
		Cipher:            firstNonEmpty(get("scy"), "auto"),
		TLS:               strings.HasSuffix(strings.ToLower(get("tls")), "tls"),
		ServerName:        get("sni"),
		ALPN:              splitList(get("alpn")),
		ClientFingerprint: get("fp"),
	}

	network := strings.ToLower(get("net"))
	if get("type") == "http" {
		network = "http"
	} else if network == "http" {
		network = "h2"
	}
	opts.Transport = vmessTransport(network, get("host"), get("path"))

	return &model.Record{
		Name:    name,
		Server:  server,
		Port:    port,
		UDP:     true,
		Options: opts,
	}, nil
}

// vmessTransport 按网络类型填充各自的嵌套参数，下游按 network 选择行为。
func vmessTransport(network, host, path string) model.Transport {
	t := model.Transport{Network: network}
	switch network {
	case "http":
		headers := map[string][]string{}
		if host != "" {
			headers["Host"] = []string{host}
		}
		t.HTTPOpts = &model.HTTPOptions{Path: []string{firstNonEmpty(path, "/")}, Headers: headers}
	case "h2":
		h2 := &model.H2Options{Path: path}
		if host != "" {
			h2.Host = []string{host}
		}
		t.H2Opts = h2
	case "ws", "httpupgrade":
		headers := map[string]string{}
		if host != "" {
			headers["Host"] = host
		}
		t.Network = "ws"
		t.WSOpts = &model.WSOptions{
			Path:             firstNonEmpty(path, "/"),
			Headers:          headers,
			V2rayHTTPUpgrade: network == "httpupgrade",
		}
	case "grpc":
		t.GrpcOpts = &model.GrpcOptions{ServiceName: path}
	}
	return t
}

// parseVMessURI 处理 vmess://uuid@host:port?type=ws&security=tls... 形式。
func parseVMessURI(link string) (*model.Record, error) {
	p, err := splitLink(link)
	if err != nil {
		return nil, err
	}
	if !p.HasUserinfo || p.Username == "" || p.Host == "" || p.Port == 0 {
		return nil, malformed("vmess uri needs uuid@host:port")
	}
	warnIfNotUUID("vmess", p.Username)

	alterID := 0
	if aid := p.Query["alterId"]; aid != "" {
		if alterID, err = strconv.Atoi(aid); err != nil {
			return nil, malformed("invalid alterId %q", aid)
		}
	}

	sec := readSecurity(p.Query)
	opts := &model.VMessOptions{
		UUID:              p.Username,
		AlterID:           alterID,
		Cipher:            firstNonEmpty(p.Query["encryption"], "auto"),
		TLS:               sec.TLS,
		ServerName:        sec.SNI,
		SkipCertVerify:    sec.Insecure,
		ALPN:              sec.ALPN,
		ClientFingerprint: sec.Fingerprint,
		Transport:         readTransport(p.Query),
	}
	return &model.Record{
		Name:    p.Fragment,
		Server:  p.Host,
		Port:    p.Port,
		UDP:     true,
		Options: opts,
	}, nil
}

// jsonString 兼容字段为数字或字符串的 vmess JSON。
func jsonString(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// warnIfNotUUID 只记录告警：部分服务端接受任意字符串并映射为 UUID。
func warnIfNotUUID(scheme, id string) {
	if _, err := uuid.Parse(id); err != nil {
		l := logger.WithComponent("ProxyPool/Parser")
		l.Debug().Str("scheme", scheme).Str("id", id).Msg("Credential is not a canonical UUID.")
	}
}
