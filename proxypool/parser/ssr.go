package parser

import (
	"strconv"
	"strings"

	"subpool/proxypool/model"
)

// parseShadowsocksR 解析 ssr://base64(host:port:protocol:method:obfs:base64pass/?obfsparam=..&protoparam=..&remarks=..)
// 任何段缺失都使整条失败，不做部分恢复。
func parseShadowsocksR(link string) (*model.Record, error) {
	_, body, _ := strings.Cut(strings.TrimSpace(link), "://")
	decoded, err := decodeBase64Text(body)
	if err != nil {
		return nil, err
	}

	before, after, ok := strings.Cut(decoded, "/?")
	if !ok {
		return nil, malformed("missing '/?' separator")
	}
	fields := strings.Split(before, ":")
	if len(fields) != 6 {
		return nil, malformed("expected 6 fields, got %d", len(fields))
	}
	host, portStr, protocol, method, obfs, passwordEnc := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5]

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, malformed("invalid port %q", portStr)
	}
	if host == "" {
		return nil, malformed("empty host")
	}
	password, err := decodeBase64Text(passwordEnc)
	if err != nil {
		return nil, err
	}

	query := parseQuery(after)
	name, err := optionalBase64(query["remarks"])
	if err != nil {
		return nil, err
	}
	obfsParam, err := optionalBase64(query["obfsparam"])
	if err != nil {
		return nil, err
	}
	protoParam, err := optionalBase64(query["protoparam"])
	if err != nil {
		return nil, err
	}

	return &model.Record{
		Name:   name,
		Server: host,
		Port:   port,
		UDP:    true,
		Options: &model.SSROptions{
			Cipher:        method,
			Password:      password,
			Obfs:          obfs,
			AuthProtocol:  protocol,
			ObfsParam:     obfsParam,
			ProtocolParam: protoParam,
		},
	}, nil
}

func optionalBase64(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	// 查询串里的 base64 可能因 '+' 被解码成空格
	return decodeBase64Text(strings.ReplaceAll(s, " ", "+"))
}
