package parser

import (
	"strings"

	"subpool/proxypool/model"
)

// security 是 vless/trojan/vmess-uri 共用的 TLS/REALITY 参数。
type security struct {
	Mode        string // "", "none", "tls", "reality"
	TLS         bool
	SNI         string
	ALPN        []string
	Fingerprint string
	Insecure    bool
	Reality     *model.RealityOptions
}

func readSecurity(q map[string]string) security {
	s := security{
		Mode:        strings.ToLower(q["security"]),
		SNI:         firstNonEmpty(q["sni"], q["peer"]),
		ALPN:        splitList(q["alpn"]),
		Fingerprint: q["fp"],
		Insecure:    truthy(q["allowInsecure"]) || truthy(q["insecure"]),
	}
	switch s.Mode {
	case "tls", "xtls":
		s.TLS = true
	case "reality":
		s.TLS = true
		// sid 是可选的，缺失时保持为空
		s.Reality = &model.RealityOptions{
			PublicKey: q["pbk"],
			ShortID:   q["sid"],
			SpiderX:   q["spx"],
		}
	}
	return s
}

// readTransport 把 type/path/host/serviceName/headerType 映射为声明式传输参数。
func readTransport(q map[string]string) model.Transport {
	network := strings.ToLower(firstNonEmpty(q["type"], "tcp"))
	host := q["host"]
	path := q["path"]

	t := model.Transport{Network: network}
	switch network {
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
		t.GrpcOpts = &model.GrpcOptions{ServiceName: firstNonEmpty(q["serviceName"], path)}
	case "h2", "http":
		t.Network = "h2"
		h2 := &model.H2Options{Path: firstNonEmpty(path, "/")}
		if host != "" {
			h2.Host = splitList(host)
		}
		t.H2Opts = h2
	case "tcp":
		if q["headerType"] == "http" {
			headers := map[string][]string{}
			if host != "" {
				headers["Host"] = splitList(host)
			}
			t.Network = "http"
			t.HTTPOpts = &model.HTTPOptions{Path: []string{firstNonEmpty(path, "/")}, Headers: headers}
		}
	}
	return t
}

func parseVLESS(link string) (*model.Record, error) {
	p, err := splitLink(link)
	if err != nil {
		return nil, err
	}
	if p.Username == "" {
		return nil, malformed("missing uuid")
	}
	if p.Host == "" || p.Port == 0 {
		return nil, malformed("missing server or port")
	}
	warnIfNotUUID("vless", p.Username)

	sec := readSecurity(p.Query)
	if sec.Reality != nil && sec.Reality.PublicKey == "" {
		return nil, malformed("reality without public key")
	}
	transport := readTransport(p.Query)

	opts := &model.VLESSOptions{
		UUID:              p.Username,
		TLS:               sec.TLS,
		ServerName:        sec.SNI,
		SkipCertVerify:    sec.Insecure,
		ALPN:              sec.ALPN,
		ClientFingerprint: sec.Fingerprint,
		RealityOpts:       sec.Reality,
		Transport:         transport,
	}
	// flow 只在 tcp 上有意义
	if transport.Network == "tcp" {
		opts.Flow = p.Query["flow"]
	}
	if sec.Reality != nil && opts.ClientFingerprint == "" {
		opts.ClientFingerprint = "chrome"
	}

	return &model.Record{
		Name:    p.Fragment,
		Server:  p.Host,
		Port:    p.Port,
		UDP:     true,
		Options: opts,
	}, nil
}
