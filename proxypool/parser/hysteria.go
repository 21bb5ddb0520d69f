package parser

import (
	"subpool/proxypool/model"
)

func parseHysteria(link string) (*model.Record, error) {
	p, err := splitLink(link)
	if err != nil {
		return nil, err
	}
	if p.Host == "" || p.Port == 0 {
		return nil, malformed("missing server or port")
	}
	q := p.Query
	return &model.Record{
		Name:   p.Fragment,
		Server: p.Host,
		Port:   p.Port,
		Options: &model.HysteriaOptions{
			AuthStr:           q["auth"],
			Obfs:              q["obfs"],
			SNI:               q["peer"],
			SkipCertVerify:    truthy(q["insecure"]),
			ALPN:              splitList(q["alpn"]),
			TransportProtocol: q["protocol"],
			Up:                firstNonEmpty(q["up"], q["upmbps"]),
			Down:              firstNonEmpty(q["down"], q["downmbps"]),
		},
	}, nil
}

// parseHysteria2 同时处理 hysteria2:// 与 hy2://，端口缺省为 443，userinfo 即密码。
func parseHysteria2(link string) (*model.Record, error) {
	p, err := splitLink(link)
	if err != nil {
		return nil, err
	}
	if p.Host == "" {
		return nil, malformed("missing server")
	}
	port := p.Port
	if port == 0 {
		port = 443
	}
	password := p.Username
	if p.HasPassword {
		password = p.Username + ":" + p.Password
	}
	q := p.Query
	return &model.Record{
		Name:   p.Fragment,
		Server: p.Host,
		Port:   port,
		Options: &model.Hysteria2Options{
			Password:       password,
			Obfs:           q["obfs"],
			ObfsPassword:   q["obfs-password"],
			SNI:            q["sni"],
			SkipCertVerify: truthy(q["insecure"]),
			ALPN:           splitList(q["alpn"]),
			Fingerprint:    q["pinSHA256"],
			Up:             q["up"],
			Down:           q["down"],
			Ports:          q["mport"],
		},
	}, nil
}
