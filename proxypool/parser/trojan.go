package parser

import (
	"subpool/proxypool/model"
)

func parseTrojan(link string) (*model.Record, error) {
	p, err := splitLink(link)
	if err != nil {
		return nil, err
	}
	password := p.Username
	if p.HasPassword {
		// trojan 的密码里可能含有未转义的 ':'
		password = p.Username + ":" + p.Password
	}
	if password == "" {
		return nil, malformed("missing password")
	}
	if p.Host == "" || p.Port == 0 {
		return nil, malformed("missing server or port")
	}

	sec := readSecurity(p.Query)
	if sec.Reality != nil && sec.Reality.PublicKey == "" {
		return nil, malformed("reality without public key")
	}
	transport := readTransport(p.Query)
	if transport.Network == "tcp" {
		transport.Network = ""
	}

	return &model.Record{
		Name:   p.Fragment,
		Server: p.Host,
		Port:   p.Port,
		UDP:    true,
		Options: &model.TrojanOptions{
			Password:          password,
			SNI:               sec.SNI,
			SkipCertVerify:    sec.Insecure,
			ALPN:              sec.ALPN,
			ClientFingerprint: firstNonEmpty(sec.Fingerprint, "chrome"),
			RealityOpts:       sec.Reality,
			Transport:         transport,
		},
	}, nil
}
