package parser

import (
	"subpool/proxypool/model"
)

// parseTUIC: userinfo 为 uuid:password (v5) 或单独的 token (v4)。
func parseTUIC(link string) (*model.Record, error) {
	p, err := splitLink(link)
	if err != nil {
		return nil, err
	}
	if p.Host == "" || p.Port == 0 {
		return nil, malformed("missing server or port")
	}
	if p.Username == "" {
		return nil, malformed("missing uuid or token")
	}

	q := p.Query
	opts := &model.TUICOptions{
		CongestionController: q["congestion_control"],
		UDPRelayMode:         q["udp_relay_mode"],
		SNI:                  q["sni"],
		DisableSNI:           q["disable_sni"] == "1",
		ALPN:                 splitList(q["alpn"]),
		SkipCertVerify:       q["allow_insecure"] == "1",
	}
	if p.HasPassword && p.Password != "" {
		opts.UUID = p.Username
		opts.Password = p.Password
	} else {
		opts.Token = p.Username
	}

	return &model.Record{
		Name:    p.Fragment,
		Server:  p.Host,
		Port:    p.Port,
		UDP:     true,
		Options: opts,
	}, nil
}
