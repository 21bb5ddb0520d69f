package parser

import (
	"errors"
	"testing"

	"subpool/proxypool/model"
)

const testUUID = "b831381d-6324-4d53-ad4f-8cda48b30811"

func mustParse(t *testing.T, link string) *model.Record {
	t.Helper()
	rec, err := ParseLink(link, NewNameTable())
	if err != nil {
		t.Fatalf("ParseLink(%q) failed: %v", link, err)
	}
	return rec
}

func assertEndpoint(t *testing.T, rec *model.Record, proto model.Protocol, server string, port int) {
	t.Helper()
	if rec.Protocol() != proto {
		t.Errorf("Expected protocol %s, but got %s", proto, rec.Protocol())
	}
	if rec.Server != server || rec.Port != port {
		t.Errorf("Expected endpoint %s:%d, but got %s:%d", server, port, rec.Server, rec.Port)
	}
}

func TestParseShadowsocks_Base64Userinfo(t *testing.T) {
	rec := mustParse(t, "ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@1.2.3.4:8388#Test")
	assertEndpoint(t, rec, model.ProtocolShadowsocks, "1.2.3.4", 8388)

	opts := rec.Options.(*model.ShadowsocksOptions)
	if opts.Cipher != "aes-256-gcm" || opts.Password != "password" {
		t.Errorf("Expected aes-256-gcm/password, but got %s/%s", opts.Cipher, opts.Password)
	}
	if rec.Name != "Test" {
		t.Errorf("Expected name Test, but got %s", rec.Name)
	}
	if rec.Key() != "1.2.3.4:8388" {
		t.Errorf("Expected key 1.2.3.4:8388, but got %s", rec.Key())
	}
}

func TestParseShadowsocks_PlainUserinfoTriedFirst(t *testing.T) {
	rec := mustParse(t, "ss://aes-256-gcm:pa%40ss@1.2.3.4:8388#Plain")
	opts := rec.Options.(*model.ShadowsocksOptions)
	if opts.Cipher != "aes-256-gcm" || opts.Password != "pa@ss" {
		t.Errorf("Expected aes-256-gcm/pa@ss, but got %s/%s", opts.Cipher, opts.Password)
	}

	// 两段都是合法 base64，仍然按直接字段解析
	rec = mustParse(t, "ss://YWJj:ZGVm@1.2.3.4:8388")
	opts = rec.Options.(*model.ShadowsocksOptions)
	if opts.Cipher != "YWJj" || opts.Password != "ZGVm" {
		t.Errorf("Expected direct fields YWJj/ZGVm, but got %s/%s", opts.Cipher, opts.Password)
	}
}

func TestParseShadowsocks_WholeBodyBase64(t *testing.T) {
	rec := mustParse(t, "ss://YWVzLTEyOC1nY206c2VjcmV0QDUuNi43Ljg6NDQz#Whole")
	assertEndpoint(t, rec, model.ProtocolShadowsocks, "5.6.7.8", 443)
	opts := rec.Options.(*model.ShadowsocksOptions)
	if opts.Cipher != "aes-128-gcm" || opts.Password != "secret" {
		t.Errorf("Expected aes-128-gcm/secret, but got %s/%s", opts.Cipher, opts.Password)
	}
	if rec.Name != "Whole" {
		t.Errorf("Expected name Whole, but got %s", rec.Name)
	}
}

func TestParseShadowsocks_Plugins(t *testing.T) {
	rec := mustParse(t, "ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@1.2.3.4:8388/?plugin=obfs-local%3Bobfs%3Dhttp%3Bobfs-host%3Dbing.com#P")
	opts := rec.Options.(*model.ShadowsocksOptions)
	if opts.Plugin != "obfs" {
		t.Fatalf("Expected plugin obfs, but got %q", opts.Plugin)
	}
	if opts.PluginOpts["mode"] != "http" || opts.PluginOpts["host"] != "bing.com" {
		t.Errorf("Unexpected obfs opts: %v", opts.PluginOpts)
	}

	rec = mustParse(t, "ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@1.2.3.4:8388?plugin=v2ray-plugin%3Btls%3Bhost%3Dex.com%3Bpath%3D%2Fws&uot=1#V")
	opts = rec.Options.(*model.ShadowsocksOptions)
	if opts.Plugin != "v2ray-plugin" {
		t.Fatalf("Expected plugin v2ray-plugin, but got %q", opts.Plugin)
	}
	if opts.PluginOpts["tls"] != true || opts.PluginOpts["host"] != "ex.com" || opts.PluginOpts["path"] != "/ws" {
		t.Errorf("Unexpected v2ray-plugin opts: %v", opts.PluginOpts)
	}
	if !opts.UDPOverTCP {
		t.Errorf("Expected uot=1 to enable udp-over-tcp")
	}
}

func TestParseShadowsocks_Malformed(t *testing.T) {
	for _, link := range []string{
		"ss://@1.2.3.4:8388",
		"ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@1.2.3.4",
		"ss://bm9jb2xvbg==@1.2.3.4:8388",
		"ss://aes-256-gcm:pw@1.2.3.4:notaport",
	} {
		if _, err := ParseLink(link, nil); err == nil {
			t.Errorf("Expected %q to fail", link)
		}
	}
}

func TestParseShadowsocksR(t *testing.T) {
	link := "ssr://MS4yLjMuNDo4Mzg4OmF1dGhfYWVzMTI4X21kNTphZXMtMjU2LWNmYjp0bHMxLjJfdGlja2V0X2F1dGg6Y0dGemN3Lz9vYmZzcGFyYW09YjJKbWN5NWxlR0Z0Y0d4bCZwcm90b3BhcmFtPU16STZZV0pqJnJlbWFya3M9VTFOU0lFNXZaR1U"
	rec := mustParse(t, link)
	assertEndpoint(t, rec, model.ProtocolShadowsocksR, "1.2.3.4", 8388)
	opts := rec.Options.(*model.SSROptions)
	if opts.Cipher != "aes-256-cfb" || opts.Password != "pass" {
		t.Errorf("Unexpected cipher/password %s/%s", opts.Cipher, opts.Password)
	}
	if opts.AuthProtocol != "auth_aes128_md5" || opts.Obfs != "tls1.2_ticket_auth" {
		t.Errorf("Unexpected protocol/obfs %s/%s", opts.AuthProtocol, opts.Obfs)
	}
	if opts.ObfsParam != "obfs.example" || opts.ProtocolParam != "32:abc" {
		t.Errorf("Unexpected params %s/%s", opts.ObfsParam, opts.ProtocolParam)
	}
	if rec.Name != "SSR Node" {
		t.Errorf("Expected name 'SSR Node', but got %q", rec.Name)
	}
}

func TestParseShadowsocksR_NoPartialRecovery(t *testing.T) {
	cases := map[string]string{
		"missing separator": "ssr://MS4yLjMuNDo4Mzg4Om9yaWdpbjphZXMtMjU2LWNmYjpwbGFpbjpjR0Z6Y3c",
		"five fields":       "ssr://MS4yLjMuNDo4Mzg4OmFlcy0yNTYtY2ZiOnBsYWluOmNHRnpjdy8_cmVtYXJrcz1lQQ",
		"not base64":        "ssr://***",
	}
	for name, link := range cases {
		if _, err := ParseLink(link, nil); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, but got %v", name, err)
		}
	}
}

func TestParseVMess_JSONNetworks(t *testing.T) {
	ws := mustParse(t, "vmess://eyJ2IjoiMiIsInBzIjoiVk0iLCJhZGQiOiJ2LmV4YW1wbGUuY29tIiwicG9ydCI6IjQ0MyIsImlkIjoiYjgzMTM4MWQtNjMyNC00ZDUzLWFkNGYtOGNkYTQ4YjMwODExIiwiYWlkIjoiMCIsInNjeSI6ImF1dG8iLCJuZXQiOiJ3cyIsInR5cGUiOiJub25lIiwiaG9zdCI6ImNkbi5leGFtcGxlLmNvbSIsInBhdGgiOiIvcmF5IiwidGxzIjoidGxzIiwic25pIjoidi5leGFtcGxlLmNvbSJ9")
	assertEndpoint(t, ws, model.ProtocolVMess, "v.example.com", 443)
	opts := ws.Options.(*model.VMessOptions)
	if opts.UUID != testUUID || opts.AlterID != 0 || opts.Cipher != "auto" {
		t.Errorf("Unexpected credentials: %+v", opts)
	}
	if !opts.TLS || opts.ServerName != "v.example.com" {
		t.Errorf("Expected tls with servername, got tls=%v sni=%q", opts.TLS, opts.ServerName)
	}
	if opts.Network != "ws" || opts.WSOpts == nil || opts.WSOpts.Path != "/ray" || opts.WSOpts.Headers["Host"] != "cdn.example.com" {
		t.Errorf("Unexpected ws transport: %+v", opts.Transport)
	}
	if ws.Name != "VM" {
		t.Errorf("Expected name VM, but got %s", ws.Name)
	}

	grpc := mustParse(t, "vmess://eyJ2IjoiMiIsInBzIjoiRyIsImFkZCI6InYuZXhhbXBsZS5jb20iLCJwb3J0Ijo4NDQzLCJpZCI6ImI4MzEzODFkLTYzMjQtNGQ1My1hZDRmLThjZGE0OGIzMDgxMSIsImFpZCI6Miwic2N5IjoiYXV0byIsIm5ldCI6ImdycGMiLCJ0eXBlIjoibm9uZSIsImhvc3QiOiJjZG4uZXhhbXBsZS5jb20iLCJwYXRoIjoic3ZjIiwidGxzIjoidGxzIiwic25pIjoidi5leGFtcGxlLmNvbSJ9")
	gopts := grpc.Options.(*model.VMessOptions)
	if grpc.Port != 8443 || gopts.AlterID != 2 {
		t.Errorf("Expected numeric port/aid to parse, got port=%d aid=%d", grpc.Port, gopts.AlterID)
	}
	if gopts.GrpcOpts == nil || gopts.GrpcOpts.ServiceName != "svc" || gopts.WSOpts != nil {
		t.Errorf("Unexpected grpc transport: %+v", gopts.Transport)
	}

	http := mustParse(t, "vmess://eyJ2IjoiMiIsInBzIjoiSFQiLCJhZGQiOiJ2LmV4YW1wbGUuY29tIiwicG9ydCI6IjQ0MyIsImlkIjoiYjgzMTM4MWQtNjMyNC00ZDUzLWFkNGYtOGNkYTQ4YjMwODExIiwiYWlkIjoiMCIsInNjeSI6ImF1dG8iLCJuZXQiOiJ0Y3AiLCJ0eXBlIjoiaHR0cCIsImhvc3QiOiJjZG4uZXhhbXBsZS5jb20iLCJwYXRoIjoiL2giLCJ0bHMiOiJ0bHMiLCJzbmkiOiJ2LmV4YW1wbGUuY29tIn0=")
	hopts := http.Options.(*model.VMessOptions)
	if hopts.Network != "http" || hopts.HTTPOpts == nil || hopts.HTTPOpts.Path[0] != "/h" || hopts.HTTPOpts.Headers["Host"][0] != "cdn.example.com" {
		t.Errorf("Unexpected http transport: %+v", hopts.Transport)
	}

	h2 := mustParse(t, "vmess://eyJ2IjoiMiIsInBzIjoiSDIiLCJhZGQiOiJ2LmV4YW1wbGUuY29tIiwicG9ydCI6IjQ0MyIsImlkIjoiYjgzMTM4MWQtNjMyNC00ZDUzLWFkNGYtOGNkYTQ4YjMwODExIiwiYWlkIjoiMCIsInNjeSI6ImF1dG8iLCJuZXQiOiJodHRwIiwidHlwZSI6Im5vbmUiLCJob3N0IjoiY2RuLmV4YW1wbGUuY29tIiwicGF0aCI6Ii9yYXkiLCJ0bHMiOiJ0bHMiLCJzbmkiOiJ2LmV4YW1wbGUuY29tIn0=")
	h2opts := h2.Options.(*model.VMessOptions)
	if h2opts.Network != "h2" || h2opts.H2Opts == nil || h2opts.H2Opts.Host[0] != "cdn.example.com" {
		t.Errorf("Unexpected h2 transport: %+v", h2opts.Transport)
	}

	hu := mustParse(t, "vmess://eyJ2IjoiMiIsInBzIjoiSFUiLCJhZGQiOiJ2LmV4YW1wbGUuY29tIiwicG9ydCI6IjQ0MyIsImlkIjoiYjgzMTM4MWQtNjMyNC00ZDUzLWFkNGYtOGNkYTQ4YjMwODExIiwiYWlkIjoiMCIsInNjeSI6ImF1dG8iLCJuZXQiOiJodHRwdXBncmFkZSIsInR5cGUiOiJub25lIiwiaG9zdCI6ImNkbi5leGFtcGxlLmNvbSIsInBhdGgiOiIvcmF5IiwidGxzIjoidGxzIiwic25pIjoidi5leGFtcGxlLmNvbSJ9")
	huopts := hu.Options.(*model.VMessOptions)
	if huopts.Network != "ws" || huopts.WSOpts == nil || !huopts.WSOpts.V2rayHTTPUpgrade {
		t.Errorf("Expected httpupgrade to map to ws with upgrade flag, got %+v", huopts.Transport)
	}
}

func TestParseVMess_URIFallback(t *testing.T) {
	rec := mustParse(t, "vmess://"+testUUID+"@1.1.1.1:443?encryption=auto&type=ws&path=%2Fp&host=h.com&security=tls&sni=h.com#URI")
	assertEndpoint(t, rec, model.ProtocolVMess, "1.1.1.1", 443)
	opts := rec.Options.(*model.VMessOptions)
	if opts.UUID != testUUID || !opts.TLS || opts.WSOpts == nil || opts.WSOpts.Path != "/p" {
		t.Errorf("Unexpected uri-form options: %+v", opts)
	}
	if rec.Name != "URI" {
		t.Errorf("Expected name URI, but got %s", rec.Name)
	}
}

func TestParseVMess_BothFormsFail(t *testing.T) {
	// JSON 缺少 ps，且主体不是 uuid@host:port
	link := "vmess://eyJ2IjoiMiIsImFkZCI6InYuZXhhbXBsZS5jb20iLCJwb3J0IjoiNDQzIiwiaWQiOiJiODMxMzgxZC02MzI0LTRkNTMtYWQ0Zi04Y2RhNDhiMzA4MTEiLCJhaWQiOiIwIiwic2N5IjoiYXV0byIsIm5ldCI6IndzIiwidHlwZSI6Im5vbmUiLCJob3N0IjoiY2RuLmV4YW1wbGUuY29tIiwicGF0aCI6Ii9yYXkiLCJ0bHMiOiJ0bHMiLCJzbmkiOiJ2LmV4YW1wbGUuY29tIn0="
	_, err := ParseLink(link, nil)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *ParseError, but got %v", err)
	}
	if pe.Scheme != "vmess" {
		t.Errorf("Expected scheme vmess, but got %s", pe.Scheme)
	}
}

func TestParseVLESS_RealityWithoutShortID(t *testing.T) {
	rec := mustParse(t, "vless://"+testUUID+"@r.example.com:443?security=reality&pbk=PUBKEY&sni=www.microsoft.com&fp=chrome&type=tcp&flow=xtls-rprx-vision#R")
	assertEndpoint(t, rec, model.ProtocolVLESS, "r.example.com", 443)
	opts := rec.Options.(*model.VLESSOptions)
	if opts.RealityOpts == nil {
		t.Fatalf("Expected reality options")
	}
	if opts.RealityOpts.PublicKey != "PUBKEY" || opts.RealityOpts.ShortID != "" {
		t.Errorf("Unexpected reality options: %+v", opts.RealityOpts)
	}
	if !opts.TLS || opts.ServerName != "www.microsoft.com" || opts.ClientFingerprint != "chrome" {
		t.Errorf("Unexpected tls fields: %+v", opts)
	}
	if opts.Flow != "xtls-rprx-vision" {
		t.Errorf("Expected flow on tcp, but got %q", opts.Flow)
	}
}

func TestParseVLESS_FlowIgnoredOutsideTCP(t *testing.T) {
	rec := mustParse(t, "vless://"+testUUID+"@w.example.com:443?security=tls&type=ws&path=%2Fws&host=cdn.com&flow=xtls-rprx-vision&allowInsecure=1#W")
	opts := rec.Options.(*model.VLESSOptions)
	if opts.Flow != "" {
		t.Errorf("Expected flow to be dropped for ws, but got %q", opts.Flow)
	}
	if opts.RealityOpts != nil || !opts.TLS || !opts.SkipCertVerify {
		t.Errorf("Expected plain tls with skip-cert-verify, got %+v", opts)
	}
	if opts.WSOpts == nil || opts.WSOpts.Headers["Host"] != "cdn.com" {
		t.Errorf("Unexpected ws transport: %+v", opts.Transport)
	}
}

func TestParseVLESS_RealityRequiresPublicKey(t *testing.T) {
	_, err := ParseLink("vless://"+testUUID+"@r.example.com:443?security=reality&sid=ab#R", nil)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed, but got %v", err)
	}
}

func TestParseTrojan(t *testing.T) {
	rec := mustParse(t, "trojan://secret@t.example.com:443?sni=t.example.com&type=grpc&serviceName=gs#T")
	assertEndpoint(t, rec, model.ProtocolTrojan, "t.example.com", 443)
	opts := rec.Options.(*model.TrojanOptions)
	if opts.Password != "secret" || opts.SNI != "t.example.com" {
		t.Errorf("Unexpected trojan credentials: %+v", opts)
	}
	if opts.ClientFingerprint != "chrome" {
		t.Errorf("Expected default fingerprint chrome, but got %q", opts.ClientFingerprint)
	}
	if opts.GrpcOpts == nil || opts.GrpcOpts.ServiceName != "gs" {
		t.Errorf("Unexpected grpc transport: %+v", opts.Transport)
	}
}

func TestParseHysteriaFamily(t *testing.T) {
	hy := mustParse(t, "hysteria://h.example.com:8443?protocol=udp&auth=a&peer=p.com&upmbps=10&downmbps=50&alpn=h3#HY")
	assertEndpoint(t, hy, model.ProtocolHysteria, "h.example.com", 8443)
	hopts := hy.Options.(*model.HysteriaOptions)
	if hopts.AuthStr != "a" || hopts.SNI != "p.com" || hopts.Up != "10" || hopts.Down != "50" || len(hopts.ALPN) != 1 {
		t.Errorf("Unexpected hysteria options: %+v", hopts)
	}

	hy2 := mustParse(t, "hy2://pw@h2.example.com?sni=h2.example.com&insecure=1&obfs=salamander&obfs-password=op#H2")
	assertEndpoint(t, hy2, model.ProtocolHysteria2, "h2.example.com", 443)
	h2opts := hy2.Options.(*model.Hysteria2Options)
	if h2opts.Password != "pw" || h2opts.Obfs != "salamander" || h2opts.ObfsPassword != "op" || !h2opts.SkipCertVerify {
		t.Errorf("Unexpected hysteria2 options: %+v", h2opts)
	}
}

func TestParseTUIC_UUIDPasswordOrToken(t *testing.T) {
	rec := mustParse(t, "tuic://"+testUUID+":pw@t.example.com:443?congestion_control=bbr&alpn=h3&sni=t.example.com&udp_relay_mode=native&allow_insecure=1#TU")
	assertEndpoint(t, rec, model.ProtocolTUIC, "t.example.com", 443)
	opts := rec.Options.(*model.TUICOptions)
	if opts.UUID != testUUID || opts.Password != "pw" || opts.Token != "" {
		t.Errorf("Expected uuid+password, got %+v", opts)
	}
	if opts.CongestionController != "bbr" || !opts.SkipCertVerify {
		t.Errorf("Unexpected tuic options: %+v", opts)
	}

	rec = mustParse(t, "tuic://tok@t.example.com:443#TK")
	opts = rec.Options.(*model.TUICOptions)
	if opts.Token != "tok" || opts.UUID != "" || opts.Password != "" {
		t.Errorf("Expected token only, got %+v", opts)
	}
}

func TestParseLink_UnsupportedScheme(t *testing.T) {
	_, err := ParseLink("HTTP://example.com:80", nil)
	if !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("Expected ErrUnsupportedScheme, but got %v", err)
	}
}

func TestParseLink_SchemeIsCaseInsensitive(t *testing.T) {
	rec := mustParse(t, "SS://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@1.2.3.4:8388#Upper")
	if rec.Protocol() != model.ProtocolShadowsocks {
		t.Errorf("Expected ss, but got %s", rec.Protocol())
	}
}

func TestRegister_OverridesScheme(t *testing.T) {
	Register("demo", func(link string) (*model.Record, error) {
		return &model.Record{Name: "d", Server: "x", Port: 1, Options: &model.ShadowsocksOptions{}}, nil
	})
	defer func() {
		registryMu.Lock()
		delete(registry, "demo")
		registryMu.Unlock()
	}()
	rec := mustParse(t, "DEMO://anything")
	if rec.Name != "d" {
		t.Errorf("Expected registered parser to run, got %+v", rec)
	}
}
