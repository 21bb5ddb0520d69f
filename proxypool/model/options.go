package model

// Protocol 是记录的类型标签，取值与声明式代理文档中的 `type` 字段一致。
type Protocol string

const (
	ProtocolShadowsocks  Protocol = "ss"
	ProtocolShadowsocksR Protocol = "ssr"
	ProtocolVMess        Protocol = "vmess"
	ProtocolVLESS        Protocol = "vless"
	ProtocolTrojan       Protocol = "trojan"
	ProtocolHysteria     Protocol = "hysteria"
	ProtocolHysteria2    Protocol = "hysteria2"
	ProtocolTUIC         Protocol = "tuic"
)

// Options 是按协议区分的凭据/传输参数。每个实现对应一个 Protocol。
type Options interface {
	Protocol() Protocol
}

// NewOptions 返回协议对应的空参数结构，未知协议返回 nil。
func NewOptions(p Protocol) Options {
	switch p {
	case ProtocolShadowsocks:
		return &ShadowsocksOptions{}
	case ProtocolShadowsocksR:
		return &SSROptions{}
	case ProtocolVMess:
		return &VMessOptions{}
	case ProtocolVLESS:
		return &VLESSOptions{}
	case ProtocolTrojan:
		return &TrojanOptions{}
	case ProtocolHysteria:
		return &HysteriaOptions{}
	case ProtocolHysteria2:
		return &Hysteria2Options{}
	case ProtocolTUIC:
		return &TUICOptions{}
	}
	return nil
}

// --- 传输层 ---

type WSOptions struct {
	Path             string            `json:"path,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	V2rayHTTPUpgrade bool              `json:"v2ray-http-upgrade,omitempty"`
}

type HTTPOptions struct {
	Method  string              `json:"method,omitempty"`
	Path    []string            `json:"path,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
}

type H2Options struct {
	Host []string `json:"host,omitempty"`
	Path string   `json:"path,omitempty"`
}

type GrpcOptions struct {
	ServiceName string `json:"grpc-service-name"`
}

type RealityOptions struct {
	PublicKey string `json:"public-key"`
	ShortID   string `json:"short-id,omitempty"`
	SpiderX   string `json:"spider-x,omitempty"`
}

// Transport 按 Network 只填充其中一个 *Opts。
type Transport struct {
	Network  string       `json:"network,omitempty"`
	WSOpts   *WSOptions   `json:"ws-opts,omitempty"`
	HTTPOpts *HTTPOptions `json:"http-opts,omitempty"`
	H2Opts   *H2Options   `json:"h2-opts,omitempty"`
	GrpcOpts *GrpcOptions `json:"grpc-opts,omitempty"`
}

// --- 协议变体 ---

type ShadowsocksOptions struct {
	Cipher     string         `json:"cipher"`
	Password   string         `json:"password"`
	Plugin     string         `json:"plugin,omitempty"`
	PluginOpts map[string]any `json:"plugin-opts,omitempty"`
	UDPOverTCP bool           `json:"udp-over-tcp,omitempty"`
}

func (*ShadowsocksOptions) Protocol() Protocol { return ProtocolShadowsocks }

type SSROptions struct {
	Cipher        string `json:"cipher"`
	Password      string `json:"password"`
	Obfs          string `json:"obfs"`
	AuthProtocol  string `json:"protocol"`
	ObfsParam     string `json:"obfs-param,omitempty"`
	ProtocolParam string `json:"protocol-param,omitempty"`
}

func (*SSROptions) Protocol() Protocol { return ProtocolShadowsocksR }

type VMessOptions struct {
	UUID              string   `json:"uuid"`
	AlterID           int      `json:"alterId"`
	Cipher            string   `json:"cipher"`
	TLS               bool     `json:"tls,omitempty"`
	ServerName        string   `json:"servername,omitempty"`
	SkipCertVerify    bool     `json:"skip-cert-verify,omitempty"`
	ALPN              []string `json:"alpn,omitempty"`
	ClientFingerprint string   `json:"client-fingerprint,omitempty"`
	Transport
}

func (*VMessOptions) Protocol() Protocol { return ProtocolVMess }

type VLESSOptions struct {
	UUID              string          `json:"uuid"`
	Flow              string          `json:"flow,omitempty"`
	TLS               bool            `json:"tls,omitempty"`
	ServerName        string          `json:"servername,omitempty"`
	SkipCertVerify    bool            `json:"skip-cert-verify,omitempty"`
	ALPN              []string        `json:"alpn,omitempty"`
	ClientFingerprint string          `json:"client-fingerprint,omitempty"`
	RealityOpts       *RealityOptions `json:"reality-opts,omitempty"`
	Transport
}

func (*VLESSOptions) Protocol() Protocol { return ProtocolVLESS }

type TrojanOptions struct {
	Password          string          `json:"password"`
	SNI               string          `json:"sni,omitempty"`
	SkipCertVerify    bool            `json:"skip-cert-verify,omitempty"`
	ALPN              []string        `json:"alpn,omitempty"`
	ClientFingerprint string          `json:"client-fingerprint,omitempty"`
	RealityOpts       *RealityOptions `json:"reality-opts,omitempty"`
	Transport
}

func (*TrojanOptions) Protocol() Protocol { return ProtocolTrojan }

type HysteriaOptions struct {
	AuthStr           string   `json:"auth-str,omitempty"`
	Obfs              string   `json:"obfs,omitempty"`
	SNI               string   `json:"sni,omitempty"`
	SkipCertVerify    bool     `json:"skip-cert-verify,omitempty"`
	ALPN              []string `json:"alpn,omitempty"`
	TransportProtocol string   `json:"protocol,omitempty"`
	Up                string   `json:"up,omitempty"`
	Down              string   `json:"down,omitempty"`
}

func (*HysteriaOptions) Protocol() Protocol { return ProtocolHysteria }

type Hysteria2Options struct {
	Password       string   `json:"password"`
	Obfs           string   `json:"obfs,omitempty"`
	ObfsPassword   string   `json:"obfs-password,omitempty"`
	SNI            string   `json:"sni,omitempty"`
	SkipCertVerify bool     `json:"skip-cert-verify,omitempty"`
	ALPN           []string `json:"alpn,omitempty"`
	Fingerprint    string   `json:"fingerprint,omitempty"`
	Up             string   `json:"up,omitempty"`
	Down           string   `json:"down,omitempty"`
	Ports          string   `json:"ports,omitempty"`
}

func (*Hysteria2Options) Protocol() Protocol { return ProtocolHysteria2 }

// TUICOptions 中 UUID+Password 与 Token 二选一。
type TUICOptions struct {
	UUID                 string   `json:"uuid,omitempty"`
	Password             string   `json:"password,omitempty"`
	Token                string   `json:"token,omitempty"`
	CongestionController string   `json:"congestion-controller,omitempty"`
	UDPRelayMode         string   `json:"udp-relay-mode,omitempty"`
	SNI                  string   `json:"sni,omitempty"`
	DisableSNI           bool     `json:"disable-sni,omitempty"`
	ALPN                 []string `json:"alpn,omitempty"`
	SkipCertVerify       bool     `json:"skip-cert-verify,omitempty"`
}

func (*TUICOptions) Protocol() Protocol { return ProtocolTUIC }
