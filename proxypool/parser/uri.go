package parser

import (
	"encoding/base64"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// linkParts 是对分享链接的宽松拆分。net/url 会拒绝野生链接里常见的
// 非法转义和 userinfo 中的 '/'，所以这里按 authority 的最后一个 '@' 手动切分。
type linkParts struct {
	Scheme      string
	Username    string
	Password    string
	HasPassword bool
	HasUserinfo bool
	Host        string
	Port        int
	RawPort     string
	Path        string
	Query       map[string]string
	Fragment    string
}

func splitLink(link string) (*linkParts, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(link), "://")
	if !ok {
		return nil, malformed("missing scheme separator")
	}
	p := &linkParts{Scheme: strings.ToLower(scheme)}

	if i := strings.IndexByte(rest, '#'); i >= 0 {
		p.Fragment = unescape(rest[i+1:])
		rest = rest[:i]
	}
	rawQuery := ""
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rawQuery = rest[i+1:]
		rest = rest[:i]
	}
	p.Query = parseQuery(rawQuery)

	if i := strings.LastIndexByte(rest, '@'); i >= 0 {
		p.HasUserinfo = true
		userinfo := rest[:i]
		rest = rest[i+1:]
		user, pass, hasPass := strings.Cut(userinfo, ":")
		p.Username = unescape(user)
		p.Password = unescape(pass)
		p.HasPassword = hasPass
	}

	hostport := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		hostport = rest[:i]
		p.Path = rest[i:]
	}

	host, port, err := splitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	p.Host = host
	p.RawPort = port
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return nil, malformed("invalid port %q", port)
		}
		p.Port = n
	}
	return p, nil
}

// splitHostPort 允许缺省端口，支持 [ipv6]:port。
func splitHostPort(hostport string) (string, string, error) {
	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", "", malformed("unterminated ipv6 literal")
		}
		host := hostport[1:end]
		rest := hostport[end+1:]
		if rest == "" {
			return host, "", nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", "", malformed("unexpected %q after ipv6 literal", rest)
		}
		return host, rest[1:], nil
	}
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
		return hostport[:i], hostport[i+1:], nil
	}
	return hostport, "", nil
}

// parseQuery 只按 '&' 切分，值做 QueryUnescape，失败时保留原文；同名键取第一个。
func parseQuery(raw string) map[string]string {
	q := make(map[string]string)
	if raw == "" {
		return q
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		k = queryUnescape(k)
		if _, exists := q[k]; exists {
			continue
		}
		q[k] = queryUnescape(v)
	}
	return q
}

func unescape(s string) string {
	if out, err := url.PathUnescape(s); err == nil {
		return out
	}
	return s
}

func queryUnescape(s string) string {
	if out, err := url.QueryUnescape(s); err == nil {
		return out
	}
	return s
}

// decodeBase64 依次尝试 URL-safe 与标准字母表，容忍缺失的 padding 和换行。
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', ' ', '\t':
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, malformed("empty base64 payload")
	}
	decoders := []*base64.Encoding{base64.RawURLEncoding, base64.RawStdEncoding}
	for _, enc := range decoders {
		if out, err := enc.DecodeString(s); err == nil {
			return out, nil
		}
	}
	return nil, malformed("invalid base64 payload")
}

// decodeBase64Text 额外要求结果是合法 UTF-8 文本。
func decodeBase64Text(s string) (string, error) {
	out, err := decodeBase64(s)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(out) {
		return "", malformed("base64 payload is not text")
	}
	return string(out), nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
