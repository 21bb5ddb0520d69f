package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// TimeLayout 是 last_check_time 的持久化格式。
const TimeLayout = "2006-01-02 15:04:05"

var (
	ErrUnknownProtocol = errors.New("unknown protocol")
	ErrMissingEndpoint = errors.New("missing server or port")
)

// Record 是一个代理节点的规范化表示，是整个模块的核心数据结构。
// 持久化时序列化为扁平的 JSON 对象，键名与声明式代理文档 (clash/mihomo) 保持一致，
// 协议相关字段由 Options 提供，`type` 字段即 Options.Protocol()。
type Record struct {
	Name    string
	Server  string
	Port    int
	UDP     bool
	Options Options

	// LocalPort 只在一次探测批次内有效，不参与序列化。
	LocalPort int

	// 健康状态与生命周期管理
	FailCount     int
	SuccessCount  int
	LastCheckTime time.Time
}

// Protocol 返回记录的类型标签。
func (r *Record) Protocol() Protocol {
	if r.Options == nil {
		return ""
	}
	return r.Options.Protocol()
}

// Key 返回池中的规范键 "server:port"。
func (r *Record) Key() string {
	return r.Server + ":" + strconv.Itoa(r.Port)
}

// StripBookkeeping 清除内部簿记字段，供下游配置消费或重新入池前使用。
func (r *Record) StripBookkeeping() {
	r.FailCount = 0
	r.SuccessCount = 0
	r.LastCheckTime = time.Time{}
	r.LocalPort = 0
}

// Clone 返回深拷贝，Options 通过 JSON 往返复制。
func (r *Record) Clone() *Record {
	c := *r
	if r.Options == nil {
		return &c
	}
	opts := NewOptions(r.Protocol())
	if data, err := json.Marshal(r.Options); err == nil && opts != nil && json.Unmarshal(data, opts) == nil {
		c.Options = opts
	}
	return &c
}

// ToMap 把记录展开为扁平 map。bookkeeping 为 false 时不输出计数器和时间戳。
func (r *Record) ToMap(bookkeeping bool) (map[string]any, error) {
	if r.Options == nil {
		return nil, ErrUnknownProtocol
	}
	data, err := json.Marshal(r.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal %s options: %w", r.Protocol(), err)
	}
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	m["name"] = r.Name
	m["type"] = string(r.Protocol())
	m["server"] = r.Server
	m["port"] = r.Port
	if r.UDP {
		m["udp"] = true
	}
	if bookkeeping {
		if r.FailCount != 0 {
			m["fail_count"] = r.FailCount
		}
		if r.SuccessCount != 0 {
			m["success_count"] = r.SuccessCount
		}
		if !r.LastCheckTime.IsZero() {
			m["last_check_time"] = r.LastCheckTime.Format(TimeLayout)
		}
	}
	return m, nil
}

// FromMap 从扁平 map (JSON 或 YAML 解码结果) 还原记录。
func FromMap(m map[string]any) (*Record, error) {
	r := &Record{
		Name:   stringField(m, "name"),
		Server: stringField(m, "server"),
	}

	proto := Protocol(strings.ToLower(stringField(m, "type")))
	opts := NewOptions(proto)
	if opts == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, proto)
	}

	port, err := intField(m, "port")
	if err != nil {
		return nil, fmt.Errorf("invalid port: %w", err)
	}
	r.Port = port
	if r.Server == "" || r.Port <= 0 || r.Port > 65535 {
		return nil, ErrMissingEndpoint
	}
	if udp, ok := m["udp"].(bool); ok {
		r.UDP = udp
	}

	if r.FailCount, err = intField(m, "fail_count"); err != nil {
		return nil, fmt.Errorf("invalid fail_count: %w", err)
	}
	if r.SuccessCount, err = intField(m, "success_count"); err != nil {
		return nil, fmt.Errorf("invalid success_count: %w", err)
	}
	if ts := stringField(m, "last_check_time"); ts != "" {
		t, err := time.ParseInLocation(TimeLayout, ts, time.Local)
		if err != nil {
			t, err = time.Parse(time.RFC3339, ts)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid last_check_time %q: %w", ts, err)
		}
		r.LastCheckTime = t
	}

	payload := make(map[string]any, len(m))
	for k, v := range m {
		switch k {
		case "name", "type", "server", "port", "udp", "fail_count", "success_count", "last_check_time":
			continue
		}
		payload[k] = v
	}
	coerceFields(payload, reflect.TypeOf(opts))
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("decode %s options: %w", proto, err)
	}
	r.Options = opts
	return r, nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	m, err := r.ToMap(true)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	decoded, err := FromMap(m)
	if err != nil {
		return err
	}
	*r = *decoded
	return nil
}

// Decode 解析池中保存的原始值。
func Decode(raw string) (*Record, error) {
	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Encode 生成池中保存的原始值。
func (r *Record) Encode() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// intField 兼容 JSON 数字 (float64)、YAML 整数以及字符串形式的端口。
func intField(m map[string]any, key string) (int, error) {
	switch v := m[key].(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case string:
		if v == "" {
			return 0, nil
		}
		return strconv.Atoi(strings.TrimSpace(v))
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
