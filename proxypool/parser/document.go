package parser

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"subpool/proxypool/model"
)

var ErrNoProxies = errors.New("document has no proxies list")

type proxyDocument struct {
	Proxies []map[string]any `yaml:"proxies"`
}

func extractProxies(data []byte) ([]map[string]any, error) {
	var doc proxyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode proxy document: %w", err)
	}
	if doc.Proxies == nil {
		return nil, ErrNoProxies
	}
	return doc.Proxies, nil
}

// EncodeDocument 生成只含 proxies 列表的声明式文档，不输出簿记字段。
func EncodeDocument(records []*model.Record) ([]byte, error) {
	doc := proxyDocument{Proxies: make([]map[string]any, 0, len(records))}
	for _, r := range records {
		m, err := r.ToMap(false)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.Key(), err)
		}
		doc.Proxies = append(doc.Proxies, m)
	}
	return yaml.Marshal(doc)
}
