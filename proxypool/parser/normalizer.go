package parser

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"subpool/internal/shared/logger"
	"subpool/proxypool/model"
)

// InfoNodePattern 匹配订阅里用来展示流量/到期信息的伪节点。
var InfoNodePattern = regexp.MustCompile(`官网|流量|过期|剩余|时间|Expire|Traffic`)

// Normalizer 驱动一批原始输入经过解析器，按首次成功解析的顺序累积记录。
// 名字表的作用域是一个 Normalizer 实例。
type Normalizer struct {
	names    *NameTable
	filter   *regexp.Regexp
	records  []*model.Record
	rawNames []string
	skipped  int
	l        zerolog.Logger
}

// NewNormalizer 创建一个批次。filterInfoNodes 为 true 时丢弃信息类伪节点。
func NewNormalizer(filterInfoNodes bool) *Normalizer {
	n := &Normalizer{
		names: NewNameTable(),
		l:     logger.WithComponent("ProxyPool/Normalizer"),
	}
	if filterInfoNodes {
		n.filter = InfoNodePattern
	}
	return n
}

// AddLines 逐行解析，返回本次新增的记录数。不含 "://" 的行直接忽略。
func (n *Normalizer) AddLines(lines []string) int {
	added := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "://") {
			continue
		}
		rec, err := parseRaw(line)
		if err != nil {
			n.skipped++
			n.l.Debug().Err(err).Msg("Skipping unparsable link.")
			continue
		}
		if n.accept(rec) {
			added++
		}
	}
	return added
}

// AddContent 识别一段订阅内容的形态：声明式文档、明文链接列表或 base64 包裹的链接列表。
func (n *Normalizer) AddContent(content string) int {
	content = strings.TrimSpace(strings.TrimPrefix(content, "\ufeff"))
	if content == "" {
		return 0
	}

	if proxies, err := extractProxies([]byte(content)); err == nil {
		return n.addMaps(proxies)
	}
	if strings.Contains(content, "://") {
		return n.AddLines(strings.Split(content, "\n"))
	}
	decoded, err := decodeBase64Text(content)
	if err != nil {
		n.l.Debug().Err(err).Msg("Content is neither a document, a link list nor base64.")
		return 0
	}
	return n.AddLines(strings.Split(decoded, "\n"))
}

// AddDocument 直接读取声明式文档的 proxies 列表，不经过 URI 解析。
func (n *Normalizer) AddDocument(data []byte) (int, error) {
	proxies, err := extractProxies(data)
	if err != nil {
		return 0, err
	}
	return n.addMaps(proxies), nil
}

func (n *Normalizer) addMaps(proxies []map[string]any) int {
	added := 0
	for i, m := range proxies {
		rec, err := model.FromMap(m)
		if err != nil {
			n.skipped++
			n.l.Debug().Int("index", i).Err(err).Msg("Skipping invalid document entry.")
			continue
		}
		rec.StripBookkeeping()
		if n.accept(rec) {
			added++
		}
	}
	return added
}

// accept 过滤伪节点并分配批次内唯一的名字。
func (n *Normalizer) accept(rec *model.Record) bool {
	if n.filter != nil && n.filter.MatchString(rec.Name) {
		n.l.Debug().Str("name", rec.Name).Msg("Dropping informational node.")
		return false
	}
	n.rawNames = append(n.rawNames, rec.Name)
	rec.Name = n.names.Unique(rec.Name)
	n.records = append(n.records, rec)
	return true
}

// Absorb 把另一个批次接受的记录按原始名字并入本批次，名字在本批次内重新去重。
func (n *Normalizer) Absorb(other *Normalizer) int {
	added := 0
	for i, rec := range other.records {
		rec.Name = other.rawNames[i]
		if n.accept(rec) {
			added++
		}
	}
	n.skipped += other.skipped
	return added
}

// Records 返回累积的记录，顺序为首次成功解析的顺序。
func (n *Normalizer) Records() []*model.Record {
	return n.records
}

// Skipped 返回解析失败被跳过的条目数。
func (n *Normalizer) Skipped() int {
	return n.skipped
}
