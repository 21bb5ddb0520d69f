package scraper

import (
	"context"

	"subpool/internal/shared/types"
)

// Kind 描述抓取内容的形态，决定交给 Normalizer 的哪个入口。
type Kind int

const (
	// KindAuto 由 Normalizer 自行识别 (文档 / 明文链接 / base64)。
	KindAuto Kind = iota
	// KindLines 是已经拆好的链接行。
	KindLines
)

// Payload 是一次抓取的原始结果，尚未解析。
type Payload struct {
	Source  string
	Kind    Kind
	Content string
	Lines   []string
	// Usage 只有订阅源在响应头带有 subscription-userinfo 时才非空。
	Usage *UsageInfo
}

// Scraper 接口定义了从订阅源抓取原始内容的行为。
// 实现者只负责抓取，不做解析和验证。
type Scraper interface {
	Scrape(ctx context.Context) (*Payload, error)

	// Name 返回抓取器的名称，用于日志记录。
	Name() string
}

// FromSources 按 sources.yaml 的内容构造抓取器列表。
func FromSources(src *types.Sources) []Scraper {
	var out []Scraper
	if len(src.Links) > 0 {
		out = append(out, NewStaticScraper("links", src.Links))
	}
	for _, u := range src.Base64 {
		out = append(out, NewSubscriptionScraper(u))
	}
	for _, u := range src.Clash {
		out = append(out, NewSubscriptionScraper(u))
	}
	for _, u := range src.Pages {
		out = append(out, NewPageScraper(u, ""))
	}
	return out
}

// StaticScraper 返回配置里直接写好的链接。
type StaticScraper struct {
	name  string
	links []string
}

func NewStaticScraper(name string, links []string) *StaticScraper {
	return &StaticScraper{name: name, links: links}
}

func (s *StaticScraper) Name() string { return s.name }

func (s *StaticScraper) Scrape(context.Context) (*Payload, error) {
	return &Payload{Source: s.name, Kind: KindLines, Lines: s.links}, nil
}
