package scraper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"subpool/internal/shared/logger"
)

const (
	// 订阅服务按 UA 决定返回格式，clash.meta 会拿到带 proxies 的 YAML 文档。
	subscriptionUserAgent = "clash.meta"
	subscriptionTimeout   = 30 * time.Second
	minRemainingBytes     = 1 << 30
)

var ErrSubscriptionExhausted = errors.New("subscription exhausted or expired")

// UsageInfo 对应响应头 subscription-userinfo。
type UsageInfo struct {
	Upload   int64
	Download int64
	Total    int64
	Expire   time.Time
}

// ParseUsageInfo 解析形如 "upload=1; download=2; total=3; expire=1700000000" 的头部。
// 未知字段被忽略，expire 为 0 或缺省表示不过期。
func ParseUsageInfo(header string) (*UsageInfo, error) {
	if strings.TrimSpace(header) == "" {
		return nil, errors.New("empty subscription-userinfo")
	}
	info := &UsageInfo{}
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q: %w", k, v, err)
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "upload":
			info.Upload = int64(n)
		case "download":
			info.Download = int64(n)
		case "total":
			info.Total = int64(n)
		case "expire":
			if n > 0 {
				info.Expire = time.Unix(int64(n), 0)
			}
		}
	}
	return info, nil
}

// Remaining 返回剩余流量 (字节)。
func (u *UsageInfo) Remaining() int64 {
	return u.Total - u.Upload - u.Download
}

func (u *UsageInfo) Expired(now time.Time) bool {
	return !u.Expire.IsZero() && u.Expire.Before(now)
}

// Worthwhile 判断订阅是否值得继续拉取：剩余流量不少于 1GiB、未过期、且确实有节点。
func (u *UsageInfo) Worthwhile(now time.Time, proxies int) bool {
	return u.Remaining() >= minRemainingBytes && !u.Expired(now) && proxies > 0
}

// SubscriptionScraper 通过 colly 拉取一个订阅地址的内容。
type SubscriptionScraper struct {
	url string
}

func NewSubscriptionScraper(url string) *SubscriptionScraper {
	return &SubscriptionScraper{url: url}
}

func (s *SubscriptionScraper) Name() string { return s.url }

// Scrape 每次调用都新建 collector，避免回调在多次抓取之间累积。
func (s *SubscriptionScraper) Scrape(ctx context.Context) (*Payload, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Debug().Str("source", s.Name()).Msg("Fetching subscription...")

	c := colly.NewCollector(
		colly.UserAgent(subscriptionUserAgent),
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(subscriptionTimeout)

	var payload *Payload
	var scrapeErr error
	c.OnResponse(func(r *colly.Response) {
		payload = &Payload{Source: s.Name(), Kind: KindAuto, Content: string(r.Body)}
		if h := r.Headers.Get("subscription-userinfo"); h != "" {
			usage, err := ParseUsageInfo(h)
			if err != nil {
				l.Warn().Err(err).Str("source", s.Name()).Msg("Ignoring malformed subscription-userinfo.")
				return
			}
			payload.Usage = usage
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		l.Error().Err(err).Int("status_code", r.StatusCode).Str("url", s.url).Msg("Scrape request failed.")
		scrapeErr = err
	})

	if err := c.Visit(s.url); err != nil && scrapeErr == nil {
		scrapeErr = err
	}
	c.Wait()

	if scrapeErr != nil {
		return nil, scrapeErr
	}
	if payload == nil {
		return nil, fmt.Errorf("no response from %s", s.url)
	}
	if payload.Usage != nil && payload.Usage.Remaining() < minRemainingBytes {
		l.Warn().Str("source", s.Name()).Int("remaining_mb", int(payload.Usage.Remaining()>>20)).Msg("Subscription is nearly exhausted.")
	}
	return payload, nil
}

// Check 在订阅不值得继续拉取时返回 ErrSubscriptionExhausted，proxies 是该来源解析出的节点数。
// 没有用量信息的来源总是通过。
func (p *Payload) Check(now time.Time, proxies int) error {
	if p.Usage == nil || p.Usage.Worthwhile(now, proxies) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrSubscriptionExhausted, p.Source)
}
