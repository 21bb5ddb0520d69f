package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"subpool/internal/shared/logger"
	"subpool/proxypool/parser"
)

const pageUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

// PageScraper 从普通 HTML 页面中提取分享链接 (pre / code / textarea / p 中以已注册 scheme 开头的片段)。
// 可选地通过一个已知的 HTTP 代理访问目标页面。
type PageScraper struct {
	url    string
	client *http.Client
}

func NewPageScraper(pageURL, proxyURLStr string) *PageScraper {
	l := logger.WithComponent("ProxyPool/Scraper")
	transport := &http.Transport{}
	if proxyURLStr != "" {
		proxyURL, err := url.Parse(proxyURLStr)
		if err != nil {
			l.Error().Err(err).Str("proxy_url", proxyURLStr).Msg("Invalid proxy URL for page scraper, falling back to direct connection.")
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &PageScraper{
		url: pageURL,
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
	}
}

func (s *PageScraper) Name() string { return s.url }

func (s *PageScraper) Scrape(ctx context.Context) (*Payload, error) {
	l := logger.WithComponent("ProxyPool/Scraper")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", pageUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML document: %w", err)
	}

	schemes := parser.Schemes()
	seen := make(map[string]bool)
	var lines []string
	doc.Find("pre, code, textarea, p").Each(func(_ int, sel *goquery.Selection) {
		for _, line := range strings.Split(sel.Text(), "\n") {
			link, ok := extractLink(line, schemes)
			if !ok || seen[link] {
				continue
			}
			seen[link] = true
			lines = append(lines, link)
		}
	})

	l.Info().Int("count", len(lines)).Str("source", s.Name()).Msg("Scrape finished.")
	return &Payload{Source: s.Name(), Kind: KindLines, Lines: lines}, nil
}

// extractLink 找出行内第一个已注册 scheme 的链接，链接到下一个空白为止。
// scheme 前必须不是字母或数字，避免 vless:// 被当成 ss://。
func extractLink(line string, schemes []string) (string, bool) {
	lower := strings.ToLower(line)
	start := -1
	for _, scheme := range schemes {
		prefix := scheme + "://"
		for from := 0; from < len(lower); {
			i := strings.Index(lower[from:], prefix)
			if i < 0 {
				break
			}
			i += from
			if i == 0 || !isSchemeChar(lower[i-1]) {
				if start < 0 || i < start {
					start = i
				}
				break
			}
			from = i + 1
		}
	}
	if start < 0 {
		return "", false
	}
	link := line[start:]
	if end := strings.IndexAny(link, " \t\r\n"); end >= 0 {
		link = link[:end]
	}
	return link, true
}

func isSchemeChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
