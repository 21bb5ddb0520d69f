package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"subpool/internal/shared/types"
)

func TestParseUsageInfo(t *testing.T) {
	info, err := ParseUsageInfo("upload=1073741824; download=1073741824; total=5368709120; expire=1700000000")
	if err != nil {
		t.Fatalf("ParseUsageInfo failed: %v", err)
	}
	if info.Remaining() != 3<<30 {
		t.Errorf("Expected 3GiB remaining, but got %d", info.Remaining())
	}
	if info.Expire.Unix() != 1700000000 {
		t.Errorf("Expected expire 1700000000, but got %d", info.Expire.Unix())
	}

	if _, err := ParseUsageInfo("upload=abc"); err == nil {
		t.Error("Expected error for non-numeric value")
	}
	if _, err := ParseUsageInfo(""); err == nil {
		t.Error("Expected error for empty header")
	}
}

func TestUsageInfo_Worthwhile(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cases := []struct {
		name    string
		info    UsageInfo
		proxies int
		want    bool
	}{
		{"plenty left", UsageInfo{Total: 10 << 30}, 5, true},
		{"no expire set", UsageInfo{Total: 2 << 30, Download: 1 << 29}, 1, true},
		{"under 1GiB", UsageInfo{Total: 2 << 30, Download: 1<<30 + 1}, 5, false},
		{"expired", UsageInfo{Total: 10 << 30, Expire: now.Add(-time.Hour)}, 5, false},
		{"no proxies", UsageInfo{Total: 10 << 30}, 0, false},
	}
	for _, tc := range cases {
		if got := tc.info.Worthwhile(now, tc.proxies); got != tc.want {
			t.Errorf("%s: expected %v, but got %v", tc.name, tc.want, got)
		}
	}
}

func TestSubscriptionScraper(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		w.Header().Set("subscription-userinfo", "upload=0; download=0; total=10737418240; expire=0")
		w.Write([]byte("proxies:\n  - {name: a, type: ss, server: 1.1.1.1, port: 1, cipher: aes-128-gcm, password: p}\n"))
	}))
	defer srv.Close()

	p, err := NewSubscriptionScraper(srv.URL).Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if gotUA != "clash.meta" {
		t.Errorf("Expected clash.meta user agent, but got %q", gotUA)
	}
	if p.Kind != KindAuto || p.Content == "" {
		t.Errorf("Unexpected payload %+v", p)
	}
	if p.Usage == nil || p.Usage.Total != 10<<30 {
		t.Errorf("Expected usage info from header, got %+v", p.Usage)
	}
	if err := p.Check(time.Now(), 1); err != nil {
		t.Errorf("Expected healthy subscription, got %v", err)
	}
}

func TestSubscriptionScraper_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewSubscriptionScraper(srv.URL).Scrape(context.Background()); err == nil {
		t.Error("Expected error for 404 subscription")
	}
}

func TestPayload_CheckExhausted(t *testing.T) {
	p := &Payload{Source: "s", Usage: &UsageInfo{Total: 1 << 20}}
	if err := p.Check(time.Now(), 5); !errors.Is(err, ErrSubscriptionExhausted) {
		t.Errorf("Expected ErrSubscriptionExhausted, but got %v", err)
	}

	// 流量充足但没有解析出节点，同样不值得继续拉取
	p = &Payload{Source: "s", Usage: &UsageInfo{Total: 10 << 30}}
	if err := p.Check(time.Now(), 0); !errors.Is(err, ErrSubscriptionExhausted) {
		t.Errorf("Expected ErrSubscriptionExhausted for an empty subscription, but got %v", err)
	}
	if err := (&Payload{Source: "plain"}).Check(time.Now(), 0); err != nil {
		t.Errorf("Expected sources without usage info to pass, got %v", err)
	}
}

func TestPageScraper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
<p>Free nodes below</p>
<pre>trojan://pw@1.2.3.4:443#a
ss://YWVzLTEyOC1nY206cA@5.6.7.8:8388#b</pre>
<code>trojan://pw@1.2.3.4:443#a</code>
</body></html>`))
	}))
	defer srv.Close()

	p, err := NewPageScraper(srv.URL, "").Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if p.Kind != KindLines || len(p.Lines) != 2 {
		t.Errorf("Expected 2 unique links, got %v", p.Lines)
	}
}

func TestExtractLink(t *testing.T) {
	schemes := []string{"ss", "vless", "trojan"}
	cases := []struct {
		line string
		want string
		ok   bool
	}{
		{"trojan://pw@1.2.3.4:443#a", "trojan://pw@1.2.3.4:443#a", true},
		{"节点1: vless://id@h:443?type=tcp#n  更新于今天", "vless://id@h:443?type=tcp#n", true},
		{"see https://example.com for more", "", false},
		{"xss://not-a-scheme", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := extractLink(tc.line, schemes)
		if ok != tc.ok || got != tc.want {
			t.Errorf("extractLink(%q): expected (%q, %v), but got (%q, %v)", tc.line, tc.want, tc.ok, got, ok)
		}
	}
}

func TestFromSources(t *testing.T) {
	scrapers := FromSources(&types.Sources{
		Links:  []string{"trojan://a@b:1"},
		Base64: []string{"https://a.test/sub"},
		Clash:  []string{"https://b.test/clash"},
		Pages:  []string{"https://c.test/"},
	})
	if len(scrapers) != 4 {
		t.Fatalf("Expected 4 scrapers, but got %d", len(scrapers))
	}
	p, _ := scrapers[0].Scrape(context.Background())
	if p.Kind != KindLines || len(p.Lines) != 1 {
		t.Errorf("Unexpected static payload %+v", p)
	}
}
