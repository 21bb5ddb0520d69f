package validator

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"subpool/proxypool/model"
)

// countryLookup 是 geoip2.Reader 中用到的部分，便于测试替换。
type countryLookup interface {
	Country(ip net.IP) (*geoip2.Country, error)
	Close() error
}

// TargetChooser 为每条记录选择探测 URL：国内节点探测国内站点，其余探测默认站点。
type TargetChooser struct {
	DefaultURL  string
	DomesticURL string
	geo         countryLookup
}

func NewTargetChooser(defaultURL, domesticURL string) *TargetChooser {
	if defaultURL == "" {
		defaultURL = "https://www.google.com"
	}
	if domesticURL == "" {
		domesticURL = "https://www.qq.com"
	}
	return &TargetChooser{DefaultURL: defaultURL, DomesticURL: domesticURL}
}

// WithGeoIP 加载 GeoLite2 Country 数据库，用服务器 IP 的国家辅助判断。
func (c *TargetChooser) WithGeoIP(dbPath string) error {
	if dbPath == "" {
		return nil
	}
	db, err := geoip2.Open(dbPath)
	if err != nil {
		return err
	}
	c.geo = db
	return nil
}

func (c *TargetChooser) Close() error {
	if c.geo != nil {
		return c.geo.Close()
	}
	return nil
}

// URLFor 返回 rec 的探测 URL。
func (c *TargetChooser) URLFor(rec *model.Record) string {
	if c.isDomestic(rec) {
		return c.DomesticURL
	}
	return c.DefaultURL
}

func (c *TargetChooser) isDomestic(rec *model.Record) bool {
	if strings.Contains(rec.Name, "中国") {
		return true
	}
	if c.geo == nil {
		return false
	}
	ip := net.ParseIP(rec.Server)
	if ip == nil {
		return false
	}
	country, err := c.geo.Country(ip)
	if err != nil {
		return false
	}
	return country.Country.IsoCode == "CN"
}
