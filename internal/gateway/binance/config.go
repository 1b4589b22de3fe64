package binance

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRESTBaseURL = "https://fapi.binance.com"

// Config 是 USDⓈ-M 合约行情源的连接参数，零值可用。
type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// Ticker 价格缓存的有效期与滚动历史窗口。
	PriceTTL    time.Duration
	PriceWindow time.Duration
}

func (c Config) normalized() Config {
	c.RESTBaseURL = strings.TrimRight(strings.TrimSpace(c.RESTBaseURL), "/")
	if c.RESTBaseURL == "" {
		c.RESTBaseURL = defaultRESTBaseURL
	}
	c.RESTProxyURL = strings.TrimSpace(c.RESTProxyURL)
	c.HTTPTimeout = orDefault(c.HTTPTimeout, 15*time.Second)
	c.PriceTTL = orDefault(c.PriceTTL, 30*time.Second)
	c.PriceWindow = orDefault(c.PriceWindow, time.Hour)
	return c
}

// httpClient 按代理设置构造 REST 客户端；代理未启用或为空时直连。
func (c Config) httpClient() (*http.Client, error) {
	client := &http.Client{Timeout: c.HTTPTimeout}
	if !c.ProxyEnabled || c.RESTProxyURL == "" {
		return client, nil
	}
	proxy, err := url.Parse(c.RESTProxyURL)
	if err != nil || proxy.Host == "" {
		return nil, fmt.Errorf("invalid REST proxy url %q", c.RESTProxyURL)
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = http.ProxyURL(proxy)
	client.Transport = tr
	return client, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
