package scraper

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crawlpool/internal/shared/logger"
	"crawlpool/proxypool/model"
)

// PlainTextScraper 抓取逐行 "host:port" 格式的代理列表（proxyscrape 风格）。
// 协议和国家从源 URL 的查询参数推断，无法推断时协议默认为 socks5。
type PlainTextScraper struct {
	feedURL  string
	name     string
	protocol model.Protocol
	country  string
	client   *http.Client
}

// NewPlainTextScraper 创建一个新的 PlainTextScraper 实例。
func NewPlainTextScraper(feedURL string, timeout time.Duration) Scraper {
	protocol, country := feedMetadata(feedURL)
	return &PlainTextScraper{
		feedURL:  feedURL,
		name:     feedName("text", feedURL),
		protocol: protocol,
		country:  country,
		client:   newFeedClient(timeout),
	}
}

func (s *PlainTextScraper) Name() string {
	return s.name
}

func (s *PlainTextScraper) Scrape(ctx context.Context) ([]*model.Candidate, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Info().Str("source", s.Name()).Msg("Starting scrape...")

	body, err := fetchFeed(ctx, s.client, s.Name(), s.feedURL)
	if err != nil {
		return nil, err
	}

	proxies, skipped := parseHostPortLines(body, func(ip string, port int) *model.Candidate {
		return &model.Candidate{
			IP:       ip,
			Port:     port,
			Protocol: s.protocol,
			Country:  s.country,
			Source:   s.Name(),
		}
	})

	// 一行都解析不出来，而响应又非空，说明返回的不是代理列表（例如错误页面）
	if len(proxies) == 0 && skipped > 0 {
		return nil, parseFailure(s.Name(), fmt.Errorf("no host:port lines in %d non-empty lines", skipped))
	}

	l.Info().Int("count", len(proxies)).Int("skipped", skipped).Str("source", s.Name()).Msg("Scrape finished.")
	return proxies, nil
}

// parseHostPortLines 解析逐行的 host:port 文本，返回候选和跳过的非空行数。
func parseHostPortLines(body []byte, build func(ip string, port int) *model.Candidate) ([]*model.Candidate, int) {
	var proxies []*model.Candidate
	skipped := 0
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ip, port, ok := splitHostPort(line)
		if !ok {
			skipped++
			continue
		}
		proxies = append(proxies, build(ip, port))
	}
	return proxies, skipped
}

func splitHostPort(s string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil || host == "" {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, false
	}
	return host, port, true
}

// feedMetadata 从源 URL 的 protocol= 和 country= 参数推断元数据。
func feedMetadata(raw string) (model.Protocol, string) {
	protocol, country := model.ProtocolSOCKS5, "unknown"
	u, err := url.Parse(raw)
	if err != nil {
		return protocol, country
	}
	q := u.Query()
	if p := q.Get("protocol"); p != "" {
		protocol = model.ParseProtocol(p)
	}
	if c := q.Get("country"); c != "" && !strings.EqualFold(c, "all") {
		country = strings.ToUpper(c)
	}
	return protocol, country
}
