package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crawlpool/internal/shared/logger"
	"crawlpool/proxypool/model"

	"github.com/gocolly/colly/v2"
)

// GeonodeScraper 抓取返回结构化 JSON 列表的代理 API（geonode 格式），
// 只保留 elite / 高匿名代理。
type GeonodeScraper struct {
	feedURL string
	name    string
	timeout time.Duration
}

// geonodeResponse 是 API 的响应结构。
type geonodeResponse struct {
	Data []geonodeEntry `json:"data"`
}

type geonodeEntry struct {
	IP             string   `json:"ip"`
	Port           flexPort `json:"port"`
	Protocols      []string `json:"protocols"`
	AnonymityLevel string   `json:"anonymityLevel"`
	Country        string   `json:"country"`
}

// flexPort 同时接受 "8080" 和 8080 两种写法。无法解析的端口记为 0，
// 由调用方跳过该条目，不影响同一响应中的其他条目。
type flexPort int

func (p *flexPort) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		n = 0
	}
	*p = flexPort(n)
	return nil
}

// NewGeonodeScraper 创建一个新的 GeonodeScraper 实例。
func NewGeonodeScraper(feedURL string, timeout time.Duration) Scraper {
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	return &GeonodeScraper{
		feedURL: feedURL,
		name:    feedName("json", feedURL),
		timeout: timeout,
	}
}

// Name 返回抓取器的名称。
func (s *GeonodeScraper) Name() string {
	return s.name
}

// Scrape 执行抓取操作。每次调用使用新的 collector，避免 colly 的已访问 URL 记录阻止重复抓取。
func (s *GeonodeScraper) Scrape(ctx context.Context) ([]*model.Candidate, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Info().Str("source", s.Name()).Msg("Starting scrape...")

	c := colly.NewCollector(
		colly.UserAgent(defaultUserAgent),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.timeout)

	var proxies []*model.Candidate
	var scrapeErr error

	c.OnResponse(func(r *colly.Response) {
		var resp geonodeResponse
		if err := json.Unmarshal(r.Body, &resp); err != nil {
			scrapeErr = parseFailure(s.Name(), err)
			return
		}
		for _, e := range resp.Data {
			if !isHighAnonymity(e.AnonymityLevel) {
				continue
			}
			ip := strings.TrimSpace(e.IP)
			if ip == "" || e.Port <= 0 || e.Port > 65535 {
				l.Debug().Str("ip", ip).Int("port", int(e.Port)).Str("source", s.Name()).Msg("Skipping entry without address.")
				continue
			}
			protocol := model.ProtocolSOCKS5
			if len(e.Protocols) > 0 {
				protocol = model.ParseProtocol(e.Protocols[0])
			}
			proxies = append(proxies, &model.Candidate{
				IP:        ip,
				Port:      int(e.Port),
				Protocol:  protocol,
				Anonymity: strings.ToLower(e.AnonymityLevel),
				Country:   e.Country,
				Source:    s.Name(),
			})
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		l.Warn().Err(err).Int("status_code", r.StatusCode).Str("source", s.Name()).Msg("Scrape request failed.")
		scrapeErr = unavailable(s.Name(), err)
	})

	if err := c.Visit(s.feedURL); err != nil && scrapeErr == nil {
		scrapeErr = unavailable(s.Name(), err)
	}
	c.Wait()

	if scrapeErr != nil {
		return nil, scrapeErr
	}

	l.Info().Int("count", len(proxies)).Str("source", s.Name()).Msg("Scrape finished.")
	return proxies, nil
}

func isHighAnonymity(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "elite", "high", "high anonymity", "high_anonymity":
		return true
	}
	return false
}

// feedName 生成形如 "json:proxylist.geonode.com" 的源名称。
func feedName(kind, raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return kind + ":" + raw
	}
	return kind + ":" + u.Host
}
