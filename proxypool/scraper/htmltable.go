package scraper

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crawlpool/internal/shared/logger"
	"crawlpool/proxypool/model"

	"github.com/PuerkitoBio/goquery"
)

// HTMLTableScraper 抓取以 HTML 表格展示的免费代理列表。
// 约定：第一列为 IP，第二列为端口；其余列中出现的协议名会被识别。
type HTMLTableScraper struct {
	feedURL string
	name    string
	country string
	client  *http.Client
}

// NewHTMLTableScraper 创建一个新的 HTMLTableScraper 实例。
func NewHTMLTableScraper(feedURL string, timeout time.Duration) Scraper {
	_, country := feedMetadata(feedURL)
	return &HTMLTableScraper{
		feedURL: feedURL,
		name:    feedName("html", feedURL),
		country: country,
		client:  newFeedClient(timeout),
	}
}

func (s *HTMLTableScraper) Name() string {
	return s.name
}

func (s *HTMLTableScraper) Scrape(ctx context.Context) ([]*model.Candidate, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Info().Str("source", s.Name()).Msg("Starting scrape...")

	body, err := fetchFeed(ctx, s.client, s.Name(), s.feedURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, parseFailure(s.Name(), err)
	}

	var proxies []*model.Candidate
	doc.Find("table tr").Each(func(j int, sel *goquery.Selection) {
		cells := sel.Find("td")
		if cells.Length() < 2 {
			return // header row or layout row
		}
		ip := strings.TrimSpace(cells.Eq(0).Text())
		portStr := strings.TrimSpace(cells.Eq(1).Text())
		if ip == "" || portStr == "" {
			return
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			l.Debug().Str("ip", ip).Str("port", portStr).Str("source", s.Name()).Msg("Failed to parse port, skipping row.")
			return
		}

		protocol := model.ProtocolSOCKS5
		anonymity := ""
		cells.Slice(2, cells.Length()).Each(func(_ int, td *goquery.Selection) {
			text := strings.ToLower(strings.TrimSpace(td.Text()))
			switch {
			case text == "http" || text == "https" || strings.HasPrefix(text, "socks"):
				protocol = model.ParseProtocol(text)
			case isHighAnonymity(text) || text == "anonymous" || text == "transparent":
				anonymity = text
			}
		})

		proxies = append(proxies, &model.Candidate{
			IP:        ip,
			Port:      port,
			Protocol:  protocol,
			Anonymity: anonymity,
			Country:   s.country,
			Source:    s.Name(),
		})
	})

	l.Info().Int("count", len(proxies)).Str("source", s.Name()).Msg("Scrape finished.")
	return proxies, nil
}
