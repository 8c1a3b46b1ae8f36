package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"crawlpool/internal/shared/logger"
	"crawlpool/internal/shared/types"
	"crawlpool/proxypool/model"

	"golang.org/x/sync/errgroup"
)

const (
	defaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"
	defaultFeedTimeout = 20 * time.Second
	maxFeedBodyBytes   = 8 << 20
)

// Scraper 接口定义了从代理源抓取代理候选的行为。
type Scraper interface {
	// Scrape 执行抓取操作，并返回候选代理切片。
	// 实现者只负责抓取和初步解析，不进行验证。
	Scrape(ctx context.Context) ([]*model.Candidate, error)

	// Name 返回抓取器的名称，用于日志记录。
	Name() string
}

// FeedErrorKind 区分代理源失败的原因。
type FeedErrorKind int

const (
	FeedUnavailable FeedErrorKind = iota + 1
	FeedParseError
)

func (k FeedErrorKind) String() string {
	switch k {
	case FeedUnavailable:
		return "feed unavailable"
	case FeedParseError:
		return "feed parse error"
	default:
		return "feed error"
	}
}

var (
	ErrFeedUnavailable = errors.New("feed unavailable")
	ErrFeedParse       = errors.New("feed parse error")
)

// FeedError 是单个代理源的失败。它永远不会中止其他源的抓取。
type FeedError struct {
	Kind   FeedErrorKind
	Source string
	Err    error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

func (e *FeedError) Is(target error) bool {
	switch target {
	case ErrFeedUnavailable:
		return e.Kind == FeedUnavailable
	case ErrFeedParse:
		return e.Kind == FeedParseError
	}
	return false
}

func unavailable(source string, err error) error {
	return &FeedError{Kind: FeedUnavailable, Source: source, Err: err}
}

func parseFailure(source string, err error) error {
	return &FeedError{Kind: FeedParseError, Source: source, Err: err}
}

// Gather 并发运行所有抓取器，按抓取器顺序拼接结果，并按 (host, port) 去重（保留第一次出现）。
// 单个源失败只记录日志并视为空列表。
func Gather(ctx context.Context, scrapers []Scraper) []*model.Candidate {
	l := logger.WithComponent("ProxyPool/Scraper")

	results := make([][]*model.Candidate, len(scrapers))
	var g errgroup.Group
	for i, s := range scrapers {
		i, s := i, s
		g.Go(func() error {
			proxies, err := s.Scrape(ctx)
			if err != nil {
				l.Warn().Err(err).Str("source", s.Name()).Msg("Scraper failed.")
				return nil
			}
			results[i] = proxies
			return nil
		})
	}
	_ = g.Wait()

	var all []*model.Candidate
	for _, proxies := range results {
		all = append(all, proxies...)
	}
	unique := Dedupe(all)
	l.Info().Int("raw", len(all)).Int("unique", len(unique)).Int("sources", len(scrapers)).Msg("Gathered proxy candidates.")
	return unique
}

// Dedupe 按 (host, port) 去重，保留第一次出现的候选。
func Dedupe(candidates []*model.Candidate) []*model.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]*model.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c == nil {
			continue
		}
		key := c.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// FromConfig 根据配置构建抓取器列表。
func FromConfig(cfg types.ProxyPoolConf) []Scraper {
	timeout := time.Duration(cfg.FeedTimeoutSeconds) * time.Second
	var scrapers []Scraper
	for _, u := range cfg.JSONFeeds {
		scrapers = append(scrapers, NewGeonodeScraper(u, timeout))
	}
	for _, u := range cfg.TextFeeds {
		scrapers = append(scrapers, NewPlainTextScraper(u, timeout))
	}
	for _, u := range cfg.HTMLFeeds {
		scrapers = append(scrapers, NewHTMLTableScraper(u, timeout))
	}
	for _, p := range cfg.FileFeeds {
		scrapers = append(scrapers, NewFileScraper(p))
	}
	return scrapers
}

func newFeedClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	return &http.Client{Timeout: timeout}
}

// fetchFeed 执行 GET 请求，网络错误或非 200 状态码都归为 FeedUnavailable。
func fetchFeed(ctx context.Context, client *http.Client, source, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, unavailable(source, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, unavailable(source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unavailable(source, fmt.Errorf("received non-200 status code (%d)", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodyBytes))
	if err != nil {
		return nil, unavailable(source, fmt.Errorf("failed to read body: %w", err))
	}
	return body, nil
}
