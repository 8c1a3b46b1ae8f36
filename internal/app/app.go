// Package app 把代理池、抓取引擎、解析器、入库端和状态服务组装成一次爬取运行。
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crawlpool/internal/crawl"
	"crawlpool/internal/export"
	"crawlpool/internal/fetch"
	"crawlpool/internal/metrics"
	"crawlpool/internal/parse"
	"crawlpool/internal/service/web"
	"crawlpool/internal/shared/logger"
	"crawlpool/internal/shared/types"
	"crawlpool/internal/sink"
	manager "crawlpool/proxypool"
	"crawlpool/proxypool/rotator"
	"crawlpool/proxypool/scraper"
	"crawlpool/proxypool/storage"
	"crawlpool/proxypool/validator"
)

// RunOptions 对应命令行开关。
type RunOptions struct {
	ForceRefresh bool // 忽略缓存，重新抓取并验证
	ClearCache   bool // 运行前删除代理缓存
}

// App is the application's main struct.
type App struct {
	cfg *types.Config

	db        *sink.DBSink
	collector *sink.Collector
	parser    crawl.Parser
	adapter   fetch.Adapter

	rotator          *rotator.Rotator
	proxyPoolManager *manager.Manager // 代理轮换关闭时为 nil

	hub      *web.Hub
	recorder *metrics.Recorder

	waitGroup sync.WaitGroup
	closeOnce sync.Once
}

// New 按配置构建所有组件。失败时已打开的资源会被释放。
func New(cfg *types.Config) (*App, error) {
	if cfg.CrawlerConf.SeedURL == "" {
		return nil, errors.New("app: seed_url is not set")
	}

	parser, err := parse.NewSelectorParser(cfg.ParserConf)
	if err != nil {
		return nil, fmt.Errorf("app: build parser: %w", err)
	}

	db, err := sink.Open(cfg.SinkConf.Driver, cfg.SinkConf.DSN, cfg.SinkConf.Table)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		db:        db,
		collector: sink.NewCollector(db),
		parser:    parser,
		rotator:   rotator.New(cfg.ProxyPoolConf.Enabled),
		hub:       web.NewHub(),
		recorder:  metrics.NewRecorder(),
	}

	if cfg.ProxyPoolConf.Enabled {
		pc := cfg.ProxyPoolConf
		v := validator.New(validator.Options{
			Timeout:     time.Duration(pc.ProbeTimeoutSeconds) * time.Second,
			Concurrency: pc.ValidateConcurrency,
			SampleLimit: pc.ValidateSample,
			ProbeURL:    pc.ProbeURL,
		})
		cache := storage.NewFileCache(pc.CacheFile, time.Duration(pc.CacheTTLSeconds)*time.Second)
		a.proxyPoolManager = manager.NewManager(pc, scraper.FromConfig(pc), v, cache, a.rotator)
	}

	a.adapter = newAdapter(cfg)
	return a, nil
}

func newAdapter(cfg *types.Config) fetch.Adapter {
	fetchTimeout := time.Duration(cfg.CrawlerConf.FetchTimeoutSeconds) * time.Second
	switch cfg.BrowserConf.Engine {
	case "http":
		return fetch.NewHTTPAdapter(fetchTimeout)
	default:
		return fetch.NewBrowserAdapter(fetch.BrowserOptions{
			Headless:         cfg.BrowserConf.Headless,
			NoSandbox:        cfg.BrowserConf.NoSandbox,
			Bin:              cfg.BrowserConf.Bin,
			LoadMoreSelector: cfg.BrowserConf.LoadMoreSelector,
			LoadMoreText:     cfg.BrowserConf.LoadMoreText,
			LoadMoreTimeout:  time.Duration(cfg.CrawlerConf.LoadMoreTimeoutSeconds) * time.Second,
			PageTimeout:      fetchTimeout,
		})
	}
}

// Run 执行一次完整的爬取。返回的 error 只表示运行没能开始（例如代理池刷新被取消）；
// 爬取本身的失败体现在 Result.Reason 中。
func (a *App) Run(ctx context.Context, opts RunOptions) (*crawl.Result, error) {
	l := logger.WithComponent("App")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if _, err := web.StartServer(runCtx, &a.waitGroup, a.cfg.WebConf, a.hub, a.rotator, a.recorder.Handler()); err != nil {
		l.Warn().Err(err).Msg("Status server failed to start, continuing without it.")
	}

	if a.cfg.CrawlerConf.RespectRobots {
		allowed, err := fetch.RobotsAllowed(runCtx, a.cfg.CrawlerConf.SeedURL)
		if err != nil {
			return nil, fmt.Errorf("app: check robots.txt: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("app: seed url %s is disallowed by robots.txt", a.cfg.CrawlerConf.SeedURL)
		}
	}

	loopOpts := a.loopOptions()

	if a.proxyPoolManager != nil {
		if opts.ClearCache {
			if err := a.proxyPoolManager.ClearCache(); err != nil {
				l.Warn().Err(err).Msg("Failed to clear proxy cache.")
			} else {
				l.Info().Msg("Proxy cache cleared.")
			}
		}

		stats, err := a.proxyPoolManager.Refresh(runCtx, opts.ForceRefresh)
		if err != nil {
			return nil, fmt.Errorf("app: refresh proxy pool: %w", err)
		}
		if stats.FromCache {
			loopOpts.ProxyValidated = stats.PoolSize
		} else {
			loopOpts.ProxyValidated = stats.Validated
			loopOpts.ProxyFailed = stats.Failed
		}

		a.proxyPoolManager.Start(runCtx)
		defer a.proxyPoolManager.Stop()
	} else {
		l.Info().Msg("Proxy rotation disabled, fetching directly.")
	}
	a.recorder.SetPoolSize(a.rotator.Len())

	loop := crawl.NewLoop(loopOpts, a.adapter, a.parser, a.collector, a.rotator)
	result := loop.Run(runCtx)

	if path := a.cfg.CrawlerConf.ExportFile; path != "" {
		records := a.collector.Records()
		if err := export.Write(path, records); err != nil {
			l.Error().Err(err).Str("path", path).Msg("Failed to export records.")
		} else {
			l.Info().Int("records", len(records)).Str("path", path).Msg("Records exported.")
		}
	}

	return result, nil
}

func (a *App) loopOptions() crawl.Options {
	cc := a.cfg.CrawlerConf
	return crawl.Options{
		SeedURL:         cc.SeedURL,
		MaxRetries:      cc.MaxRetries,
		RetryBackoff:    time.Duration(cc.RetryBackoffMs) * time.Millisecond,
		RetryCodes:      cc.RetryHTTPCodes,
		FetchTimeout:    time.Duration(cc.FetchTimeoutSeconds) * time.Second,
		SettleInterval:  time.Duration(cc.SettleMs) * time.Millisecond,
		NoProgressLimit: cc.NoProgressLimit,
		MaxBatches:      cc.MaxBatches,
		RequestDelay:    time.Duration(cc.RequestDelayMs) * time.Millisecond,
		Observers: []crawl.Observer{
			a.hub,
			a.recorder,
			crawl.ObserverFunc(func(crawl.Stats) { a.recorder.SetPoolSize(a.rotator.Len()) }),
		},
	}
}

// Sink 返回底层数据库入库端。
func (a *App) Sink() *sink.DBSink {
	return a.db
}

// Close 关闭浏览器会话和数据库连接，并等待后台服务退出。
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if err := a.adapter.Close(); err != nil {
			errs = append(errs, err)
		}
		a.waitGroup.Wait()
		if err := a.db.Close(); err != nil {
			errs = append(errs, err)
		}
		logger.Info().Msg("App gracefully stopped.")
	})
	return errors.Join(errs...)
}
