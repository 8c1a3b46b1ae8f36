package manager

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"crawlpool/internal/shared/logger"
	"crawlpool/internal/shared/types"
	"crawlpool/proxypool/model"
	"crawlpool/proxypool/rotator"
	"crawlpool/proxypool/scraper"
	"crawlpool/proxypool/storage"
	"crawlpool/proxypool/validator"
)

// RefreshStats 描述一次池刷新的结果，会并入爬取统计。
type RefreshStats struct {
	FromCache  bool
	Candidates int
	Validated  int // 验证成功
	Failed     int // 验证失败
	PoolSize   int
	Duration   time.Duration
}

// Manager 是代理池模块的总控制器：抓取 -> 验证 -> 缓存 -> 安装到轮询器。
type Manager struct {
	cfg       types.ProxyPoolConf
	scrapers  []scraper.Scraper
	validator *validator.Validator
	storage   storage.Storage
	rotator   *rotator.Rotator
	rnd       *rand.Rand

	mu        sync.RWMutex
	working   []*model.ValidatedProxy // 当前安装的池，只整体替换
	lastStats *RefreshStats

	refreshMu sync.Mutex // 同一时间只进行一次刷新

	// 调度器与生命周期管理
	refreshTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewManager 创建并初始化代理池管理器。
func NewManager(
	cfg types.ProxyPoolConf,
	scrapers []scraper.Scraper,
	v *validator.Validator,
	st storage.Storage,
	r *rotator.Rotator,
) *Manager {
	return &Manager{
		cfg:       cfg,
		scrapers:  scrapers,
		validator: v,
		storage:   st,
		rotator:   r,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		stopChan:  make(chan struct{}),
	}
}

// AddScraper 添加一个抓取器到管理器。
func (m *Manager) AddScraper(s scraper.Scraper) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	m.scrapers = append(m.scrapers, s)
}

// Rotator 返回管理器持有的轮询器。
func (m *Manager) Rotator() *rotator.Rotator {
	return m.rotator
}

// Refresh 安装一个可用的代理池。force 为 false 时优先使用新鲜的缓存；
// 否则执行 抓取 -> 验证 -> 保存（仅在结果非空时）-> 安装。
func (m *Manager) Refresh(ctx context.Context, force bool) (*RefreshStats, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	l := logger.WithComponent("ProxyPool/Manager")
	start := time.Now()

	if !force {
		snap, err := m.storage.Load()
		if err != nil {
			l.Warn().Err(err).Msg("Failed to load proxy cache, revalidating.")
		}
		if snap != nil && len(snap.Proxies) > 0 {
			m.install(snap.Proxies)
			stats := &RefreshStats{FromCache: true, PoolSize: len(snap.Proxies), Duration: time.Since(start)}
			m.setStats(stats)
			l.Info().Int("pool_size", stats.PoolSize).Msg("Using cached proxy pool.")
			return stats, nil
		}
	}

	l.Info().Int("sources", len(m.scrapers)).Msg("Starting scrape and validate cycle...")
	candidates := scraper.Gather(ctx, m.scrapers)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := m.validator.Validate(ctx, candidates)
	// 中途取消时结果不完整，不落盘也不替换现有代理池
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats := &RefreshStats{
		Candidates: len(candidates),
		Validated:  len(report.Working),
		Failed:     report.Failed,
		PoolSize:   len(report.Working),
	}

	if len(report.Working) > 0 {
		if err := m.storage.Save(report.Working); err != nil {
			l.Error().Err(err).Msg("Failed to save proxies to cache.")
		}
	} else {
		l.Warn().Int("candidates", len(candidates)).Msg("No working proxies found, cache left untouched.")
	}

	m.install(report.Working)
	stats.Duration = time.Since(start)
	m.setStats(stats)

	l.Info().
		Int("candidates", stats.Candidates).
		Int("working", stats.Validated).
		Int("failed", stats.Failed).
		Dur("took", stats.Duration).
		Msg("Scrape and validate cycle finished.")
	return stats, nil
}

func (m *Manager) install(proxies []*model.ValidatedProxy) {
	m.mu.Lock()
	m.working = append([]*model.ValidatedProxy(nil), proxies...)
	m.mu.Unlock()

	if m.cfg.Shuffle {
		m.rotator.ReplaceShuffled(proxies, m.rnd)
	} else {
		m.rotator.Replace(proxies)
	}
}

func (m *Manager) setStats(s *RefreshStats) {
	m.mu.Lock()
	m.lastStats = s
	m.mu.Unlock()
}

// LastStats 返回最近一次刷新的统计，从未刷新时为 nil。
func (m *Manager) LastStats() *RefreshStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastStats
}

// ClearCache 删除缓存快照（对应 -clear-cache）。
func (m *Manager) ClearCache() error {
	return m.storage.Clear()
}

// Start 启动后台定时刷新。间隔 <= 0 时不启动调度。
func (m *Manager) Start(ctx context.Context) {
	l := logger.WithComponent("ProxyPool/Manager")

	interval := time.Duration(m.cfg.RefreshIntervalMinutes) * time.Minute
	if interval <= 0 {
		l.Info().Msg("Periodic refresh disabled.")
		return
	}
	m.refreshTicker = time.NewTicker(interval)
	l.Info().Dur("refresh_interval", interval).Msg("Scheduler initialized.")

	m.wg.Add(1)
	go m.schedulerLoop(ctx)
}

// schedulerLoop 是核心的调度循环，监听 Ticker 和停止信号。
func (m *Manager) schedulerLoop(ctx context.Context) {
	defer m.wg.Done()
	defer m.refreshTicker.Stop()
	l := logger.WithComponent("ProxyPool/Manager")

	for {
		select {
		case <-m.refreshTicker.C:
			l.Info().Msg("Refresh ticker triggered.")
			if _, err := m.Refresh(ctx, true); err != nil {
				l.Warn().Err(err).Msg("Scheduled refresh aborted.")
			}
		case <-ctx.Done():
			return
		case <-m.stopChan:
			l.Info().Msg("Stop signal received. Shutting down scheduler.")
			return
		}
	}
}

// Stop 优雅地停止后台任务。可以重复调用。
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
	logger.Info().Msg("ProxyPool Manager gracefully stopped.")
}

// GetAvailableProxies 返回当前池中延迟最低的 count 个代理；count <= 0 返回全部。
func (m *Manager) GetAvailableProxies(count int) []*model.ValidatedProxy {
	m.mu.RLock()
	candidates := append([]*model.ValidatedProxy(nil), m.working...)
	m.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Latency < candidates[j].Latency
	})

	if count > 0 && len(candidates) > count {
		return candidates[:count]
	}
	return candidates
}
