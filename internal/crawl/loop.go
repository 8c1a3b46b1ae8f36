package crawl

import (
	"context"
	"fmt"
	"time"

	"crawlpool/internal/fetch"
	"crawlpool/internal/shared/logger"
	"crawlpool/proxypool/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const defaultNoProgressLimit = 3

// Options 控制一次爬取运行。零值表示“不等待 / 不重试 / 不限制”。
type Options struct {
	SeedURL         string
	MaxRetries      int           // 每个 URL 的重试次数（不含首次）
	RetryBackoff    time.Duration // 第 n 次重试前等待 n*RetryBackoff
	RetryCodes      []int         // 可重试的 HTTP 状态码；nil 使用 fetch.DefaultRetryCodes
	FetchTimeout    time.Duration // 单次获取 / 快照的超时
	SettleInterval  time.Duration // 加载更多成功后等待页面稳定
	NoProgressLimit int           // 连续无新记录批次阈值，<= 0 时为 3
	MaxBatches      int           // 0 不限制
	RequestDelay    time.Duration // 相邻获取 / 加载更多动作的最小间隔

	// 代理池刷新的结果，写入统计
	ProxyValidated int
	ProxyFailed    int

	Observers []Observer
	// OnTransition 每次状态变化时调用（调试和测试用）
	OnTransition func(from, to State)
}

// Loop 是单次爬取运行。它不是并发安全的：底层会话一次只能有一个导航。
type Loop struct {
	opts     Options
	adapter  fetch.Adapter
	parser   Parser
	sink     Sink
	proxies  ProxySource
	limiter  *rate.Limiter
	frontier *Frontier
	log      zerolog.Logger

	state  State
	page   *fetch.Page
	stats  Stats
	reason Reason
	err    error
}

// NewLoop 创建一次运行。proxies 可以为 nil（直连）。
func NewLoop(opts Options, adapter fetch.Adapter, parser Parser, sink Sink, proxies ProxySource) *Loop {
	if opts.NoProgressLimit <= 0 {
		opts.NoProgressLimit = defaultNoProgressLimit
	}
	if opts.RetryCodes == nil {
		opts.RetryCodes = fetch.DefaultRetryCodes
	}
	limit := rate.Inf
	if opts.RequestDelay > 0 {
		limit = rate.Every(opts.RequestDelay)
	}

	runID := uuid.NewString()
	return &Loop{
		opts:     opts,
		adapter:  adapter,
		parser:   parser,
		sink:     sink,
		proxies:  proxies,
		limiter:  rate.NewLimiter(limit, 1),
		frontier: NewFrontier(),
		log:      logger.WithComponent("Crawl/Loop").With().Str("run_id", runID).Logger(),
		state:    StateInit,
		stats: Stats{
			RunID:          runID,
			ProxyValidated: opts.ProxyValidated,
			ProxyFailed:    opts.ProxyFailed,
		},
	}
}

// Frontier 返回本次运行的前沿状态。
func (lp *Loop) Frontier() *Frontier {
	return lp.frontier
}

// Run 驱动状态机直到 Done。ctx 是停止信号：每次状态转换都会检查，
// 取消后经 Draining 有序结束，已入库的数据不会丢失。
func (lp *Loop) Run(ctx context.Context) *Result {
	lp.stats.StartedAt = time.Now()
	lp.log.Info().Str("seed", lp.opts.SeedURL).Msg("Crawl started.")

	for lp.state != StateDone {
		if ctx.Err() != nil && lp.state != StateDraining {
			lp.finishWith(ReasonStopped, nil)
			lp.transition(StateDraining)
			continue
		}

		switch lp.state {
		case StateInit:
			lp.frontier.CurrentURL = lp.opts.SeedURL
			lp.transition(StateFetching)

		case StateFetching:
			page, err := lp.fetchWithRetry(ctx, lp.frontier.CurrentURL)
			if err != nil {
				if ctx.Err() != nil {
					continue // 停止信号，下一轮进入 Draining
				}
				lp.finishWith(ReasonFetchFailed, err)
				lp.transition(StateDone)
				continue
			}
			lp.page = page
			if page.FinalURL != "" {
				lp.frontier.CurrentURL = page.FinalURL
			}
			lp.transition(StateExtracting)

		case StateExtracting:
			lp.extract(ctx)
			lp.transition(StateLoadingMore)

		case StateLoadingMore:
			lp.loadMore(ctx)

		case StateDraining:
			// 记录逐条写入，没有需要刷新的缓冲
			lp.transition(StateDone)
		}
	}

	lp.stats.FinishedAt = time.Now()
	lp.stats.State = lp.state.String()
	lp.stats.Reason = lp.reason
	lp.notify()

	ev := lp.log.Info()
	if lp.reason == ReasonFetchFailed {
		ev = lp.log.Error().Err(lp.err)
	}
	ev.Str("reason", string(lp.reason)).
		Int("fetched_pages", lp.stats.FetchedPages).
		Int("novel", lp.stats.NovelRecords).
		Int("duplicates", lp.stats.DuplicateRecords).
		Int("inserted", lp.stats.IngestInserted).
		Int("ingest_failed", lp.stats.IngestFailed).
		Dur("took", lp.stats.FinishedAt.Sub(lp.stats.StartedAt)).
		Msg("Crawl finished.")

	return &Result{Reason: lp.reason, Err: lp.err, Stats: lp.stats}
}

func (lp *Loop) transition(to State) {
	from := lp.state
	lp.state = to
	lp.stats.State = to.String()
	lp.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("State transition.")
	if lp.opts.OnTransition != nil {
		lp.opts.OnTransition(from, to)
	}
}

// finishWith 记录第一个结束原因，之后的不覆盖。
func (lp *Loop) finishWith(reason Reason, err error) {
	if lp.reason != "" {
		return
	}
	lp.reason = reason
	lp.err = err
}

// fetchWithRetry 获取 url。可重试的失败最多重试 MaxRetries 次，每次换下一个代理；
// 代理失败时把代理移出轮询。
func (lp *Loop) fetchWithRetry(ctx context.Context, url string) (*fetch.Page, error) {
	for attempt := 0; ; attempt++ {
		if err := lp.pace(ctx); err != nil {
			return nil, err
		}

		proxy := lp.nextProxy()
		page, err := lp.fetchOnce(ctx, url, proxy)
		if err == nil {
			lp.stats.FetchedPages++
			return page, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		ev := lp.log.Warn().Err(err).Str("url", url).Int("attempt", attempt+1)
		if proxy != nil {
			ev = ev.Str("proxy", proxy.URL())
			if fetch.IsProxyFailure(err) {
				lp.evict(proxy)
			}
		}
		ev.Msg("Fetch failed.")

		if !fetch.IsRetryable(err, lp.opts.RetryCodes) {
			return nil, err
		}
		if attempt >= lp.opts.MaxRetries {
			return nil, fmt.Errorf("retry budget exhausted after %d attempts: %w", attempt+1, err)
		}
		lp.stats.FetchRetries++

		if err := sleep(ctx, time.Duration(attempt+1)*lp.opts.RetryBackoff); err != nil {
			return nil, err
		}
	}
}

func (lp *Loop) fetchOnce(ctx context.Context, url string, proxy *model.ValidatedProxy) (*fetch.Page, error) {
	if lp.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, lp.opts.FetchTimeout)
		defer cancel()
	}
	if proxy != nil {
		return lp.adapter.FetchWithProxy(ctx, url, proxy)
	}
	return lp.adapter.Fetch(ctx, url)
}

func (lp *Loop) nextProxy() *model.ValidatedProxy {
	if lp.proxies == nil {
		return nil
	}
	proxy, ok := lp.proxies.Next()
	if !ok {
		return nil
	}
	return proxy
}

func (lp *Loop) evict(proxy *model.ValidatedProxy) {
	if m, ok := lp.proxies.(badMarker); ok && m.MarkBad(proxy.Key()) {
		lp.stats.ProxyEvicted++
	}
}

// extract 解析当前页面，把新记录逐条写入 sink，重复的静默丢弃。
func (lp *Loop) extract(ctx context.Context) {
	lp.stats.ExtractBatches++
	records, errs := lp.parser.Parse(lp.page)

	for _, err := range errs {
		lp.stats.ExtractionFailures++
		lp.log.Warn().Err(err).Str("source_url", lp.page.FinalURL).Msg("Extraction failed for record.")
	}

	// 已经开始的批次写完再响应停止信号
	ingestCtx := context.WithoutCancel(ctx)
	novel := 0
	for _, rec := range records {
		if rec.Name == "" {
			lp.stats.ExtractionFailures++
			lp.log.Warn().Str("source_url", lp.page.FinalURL).Msg("Record without name skipped.")
			continue
		}
		lp.stats.ExtractedRecords++
		if !lp.frontier.MarkSeen(rec.Key()) {
			lp.stats.DuplicateRecords++
			continue
		}
		novel++
		lp.stats.NovelRecords++
		lp.ingest(ingestCtx, rec)
	}

	streak := lp.frontier.RecordBatch(novel)
	lp.log.Info().
		Int("batch", lp.stats.ExtractBatches).
		Int("records", len(records)).
		Int("novel", novel).
		Int("no_progress", streak).
		Int("seen_total", lp.frontier.Len()).
		Msg("Batch extracted.")
	lp.notify()
}

// ingest 写入一条记录。失败不致命：记录日志、计数，继续。
func (lp *Loop) ingest(ctx context.Context, rec Record) {
	outcome, err := lp.sink.Upsert(ctx, rec)
	if err != nil && outcome != Duplicate {
		outcome = Failed
	}
	switch outcome {
	case Inserted:
		lp.stats.IngestInserted++
	case Duplicate:
		lp.stats.IngestDuplicate++
	default:
		lp.stats.IngestFailed++
		lp.log.Warn().Err(err).Str("name", rec.Name).Str("tag", rec.Tag).Msg("Ingest failed.")
	}
}

// loadMore 决定是继续提取还是开始收尾。
func (lp *Loop) loadMore(ctx context.Context) {
	if n := lp.frontier.NoProgress(); n >= lp.opts.NoProgressLimit {
		lp.log.Info().Int("no_progress", n).Msg("No new records for too long, draining.")
		lp.finishWith(ReasonNoProgress, nil)
		lp.transition(StateDraining)
		return
	}
	if lp.opts.MaxBatches > 0 && lp.stats.ExtractBatches >= lp.opts.MaxBatches {
		lp.finishWith(ReasonCompleted, nil)
		lp.transition(StateDraining)
		return
	}

	if err := lp.pace(ctx); err != nil {
		return // 停止信号
	}

	more, err := lp.adapter.TriggerLoadMore(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		lp.log.Warn().Err(err).Msg("Load more failed, treating as exhausted.")
		more = false
	}
	if !more {
		lp.finishWith(ReasonExhausted, nil)
		lp.transition(StateDraining)
		return
	}
	lp.stats.LoadMoreActions++

	if err := sleep(ctx, lp.opts.SettleInterval); err != nil {
		return
	}

	snapCtx := ctx
	if lp.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		snapCtx, cancel = context.WithTimeout(ctx, lp.opts.FetchTimeout)
		defer cancel()
	}
	page, err := lp.adapter.CurrentContent(snapCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		lp.finishWith(ReasonFetchFailed, fmt.Errorf("snapshot after load more: %w", err))
		lp.transition(StateDraining)
		return
	}
	lp.page = page
	lp.transition(StateExtracting)
}

func (lp *Loop) notify() {
	snap := lp.stats
	for _, o := range lp.opts.Observers {
		o.Observe(snap)
	}
}

// pace 等待限速令牌。ctx 的截止时间早于下一个令牌时 Wait 会立即失败，
// 此时等到 ctx 结束，保证返回的错误总是停止信号。
func (lp *Loop) pace(ctx context.Context) error {
	if err := lp.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			<-ctx.Done()
		}
		return ctx.Err()
	}
	return nil
}

// sleep 等待 d，可被 ctx 打断。
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
