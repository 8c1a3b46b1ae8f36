package validator

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"crawlpool/internal/shared/logger"
	"crawlpool/proxypool/dialer"
	"crawlpool/proxypool/model"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout     = 8 * time.Second
	DefaultConcurrency = 20
	DefaultSampleLimit = 100
	DefaultProbeURL    = "http://httpbin.org/ip"

	progressEvery = 10
)

// Options 控制一次验证批次的成本。
type Options struct {
	Timeout     time.Duration // 单个探测的超时
	Concurrency int           // 同时进行的探测数
	SampleLimit int           // 最多验证列表头部的多少个候选
	ProbeURL    string        // 低成本的可达性探测地址
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.SampleLimit <= 0 {
		o.SampleLimit = DefaultSampleLimit
	}
	if o.ProbeURL == "" {
		o.ProbeURL = DefaultProbeURL
	}
	return o
}

// Report 是一次验证批次的结果。Working 按延迟升序排列。
type Report struct {
	Working []*model.ValidatedProxy
	Tested  int
	Failed  int
}

type probeFunc func(ctx context.Context, c *model.Candidate) error

type Validator struct {
	opts  Options
	probe probeFunc
	now   func() time.Time
}

func New(opts Options) *Validator {
	v := &Validator{
		opts: opts.withDefaults(),
		now:  time.Now,
	}
	v.probe = v.probeThroughProxy
	return v
}

// Options 返回生效的配置（已填充默认值）。
func (v *Validator) Options() Options {
	return v.opts
}

// Validate 并发探测候选列表头部最多 SampleLimit 个代理。
// 任何错误、超时或非 200 响应都视为失败且不产生 ValidatedProxy。
func (v *Validator) Validate(ctx context.Context, candidates []*model.Candidate) *Report {
	l := logger.WithComponent("ProxyPool/Validator")

	sample := candidates
	if len(sample) > v.opts.SampleLimit {
		sample = sample[:v.opts.SampleLimit]
	}
	report := &Report{Tested: len(sample)}
	if len(sample) == 0 {
		return report
	}

	l.Info().
		Int("count", len(sample)).
		Int("total_candidates", len(candidates)).
		Int("concurrency", v.opts.Concurrency).
		Msg("Starting validation batch...")

	var (
		mu      sync.Mutex
		working []*model.ValidatedProxy
		done    atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Concurrency)
	for _, c := range sample {
		if c == nil {
			done.Add(1)
			continue
		}
		c := c
		g.Go(func() error {
			vp, ok := v.validateSingleProxy(gctx, c)
			if ok {
				mu.Lock()
				working = append(working, vp)
				mu.Unlock()
			}
			if n := done.Add(1); n%progressEvery == 0 {
				mu.Lock()
				found := len(working)
				mu.Unlock()
				l.Info().Int64("tested", n).Int("total", len(sample)).Int("working", found).Msg("Validation progress.")
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(working, func(i, j int) bool {
		return working[i].Latency < working[j].Latency
	})
	report.Working = working
	report.Failed = report.Tested - len(working)

	l.Info().Int("working", len(working)).Int("failed", report.Failed).Msg("Validation batch finished.")
	return report
}

// validateSingleProxy 探测单个候选。结果复制自候选本身，从不合成。
func (v *Validator) validateSingleProxy(ctx context.Context, c *model.Candidate) (*model.ValidatedProxy, bool) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.Timeout)
	defer cancel()

	start := time.Now()
	if err := v.probe(ctx, c); err != nil {
		l := logger.WithComponent("ProxyPool/Validator")
		l.Debug().Err(err).Str("proxy", c.URL()).Msg("Probe failed.")
		return nil, false
	}
	return &model.ValidatedProxy{
		Candidate:  *c,
		Working:    true,
		Latency:    time.Since(start),
		LastTested: v.now(),
	}, true
}

// probeTransport 只用于连通性检测：免费代理常做 TLS 中间人，
// 这里只关心能否走通，不校验证书。
func probeTransport(c *model.Candidate, timeout time.Duration) (*http.Transport, error) {
	transport, err := dialer.NewTransport(c, timeout)
	if err != nil {
		return nil, err
	}
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return transport, nil
}

// probeThroughProxy 通过代理对 ProbeURL 发起 GET，仅 200 视为成功。
func (v *Validator) probeThroughProxy(ctx context.Context, c *model.Candidate) error {
	transport, err := probeTransport(c, v.opts.Timeout)
	if err != nil {
		return err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   v.opts.Timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.opts.ProbeURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}
	return nil
}
