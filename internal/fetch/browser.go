package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crawlpool/internal/shared/logger"
	"crawlpool/proxypool/model"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// statusGrace 是页面加载完成后等待主文档响应事件的时间。
const statusGrace = time.Second

// BrowserOptions 配置浏览器会话。
type BrowserOptions struct {
	Headless         bool
	NoSandbox        bool
	Bin              string
	LoadMoreSelector string
	LoadMoreText     string // 可选，按按钮文字（JS 正则）过滤
	LoadMoreTimeout  time.Duration
	PageTimeout      time.Duration
}

// BrowserAdapter 是单个 rod 浏览器会话。代理是启动参数，
// 所以请求的代理变化时会重启浏览器。
type BrowserAdapter struct {
	opts BrowserOptions

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	proxyURL string
}

func NewBrowserAdapter(opts BrowserOptions) *BrowserAdapter {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = defaultPageWait
	}
	if opts.LoadMoreTimeout <= 0 {
		opts.LoadMoreTimeout = 15 * time.Second
	}
	return &BrowserAdapter{opts: opts}
}

func (a *BrowserAdapter) Fetch(ctx context.Context, url string) (*Page, error) {
	return a.FetchWithProxy(ctx, url, nil)
}

func (a *BrowserAdapter) FetchWithProxy(ctx context.Context, url string, proxy *model.ValidatedProxy) (*Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	l := logger.WithComponent("Fetch/Browser")

	proxyURL := ""
	if proxy != nil {
		proxyURL = proxy.URL()
	}
	if err := a.ensureSession(proxyURL); err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.PageTimeout)
	defer cancel()
	p := a.page.Context(ctx)

	// 主文档的响应状态。Navigate 对 4xx/5xx 页面同样成功，需要单独取
	statusCh := make(chan int, 1)
	evCtx, evCancel := context.WithCancel(ctx)
	defer evCancel()
	mainFrame := a.page.FrameID
	wait := a.page.Context(evCtx).EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.FrameID != mainFrame || e.Response == nil {
			return false
		}
		statusCh <- e.Response.Status
		return true
	})
	go wait()

	l.Debug().Str("url", url).Str("proxy", proxyURL).Msg("Navigating.")
	if err := p.Navigate(url); err != nil {
		return nil, classifyNavigation(url, proxy, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, classifyNavigation(url, proxy, err)
	}

	code := 0
	select {
	case code = <-statusCh:
	case <-time.After(statusGrace):
		l.Debug().Str("url", url).Msg("No document response seen, assuming success.")
	}
	if err := documentStatusError(url, code); err != nil {
		return nil, err
	}

	return snapshot(p)
}

// documentStatusError 把主文档状态码映射为 FetchError，0 表示未知。
func documentStatusError(url string, code int) error {
	if code >= 400 {
		return statusError(url, code)
	}
	return nil
}

// ensureSession 在需要时（首次或代理变化）启动浏览器并打开 stealth 页面。
func (a *BrowserAdapter) ensureSession(proxyURL string) error {
	if a.browser != nil && a.proxyURL == proxyURL {
		return nil
	}
	a.closeLocked()

	l := launcher.New().
		Headless(a.opts.Headless).
		NoSandbox(a.opts.NoSandbox)
	if a.opts.Bin != "" {
		l = l.Bin(a.opts.Bin)
	}
	if proxyURL != "" {
		l = l.Proxy(proxyURL)
	}
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := stealth.Page(browser)
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return fmt.Errorf("failed to open stealth page: %w", err)
	}

	a.launcher, a.browser, a.page, a.proxyURL = l, browser, page, proxyURL
	lg := logger.WithComponent("Fetch/Browser")
	lg.Info().Str("proxy", proxyURL).Msg("Browser session started.")
	return nil
}

// TriggerLoadMore 点击“加载更多”按钮。找不到或不可见时返回 false。
func (a *BrowserAdapter) TriggerLoadMore(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.page == nil || a.opts.LoadMoreSelector == "" {
		return false, nil
	}
	l := logger.WithComponent("Fetch/Browser")

	lctx, cancel := context.WithTimeout(ctx, a.opts.LoadMoreTimeout)
	defer cancel()
	p := a.page.Context(lctx)

	var (
		el  *rod.Element
		err error
	)
	if a.opts.LoadMoreText != "" {
		el, err = p.ElementR(a.opts.LoadMoreSelector, a.opts.LoadMoreText)
	} else {
		el, err = p.Element(a.opts.LoadMoreSelector)
	}
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		l.Info().Str("selector", a.opts.LoadMoreSelector).Msg("Load more button not found.")
		return false, nil
	}

	visible, err := el.Visible()
	if err != nil || !visible {
		l.Info().Msg("Load more button not visible.")
		return false, nil
	}
	if err := el.ScrollIntoView(); err != nil {
		l.Debug().Err(err).Msg("Scroll into view failed.")
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		l.Warn().Err(err).Msg("Load more click failed.")
		return false, nil
	}
	return true, nil
}

func (a *BrowserAdapter) CurrentContent(ctx context.Context) (*Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.page == nil {
		return nil, errors.New("no page open")
	}
	ctx, cancel := context.WithTimeout(ctx, a.opts.PageTimeout)
	defer cancel()
	return snapshot(a.page.Context(ctx))
}

func snapshot(p *rod.Page) (*Page, error) {
	html, err := p.HTML()
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("read page html: %w", err)}
	}
	finalURL := ""
	if info, err := p.Info(); err == nil {
		finalURL = info.URL
	}
	return &Page{Content: html, FinalURL: finalURL}, nil
}

func (a *BrowserAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeLocked()
}

func (a *BrowserAdapter) closeLocked() error {
	var err error
	if a.browser != nil {
		err = a.browser.Close()
	}
	if a.launcher != nil {
		a.launcher.Kill()
	}
	a.launcher, a.browser, a.page, a.proxyURL = nil, nil, nil, ""
	return err
}

// classifyNavigation 把 Chrome 的 net::ERR_* 原因映射到可重试分类。
func classifyNavigation(url string, proxy *model.ValidatedProxy, err error) error {
	var nav *rod.NavigationError
	if errors.As(err, &nav) {
		reason := strings.ToUpper(nav.Reason)
		switch {
		case proxy != nil && (strings.Contains(reason, "PROXY") || strings.Contains(reason, "TUNNEL") || strings.Contains(reason, "SOCKS")):
			return &FetchError{URL: url, Err: proxyError(proxy, err)}
		case strings.Contains(reason, "TIMED_OUT"):
			return &FetchError{URL: url, Err: fmt.Errorf("%w: %w", context.DeadlineExceeded, err)}
		}
	}
	return &FetchError{URL: url, Err: err}
}
