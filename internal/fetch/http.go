package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"crawlpool/internal/shared/logger"
	"crawlpool/proxypool/dialer"
	"crawlpool/proxypool/model"

	tls2 "github.com/refraction-networking/utls"
)

const (
	chromeUA        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxPageBytes    = 10 << 20
	defaultPageWait = 60 * time.Second
)

// HTTPAdapter 用带 Chrome TLS 指纹的普通 HTTP 请求获取静态页面。
// 没有 JS，所以 TriggerLoadMore 永远返回 false。
type HTTPAdapter struct {
	timeout time.Duration

	mu   sync.Mutex
	last *Page
}

func NewHTTPAdapter(timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = defaultPageWait
	}
	return &HTTPAdapter{timeout: timeout}
}

func (a *HTTPAdapter) Fetch(ctx context.Context, url string) (*Page, error) {
	return a.FetchWithProxy(ctx, url, nil)
}

func (a *HTTPAdapter) FetchWithProxy(ctx context.Context, url string, proxy *model.ValidatedProxy) (*Page, error) {
	l := logger.WithComponent("Fetch/HTTP")

	transport, err := a.transport(proxy)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	client := &http.Client{Transport: transport, Timeout: a.timeout}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", chromeUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		if proxy != nil && ctx.Err() == nil {
			err = proxyError(proxy, err)
		}
		l.Debug().Err(err).Str("url", url).Msg("Request failed.")
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError(url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("read body: %w", err)}
	}

	page := &Page{Content: string(body), FinalURL: resp.Request.URL.String()}
	a.mu.Lock()
	a.last = page
	a.mu.Unlock()
	return page, nil
}

// transport 组合代理拨号与 utls 握手。http 代理由 Transport.Proxy 处理，
// 此时 TLS 由标准库完成。
func (a *HTTPAdapter) transport(proxy *model.ValidatedProxy) (*http.Transport, error) {
	var c *model.Candidate
	if proxy != nil {
		c = &proxy.Candidate
	}
	transport, err := dialer.NewTransport(c, a.timeout)
	if err != nil {
		return nil, err
	}
	dial := transport.DialContext
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		raw, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return dialTLSChrome(ctx, raw, addr)
	}
	return transport, nil
}

// dialTLSChrome 在已建立的连接上用 Chrome 指纹完成 TLS 握手。
// ALPN 只保留 http/1.1，因为 http.Transport 无法识别 utls 连接上协商出的 h2。
func dialTLSChrome(ctx context.Context, raw net.Conn, addr string) (net.Conn, error) {
	host, _, _ := net.SplitHostPort(addr)

	spec, err := tls2.UTLSIdToSpec(tls2.HelloChrome_Auto)
	if err != nil {
		raw.Close()
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls2.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}

	tlsConn := tls2.UClient(raw, &tls2.Config{ServerName: host}, tls2.HelloCustom)
	if err := tlsConn.ApplyPreset(&spec); err != nil {
		raw.Close()
		return nil, err
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return tlsConn, nil
}

func (a *HTTPAdapter) TriggerLoadMore(ctx context.Context) (bool, error) {
	return false, nil
}

func (a *HTTPAdapter) CurrentContent(ctx context.Context) (*Page, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return nil, fmt.Errorf("no page fetched yet")
	}
	return a.last, nil
}

func (a *HTTPAdapter) Close() error {
	return nil
}
