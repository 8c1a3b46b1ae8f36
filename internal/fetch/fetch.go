// Package fetch 定义爬取循环与页面获取实现之间的边界。
// 爬取核心不关心背后是浏览器还是普通 HTTP。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"

	"crawlpool/proxypool/model"
)

// Page 是一次获取的结果。
type Page struct {
	Content  string
	FinalURL string
}

// Adapter 是单个有状态的页面获取会话，不能并发导航。
type Adapter interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	// FetchWithProxy 经由指定代理获取；proxy 为 nil 时等同于 Fetch。
	FetchWithProxy(ctx context.Context, url string, proxy *model.ValidatedProxy) (*Page, error)
	// TriggerLoadMore 在当前页面上触发“加载更多”。没有可用动作时返回 false。
	TriggerLoadMore(ctx context.Context) (bool, error)
	// CurrentContent 重新获取当前页面的内容快照。
	CurrentContent(ctx context.Context) (*Page, error)
	Close() error
}

// ErrProxy 表示失败发生在代理连接上，而不是目标站点。
var ErrProxy = errors.New("proxy connection failed")

// DefaultRetryCodes 是视为暂时性失败的 HTTP 状态码。
var DefaultRetryCodes = []int{500, 502, 503, 504, 522, 524, 408, 429}

// FetchError 是一次失败的获取。StatusCode 为 0 表示没有拿到响应。
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable 判断该失败是否值得重试：codes 中的状态码、超时以及代理失败。
func (e *FetchError) Retryable(codes []int) bool {
	if e.StatusCode > 0 {
		return slices.Contains(codes, e.StatusCode)
	}
	if errors.Is(e.Err, ErrProxy) || errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(e.Err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// IsRetryable 对任意错误做同样的分类。非 FetchError 只有超时和代理失败可重试。
func IsRetryable(err error, codes []int) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable(codes)
	}
	return (&FetchError{Err: err}).Retryable(codes)
}

// IsProxyFailure 报告错误是否由代理引起。
func IsProxyFailure(err error) bool {
	return errors.Is(err, ErrProxy)
}

func statusError(url string, code int) error {
	return &FetchError{URL: url, StatusCode: code, Err: errors.New(http.StatusText(code))}
}

// proxyError 把代理层的失败包装成可识别的 ErrProxy。
func proxyError(proxy *model.ValidatedProxy, err error) error {
	return fmt.Errorf("%w (%s): %w", ErrProxy, proxy.URL(), err)
}
