package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"crawlpool/proxypool/model"

	"github.com/go-rod/rod"
)

func TestFetchError_Retryable(t *testing.T) {
	proxy := &model.ValidatedProxy{Candidate: model.Candidate{IP: "1.1.1.1", Port: 1080, Protocol: model.ProtocolSOCKS5}}

	cases := []struct {
		name string
		err  *FetchError
		want bool
	}{
		{"503 is transient", &FetchError{StatusCode: 503}, true},
		{"429 is transient", &FetchError{StatusCode: 429}, true},
		{"404 is terminal", &FetchError{StatusCode: 404}, false},
		{"403 is terminal", &FetchError{StatusCode: 403}, false},
		{"deadline", &FetchError{Err: context.DeadlineExceeded}, true},
		{"proxy failure", &FetchError{Err: proxyError(proxy, errors.New("connection refused"))}, true},
		{"cancelled", &FetchError{Err: context.Canceled}, false},
		{"dns failure", &FetchError{Err: errors.New("no such host")}, false},
	}
	for _, tc := range cases {
		if got := tc.err.Retryable(DefaultRetryCodes); got != tc.want {
			t.Errorf("%s: expected retryable=%v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsRetryable_WrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("attempt 1: %w", &FetchError{StatusCode: 502})
	if !IsRetryable(wrapped, DefaultRetryCodes) {
		t.Error("Expected wrapped 502 to be retryable")
	}
	if IsRetryable(errors.New("boom"), DefaultRetryCodes) {
		t.Error("Expected plain error to be terminal")
	}
}

func TestClassifyNavigation(t *testing.T) {
	proxy := &model.ValidatedProxy{Candidate: model.Candidate{IP: "1.1.1.1", Port: 1080, Protocol: model.ProtocolSOCKS5}}

	err := classifyNavigation("http://x", proxy, &rod.NavigationError{Reason: "net::ERR_PROXY_CONNECTION_FAILED"})
	if !IsProxyFailure(err) || !IsRetryable(err, nil) {
		t.Errorf("Expected retryable proxy failure, got %v", err)
	}

	err = classifyNavigation("http://x", nil, &rod.NavigationError{Reason: "net::ERR_TIMED_OUT"})
	if !IsRetryable(err, nil) || IsProxyFailure(err) {
		t.Errorf("Expected retryable timeout, got %v", err)
	}

	err = classifyNavigation("http://x", nil, &rod.NavigationError{Reason: "net::ERR_NAME_NOT_RESOLVED"})
	if IsRetryable(err, nil) {
		t.Errorf("Expected terminal DNS failure, got %v", err)
	}
}

func TestHTTPAdapter_FetchAndCurrentContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/cards", http.StatusFound)
			return
		}
		if r.Header.Get("User-Agent") == "" {
			t.Error("Expected a browser user agent")
		}
		fmt.Fprint(w, "<html><body>cards</body></html>")
	}))
	defer srv.Close()

	a := NewHTTPAdapter(2 * time.Second)
	defer a.Close()

	page, err := a.Fetch(context.Background(), srv.URL+"/start")
	if err != nil {
		t.Fatalf("Fetch() returned an error: %v", err)
	}
	if page.FinalURL != srv.URL+"/cards" {
		t.Errorf("Expected final URL after redirect, got %s", page.FinalURL)
	}

	cur, err := a.CurrentContent(context.Background())
	if err != nil || cur.Content != page.Content {
		t.Errorf("Expected CurrentContent to return last page, got %v (err %v)", cur, err)
	}

	more, err := a.TriggerLoadMore(context.Background())
	if more || err != nil {
		t.Errorf("Expected no load-more for static pages, got %v, %v", more, err)
	}
}

func TestHTTPAdapter_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPAdapter(time.Second).Fetch(context.Background(), srv.URL)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 503 {
		t.Fatalf("Expected FetchError with 503, got %v", err)
	}
	if !fe.Retryable(DefaultRetryCodes) {
		t.Error("Expected 503 to be retryable")
	}
}

func TestHTTPAdapter_ThroughHTTPProxy(t *testing.T) {
	var proxied atomic.Bool
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Store(r.URL.IsAbs())
		fmt.Fprint(w, "via proxy")
	}))
	defer proxySrv.Close()

	host, portStr, _ := net.SplitHostPort(proxySrv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	proxy := &model.ValidatedProxy{Candidate: model.Candidate{IP: host, Port: port, Protocol: model.ProtocolHTTP}}

	page, err := NewHTTPAdapter(time.Second).FetchWithProxy(context.Background(), "http://target.invalid/list", proxy)
	if err != nil {
		t.Fatalf("FetchWithProxy() returned an error: %v", err)
	}
	if !proxied.Load() || page.Content != "via proxy" {
		t.Errorf("Expected request to go through proxy, got proxied=%v content=%q", proxied.Load(), page.Content)
	}
}

func TestHTTPAdapter_DeadProxyIsProxyFailure(t *testing.T) {
	ln, _ := net.Listen("tcp", "127.0.0.1:0")
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	port, _ := strconv.Atoi(portStr)
	proxy := &model.ValidatedProxy{Candidate: model.Candidate{IP: host, Port: port, Protocol: model.ProtocolSOCKS5}}

	_, err := NewHTTPAdapter(time.Second).FetchWithProxy(context.Background(), "http://target.invalid/", proxy)
	if !IsProxyFailure(err) {
		t.Fatalf("Expected proxy failure, got %v", err)
	}
	if !IsRetryable(err, DefaultRetryCodes) {
		t.Error("Expected proxy failure to be retryable")
	}
}

func TestDocumentStatusError(t *testing.T) {
	if err := documentStatusError("https://shop.test/", 200); err != nil {
		t.Errorf("Expected nil for 200, got %v", err)
	}
	if err := documentStatusError("https://shop.test/", 0); err != nil {
		t.Errorf("Expected nil for unknown status, got %v", err)
	}

	err := documentStatusError("https://shop.test/", 503)
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 503 {
		t.Fatalf("Expected FetchError with status 503, got %v", err)
	}
	if !IsRetryable(err, DefaultRetryCodes) {
		t.Error("Expected 503 page to be retryable")
	}
	if !IsRetryable(documentStatusError("https://shop.test/", 429), DefaultRetryCodes) {
		t.Error("Expected 429 page to be retryable")
	}
	if IsRetryable(documentStatusError("https://shop.test/", 404), DefaultRetryCodes) {
		t.Error("Expected 404 page not to be retryable")
	}
}
