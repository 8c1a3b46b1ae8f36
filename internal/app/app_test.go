package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"crawlpool/internal/crawl"
	"crawlpool/internal/shared/config"
	"crawlpool/internal/shared/types"
)

const catalogPage = `<html><body><ul>
<li class="card"><span class="name">SetX CardY #1</span><span class="rarity">Rare</span><span class="price">$1.20</span></li>
<li class="card"><span class="name">SetX CardZ #2</span><span class="rarity">Common</span></li>
<li class="card"><span class="name">SetX CardY #1</span><span class="rarity">Rare</span></li>
<li class="card"><span class="rarity">Common</span></li>
</ul></body></html>`

func testConfig(t *testing.T, seed string) *types.Config {
	t.Helper()
	cfg := config.Default()
	cfg.CrawlerConf.SeedURL = seed
	cfg.CrawlerConf.RequestDelayMs = 0
	cfg.CrawlerConf.RetryBackoffMs = 0
	cfg.CrawlerConf.SettleMs = 0
	cfg.CrawlerConf.RespectRobots = false
	cfg.CrawlerConf.ExportFile = filepath.Join(t.TempDir(), "records.json")
	cfg.ProxyPoolConf.Enabled = false
	cfg.BrowserConf.Engine = "http"
	cfg.SinkConf.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	cfg.ParserConf = types.ParserConf{
		ItemSelector:   "li.card",
		NameSelector:   ".name",
		TagSelector:    ".rarity",
		FieldSelectors: []string{"price=.price"},
	}
	return cfg
}

func TestApp_RunEndToEnd(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogPage))
	}))
	defer site.Close()

	cfg := testConfig(t, site.URL)
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() returned an error: %v", err)
	}
	defer a.Close()

	result, err := a.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run() returned an error: %v", err)
	}

	// 静态页面没有加载更多，一个批次后结束
	if result.Reason != crawl.ReasonExhausted {
		t.Errorf("Expected reason 'exhausted', got '%s'", result.Reason)
	}
	s := result.Stats
	if s.NovelRecords != 2 || s.DuplicateRecords != 1 || s.ExtractionFailures != 1 {
		t.Errorf("Unexpected stats: novel=%d dup=%d failures=%d", s.NovelRecords, s.DuplicateRecords, s.ExtractionFailures)
	}
	if n, err := a.Sink().Count(context.Background()); err != nil || n != 2 {
		t.Errorf("Expected 2 rows in sink, got %d (%v)", n, err)
	}

	data, err := os.ReadFile(cfg.CrawlerConf.ExportFile)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var exported []crawl.Record
	if err := json.Unmarshal(data, &exported); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(exported) != 2 || exported[0].Fields["price"] != "$1.20" {
		t.Errorf("Unexpected export: %+v", exported)
	}
}

func TestApp_SecondRunIsAllDuplicatesInSink(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(catalogPage))
	}))
	defer site.Close()

	cfg := testConfig(t, site.URL)
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() returned an error: %v", err)
	}
	defer a.Close()

	if _, err := a.Run(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("first Run() returned an error: %v", err)
	}
	result, err := a.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("second Run() returned an error: %v", err)
	}
	if result.Stats.IngestInserted != 0 || result.Stats.IngestDuplicate != 2 {
		t.Errorf("Expected 0 inserted and 2 duplicates on re-run, got %d and %d",
			result.Stats.IngestInserted, result.Stats.IngestDuplicate)
	}
}

func TestApp_FetchFailure(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer site.Close()

	a, err := New(testConfig(t, site.URL))
	if err != nil {
		t.Fatalf("New() returned an error: %v", err)
	}
	defer a.Close()

	result, err := a.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run() returned an error: %v", err)
	}
	if result.Reason != crawl.ReasonFetchFailed || result.Err == nil {
		t.Errorf("Expected fetch_failed with error, got '%s' (%v)", result.Reason, result.Err)
	}
}

func TestApp_RobotsDisallowedSeed(t *testing.T) {
	var fetched atomic.Bool
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /\n"))
			return
		}
		fetched.Store(true)
		w.Write([]byte(catalogPage))
	}))
	defer site.Close()

	cfg := testConfig(t, site.URL+"/catalog")
	cfg.CrawlerConf.RespectRobots = true
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() returned an error: %v", err)
	}
	defer a.Close()

	if _, err := a.Run(context.Background(), RunOptions{}); err == nil {
		t.Error("Expected Run() to refuse a disallowed seed")
	}
	if fetched.Load() {
		t.Error("Seed page must not be fetched when robots.txt disallows it")
	}
}

func TestNew_RequiresSeedURL(t *testing.T) {
	cfg := testConfig(t, "")
	if _, err := New(cfg); err == nil {
		t.Error("Expected error when seed_url is empty")
	}
}
