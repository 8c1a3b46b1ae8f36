package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"crawlpool/internal/crawl"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder_ObserveMirrorsStats(t *testing.T) {
	r := NewRecorder()
	r.Observe(crawl.Stats{ExtractedRecords: 4, NovelRecords: 3, DuplicateRecords: 1, IngestInserted: 3, FetchedPages: 1})

	if got := testutil.ToFloat64(r.records.WithLabelValues("novel")); got != 3 {
		t.Errorf("Expected novel=3, got %v", got)
	}
	if got := testutil.ToFloat64(r.records.WithLabelValues("duplicate")); got != 1 {
		t.Errorf("Expected duplicate=1, got %v", got)
	}

	// 后一次快照覆盖前一次
	r.Observe(crawl.Stats{ExtractedRecords: 6, NovelRecords: 5, DuplicateRecords: 1})
	if got := testutil.ToFloat64(r.records.WithLabelValues("novel")); got != 5 {
		t.Errorf("Expected novel=5 after second snapshot, got %v", got)
	}
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.SetPoolSize(7)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "crawlpool_proxy_pool_size 7") {
		t.Errorf("Expected pool size gauge in output, got:\n%s", body)
	}
}
