// Package metrics 把爬取统计导出为 prometheus 指标。
package metrics

import (
	"net/http"

	"crawlpool/internal/crawl"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 实现 crawl.Observer，把每次收到的累计快照镜像到 gauge。
type Recorder struct {
	registry *prometheus.Registry

	records  *prometheus.GaugeVec
	pages    *prometheus.GaugeVec
	proxies  *prometheus.GaugeVec
	poolSize prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawlpool_crawl_records",
			Help: "Records seen by the current crawl run, by kind.",
		}, []string{"kind"}),
		pages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawlpool_crawl_pages",
			Help: "Page level counters of the current crawl run.",
		}, []string{"kind"}),
		proxies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawlpool_proxy_validation",
			Help: "Proxy validation results of the last refresh.",
		}, []string{"result"}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawlpool_proxy_pool_size",
			Help: "Proxies currently in rotation.",
		}),
	}
	r.registry.MustRegister(r.records, r.pages, r.proxies, r.poolSize)
	return r
}

func (r *Recorder) Observe(s crawl.Stats) {
	r.records.WithLabelValues("extracted").Set(float64(s.ExtractedRecords))
	r.records.WithLabelValues("novel").Set(float64(s.NovelRecords))
	r.records.WithLabelValues("duplicate").Set(float64(s.DuplicateRecords))
	r.records.WithLabelValues("extraction_failed").Set(float64(s.ExtractionFailures))
	r.records.WithLabelValues("inserted").Set(float64(s.IngestInserted))
	r.records.WithLabelValues("ingest_duplicate").Set(float64(s.IngestDuplicate))
	r.records.WithLabelValues("ingest_failed").Set(float64(s.IngestFailed))

	r.pages.WithLabelValues("fetched").Set(float64(s.FetchedPages))
	r.pages.WithLabelValues("retries").Set(float64(s.FetchRetries))
	r.pages.WithLabelValues("load_more").Set(float64(s.LoadMoreActions))

	r.proxies.WithLabelValues("validated").Set(float64(s.ProxyValidated))
	r.proxies.WithLabelValues("failed").Set(float64(s.ProxyFailed))
	r.proxies.WithLabelValues("evicted").Set(float64(s.ProxyEvicted))
}

// SetPoolSize 记录轮询池当前大小。
func (r *Recorder) SetPoolSize(n int) {
	r.poolSize.Set(float64(n))
}

// Handler 返回 /metrics 的处理器。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
