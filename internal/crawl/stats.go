package crawl

import "time"

// Stats 是一次运行的统计，结束时输出。
type Stats struct {
	RunID string `json:"run_id"`

	FetchedPages       int `json:"fetched_pages"`
	FetchRetries       int `json:"fetch_retries"`
	ExtractBatches     int `json:"extract_batches"`
	ExtractedRecords   int `json:"extracted_records"`
	ExtractionFailures int `json:"extraction_failures"`
	NovelRecords       int `json:"novel_records"`
	DuplicateRecords   int `json:"duplicate_records"`
	LoadMoreActions    int `json:"load_more_actions"`

	ProxyValidated int `json:"proxy_validated"`
	ProxyFailed    int `json:"proxy_failed"`
	ProxyEvicted   int `json:"proxy_evicted"`

	IngestInserted  int `json:"ingest_inserted"`
	IngestDuplicate int `json:"ingest_duplicate"`
	IngestFailed    int `json:"ingest_failed"`

	State      string    `json:"state"`
	Reason     Reason    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Result 是 Run 的返回值。Err 只在 fetch_failed 时非空。
type Result struct {
	Reason Reason
	Err    error
	Stats  Stats
}
