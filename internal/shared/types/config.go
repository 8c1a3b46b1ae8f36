package types

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// ProxyPoolConf 包含代理池的抓取、验证与缓存配置
type ProxyPoolConf struct {
	Enabled bool `ini:"enabled"`

	// 代理源，按类型分组；每一项是一个 URL（file_feeds 为本地路径）
	JSONFeeds []string `ini:"json_feeds" delim:","`
	TextFeeds []string `ini:"text_feeds" delim:","`
	HTMLFeeds []string `ini:"html_feeds" delim:","`
	FileFeeds []string `ini:"file_feeds" delim:","`

	FeedTimeoutSeconds int `ini:"feed_timeout_seconds"`

	CacheFile       string `ini:"cache_file"`
	CacheTTLSeconds int    `ini:"cache_ttl_seconds"`

	ValidateConcurrency int    `ini:"validate_concurrency"`
	ValidateSample      int    `ini:"validate_sample"`
	ProbeTimeoutSeconds int    `ini:"probe_timeout_seconds"`
	ProbeURL            string `ini:"probe_url"`

	RefreshIntervalMinutes int  `ini:"refresh_interval_minutes"`
	Shuffle                bool `ini:"shuffle"`
}

// CrawlerConf 包含抓取循环的行为配置
type CrawlerConf struct {
	SeedURL string `ini:"seed_url"`

	MaxRetries     int   `ini:"max_retries"`
	RetryBackoffMs int   `ini:"retry_backoff_ms"`
	RetryHTTPCodes []int `ini:"retry_http_codes" delim:","`

	FetchTimeoutSeconds    int `ini:"fetch_timeout_seconds"`
	LoadMoreTimeoutSeconds int `ini:"load_more_timeout_seconds"`
	SettleMs               int `ini:"settle_ms"`
	NoProgressLimit        int `ini:"no_progress_limit"`
	MaxBatches             int `ini:"max_batches"`
	RequestDelayMs         int `ini:"request_delay_ms"`

	RespectRobots bool   `ini:"respect_robots"`
	ExportFile    string `ini:"export_file"`
}

// ParserConf 定义了记录提取使用的 CSS 选择器
type ParserConf struct {
	ItemSelector string `ini:"item_selector"`
	NameSelector string `ini:"name_selector"`
	TagSelector  string `ini:"tag_selector"`
	// 额外字段，格式为 "field=selector"，以分号分隔（CSS 选择器里可能有逗号）
	FieldSelectors []string `ini:"field_selectors" delim:";"`
}

// BrowserConf 控制页面抓取引擎
type BrowserConf struct {
	Engine           string `ini:"engine"` // "rod" or "http"
	Headless         bool   `ini:"headless"`
	NoSandbox        bool   `ini:"no_sandbox"`
	Bin              string `ini:"bin"`
	LoadMoreSelector string `ini:"load_more_selector"`
	LoadMoreText     string `ini:"load_more_text"`
}

// SinkConf 定义了结果持久化的目标
type SinkConf struct {
	Driver string `ini:"driver"` // "sqlite" or "postgres"
	DSN    string `ini:"dsn"`
	Table  string `ini:"table"`
}

// WebConf 包含状态服务的配置
type WebConf struct {
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// Config 是 crawler 的统一配置结构体
type Config struct {
	LogConf       `ini:"log"`
	ProxyPoolConf `ini:"proxypool"`
	CrawlerConf   `ini:"crawler"`
	ParserConf    `ini:"parser"`
	BrowserConf   `ini:"browser"`
	SinkConf      `ini:"sink"`
	WebConf       `ini:"web"`
}
