package crawl

// State 是爬取循环的状态。
type State int

const (
	StateInit State = iota
	StateFetching
	StateExtracting
	StateLoadingMore
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateFetching:
		return "Fetching"
	case StateExtracting:
		return "Extracting"
	case StateLoadingMore:
		return "LoadingMore"
	case StateDraining:
		return "Draining"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Reason 说明一次运行为什么结束。
type Reason string

const (
	ReasonCompleted   Reason = "completed"    // 达到 MaxBatches 上限
	ReasonExhausted   Reason = "exhausted"    // 页面没有更多可加载内容
	ReasonNoProgress  Reason = "no_progress"  // 连续多个批次没有新记录
	ReasonStopped     Reason = "stopped"      // 外部停止信号
	ReasonFetchFailed Reason = "fetch_failed" // 获取失败且重试预算耗尽或不可重试
)
