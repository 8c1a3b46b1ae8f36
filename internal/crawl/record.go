// Package crawl 实现爬取循环：获取 -> 提取 -> 去重 -> 入库 -> 加载更多，
// 以有界的状态机保证终止。
package crawl

import (
	"context"

	"crawlpool/internal/fetch"
	"crawlpool/proxypool/model"
)

// NaturalKey 是记录去重用的自然键 (name, tag)。
type NaturalKey struct {
	Name string
	Tag  string
}

// Record 是从页面提取出的一条记录。
type Record struct {
	Name      string            `json:"name"`
	Tag       string            `json:"tag"`
	Fields    map[string]string `json:"fields,omitempty"`
	SourceURL string            `json:"source_url"`
}

func (r Record) Key() NaturalKey {
	return NaturalKey{Name: r.Name, Tag: r.Tag}
}

// Outcome 是一次 upsert 的结果。
type Outcome int

const (
	Inserted Outcome = iota + 1
	Duplicate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sink 是按自然键幂等的写入端。Failed 时 error 描述原因。
type Sink interface {
	Upsert(ctx context.Context, r Record) (Outcome, error)
}

// Parser 把页面内容转换成记录。单条记录的失败以 error 返回，不影响其余记录。
type Parser interface {
	Parse(page *fetch.Page) ([]Record, []error)
}

// ProxySource 为每次获取提供代理。(nil, false) 表示直连。
type ProxySource interface {
	Next() (*model.ValidatedProxy, bool)
}

// badMarker 是可选能力：把失败的代理移出轮询。
type badMarker interface {
	MarkBad(key string) bool
}

// Observer 在每个提取批次之后以及结束时收到统计快照。
type Observer interface {
	Observe(stats Stats)
}

// ObserverFunc 让普通函数实现 Observer。
type ObserverFunc func(Stats)

func (f ObserverFunc) Observe(s Stats) { f(s) }
