package crawl

// Frontier 是单次运行内的爬取前沿：已见过的自然键、当前页面、
// 以及连续无进展的批次数。不跨运行持久化。
type Frontier struct {
	seen       map[NaturalKey]struct{}
	CurrentURL string
	noProgress int
}

func NewFrontier() *Frontier {
	return &Frontier{seen: make(map[NaturalKey]struct{})}
}

// MarkSeen 标记一个键，首次出现时返回 true。
func (f *Frontier) MarkSeen(k NaturalKey) bool {
	if _, ok := f.seen[k]; ok {
		return false
	}
	f.seen[k] = struct{}{}
	return true
}

func (f *Frontier) Seen(k NaturalKey) bool {
	_, ok := f.seen[k]
	return ok
}

func (f *Frontier) Len() int {
	return len(f.seen)
}

// RecordBatch 记录一个批次产生的新记录数，返回当前连续无进展计数。
func (f *Frontier) RecordBatch(novel int) int {
	if novel > 0 {
		f.noProgress = 0
	} else {
		f.noProgress++
	}
	return f.noProgress
}

func (f *Frontier) NoProgress() int {
	return f.noProgress
}
