package rotator

import (
	"math/rand"
	"sync/atomic"

	"crawlpool/internal/shared/logger"
	"crawlpool/proxypool/model"
)

// pool 是一次安装后的不可变代理列表，带有自己的游标。
// 刷新时整体替换，读者永远不会看到更新了一半的列表。
type pool struct {
	proxies []*model.ValidatedProxy
	next    atomic.Uint64
	warned  atomic.Bool // 每个空池只警告一次
}

// Rotator 在当前已验证代理池上做确定性的轮询。
// 禁用或池为空时返回 (nil, false)，调用方应直连。
type Rotator struct {
	enabled bool
	current atomic.Value // *pool
}

func New(enabled bool) *Rotator {
	r := &Rotator{enabled: enabled}
	r.current.Store(&pool{})
	return r
}

func (r *Rotator) Enabled() bool {
	return r.enabled
}

func (r *Rotator) load() *pool {
	return r.current.Load().(*pool)
}

// Next 返回 pool[index] 并把 index 原子地前移。
func (r *Rotator) Next() (*model.ValidatedProxy, bool) {
	if !r.enabled {
		return nil, false
	}
	p := r.load()
	n := uint64(len(p.proxies))
	if n == 0 {
		if p.warned.CompareAndSwap(false, true) {
			l := logger.WithComponent("ProxyPool/Rotator")
			l.Warn().Msg("Proxy pool is empty, requests will go direct.")
		}
		return nil, false
	}
	i := p.next.Add(1) - 1
	return p.proxies[i%n], true
}

// Replace 安装一个新池，游标归零。传入的切片会被复制。
func (r *Rotator) Replace(proxies []*model.ValidatedProxy) {
	cp := make([]*model.ValidatedProxy, 0, len(proxies))
	for _, vp := range proxies {
		if vp != nil {
			cp = append(cp, vp)
		}
	}
	r.current.Store(&pool{proxies: cp})
	l := logger.WithComponent("ProxyPool/Rotator")
	l.Info().Int("size", len(cp)).Msg("Proxy pool replaced.")
}

// ReplaceShuffled 在安装前打乱一次顺序。之后的轮询仍然是确定性的。
func (r *Rotator) ReplaceShuffled(proxies []*model.ValidatedProxy, rnd *rand.Rand) {
	cp := append([]*model.ValidatedProxy(nil), proxies...)
	rnd.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
	r.Replace(cp)
}

// MarkBad 把一个拉取失败的代理移出池。通过替换池引用实现，游标位置保留。
func (r *Rotator) MarkBad(key string) bool {
	for {
		old := r.load()
		filtered := make([]*model.ValidatedProxy, 0, len(old.proxies))
		for _, vp := range old.proxies {
			if vp.Key() != key {
				filtered = append(filtered, vp)
			}
		}
		if len(filtered) == len(old.proxies) {
			return false
		}

		np := &pool{proxies: filtered}
		np.next.Store(old.next.Load())
		if r.current.CompareAndSwap(old, np) {
			l := logger.WithComponent("ProxyPool/Rotator")
			l.Warn().
				Str("proxy", key).
				Int("remaining", len(filtered)).
				Msg("Proxy evicted from rotation.")
			return true
		}
	}
}

// Len 返回当前池的大小。
func (r *Rotator) Len() int {
	return len(r.load().proxies)
}

// Snapshot 返回当前池的副本。
func (r *Rotator) Snapshot() []*model.ValidatedProxy {
	return append([]*model.ValidatedProxy(nil), r.load().proxies...)
}
