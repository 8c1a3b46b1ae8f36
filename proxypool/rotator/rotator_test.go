package rotator

import (
	"bytes"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"crawlpool/internal/shared/logger"
	"crawlpool/internal/shared/types"
	"crawlpool/proxypool/model"
)

func makePool(n int) []*model.ValidatedProxy {
	out := make([]*model.ValidatedProxy, n)
	for i := range out {
		out[i] = &model.ValidatedProxy{
			Candidate: model.Candidate{IP: "10.0.0.1", Port: 1000 + i, Protocol: model.ProtocolSOCKS5},
			Working:   true,
		}
	}
	return out
}

func TestNext_FairRoundRobin(t *testing.T) {
	for _, tc := range []struct{ n, k int }{{10, 3}, {9, 3}, {1, 4}, {100, 7}} {
		r := New(true)
		r.Replace(makePool(tc.k))

		counts := make(map[string]int)
		for i := 0; i < tc.n; i++ {
			vp, ok := r.Next()
			if !ok {
				t.Fatalf("Expected a proxy on call %d", i)
			}
			counts[vp.Key()]++
		}

		floor, ceil := tc.n/tc.k, (tc.n+tc.k-1)/tc.k
		for _, vp := range makePool(tc.k) {
			c := counts[vp.Key()]
			if c != floor && c != ceil {
				t.Errorf("N=%d K=%d: expected %s returned %d or %d times, got %d", tc.n, tc.k, vp.Key(), floor, ceil, c)
			}
		}
	}
}

func TestNext_DeterministicOrder(t *testing.T) {
	r := New(true)
	pool := makePool(3)
	r.Replace(pool)
	for i := 0; i < 6; i++ {
		vp, _ := r.Next()
		if vp.Key() != pool[i%3].Key() {
			t.Errorf("Call %d: expected %s, got %s", i, pool[i%3].Key(), vp.Key())
		}
	}
}

func TestNext_EmptyPoolWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(types.LogConf{Level: "warn"}, &buf)

	r := New(true)
	for i := 0; i < 50; i++ {
		if vp, ok := r.Next(); ok || vp != nil {
			t.Fatalf("Expected nothing from empty pool, got %v", vp)
		}
	}
	if n := strings.Count(buf.String(), "Proxy pool is empty"); n != 1 {
		t.Errorf("Expected exactly 1 warning, got %d", n)
	}

	// 新的空池是新的耗尽事件
	r.Replace(nil)
	r.Next()
	r.Next()
	if n := strings.Count(buf.String(), "Proxy pool is empty"); n != 2 {
		t.Errorf("Expected 2 warnings after re-depletion, got %d", n)
	}
}

func TestNext_Disabled(t *testing.T) {
	r := New(false)
	r.Replace(makePool(3))
	if vp, ok := r.Next(); ok || vp != nil {
		t.Errorf("Expected disabled rotator to return nothing, got %v", vp)
	}
}

func TestReplace_ResetsCursorAndCopies(t *testing.T) {
	r := New(true)
	r.Replace(makePool(3))
	r.Next()
	r.Next()

	next := makePool(2)
	r.Replace(next)
	next[0] = nil // caller mutation must not leak in

	vp, ok := r.Next()
	if !ok || vp.Port != 1000 {
		t.Errorf("Expected first element of new pool, got %v", vp)
	}
	if r.Len() != 2 {
		t.Errorf("Expected pool size 2, got %d", r.Len())
	}
}

func TestReplaceShuffled_KeepsMembers(t *testing.T) {
	r := New(true)
	pool := makePool(10)
	r.ReplaceShuffled(pool, rand.New(rand.NewSource(1)))

	seen := make(map[string]bool)
	for _, vp := range r.Snapshot() {
		seen[vp.Key()] = true
	}
	for _, vp := range pool {
		if !seen[vp.Key()] {
			t.Errorf("Expected %s in shuffled pool", vp.Key())
		}
	}
	if pool[0].Port != 1000 {
		t.Error("Expected caller slice to be left unshuffled")
	}
}

func TestMarkBad(t *testing.T) {
	r := New(true)
	pool := makePool(3)
	r.Replace(pool)

	if !r.MarkBad(pool[1].Key()) {
		t.Fatal("Expected MarkBad to evict an existing proxy")
	}
	if r.MarkBad(pool[1].Key()) {
		t.Error("Expected second MarkBad for same key to be a no-op")
	}
	for i := 0; i < 10; i++ {
		vp, _ := r.Next()
		if vp.Key() == pool[1].Key() {
			t.Fatalf("Evicted proxy %s returned by Next", vp.Key())
		}
	}
}

func TestNext_ConcurrentCallersAdvanceMonotonically(t *testing.T) {
	r := New(true)
	r.Replace(makePool(4))

	var (
		mu     sync.Mutex
		counts = make(map[string]int)
		wg     sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				vp, _ := r.Next()
				mu.Lock()
				counts[vp.Key()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for key, c := range counts {
		if c != 200 {
			t.Errorf("Expected %s exactly 200 times, got %d", key, c)
		}
	}
}
