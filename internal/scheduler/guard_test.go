package scheduler

import (
	"sync"
	"testing"
	"time"
)

func TestGuard_MutualExclusion(t *testing.T) {
	g := NewGuard(time.Hour)

	if !g.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if g.TryAcquire() {
		t.Error("second acquire while held should fail")
	}
	if !g.Held() {
		t.Error("Held should report true while acquired")
	}

	g.Release()
	if g.Held() {
		t.Error("Held should report false after release")
	}
	if !g.TryAcquire() {
		t.Error("acquire after release should succeed")
	}
}

func TestGuard_StaleFlagSelfHeals(t *testing.T) {
	g := NewGuard(10 * time.Millisecond)

	if !g.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	// Never released: a crashed run. The TTL clears the way.
	time.Sleep(20 * time.Millisecond)

	if g.Held() {
		t.Error("stale flag should not report held")
	}
	if !g.TryAcquire() {
		t.Error("acquire should succeed once the flag is stale")
	}
}

func TestGuard_ConcurrentAcquire(t *testing.T) {
	g := NewGuard(time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 1 {
		t.Errorf("%d goroutines acquired the guard, want exactly 1", acquired)
	}
}
