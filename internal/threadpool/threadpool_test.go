package threadpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTask(t *testing.T) {
	p := New(2, 8, DropNewest)
	defer p.Shutdown()

	var ran int32
	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func() { atomic.StoreInt32(&ran, 1); wg.Done() })
	wg.Wait()

	if atomic.LoadInt32(&ran) != 1 {
		t.Error("expected task to run")
	}
}

func TestDropNewestRejectsWhenFull(t *testing.T) {
	block := make(chan struct{})
	p := New(1, 1, DropNewest)
	defer func() { close(block); p.Shutdown() }()

	// occupy the single worker so the queue actually fills
	p.Submit(func() { <-block })
	time.Sleep(5 * time.Millisecond)

	if !p.Submit(func() {}) {
		t.Fatal("expected first queued task to be accepted")
	}
	if p.Submit(func() {}) {
		t.Error("expected DropNewest to reject once queue is full")
	}
}

func TestDropOldestEvictsHead(t *testing.T) {
	block := make(chan struct{})
	p := New(1, 1, DropOldest)
	defer p.Shutdown()

	p.Submit(func() { <-block })
	time.Sleep(5 * time.Millisecond)

	var executed []int
	var mu sync.Mutex
	p.Submit(func() { mu.Lock(); executed = append(executed, 1); mu.Unlock() })
	p.Submit(func() { mu.Lock(); executed = append(executed, 2); mu.Unlock() })

	close(block)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(executed) != 1 || executed[0] != 2 {
		t.Errorf("expected only the newer task to survive eviction, got %v", executed)
	}
}

func TestPanickingTaskDoesNotStopWorker(t *testing.T) {
	p := New(1, 8, DropNewest)
	defer p.Shutdown()

	var wg sync.WaitGroup
	wg.Add(1)
	p.Submit(func() { panic("boom") })
	p.Submit(func() { wg.Done() })

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not recover from a panicking task")
	}
}

func TestQueueNeverExceedsBound(t *testing.T) {
	p := New(1, 4, DropNewest)
	defer p.Shutdown()

	block := make(chan struct{})
	p.Submit(func() { <-block })
	time.Sleep(5 * time.Millisecond)

	for i := 0; i < 20; i++ {
		p.Submit(func() {})
		if p.QueueLen() > 4 {
			t.Fatalf("queue length exceeded bound: %d", p.QueueLen())
		}
	}
	close(block)
}
