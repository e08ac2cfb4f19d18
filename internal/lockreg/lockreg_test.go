package lockreg

import (
	"sync"
	"testing"
	"time"
)

func TestSharedAcquiresRunConcurrently(t *testing.T) {
	r := New(t.TempDir())

	h1, err := r.Acquire("db", false)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	defer h1.Release()

	done := make(chan struct{})
	go func() {
		h2, err := r.Acquire("db", false)
		if err != nil {
			t.Errorf("acquire 2: %v", err)
			return
		}
		h2.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second shared acquire did not complete; readers should not block each other")
	}
}

func TestExclusiveExcludesReaders(t *testing.T) {
	r := New(t.TempDir())

	h, err := r.Acquire("db", false)
	if err != nil {
		t.Fatalf("acquire shared: %v", err)
	}

	writerAcquired := make(chan struct{})
	go func() {
		wh, err := r.Acquire("db", true)
		if err != nil {
			t.Errorf("acquire exclusive: %v", err)
			return
		}
		close(writerAcquired)
		wh.Release()
	}()

	select {
	case <-writerAcquired:
		t.Fatal("exclusive acquire completed while a reader still held the lock")
	case <-time.After(100 * time.Millisecond):
	}

	h.Release()

	select {
	case <-writerAcquired:
	case <-time.After(time.Second):
		t.Fatal("exclusive acquire never completed after reader released")
	}
}

func TestWritersServedFIFO(t *testing.T) {
	r := New(t.TempDir())

	h, err := r.Acquire("db", true)
	if err != nil {
		t.Fatalf("acquire first writer: %v", err)
	}

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	started := make(chan struct{}, 3)
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			time.Sleep(10 * time.Millisecond) // let queue order stabilize
			wh, err := r.Acquire("db", true)
			if err != nil {
				t.Errorf("acquire writer %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wh.Release()
		}(i)
		<-started
		time.Sleep(5 * time.Millisecond) // stagger enqueue order: 1, 2, 3
	}

	h.Release()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("writer service order = %v, want [1 2 3]", order)
	}
}
