package pool

import (
	"context"
	"sync"
	"testing"
	"time"
	"unsafe"
)

func TestHigherPriorityDrainsFirst(t *testing.T) {
	ctx := context.Background()

	p := New(ctx, 1) // single worker: order is fully determined
	defer p.Stop(ctx)

	var mu sync.Mutex
	var order []int32

	record := func(v int32) Func {
		return func(unsafe.Pointer) {
			mu.Lock()
			order = append(order, v)
			mu.Unlock()
		}
	}

	// block the single worker until every item below is queued, so
	// the heap's ordering (not scheduling luck) decides drain order.
	gate := make(chan struct{})
	p.Push(func(unsafe.Pointer) { <-gate }, nil, 100)

	p.Push(record(0), nil, 0)
	p.Push(record(1), nil, 5)
	p.Push(record(2), nil, 5)
	p.Push(record(3), nil, 10)

	close(gate)

	waitForDrain(t, p, &mu, &order, 4)

	want := []int32{3, 1, 2, 0}
	mu.Lock()
	defer mu.Unlock()

	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}

	for i, v := range want {
		if order[i] != v {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func waitForDrain(t *testing.T, p *Pool, mu *sync.Mutex, order *[]int32, n int) {
	t.Helper()

	deadline := time.Now().Add(time.Second)

	for time.Now().Before(deadline) {
		mu.Lock()
		got := len(*order)
		mu.Unlock()

		if got >= n {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("pool never drained %d items", n)
}

func TestWorkerPanicIsRecovered(t *testing.T) {
	ctx := context.Background()

	p := New(ctx, 1)
	defer p.Stop(ctx)

	done := make(chan struct{})

	p.Push(func(unsafe.Pointer) { panic("boom") }, nil, 0)
	p.Push(func(unsafe.Pointer) { close(done) }, nil, 0)

	<-done // if the panic killed the worker, this never fires
}

func TestStopDrainsPendingWork(t *testing.T) {
	ctx := context.Background()

	p := New(ctx, 2)

	var wg sync.WaitGroup

	const n = 20
	wg.Add(n)

	for i := 0; i < n; i++ {
		p.Push(func(unsafe.Pointer) { wg.Done() }, nil, 0)
	}

	p.Stop(ctx)

	// Stop only returns once every worker has drained the queue and
	// exited, so every wg.Done() above already ran; this must not block.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop returned before pending work drained")
	}
}
