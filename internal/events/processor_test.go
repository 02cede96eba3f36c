package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestAsyncProcessorRunsEnqueuedWork(t *testing.T) {
	p := NewAsyncProcessor(8, 2)
	defer p.Shutdown(context.Background())

	var ran atomic.Bool
	done := make(chan struct{})
	if !p.Enqueue(func(ctx context.Context) {
		ran.Store(true)
		close(done)
	}) {
		t.Fatal("Enqueue should accept work on a fresh processor")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueued function never ran")
	}
	if !ran.Load() {
		t.Fatal("expected the enqueued callback to have run")
	}
}

func TestAsyncProcessorDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	p := NewAsyncProcessor(1, 1)
	defer func() {
		close(block)
		p.Shutdown(context.Background())
	}()

	// occupy the single worker so the queue backs up
	p.Enqueue(func(ctx context.Context) { <-block })
	// fill the 1-capacity queue
	p.Enqueue(func(ctx context.Context) {})

	if p.Enqueue(func(ctx context.Context) {}) {
		t.Fatal("expected Enqueue to report false once queue capacity is exhausted")
	}
	if p.Dropped() == 0 {
		t.Fatal("expected Dropped() to record the rejected enqueue")
	}
}

func TestAsyncProcessorWaitForDrain(t *testing.T) {
	p := NewAsyncProcessor(8, 2)
	defer p.Shutdown(context.Background())

	for i := 0; i < 4; i++ {
		p.Enqueue(func(ctx context.Context) { time.Sleep(time.Millisecond) })
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.WaitForDrain(ctx); err != nil {
		t.Fatalf("WaitForDrain: %v", err)
	}
}

func TestAsyncProcessorShutdownRejectsFurtherWork(t *testing.T) {
	p := NewAsyncProcessor(8, 2)
	p.Shutdown(context.Background())

	if p.Enqueue(func(ctx context.Context) {}) {
		t.Fatal("expected Enqueue to reject work after Shutdown")
	}
}
