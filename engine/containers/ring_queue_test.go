package containers

import (
	"errors"
	"testing"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](3)
	for i := 1; i <= 3; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if !rq.IsFull() {
		t.Fatal("queue should be full")
	}
	if err := rq.Enqueue(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	v, err := rq.Peek()
	if err != nil || v != 1 {
		t.Fatalf("peek = %d, %v; want 1", v, err)
	}

	for want := 1; want <= 3; want++ {
		got, err := rq.Dequeue()
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("dequeue = %d; want %d", got, want)
		}
	}
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestRingQueueWrapAround(t *testing.T) {
	rq := NewRingQueue[string](2)
	_ = rq.Enqueue("a")
	_ = rq.Enqueue("b")
	_, _ = rq.Dequeue()
	if err := rq.Enqueue("c"); err != nil {
		t.Fatalf("enqueue after dequeue: %v", err)
	}
	for _, want := range []string{"b", "c"} {
		got, _ := rq.Dequeue()
		if got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

func TestGrowingRingQueue(t *testing.T) {
	rq := NewGrowingRingQueue[int](2)
	_ = rq.Enqueue(0)
	_ = rq.Enqueue(1)
	_, _ = rq.Dequeue()
	for i := 2; i < 10; i++ {
		if err := rq.Enqueue(i); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if rq.Len() != 9 {
		t.Fatalf("len = %d; want 9", rq.Len())
	}
	if rq.Cap() < 9 {
		t.Fatalf("cap = %d; want >= 9", rq.Cap())
	}
	for want := 1; want < 10; want++ {
		got, err := rq.Dequeue()
		if err != nil || got != want {
			t.Fatalf("dequeue = %d, %v; want %d", got, err, want)
		}
	}
}
