package router

import (
	"sync"
	"testing"
	"time"
)

func TestGrowableBuffer_BasicSendDrain(t *testing.T) {
	buf := NewGrowableBuffer[int](10)

	for i := 0; i < 5; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}

	got := buf.DrainTo(0)
	if len(got) != 5 {
		t.Fatalf("drained %d items, want 5", len(got))
	}
	for i, val := range got {
		if val != i {
			t.Errorf("item %d = %d, want %d", i, val, i)
		}
	}

	if buf.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buf.Len())
	}
}

func TestGrowableBuffer_GrowAt70Percent(t *testing.T) {
	buf := NewGrowableBuffer[int](10)

	for i := 0; i < 7; i++ {
		buf.Send(i)
	}

	stats := buf.Stats()
	if stats.Capacity <= 10 {
		t.Errorf("Capacity = %d, expected growth after 70%% fill", stats.Capacity)
	}
	if stats.ResizeCount != 1 {
		t.Errorf("ResizeCount = %d, want 1", stats.ResizeCount)
	}

	// Growth must not reorder or lose items.
	for i, val := range buf.DrainTo(0) {
		if val != i {
			t.Errorf("item %d = %d, want %d", i, val, i)
		}
	}
}

func TestGrowableBuffer_MultipleGrows(t *testing.T) {
	buf := NewGrowableBuffer[int](4)

	for i := 0; i < 100; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	stats := buf.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.ResizeCount < 3 {
		t.Errorf("ResizeCount = %d, expected at least 3 resizes", stats.ResizeCount)
	}

	for i, val := range buf.DrainTo(0) {
		if val != i {
			t.Errorf("item %d = %d, want %d", i, val, i)
		}
	}
}

func TestGrowableBuffer_DrainToMax(t *testing.T) {
	buf := NewGrowableBuffer[int](10)

	for i := 0; i < 6; i++ {
		buf.Send(i)
	}

	first := buf.DrainTo(4)
	if len(first) != 4 {
		t.Fatalf("drained %d items, want 4", len(first))
	}
	second := buf.DrainTo(4)
	if len(second) != 2 {
		t.Fatalf("drained %d items, want 2", len(second))
	}
	if second[0] != 4 || second[1] != 5 {
		t.Errorf("second drain = %v, want [4 5]", second)
	}
	if buf.DrainTo(4) != nil {
		t.Error("expected nil drain from empty buffer")
	}
}

func TestGrowableBuffer_BlockingReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](10)

	received := make(chan int, 1)
	go func() {
		val, ok := buf.Receive()
		if ok {
			received <- val
		}
	}()

	// Give receiver time to start waiting
	time.Sleep(10 * time.Millisecond)

	buf.Send(42)

	select {
	case val := <-received:
		if val != 42 {
			t.Errorf("received %d, want 42", val)
		}
	case <-time.After(time.Second):
		t.Fatal("Receive never unblocked")
	}
}

func TestGrowableBuffer_Close(t *testing.T) {
	buf := NewGrowableBuffer[int](10)

	buf.Send(1)
	buf.Close()

	if buf.Send(2) {
		t.Error("Send after Close returned true")
	}

	// Remaining items drain before the closed signal.
	val, ok := buf.Receive()
	if !ok || val != 1 {
		t.Errorf("Receive = (%d, %v), want (1, true)", val, ok)
	}
	if _, ok := buf.Receive(); ok {
		t.Error("Receive on closed empty buffer returned true")
	}
}

func TestGrowableBuffer_ConcurrentSendReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](8)

	const total = 1000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			buf.Send(i)
		}
		buf.Close()
	}()

	seen := 0
	for {
		if _, ok := buf.Receive(); !ok {
			break
		}
		seen++
	}
	wg.Wait()

	if seen != total {
		t.Errorf("received %d items, want %d", seen, total)
	}
}
