package queue

import (
	"testing"
	"time"
)

// TestBoundedCapacity checks the ring never accepts more than its
// capacity and reports fullness through TryPush.
func TestBoundedCapacity(t *testing.T) {
	r := New[int](4)

	for i := 0; i < 4; i++ {
		if !r.TryPush(i) {
			t.Fatalf("TryPush(%d) failed on non-full ring", i)
		}
	}
	if r.TryPush(99) {
		t.Error("TryPush succeeded on full ring")
	}
	if got := r.Len(); got != 4 {
		t.Errorf("Len() = %d, want 4", got)
	}
}

// TestFIFOOrder checks items drain in push order across wraparound.
func TestFIFOOrder(t *testing.T) {
	r := New[int](3)

	r.TryPush(1)
	r.TryPush(2)
	if v, _ := r.TryPop(); v != 1 {
		t.Fatalf("TryPop() = %d, want 1", v)
	}
	r.TryPush(3)
	r.TryPush(4)

	want := []int{2, 3, 4}
	for _, w := range want {
		v, ok := r.TryPop()
		if !ok || v != w {
			t.Errorf("TryPop() = %d,%v, want %d,true", v, ok, w)
		}
	}
	if _, ok := r.TryPop(); ok {
		t.Error("TryPop() on empty ring returned ok")
	}
}

// TestOverflowKeepsLatest reproduces a producer racing ahead of a
// stalled consumer: a rejected push triggers a full drain followed by
// pushing the newest item, so right after the policy fires exactly one
// frame survives. Nine pushes into a capacity-4 ring make the last
// push the one that overflows (fills at 0..3, drains at 4, fills at
// 5..7, drains again at 8).
func TestOverflowKeepsLatest(t *testing.T) {
	r := New[int](4)

	for i := 0; i <= 8; i++ {
		if r.TryPush(i) {
			continue
		}
		r.Clear()
		if !r.TryPush(i) {
			t.Fatalf("push %d failed after Clear", i)
		}
	}

	if got := r.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 (latest only)", got)
	}
	v, ok := r.TryPop()
	if !ok || v != 8 {
		t.Errorf("survivor = %d,%v, want 8,true", v, ok)
	}
	if got := r.Dropped(); got != 8 {
		t.Errorf("Dropped() = %d, want 8 after two overflow clears", got)
	}
}

// TestCloseWakesBlockedPop checks a goroutine parked in Pop unblocks
// promptly when the ring is closed.
func TestCloseWakesBlockedPop(t *testing.T) {
	r := New[int](2)

	done := make(chan bool, 1)
	go func() {
		_, ok := r.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Pop on closed empty ring returned ok=true")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

// TestDrainAfterClose checks buffered items stay readable after Close
// while new pushes are refused.
func TestDrainAfterClose(t *testing.T) {
	r := New[int](4)
	r.TryPush(1)
	r.TryPush(2)
	r.Close()

	if r.TryPush(3) {
		t.Error("TryPush succeeded after Close")
	}
	if v, ok := r.Pop(); !ok || v != 1 {
		t.Errorf("Pop() = %d,%v, want 1,true", v, ok)
	}
	if v, ok := r.Pop(); !ok || v != 2 {
		t.Errorf("Pop() = %d,%v, want 2,true", v, ok)
	}
	if _, ok := r.Pop(); ok {
		t.Error("Pop() after drain returned ok=true")
	}
}
