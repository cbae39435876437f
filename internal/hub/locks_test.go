package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestKitchenLocks_Serializes は同じキッチンの区間が同時に実行されないことを検証する。
func TestKitchenLocks_Serializes(t *testing.T) {
	l := newKitchenLocks()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.acquire(context.Background(), "K1")
			if err != nil {
				t.Errorf("acquire() error = %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if l.size() != 0 {
		t.Errorf("size() = %d, want 0 after all releases", l.size())
	}
}

// 異なるキッチンの区間は互いを待たないことを検証
func TestKitchenLocks_IndependentKitchens(t *testing.T) {
	l := newKitchenLocks()
	release1, err := l.acquire(context.Background(), "K1")
	if err != nil {
		t.Fatalf("acquire(K1) error = %v", err)
	}
	defer release1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release2, err := l.acquire(ctx, "K2")
	if err != nil {
		t.Fatalf("acquire(K2) should not block: %v", err)
	}
	release2()
}

// 待機中にキャンセルされた場合はエラーを返し、ロックが残らないことを検証
func TestKitchenLocks_CancelWhileWaiting(t *testing.T) {
	l := newKitchenLocks()
	release, err := l.acquire(context.Background(), "K1")
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.acquire(ctx, "K1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("acquire() error = %v, want DeadlineExceeded", err)
	}

	release()
	release() // 2回目は無視される
	if l.size() != 0 {
		t.Errorf("size() = %d, want 0", l.size())
	}
}
