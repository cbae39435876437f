package hub

import (
	"context"
	"sync"
)

// kitchenLocks はキッチンごとの排他区間を提供する。
// ロックは最初の取得時に作成し、待機者がいなくなった時点で破棄する。
type kitchenLocks struct {
	mu    sync.Mutex
	locks map[string]*kitchenLock
}

type kitchenLock struct {
	sem  chan struct{}
	refs int
}

func newKitchenLocks() *kitchenLocks {
	return &kitchenLocks{locks: make(map[string]*kitchenLock)}
}

// acquire はキッチンの排他区間に入る。ctxがキャンセルされた場合は待機を中断する。
// 取得順に区間へ入ることは保証しないが、区間内の処理は完全に直列化される。
func (l *kitchenLocks) acquire(ctx context.Context, kitchenID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[kitchenID]
	if !ok {
		lk = &kitchenLock{sem: make(chan struct{}, 1)}
		l.locks[kitchenID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.sem <- struct{}{}:
	case <-ctx.Done():
		l.drop(kitchenID, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.sem
			l.drop(kitchenID, lk)
		})
	}, nil
}

func (l *kitchenLocks) drop(kitchenID string, lk *kitchenLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, kitchenID)
	}
}

// size は保持しているロック数を返す。テスト用。
func (l *kitchenLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// refs は区間内と待機中の処理の合計を返す。テスト用。
func (l *kitchenLocks) refs(kitchenID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lk, ok := l.locks[kitchenID]; ok {
		return lk.refs
	}
	return 0
}
