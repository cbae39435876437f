package hub

import (
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestBroadcaster_DeliversToPeersExceptOrigin は送信元以外の全接続に同じフレームが届くことを検証する。
func TestBroadcaster_DeliversToPeersExceptOrigin(t *testing.T) {
	r := NewRegistry()
	a, b, c := testConn("a", "u1"), testConn("b", "u2"), testConn("c", "u3")
	for _, conn := range []*Conn{a, b, c} {
		r.Add(conn)
		r.Register("K1", conn)
	}
	bc := NewBroadcaster(r, nil, discardLogger())

	frame := []byte(`{"kitchen_id":"K1"}`)
	if n := bc.Broadcast("K1", frame, a); n != 2 {
		t.Errorf("Broadcast() = %d, want 2", n)
	}
	if len(a.send) != 0 {
		t.Error("origin should not receive its own frame")
	}
	for _, conn := range []*Conn{b, c} {
		got := <-conn.send
		if string(got) != string(frame) {
			t.Errorf("%s received %s", conn.id, got)
		}
	}
}

// 送信キューが満杯の接続は切断され、他の接続への配信は続くことを検証
func TestBroadcaster_EvictsSlowPeer(t *testing.T) {
	r := NewRegistry()
	slow := newConn("slow", "u1", nil, 1, nil)
	fast := newConn("fast", "u2", nil, 4, nil)
	for _, conn := range []*Conn{slow, fast} {
		r.Add(conn)
		r.Register("K1", conn)
		r.Register("K2", conn)
	}
	bc := NewBroadcaster(r, nil, discardLogger())

	bc.Broadcast("K1", []byte("1"), nil)
	if n := bc.Broadcast("K1", []byte("2"), nil); n != 1 {
		t.Errorf("Broadcast() = %d, want 1", n)
	}

	if !slow.isClosed() {
		t.Error("slow connection should be closed")
	}
	if len(r.Kitchens(slow)) != 0 {
		t.Errorf("slow connection still registered under %v", r.Kitchens(slow))
	}
	if len(fast.send) != 2 {
		t.Errorf("fast connection queued %d frames, want 2", len(fast.send))
	}
	if n := bc.Broadcast("K2", []byte("3"), nil); n != 1 {
		t.Errorf("Broadcast(K2) = %d, want 1", n)
	}
}

// 切断済みの接続にはフレームを積まないことを検証
func TestConn_TrySendAfterClose(t *testing.T) {
	c := testConn("a", "u1")
	if !c.close(1000) {
		t.Fatal("first close() should return true")
	}
	if c.close(1000) {
		t.Error("second close() should return false")
	}
	if c.trySend([]byte("x")) {
		t.Error("trySend() after close should fail")
	}
}
