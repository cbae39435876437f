package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// ピアへの書き込みに許容する時間
	writeWait = 10 * time.Second

	// ピアからのpongを待つ時間
	pongWait = 60 * time.Second

	// pingの送信間隔。pongWaitより短くする。
	pingPeriod = (pongWait * 9) / 10

	// ピアから受け付けるフレームの最大サイズ（デフォルト）
	defaultMaxMessageSize = 8192

	// 送信キューの長さ（デフォルト）
	defaultSendBuffer = 256
)

// Conn は1ユーザーのWebSocket接続を表す。
// 状態はConnecting → Authenticated → Active → Closedの順に遷移し、Closedは終端。
type Conn struct {
	id      string
	userID  string
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter

	mu        sync.Mutex
	closed    bool
	closeCode int
}

func newConn(id, userID string, ws *websocket.Conn, sendBuffer int, limiter *rate.Limiter) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Conn{
		id:      id,
		userID:  userID,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

// ID は接続IDを返す。
func (c *Conn) ID() string { return c.id }

// UserID は接続しているユーザーのIDを返す。
func (c *Conn) UserID() string { return c.userID }

// trySend はフレームを送信キューに積む。キューが満杯または切断済みの場合はfalseを返す。
func (c *Conn) trySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close は接続をClosedにする。最初の呼び出しのみtrueを返す。
// codeはピアに送るcloseフレームのステータスコード。
func (c *Conn) close(code int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	c.closeCode = code
	close(c.done)
	return true
}

// isClosed は接続がClosedかどうかを返す。
func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writePump は送信キューのフレームをWebSocketに書き込む。
// 切断時はwriteCloseでcloseフレームを送って終了する。
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		// 切断済みならキューより先にcloseを処理する
		select {
		case <-c.done:
			c.writeClose()
			return
		default:
		}

		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.close(websocket.CloseAbnormalClosure)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure)
				return
			}

		case <-c.done:
			c.writeClose()
			return
		}
	}
}

// writeClose はcloseフレームを送る。遅いピアとして外した接続にはキューを書き出さない。
func (c *Conn) writeClose() {
	if c.closeCode != websocket.CloseTryAgainLater {
		c.drain()
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, ""))
}

func (c *Conn) write(frame []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) drain() {
	for {
		// 切断済みならキューより先にcloseを処理する
		select {
		case <-c.done:
			c.writeClose()
			return
		default:
		}

		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
