package hub

import (
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/kitchenhub/internal/metrics"
)

// Broadcaster は検証済みのフレームをキッチンの接続に配信する。
// 配信は接続ごとにベストエフォートで、1つの接続の失敗が他を妨げることはない。
type Broadcaster struct {
	registry *Registry
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewBroadcaster はBroadcasterを生成する。
func NewBroadcaster(registry *Registry, m metrics.MetricsCollector, logger *slog.Logger) *Broadcaster {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{registry: registry, metrics: m, logger: logger}
}

// Broadcast はフレームをキッチンの全接続（excludingを除く）に配信し、配信数を返す。
// 送信キューが満杯の接続は切断し、即座に全キッチンから外す。
func (b *Broadcaster) Broadcast(kitchenID string, frame []byte, excluding *Conn) int {
	delivered, dropped := 0, 0
	for _, c := range b.registry.Peers(kitchenID, excluding) {
		if c.trySend(frame) {
			delivered++
			continue
		}
		if c.close(websocket.CloseTryAgainLater) {
			dropped++
			b.logger.Warn("evicted slow connection",
				slog.String("conn_id", c.id),
				slog.String("user_id", c.userID),
				slog.String("kitchen_id", kitchenID),
			)
		}
		b.registry.Unregister(c)
	}
	b.metrics.RecordBroadcast(delivered, dropped)
	return delivered
}
