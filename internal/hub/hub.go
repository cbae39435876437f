package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/hitoshi/kitchenhub/internal/kitchen"
	"github.com/hitoshi/kitchenhub/internal/message"
	"github.com/hitoshi/kitchenhub/internal/metrics"
	"github.com/hitoshi/kitchenhub/internal/middleware"
	"github.com/hitoshi/kitchenhub/internal/model"
)

// Oracle はキッチンのメンバーシップを判定する。
type Oracle interface {
	IsMember(ctx context.Context, userID, kitchenID string) (bool, error)
	CheckAccess(ctx context.Context, userID, kitchenID string) error
	Leave(ctx context.Context, userID, kitchenID string) error
}

// Store はメッセージをキッチンの状態に反映する。返すエラーは*model.APIError。
type Store interface {
	Apply(ctx context.Context, actorID string, msgs ...message.Message) (*model.ApplyResult, error)
}

// Options はHubの動作設定。
type Options struct {
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
	MessageRate    float64
	MessageBurst   int
	ApplyTimeout   time.Duration
}

// Hub は接続ごとの受信処理とキッチンごとの反映・配信を調停する。
//
// 同じキッチンへの反映と配信は1つの排他区間で行うため、全ての接続は
// 同じ順序で変更を受け取る。異なるキッチンの処理は並行に進む。
type Hub struct {
	registry    *Registry
	locks       *kitchenLocks
	broadcaster *Broadcaster
	validator   *message.Validator
	oracle      Oracle
	store       Store
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	opts        Options

	wg       sync.WaitGroup
	mu       sync.Mutex
	shutdown bool
}

// New はHubを生成する。
func New(validator *message.Validator, oracle Oracle, store Store, m metrics.MetricsCollector, logger *slog.Logger, opts Options) *Hub {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.MessageRate <= 0 {
		opts.MessageRate = 20
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 40
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = 10 * time.Second
	}

	registry := NewRegistry()
	h := &Hub{
		registry:    registry,
		locks:       newKitchenLocks(),
		broadcaster: NewBroadcaster(registry, m, logger),
		validator:   validator,
		oracle:      oracle,
		store:       store,
		metrics:     m,
		logger:      logger,
		opts:        opts,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Registry は接続の登録情報を返す。
func (h *Hub) Registry() *Registry { return h.registry }

// ServeWS はWebSocket接続を受け付ける。
// セッションミドルウェアを通過している必要があり、未認証の場合は401を返してアップグレードしない。
// クエリパラメータkitchen_idを複数指定すると、接続時点でそれらのキッチンの配信を受け取る。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	watch, status, apiErr := h.checkWatchList(r.Context(), userID, r.URL.Query()["kitchen_id"])
	if apiErr != nil {
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}

	if !h.track() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		h.logger.Warn("websocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	c := newConn(uuid.NewString(), userID, ws, h.opts.SendBuffer,
		rate.NewLimiter(rate.Limit(h.opts.MessageRate), h.opts.MessageBurst))
	h.registry.Add(c)
	watch = h.watch(r.Context(), c, watch)
	if h.shuttingDown() {
		c.close(websocket.CloseGoingAway)
	}
	h.metrics.ConnectionOpened()
	h.logger.Info("connection opened",
		slog.String("conn_id", c.id),
		slog.String("user_id", userID),
		slog.Any("kitchens", watch),
	)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	go func() {
		<-c.done
		cancel()
	}()

	go c.writePump()
	h.readPump(ctx, c)
}

// checkWatchList は接続時に指定されたキッチンへのアクセスを確認する。
func (h *Hub) checkWatchList(ctx context.Context, userID string, kitchenIDs []string) ([]string, int, *model.APIError) {
	seen := make(map[string]struct{}, len(kitchenIDs))
	watch := make([]string, 0, len(kitchenIDs))
	for _, kitchenID := range kitchenIDs {
		if _, ok := seen[kitchenID]; ok {
			continue
		}
		seen[kitchenID] = struct{}{}

		if err := message.CheckID("kitchen_id", kitchenID); err != nil {
			return nil, http.StatusBadRequest, model.NewValidationError(err.Error())
		}
		if err := h.oracle.CheckAccess(ctx, userID, kitchenID); err != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) {
				return nil, middleware.StatusCode(apiErr.Code), apiErr
			}
			h.logger.Error("failed to check kitchen access",
				slog.String("user_id", userID),
				slog.String("kitchen_id", kitchenID),
				slog.String("error", err.Error()),
			)
			return nil, http.StatusInternalServerError, model.NewInternalError()
		}
		watch = append(watch, kitchenID)
	}
	return watch, 0, nil
}

// watch はアップグレード後に接続をキッチンへ登録する。
// 確認から登録までの間に脱退や削除が起きうるため、排他区間内でメンバーシップを再確認する。
func (h *Hub) watch(ctx context.Context, c *Conn, kitchenIDs []string) []string {
	registered := make([]string, 0, len(kitchenIDs))
	for _, kitchenID := range kitchenIDs {
		ok, err := h.withKitchen(ctx, kitchenID, func(ctx context.Context) (bool, error) {
			member, err := h.oracle.IsMember(ctx, c.userID, kitchenID)
			if err != nil || !member {
				return false, err
			}
			return h.registry.Register(kitchenID, c), nil
		})
		if err != nil {
			h.logger.Error("failed to register watched kitchen",
				slog.String("conn_id", c.id),
				slog.String("kitchen_id", kitchenID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			registered = append(registered, kitchenID)
		}
	}
	return registered
}

// withKitchen はキッチンの排他区間でfnを実行する。
// 待機とfnには呼び出し元のキャンセルを伝えず、ApplyTimeoutで打ち切る。
func (h *Hub) withKitchen(ctx context.Context, kitchenID string, fn func(ctx context.Context) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.ApplyTimeout)
	defer cancel()

	release, err := h.locks.acquire(ctx, kitchenID)
	if err != nil {
		return false, err
	}
	defer release()
	return fn(ctx)
}

// readPump は接続からフレームを読み、1件ずつ処理する。
// 戻った時点で接続は全てのキッチンから外れている。
func (h *Hub) readPump(ctx context.Context, c *Conn) {
	defer h.disconnect(c)

	c.ws.SetReadLimit(h.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.isClosed() {
				h.logger.Warn("websocket read error",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if c.isClosed() {
			return
		}

		if typ != websocket.TextMessage {
			h.reject(c, "", nil, model.NewMalformedFrameError())
			c.close(websocket.CloseUnsupportedData)
			return
		}
		if !c.limiter.Allow() {
			h.reject(c, "", nil, model.NewRateLimitedError())
			continue
		}
		if !h.handleFrame(ctx, c, data) {
			c.close(websocket.CloseUnsupportedData)
			return
		}
	}
}

// disconnect は接続をClosedにし、全てのキッチンから同期的に外す。
func (h *Hub) disconnect(c *Conn) {
	c.close(websocket.CloseNormalClosure)
	kitchens := h.registry.Unregister(c)
	h.metrics.ConnectionClosed()
	h.logger.Info("connection closed",
		slog.String("conn_id", c.id),
		slog.String("user_id", c.userID),
		slog.Any("kitchens", kitchens),
	)
}

// handleFrame は1フレームを検証・反映・配信する。
// 解析できないフレームの場合のみfalseを返し、接続を終了させる。
func (h *Hub) handleFrame(ctx context.Context, c *Conn, data []byte) bool {
	m, err := h.validator.ValidateClient(data)
	if err != nil {
		var serverOnly *message.ServerOnlyError
		switch {
		case errors.Is(err, message.ErrMalformed):
			h.reject(c, "", nil, model.NewMalformedFrameError())
			return false
		case errors.As(err, &serverOnly):
			h.reject(c, serverOnly.Kind.String(), &message.RequestRef{
				KitchenID:    serverOnly.KitchenID,
				UpdateTarget: serverOnly.Kind.Target,
				Action:       serverOnly.Kind.Action,
			}, model.NewServerOnlyActionError(string(serverOnly.Kind.Target), string(serverOnly.Kind.Action)))
		default:
			h.reject(c, "", nil, model.NewValidationError(err.Error()))
		}
		return true
	}

	if apiErr := h.dispatch(ctx, c, c.userID, true, []message.Message{m}); apiErr != nil {
		h.reject(c, m.Kind().String(), message.RefOf(m), apiErr)
	}
	return true
}

// dispatch はキッチンの排他区間でメンバーシップ確認・登録・反映・配信を行う。
// originがnilの場合はサーバー発行のメッセージとして全接続に配信する。
func (h *Hub) dispatch(ctx context.Context, origin *Conn, actorID string, checkMember bool, msgs []message.Message) *model.APIError {
	kitchenID := msgs[0].Kitchen()

	frames := make([][]byte, len(msgs))
	for i, m := range msgs {
		frame, err := message.Encode(m)
		if err != nil {
			h.logger.Error("failed to encode message",
				slog.String("kind", m.Kind().String()),
				slog.String("error", err.Error()),
			)
			return model.NewInternalError()
		}
		frames[i] = frame
	}

	// 読み込み済みのフレームは接続が閉じても反映する。待機はApplyTimeoutで打ち切る
	lockCtx, cancelLock := context.WithTimeout(context.WithoutCancel(ctx), h.opts.ApplyTimeout)
	defer cancelLock()

	release, err := h.locks.acquire(lockCtx, kitchenID)
	if err != nil {
		h.logger.Warn("timed out waiting for kitchen",
			slog.String("kitchen_id", kitchenID),
			slog.String("error", err.Error()),
		)
		return model.NewApplyFailedError()
	}
	defer release()

	if checkMember {
		ok, err := h.oracle.IsMember(lockCtx, actorID, kitchenID)
		if err != nil {
			h.logger.Error("failed to check membership",
				slog.String("user_id", actorID),
				slog.String("kitchen_id", kitchenID),
				slog.String("error", err.Error()),
			)
			return model.NewApplyFailedError()
		}
		if !ok {
			return model.NewForbiddenError(kitchenID)
		}
	}
	if origin != nil {
		h.registry.Register(kitchenID, origin)
	}

	// 反映の途中で接続が閉じても、反映と配信は最後まで行う
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.opts.ApplyTimeout)
	defer cancel()

	start := time.Now()
	result, err := h.store.Apply(applyCtx, actorID, msgs...)
	h.metrics.RecordApplyLatency(time.Since(start))
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return model.NewApplyFailedError()
	}

	if len(result.NotifyUserIDs) > 0 {
		h.registry.RegisterUsers(kitchenID, result.NotifyUserIDs)
	}
	for i, frame := range frames {
		h.broadcaster.Broadcast(kitchenID, frame, origin)
		h.metrics.RecordMessage(msgs[i].Kind().String(), metrics.OutcomeApplied, "")
	}
	if result.KitchenDeleted {
		h.registry.RemoveKitchen(kitchenID)
	}
	return nil
}

// reject はエラーフレームを送信者のみに送る。
func (h *Hub) reject(c *Conn, kind string, req *message.RequestRef, apiErr *model.APIError) {
	h.metrics.RecordMessage(kind, metrics.OutcomeRejected, apiErr.Code)
	h.logger.Warn("message rejected",
		slog.String("conn_id", c.id),
		slog.String("user_id", c.userID),
		slog.String("kind", kind),
		slog.String("code", apiErr.Code),
	)

	frame, err := message.EncodeError(message.ErrorBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}, req)
	if err != nil {
		h.logger.Error("failed to encode error frame", slog.String("error", err.Error()))
		return
	}
	c.trySend(frame)
}

// Publish はサーバー発行のメッセージをメンバーシップ確認なしで反映・配信する。
func (h *Hub) Publish(ctx context.Context, actorID string, msgs ...message.Message) error {
	if apiErr := h.publish(ctx, actorID, false, msgs); apiErr != nil {
		return apiErr
	}
	return nil
}

// PublishAsMember はuserIDがメンバーであることを排他区間内で確認してから反映・配信する。
func (h *Hub) PublishAsMember(ctx context.Context, userID string, msgs ...message.Message) error {
	if apiErr := h.publish(ctx, userID, true, msgs); apiErr != nil {
		return apiErr
	}
	return nil
}

func (h *Hub) publish(ctx context.Context, actorID string, checkMember bool, msgs []message.Message) *model.APIError {
	if len(msgs) == 0 {
		return nil
	}
	kitchenID := msgs[0].Kitchen()
	for _, m := range msgs[1:] {
		if m.Kitchen() != kitchenID {
			return model.NewValidationError(fmt.Sprintf(
				"kitchen_id: %q does not match %q; all messages must target the same kitchen", m.Kitchen(), kitchenID))
		}
	}
	return h.dispatch(ctx, nil, actorID, checkMember, msgs)
}

// Leave はキッチンの排他区間でユーザーをメンバーから外し、その全接続を配信対象から外す。
// 同じ区間で登録する反映処理と競合しないため、脱退後に配信が届くことはない。
func (h *Hub) Leave(ctx context.Context, userID, kitchenID string) error {
	_, err := h.withKitchen(ctx, kitchenID, func(ctx context.Context) (bool, error) {
		if err := h.oracle.Leave(ctx, userID, kitchenID); err != nil {
			return false, err
		}
		h.registry.UnregisterUser(kitchenID, userID)
		return true, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewApplyFailedError()
	}
	return err
}

// Shutdown は全ての接続を閉じ、受信処理の終了を待つ。
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	h.mu.Unlock()

	for _, c := range h.registry.Conns() {
		c.close(websocket.CloseGoingAway)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) shuttingDown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shutdown
}

func (h *Hub) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	h.wg.Add(1)
	return true
}

// checkOrigin はOriginヘッダーを検証する。
// 許可リストが空の場合はHostと同じオリジンのみ許可する。
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.opts.AllowedOrigins) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ kitchen.Publisher = (*Hub)(nil)
