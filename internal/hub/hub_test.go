package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/kitchenhub/internal/auth"
	"github.com/hitoshi/kitchenhub/internal/kitchen"
	"github.com/hitoshi/kitchenhub/internal/message"
	"github.com/hitoshi/kitchenhub/internal/middleware"
	"github.com/hitoshi/kitchenhub/internal/model"
	"github.com/hitoshi/kitchenhub/internal/repository"
	"github.com/hitoshi/kitchenhub/internal/security"
)

// hubEnv はインメモリストアと実際のWebSocketサーバーを持つテスト環境。
//
//	K1: alice（オーナー）、bob
//	K2: carol（オーナー）
//	dave: どのキッチンにも属さない
type hubEnv struct {
	t      *testing.T
	hub    *Hub
	mem    *repository.MemoryStore
	srv    *httptest.Server
	users  map[string]*model.User
	tokens map[string]string
}

func newHubEnv(t *testing.T, opts Options) *hubEnv {
	t.Helper()
	mem := repository.NewMemoryStore(model.RemovalClamp)
	env := &hubEnv{t: t, mem: mem, users: map[string]*model.User{}, tokens: map[string]string{}}
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		u := mem.CreateUser(name+"@example.com", name)
		env.users[name] = u
		env.tokens[name] = mem.CreateSession(u.ID, time.Hour).ID
	}

	mustStoreApply(t, mem, env.users["alice"].ID,
		message.KitchenCreate{Header: hdr("K1"), Name: "Home"},
		message.KitchenShare{Header: hdr("K1"), ShareWith: []string{"bob@example.com"}},
	)
	mustStoreApply(t, mem, env.users["carol"].ID, message.KitchenCreate{Header: hdr("K2"), Name: "Cabin"})

	validator := message.NewValidator(security.NewNameSanitizer(), 0)
	env.hub = New(validator, kitchen.NewMembershipOracle(mem), kitchen.NewStateStore(mem, discardLogger()), nil, discardLogger(), opts)

	handler := middleware.NewSessionMiddleware(auth.NewAuthenticator(mem), "")(http.HandlerFunc(env.hub.ServeWS))
	env.srv = httptest.NewServer(handler)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.hub.Shutdown(ctx)
		env.srv.Close()
	})
	return env
}

func hdr(kitchenID string) message.Header {
	return message.Header{KitchenID: kitchenID}
}

func mustStoreApply(t *testing.T, mem *repository.MemoryStore, actorID string, msgs ...message.Message) {
	t.Helper()
	if _, err := mem.Apply(context.Background(), actorID, msgs); err != nil {
		t.Fatalf("store apply error = %v", err)
	}
}

// dial はユーザーとして接続する。kitchensは接続時に配信を受けるキッチン。
func (e *hubEnv) dial(user string, kitchens ...string) (*websocket.Conn, *http.Response, error) {
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	if len(kitchens) > 0 {
		q := url.Values{}
		for _, k := range kitchens {
			q.Add("kitchen_id", k)
		}
		u += "?" + q.Encode()
	}
	header := http.Header{}
	if token, ok := e.tokens[user]; ok {
		header.Set("Cookie", middleware.DefaultSessionCookieName+"="+token)
	}
	return websocket.DefaultDialer.Dial(u, header)
}

// connect は接続し、kitchensへの登録が完了するまで待つ。
func (e *hubEnv) connect(user string, kitchens ...string) *websocket.Conn {
	e.t.Helper()
	ws, resp, err := e.dial(user, kitchens...)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		e.t.Fatalf("dial(%s) error = %v (status %d)", user, err, status)
	}
	e.t.Cleanup(func() { ws.Close() })

	userID := e.users[user].ID
	e.waitFor(func() bool {
		for _, c := range e.hub.Registry().Conns() {
			if c.userID == userID && len(e.hub.Registry().Kitchens(c)) >= len(kitchens) {
				return true
			}
		}
		return false
	})
	return ws
}

func (e *hubEnv) waitFor(cond func() bool) {
	e.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.t.Fatal("condition not met before deadline")
}

func (e *hubEnv) snapshot(kitchenID string) *repository.KitchenSnapshot {
	e.t.Helper()
	snap, ok := e.mem.Snapshot(kitchenID)
	if !ok {
		e.t.Fatalf("kitchen %s not found", kitchenID)
	}
	return snap
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write error = %v", err)
	}
}

func readRaw(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	typ, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("frame type = %d, want text", typ)
	}
	return data
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(readRaw(t, ws), &m); err != nil {
		t.Fatalf("invalid JSON frame: %v", err)
	}
	return m
}

// expectUpdate は次のフレームが指定の更新であることを検証する。
func expectUpdate(t *testing.T, ws *websocket.Conn, kitchenID, target, action string) map[string]any {
	t.Helper()
	m := readFrame(t, ws)
	if m["kitchen_id"] != kitchenID || m["update_target"] != target || m["action"] != action {
		t.Fatalf("frame = %v, want %s %s/%s", m, kitchenID, target, action)
	}
	return m
}

// expectError は次のフレームが指定コードのエラーであることを検証する。
func expectError(t *testing.T, ws *websocket.Conn, code string) map[string]any {
	t.Helper()
	m := readFrame(t, ws)
	body, ok := m["error"].(map[string]any)
	if !ok {
		t.Fatalf("frame = %v, want error %s", m, code)
	}
	if body["code"] != code {
		t.Fatalf("error code = %v, want %s", body["code"], code)
	}
	return m
}

func groceryFrame(kitchenID, action, productID string, amount int) string {
	b, _ := json.Marshal(map[string]any{
		"kitchen_id":    kitchenID,
		"update_target": "grocery",
		"action":        action,
		"data":          map[string]any{"product_id": productID, "amount": amount},
	})
	return string(b)
}

// TestHub_RejectsWithoutSession はセッションがない場合に401を返しアップグレードしないことを検証する。
func TestHub_RejectsWithoutSession(t *testing.T) {
	env := newHubEnv(t, Options{})
	env.tokens["ghost"] = "no-such-session"

	for _, user := range []string{"nobody", "ghost"} {
		_, resp, err := env.dial(user)
		if !errors.Is(err, websocket.ErrBadHandshake) {
			t.Fatalf("dial(%s) error = %v, want ErrBadHandshake", user, err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial(%s) status = %d, want 401", user, resp.StatusCode)
		}
	}
	if n := len(env.hub.Registry().Conns()); n != 0 {
		t.Errorf("registered conns = %d, want 0", n)
	}
}

// TestHub_WatchListIsChecked は接続時に指定したキッチンの権限が確認されることを検証する。
func TestHub_WatchListIsChecked(t *testing.T) {
	env := newHubEnv(t, Options{})

	tests := []struct {
		name     string
		user     string
		kitchens []string
		want     int
	}{
		{"非メンバー", "carol", []string{"K1"}, http.StatusForbidden},
		{"存在しないキッチン", "alice", []string{"K404"}, http.StatusNotFound},
		{"一部のみ権限なし", "alice", []string{"K1", "K2"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := env.dial(tt.user, tt.kitchens...)
			if !errors.Is(err, websocket.ErrBadHandshake) {
				t.Fatalf("dial() error = %v, want ErrBadHandshake", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

// TestHub_ScenarioAB は2人のメンバー間の追加・削除と、非メンバーのキッチンへの送信を検証する。
func TestHub_ScenarioAB(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("alice", "K1")
	b := env.connect("bob", "K1")

	// Aの追加はBに届き、内容は検証済みのメッセージと同じ
	send(t, a, groceryFrame("K1", "add", "P1", 2))
	got := readRaw(t, b)
	want, _ := message.Encode(message.GroceryAdd{Header: hdr("K1"), ProductID: "P1", Amount: 2})
	if string(got) != string(want) {
		t.Errorf("B received %s, want %s", got, want)
	}

	// Bの削除はAに届く。Aが次に受け取るのは自分の追加ではなくBの削除
	send(t, b, groceryFrame("K1", "remove", "P1", 2))
	m := expectUpdate(t, a, "K1", "grocery", "remove")
	if data := m["data"].(map[string]any); data["product_id"] != "P1" || data["amount"] != float64(2) {
		t.Errorf("remove data = %v", data)
	}
	if _, ok := env.snapshot("K1").Grocery["P1"]; ok {
		t.Error("P1 should be deleted from grocery list")
	}

	// 非メンバーのキッチンK2への送信はAにのみForbiddenが返り、状態は変わらない
	send(t, a, groceryFrame("K2", "add", "P1", 1))
	errFrame := expectError(t, a, model.ErrCodeForbidden)
	req := errFrame["request"].(map[string]any)
	if req["kitchen_id"] != "K2" || req["update_target"] != "grocery" || req["action"] != "add" {
		t.Errorf("request = %v", req)
	}
	if len(env.snapshot("K2").Grocery) != 0 {
		t.Error("K2 should be unchanged")
	}

	// Bはエラーも配信も受け取っていない。次に受け取るのはAの次の追加
	send(t, a, groceryFrame("K1", "add", "P2", 1))
	expectUpdate(t, b, "K1", "grocery", "add")
}

// TestHub_NonMemberNeverReceives は非メンバーの送信がForbiddenになり、配信も受け取らないことを検証する。
func TestHub_NonMemberNeverReceives(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("alice", "K1")
	b := env.connect("bob", "K1")
	c := env.connect("carol")

	send(t, c, groceryFrame("K1", "add", "P1", 5))
	expectError(t, c, model.ErrCodeForbidden)
	if len(env.snapshot("K1").Grocery) != 0 {
		t.Error("K1 should be unchanged")
	}
	for _, p := range env.hub.Registry().Peers("K1", nil) {
		if p.userID == env.users["carol"].ID {
			t.Error("non-member must not be registered under K1")
		}
	}

	// K1の更新はbobに届き、carolには届かない
	send(t, a, groceryFrame("K1", "add", "P1", 1))
	expectUpdate(t, b, "K1", "grocery", "add")
	send(t, c, `{"kitchen_id":"K2","update_target":"grocery","action":"add","data":{}}`)
	expectError(t, c, model.ErrCodeValidation)
}

// TestHub_ConcurrentAddsSum は同じ商品への並行した追加が失われないことを検証する。
func TestHub_ConcurrentAddsSum(t *testing.T) {
	env := newHubEnv(t, Options{MessageRate: 1000, MessageBurst: 1000})
	const clients, perClient = 4, 25

	conns := make([]*websocket.Conn, clients)
	for i := range conns {
		user := "alice"
		if i%2 == 1 {
			user = "bob"
		}
		conns[i] = env.connect(user, "K1")
	}

	var wg sync.WaitGroup
	for _, ws := range conns {
		wg.Add(1)
		go func(ws *websocket.Conn) {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				if err := ws.WriteMessage(websocket.TextMessage, []byte(groceryFrame("K1", "add", "P1", 1))); err != nil {
					t.Errorf("write error = %v", err)
					return
				}
			}
		}(ws)
	}
	wg.Wait()

	env.waitFor(func() bool { return env.snapshot("K1").Grocery["P1"] == clients*perClient })
}

// TestHub_ValidationErrorsKeepConnection は検証エラーが送信者にのみ返り、接続が維持されることを検証する。
func TestHub_ValidationErrorsKeepConnection(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("alice", "K1")
	b := env.connect("bob", "K1")

	send(t, a, `{"kitchen_id":"K1","update_target":"grocery","action":"fly","data":{}}`)
	expectError(t, a, model.ErrCodeValidation)

	send(t, a, `{"kitchen_id":"K1","update_target":"grocery","action":"add","data":{"product_id":"P1","amount":"two"}}`)
	expectError(t, a, model.ErrCodeValidation)

	send(t, a, `{"kitchen_id":"K1","update_target":"custom","action":"create","data":{"product_id":"C1","name":"Jam","barcodes":[]}}`)
	m := expectError(t, a, model.ErrCodeServerOnlyAction)
	if req := m["request"].(map[string]any); req["action"] != "create" {
		t.Errorf("request = %v", req)
	}
	if len(env.snapshot("K1").Products) != 0 {
		t.Error("server-only action must not be applied")
	}

	// 接続は維持され、Bが最初に受け取るのは有効な更新
	send(t, a, groceryFrame("K1", "add", "P1", 1))
	expectUpdate(t, b, "K1", "grocery", "add")
}

// TestHub_MalformedFrameClosesConnection は解析できないフレームで接続が終了することを検証する。
func TestHub_MalformedFrameClosesConnection(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("alice", "K1")

	send(t, a, `{"kitchen_id":`)
	expectError(t, a, model.ErrCodeMalformedFrame)

	_ = a.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := a.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseUnsupportedData) {
		t.Errorf("read error = %v, want close 1003", err)
	}
	env.waitFor(func() bool { return len(env.hub.Registry().Conns()) == 0 })
}

// TestHub_DisconnectUnregistersEverywhere は切断した接続が全てのキッチンから外れることを検証する。
func TestHub_DisconnectUnregistersEverywhere(t *testing.T) {
	env := newHubEnv(t, Options{})
	mustStoreApply(t, env.mem, env.users["alice"].ID, message.KitchenCreate{Header: hdr("K3"), Name: "Office"})

	a := env.connect("alice", "K1", "K3")
	b := env.connect("bob", "K1")
	if n := len(env.hub.Registry().Peers("K3", nil)); n != 1 {
		t.Fatalf("K3 peers = %d, want 1", n)
	}

	a.Close()
	env.waitFor(func() bool {
		return len(env.hub.Registry().Peers("K1", nil)) == 1 && len(env.hub.Registry().Peers("K3", nil)) == 0
	})

	// 残ったBへの配信は続く
	if err := env.hub.PublishAsMember(context.Background(), env.users["alice"].ID,
		message.GroceryAdd{Header: hdr("K1"), ProductID: "P1", Amount: 1}); err != nil {
		t.Fatalf("PublishAsMember() error = %v", err)
	}
	expectUpdate(t, b, "K1", "grocery", "add")
}

// TestHub_PublishConflict は既存の商品IDでのcustom/createがConflictになり商品が変わらないことを検証する。
func TestHub_PublishConflict(t *testing.T) {
	env := newHubEnv(t, Options{})
	b := env.connect("bob", "K1")
	ctx := context.Background()
	alice := env.users["alice"].ID

	if err := env.hub.PublishAsMember(ctx, alice, message.CustomCreate{Header: hdr("K1"), ProductID: "C1", Name: "Jam", Barcodes: []int64{1}}); err != nil {
		t.Fatalf("PublishAsMember() error = %v", err)
	}
	expectUpdate(t, b, "K1", "custom", "create")

	err := env.hub.PublishAsMember(ctx, alice, message.CustomCreate{Header: hdr("K1"), ProductID: "C1", Name: "Other", Barcodes: []int64{}})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeProductConflict {
		t.Fatalf("error = %v, want PRODUCT_CONFLICT", err)
	}
	if p := env.snapshot("K1").Products["C1"]; p.Name != "Jam" || len(p.Barcodes) != 1 {
		t.Errorf("product = %+v, want unchanged", p)
	}

	err = env.hub.PublishAsMember(ctx, env.users["dave"].ID, message.GroceryAdd{Header: hdr("K1"), ProductID: "P1", Amount: 1})
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeForbidden {
		t.Errorf("non-member publish error = %v, want FORBIDDEN", err)
	}
}

// TestHub_KitchenCreateNotifiesCreator はkitchen/createが作成者の接続に届き、以降の配信対象になることを検証する。
func TestHub_KitchenCreateNotifiesCreator(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("alice")
	ctx := context.Background()

	if err := env.hub.Publish(ctx, env.users["alice"].ID, message.KitchenCreate{Header: hdr("K9"), Name: "Boat"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	m := expectUpdate(t, a, "K9", "kitchen", "create")
	if data := m["data"].(map[string]any); data["name"] != "Boat" {
		t.Errorf("data = %v", data)
	}
	if n := len(env.hub.Registry().Peers("K9", nil)); n != 1 {
		t.Errorf("K9 peers = %d, want 1", n)
	}
}

// TestHub_ShareNotifiesNewMember は共有で追加されたユーザーの接続にも配信されることを検証する。
func TestHub_ShareNotifiesNewMember(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("alice", "K1")
	d := env.connect("dave")

	send(t, a, `{"kitchen_id":"K1","update_target":"kitchen","action":"share","data":{"share_with":["dave@example.com","ghost@example.com"]}}`)
	expectUpdate(t, d, "K1", "kitchen", "share")

	// daveは以降のK1の更新も受け取る
	send(t, a, groceryFrame("K1", "add", "P1", 1))
	expectUpdate(t, d, "K1", "grocery", "add")
	if _, ok := env.snapshot("K1").Members[env.users["dave"].ID]; !ok {
		t.Error("dave should be a member")
	}
}

// TestHub_KitchenDelete は削除が配信され、キッチンの登録が破棄されることを検証する。
func TestHub_KitchenDelete(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("alice", "K1")
	b := env.connect("bob", "K1")

	send(t, a, `{"kitchen_id":"K1","update_target":"kitchen","action":"delete","data":{}}`)
	expectUpdate(t, b, "K1", "kitchen", "delete")

	if n := len(env.hub.Registry().Peers("K1", nil)); n != 0 {
		t.Errorf("K1 peers = %d, want 0", n)
	}
	if _, ok := env.mem.Snapshot("K1"); ok {
		t.Error("K1 should be deleted")
	}
	env.waitFor(func() bool { return env.hub.locks.size() == 0 })
}

// TestHub_RateLimited は送信レートを超えたフレームがRATE_LIMITEDで拒否されることを検証する。
func TestHub_RateLimited(t *testing.T) {
	env := newHubEnv(t, Options{MessageRate: 0.001, MessageBurst: 1})
	a := env.connect("alice", "K1")
	b := env.connect("bob", "K1")

	send(t, a, groceryFrame("K1", "add", "P1", 1))
	send(t, a, groceryFrame("K1", "add", "P1", 1))
	expectError(t, a, model.ErrCodeRateLimited)
	expectUpdate(t, b, "K1", "grocery", "add")

	env.waitFor(func() bool { return env.snapshot("K1").Grocery["P1"] == 1 })
}

// TestHub_Leave は脱退したユーザーの接続に配信されなくなることを検証する。
func TestHub_Leave(t *testing.T) {
	env := newHubEnv(t, Options{})
	env.connect("alice", "K1")
	env.connect("bob", "K1")
	bob := env.users["bob"].ID

	if err := env.hub.Leave(context.Background(), bob, "K1"); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}

	peers := env.hub.Registry().Peers("K1", nil)
	if len(peers) != 1 || peers[0].userID != env.users["alice"].ID {
		t.Errorf("K1 peers = %v", connIDs(peers))
	}
	if _, ok := env.snapshot("K1").Members[bob]; ok {
		t.Error("bob should no longer be a member")
	}

	err := env.hub.Leave(context.Background(), bob, "K1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeForbidden {
		t.Errorf("second Leave() error = %v, want FORBIDDEN", err)
	}
}

// 脱退と同じキッチンへの送信が競合しても、脱退したユーザーが配信対象に残らないことを検証
func TestHub_LeaveRacingWithSend(t *testing.T) {
	env := newHubEnv(t, Options{})
	env.connect("alice", "K1")
	b := env.connect("bob")
	bob := env.users["bob"].ID

	release, err := env.hub.locks.acquire(context.Background(), "K1")
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}

	// bobの送信と脱退を、どちらも区間の前で待たせる
	send(t, b, groceryFrame("K1", "add", "P1", 1))
	env.waitFor(func() bool { return env.hub.locks.refs("K1") == 2 })
	leaveErr := make(chan error, 1)
	go func() { leaveErr <- env.hub.Leave(context.Background(), bob, "K1") }()
	env.waitFor(func() bool { return env.hub.locks.refs("K1") == 3 })

	if _, ok := env.snapshot("K1").Members[bob]; !ok {
		t.Fatal("leave should wait for the kitchen")
	}
	release()

	if err := <-leaveErr; err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	env.waitFor(func() bool { return env.hub.locks.size() == 0 })

	for _, c := range env.hub.Registry().Peers("K1", nil) {
		if c.userID == bob {
			t.Fatalf("bob's connection %s is still registered under K1", c.id)
		}
	}
}

// 区間の待機中に送信元が切断されても、読み込み済みの変更は反映・配信されることを検証
func TestHub_CloseWhileWaitingStillApplies(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("alice", "K1")
	b := env.connect("bob", "K1")
	alice := env.users["alice"].ID

	release, err := env.hub.locks.acquire(context.Background(), "K1")
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}

	send(t, a, groceryFrame("K1", "add", "P1", 2))
	env.waitFor(func() bool { return env.hub.locks.refs("K1") == 2 })

	for _, c := range env.hub.Registry().Conns() {
		if c.userID == alice {
			c.close(websocket.CloseTryAgainLater)
		}
	}
	release()

	expectUpdate(t, b, "K1", "grocery", "add")
	if got := env.snapshot("K1").Grocery["P1"]; got != 2 {
		t.Errorf("grocery P1 = %d, want 2", got)
	}
}

// 異なるキッチンを混在させた発行は不一致のkitchen_idを示して拒否されることを検証
func TestHub_PublishMixedKitchens(t *testing.T) {
	env := newHubEnv(t, Options{})

	err := env.hub.Publish(context.Background(), env.users["alice"].ID,
		message.GroceryAdd{Header: hdr("K1"), ProductID: "P1", Amount: 1},
		message.GroceryAdd{Header: hdr("K2"), ProductID: "P1", Amount: 1},
	)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeValidation {
		t.Fatalf("error = %v, want VALIDATION_ERROR", err)
	}
	if !strings.Contains(apiErr.Message, `"K2"`) {
		t.Errorf("message = %q, want it to name K2", apiErr.Message)
	}
	if len(env.snapshot("K1").Grocery) != 0 || len(env.snapshot("K2").Grocery) != 0 {
		t.Error("no kitchen should be changed")
	}
}

// TestHub_CheckOrigin は許可リストによるOrigin検証を検証する。
func TestHub_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"Originなし", nil, "", true},
		{"同一ホスト", nil, "http://kitchen.example.com", true},
		{"別ホスト", nil, "http://evil.example.com", false},
		{"許可リスト内", []string{"https://app.example.com"}, "https://app.example.com", true},
		{"許可リスト外", []string{"https://app.example.com"}, "http://kitchen.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil, nil, nil, nil, discardLogger(), Options{AllowedOrigins: tt.allowed})
			req := httptest.NewRequest(http.MethodGet, "http://kitchen.example.com/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := h.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Shutdown後の接続は503で拒否されることを検証
func TestHub_ShutdownClosesConnections(t *testing.T) {
	env := newHubEnv(t, Options{})
	a := env.connect("alice", "K1")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := env.hub.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	_ = a.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := a.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read error = %v, want close 1001", err)
	}
	_, resp, err := env.dial("alice")
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("dial after shutdown = %v", err)
	}
}
