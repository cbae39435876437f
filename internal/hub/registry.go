// Package hub はWebSocket接続を管理し、キッチンごとに直列化した反映と配信を行う。
package hub

import "sync"

// Registry はキッチン・ユーザーと接続の対応を保持する。
// 接続の所有者はHubで、Registryは参照のみを持つ。
type Registry struct {
	mu         sync.RWMutex
	byKitchen  map[string]map[*Conn]struct{}
	byUser     map[string]map[*Conn]struct{}
	kitchensOf map[*Conn]map[string]struct{}
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{
		byKitchen:  make(map[string]map[*Conn]struct{}),
		byUser:     make(map[string]map[*Conn]struct{}),
		kitchensOf: make(map[*Conn]map[string]struct{}),
	}
}

// Add は接続を登録する。キッチンへの登録はRegisterで行う。
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.kitchensOf[c]; ok {
		return
	}
	r.kitchensOf[c] = make(map[string]struct{})
	addTo(r.byUser, c.userID, c)
}

// Register は接続をキッチンの配信対象に加える。
// Addされていない、またはUnregister済みの接続は登録しない。
func (r *Registry) Register(kitchenID string, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	kitchens, ok := r.kitchensOf[c]
	if !ok {
		return false
	}
	if _, ok := kitchens[kitchenID]; ok {
		return false
	}
	kitchens[kitchenID] = struct{}{}
	addTo(r.byKitchen, kitchenID, c)
	return true
}

// RegisterUsers はユーザーの全接続をキッチンの配信対象に加える。
func (r *Registry) RegisterUsers(kitchenID string, userIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, userID := range userIDs {
		for c := range r.byUser[userID] {
			r.kitchensOf[c][kitchenID] = struct{}{}
			addTo(r.byKitchen, kitchenID, c)
		}
	}
}

// Unregister は接続を全てのキッチンから外し、登録していたキッチンを返す。
// 複数回呼んでも安全。
func (r *Registry) Unregister(c *Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	kitchens, ok := r.kitchensOf[c]
	if !ok {
		return nil
	}
	delete(r.kitchensOf, c)
	removeFrom(r.byUser, c.userID, c)

	ids := make([]string, 0, len(kitchens))
	for kitchenID := range kitchens {
		removeFrom(r.byKitchen, kitchenID, c)
		ids = append(ids, kitchenID)
	}
	return ids
}

// UnregisterUser はユーザーの全接続をキッチンの配信対象から外す。
func (r *Registry) UnregisterUser(kitchenID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.byUser[userID] {
		delete(r.kitchensOf[c], kitchenID)
		removeFrom(r.byKitchen, kitchenID, c)
	}
}

// RemoveKitchen はキッチンの登録を全て削除する。
func (r *Registry) RemoveKitchen(kitchenID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.byKitchen[kitchenID] {
		delete(r.kitchensOf[c], kitchenID)
	}
	delete(r.byKitchen, kitchenID)
}

// Peers はキッチンに登録された接続のうちexcluding以外を返す。
func (r *Registry) Peers(kitchenID string, excluding *Conn) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byKitchen[kitchenID]
	peers := make([]*Conn, 0, len(set))
	for c := range set {
		if c != excluding {
			peers = append(peers, c)
		}
	}
	return peers
}

// Kitchens は接続が登録されているキッチンのIDを返す。
func (r *Registry) Kitchens(c *Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.kitchensOf[c]))
	for kitchenID := range r.kitchensOf[c] {
		ids = append(ids, kitchenID)
	}
	return ids
}

// Conns は登録中の全接続を返す。
func (r *Registry) Conns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.kitchensOf))
	for c := range r.kitchensOf {
		conns = append(conns, c)
	}
	return conns
}

// KitchenCount は1つ以上の接続が登録されているキッチン数を返す。テスト用。
func (r *Registry) KitchenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKitchen)
}

func addTo(m map[string]map[*Conn]struct{}, key string, c *Conn) {
	set, ok := m[key]
	if !ok {
		set = make(map[*Conn]struct{})
		m[key] = set
	}
	set[c] = struct{}{}
}

func removeFrom(m map[string]map[*Conn]struct{}, key string, c *Conn) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m, key)
	}
}
