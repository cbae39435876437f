package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/kitchenhub/internal/message"
	"github.com/hitoshi/kitchenhub/internal/model"
)

// InventoryKey は在庫項目のキー。
type InventoryKey struct {
	ProductID string
	Expiry    int64
}

// KitchenSnapshot はキッチン状態の複製。テストや診断用に参照する。
type KitchenSnapshot struct {
	Kitchen   model.Kitchen
	Members   map[string]model.MemberRole
	Grocery   map[string]int64
	Inventory map[InventoryKey]int64
	Products  map[string]model.CustomProduct
}

type memProduct struct {
	product model.CustomProduct
	image   *model.ProductImage
}

type memKitchen struct {
	kitchen   model.Kitchen
	members   map[string]model.MemberRole
	grocery   map[string]int64
	inventory map[InventoryKey]int64
	products  map[string]*memProduct
}

func (k *memKitchen) clone() *memKitchen {
	c := &memKitchen{
		kitchen:   k.kitchen,
		members:   make(map[string]model.MemberRole, len(k.members)),
		grocery:   make(map[string]int64, len(k.grocery)),
		inventory: make(map[InventoryKey]int64, len(k.inventory)),
		products:  make(map[string]*memProduct, len(k.products)),
	}
	for id, role := range k.members {
		c.members[id] = role
	}
	for id, n := range k.grocery {
		c.grocery[id] = n
	}
	for key, n := range k.inventory {
		c.inventory[key] = n
	}
	for id, p := range k.products {
		cp := *p
		cp.product.Barcodes = append([]int64(nil), p.product.Barcodes...)
		c.products[id] = &cp
	}
	return c
}

// MemoryStore はプロセス内メモリに状態を保持するストア。
// 全リポジトリインターフェースを実装し、開発環境とテストで使用する。
// Applyは複製した状態に反映してから差し替えるため、失敗時は何も変更しない。
type MemoryStore struct {
	mu       sync.RWMutex
	policy   model.RemovalPolicy
	now      func() time.Time
	users    map[string]*model.User
	sessions map[string]*model.Session
	kitchens map[string]*memKitchen
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore(policy model.RemovalPolicy) *MemoryStore {
	if policy == "" {
		policy = model.RemovalClamp
	}
	return &MemoryStore{
		policy:   policy,
		now:      time.Now,
		users:    map[string]*model.User{},
		sessions: map[string]*model.Session{},
		kitchens: map[string]*memKitchen{},
	}
}

// CreateUser はユーザーを登録する。
func (s *MemoryStore) CreateUser(email, name string) *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	u := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[u.ID] = u
	return u
}

// CreateSession はユーザーのセッションを登録する。
func (s *MemoryStore) CreateSession(userID string, ttl time.Duration) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	sess := &model.Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	s.sessions[sess.ID] = sess
	return sess
}

// Snapshot はキッチン状態の複製を返す。存在しない場合はfalseを返す。
func (s *MemoryStore) Snapshot(kitchenID string) (*KitchenSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.kitchens[kitchenID]
	if !ok {
		return nil, false
	}
	c := k.clone()
	snap := &KitchenSnapshot{
		Kitchen:   c.kitchen,
		Members:   c.members,
		Grocery:   c.grocery,
		Inventory: c.inventory,
		Products:  make(map[string]model.CustomProduct, len(c.products)),
	}
	for id, p := range c.products {
		snap.Products[id] = p.product
	}
	return snap, true
}

// FindByID は有効期限内のセッションを返す。
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

// DeleteExpired は期限切れのセッションを削除する。
func (s *MemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// FindByEmails はメールアドレスに一致するユーザーを返す。
func (s *MemoryStore) FindByEmails(ctx context.Context, emails []string) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findByEmailsLocked(emails), nil
}

func (s *MemoryStore) findByEmailsLocked(emails []string) []*model.User {
	want := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		want[strings.ToLower(e)] = struct{}{}
	}
	var users []*model.User
	for _, u := range s.users {
		if _, ok := want[strings.ToLower(u.Email)]; ok {
			cp := *u
			users = append(users, &cp)
		}
	}
	return users
}

// IsMember はユーザーがキッチンのメンバーかどうかを返す。
func (s *MemoryStore) IsMember(ctx context.Context, kitchenID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.kitchens[kitchenID]
	if !ok {
		return false, nil
	}
	_, member := k.members[userID]
	return member, nil
}

// FindKitchen は指定IDのキッチンを返す。見つからない場合はnilを返す。
func (s *MemoryStore) FindKitchen(ctx context.Context, kitchenID string) (*model.Kitchen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.kitchens[kitchenID]
	if !ok {
		return nil, nil
	}
	cp := k.kitchen
	return &cp, nil
}

// RemoveMember はメンバーシップを削除する。
func (s *MemoryStore) RemoveMember(ctx context.Context, kitchenID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kitchens[kitchenID]
	if !ok {
		return ErrNotFound
	}
	if _, member := k.members[userID]; !member {
		return ErrNotFound
	}
	delete(k.members, userID)
	return nil
}

// Apply はメッセージ群を反映する。いずれかが失敗した場合は何も変更しない。
func (s *MemoryStore) Apply(ctx context.Context, actorID string, msgs []message.Message) (*model.ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, work: map[string]*memKitchen{}, now: s.now().UTC()}
	result := &model.ApplyResult{}
	for _, m := range msgs {
		if err := tx.apply(actorID, m, result); err != nil {
			return nil, tagItemError(err, m)
		}
	}

	for id, k := range tx.work {
		if k == nil {
			delete(s.kitchens, id)
			continue
		}
		s.kitchens[id] = k
	}
	return result, nil
}

// memTx はApply中の変更を保持する。workのnil値は削除されたキッチンを表す。
type memTx struct {
	store *MemoryStore
	work  map[string]*memKitchen
	now   time.Time
}

func (tx *memTx) kitchen(id string) (*memKitchen, error) {
	if k, ok := tx.work[id]; ok {
		if k == nil {
			return nil, ErrKitchenNotFound
		}
		return k, nil
	}
	k, ok := tx.store.kitchens[id]
	if !ok {
		return nil, ErrKitchenNotFound
	}
	c := k.clone()
	tx.work[id] = c
	return c, nil
}

func (tx *memTx) apply(actorID string, m message.Message, result *model.ApplyResult) error {
	kitchenID := m.Kitchen()

	if create, ok := m.(message.KitchenCreate); ok {
		if _, err := tx.kitchen(kitchenID); err == nil {
			return fmt.Errorf("kitchen %s: %w", kitchenID, ErrConflict)
		}
		tx.work[kitchenID] = &memKitchen{
			kitchen: model.Kitchen{
				ID:        kitchenID,
				Name:      create.Name,
				OwnerID:   actorID,
				CreatedAt: tx.now,
				UpdatedAt: tx.now,
			},
			members:   map[string]model.MemberRole{actorID: model.RoleOwner},
			grocery:   map[string]int64{},
			inventory: map[InventoryKey]int64{},
			products:  map[string]*memProduct{},
		}
		result.NotifyUserIDs = appendUnique(result.NotifyUserIDs, actorID)
		return nil
	}

	k, err := tx.kitchen(kitchenID)
	if err != nil {
		return err
	}

	switch v := m.(type) {
	case message.KitchenRename:
		k.kitchen.Name = v.Name
		k.kitchen.UpdatedAt = tx.now

	case message.KitchenShare:
		users := tx.store.findByEmailsLocked(v.ShareWith)
		result.SkippedEmails = append(result.SkippedEmails, unresolvedEmails(v.ShareWith, users)...)
		for _, u := range users {
			if _, ok := k.members[u.ID]; ok {
				continue
			}
			k.members[u.ID] = model.RoleMember
			result.NotifyUserIDs = appendUnique(result.NotifyUserIDs, u.ID)
		}

	case message.KitchenDelete:
		tx.work[kitchenID] = nil
		result.KitchenDeleted = true

	case message.GroceryAdd:
		total, err := addAmount(k.grocery[v.ProductID], v.Amount)
		if err != nil {
			return &ItemError{ProductID: v.ProductID, Err: err}
		}
		k.grocery[v.ProductID] = total

	case message.GroceryRemove:
		current, ok := k.grocery[v.ProductID]
		if !ok {
			return &ItemError{ProductID: v.ProductID, Err: ErrNotFound}
		}
		remaining, err := tx.store.remove(current, v.Amount)
		if err != nil {
			return &ItemError{ProductID: v.ProductID, Err: err}
		}
		if remaining == 0 {
			delete(k.grocery, v.ProductID)
		} else {
			k.grocery[v.ProductID] = remaining
		}

	case message.InventoryAdd:
		key := InventoryKey{v.ProductID, v.Expiry}
		total, err := addAmount(k.inventory[key], v.Amount)
		if err != nil {
			return &ItemError{ProductID: v.ProductID, Err: err}
		}
		k.inventory[key] = total

	case message.InventoryRemove:
		key := InventoryKey{v.ProductID, v.Expiry}
		current, ok := k.inventory[key]
		if !ok {
			return &ItemError{ProductID: v.ProductID, Err: ErrNotFound}
		}
		remaining, err := tx.store.remove(current, v.Amount)
		if err != nil {
			return &ItemError{ProductID: v.ProductID, Err: err}
		}
		if remaining == 0 {
			delete(k.inventory, key)
		} else {
			k.inventory[key] = remaining
		}

	case message.CustomCreate:
		if _, ok := k.products[v.ProductID]; ok {
			return &ItemError{ProductID: v.ProductID, Err: ErrConflict}
		}
		k.products[v.ProductID] = &memProduct{product: model.CustomProduct{
			KitchenID: kitchenID,
			ProductID: v.ProductID,
			Name:      v.Name,
			Barcodes:  append([]int64{}, v.Barcodes...),
			CreatedAt: tx.now,
			UpdatedAt: tx.now,
		}}

	case message.CustomRename:
		p, ok := k.products[v.ProductID]
		if !ok {
			return &ItemError{ProductID: v.ProductID, Err: ErrNotFound}
		}
		p.product.Name = v.Name
		p.product.UpdatedAt = tx.now

	case message.CustomUpdateBarcodes:
		p, ok := k.products[v.ProductID]
		if !ok {
			return &ItemError{ProductID: v.ProductID, Err: ErrNotFound}
		}
		p.product.Barcodes = append([]int64{}, v.Barcodes...)
		p.product.UpdatedAt = tx.now

	case message.CustomUpdateImage:
		if _, ok := k.products[v.ProductID]; !ok {
			return &ItemError{ProductID: v.ProductID, Err: ErrNotFound}
		}

	case message.CustomDelete:
		if _, ok := k.products[v.ProductID]; !ok {
			return &ItemError{ProductID: v.ProductID, Err: ErrNotFound}
		}
		delete(k.products, v.ProductID)

	default:
		return fmt.Errorf("unsupported message type %T", m)
	}
	return nil
}

// remove は削除後の数量を返す。0は項目の削除を意味する。
func (s *MemoryStore) remove(current, amount int64) (int64, error) {
	switch {
	case current > amount:
		return current - amount, nil
	case current == amount || s.policy == model.RemovalClamp:
		return 0, nil
	default:
		return 0, ErrInsufficient
	}
}

// SaveProductImage はカスタム商品の画像を保存する。
func (s *MemoryStore) SaveProductImage(ctx context.Context, kitchenID, productID string, img *model.ProductImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kitchens[kitchenID]
	if !ok {
		return ErrKitchenNotFound
	}
	p, ok := k.products[productID]
	if !ok {
		return &ItemError{ProductID: productID, Err: ErrNotFound}
	}
	p.image = &model.ProductImage{Data: append([]byte(nil), img.Data...), MIME: img.MIME}
	p.product.HasImage = true
	p.product.UpdatedAt = s.now().UTC()
	return nil
}

// FindProductImage はカスタム商品の画像を返す。画像が未登録の場合はnilを返す。
func (s *MemoryStore) FindProductImage(ctx context.Context, kitchenID, productID string) (*model.ProductImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.kitchens[kitchenID]
	if !ok {
		return nil, ErrKitchenNotFound
	}
	p, ok := k.products[productID]
	if !ok {
		return nil, &ItemError{ProductID: productID, Err: ErrNotFound}
	}
	if p.image == nil {
		return nil, nil
	}
	return &model.ProductImage{Data: append([]byte(nil), p.image.Data...), MIME: p.image.MIME}, nil
}

// Ping は常に成功する。
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// compile-time interface check
var (
	_ SessionRepository      = (*MemoryStore)(nil)
	_ UserRepository         = (*MemoryStore)(nil)
	_ MembershipRepository   = (*MemoryStore)(nil)
	_ KitchenStateRepository = (*MemoryStore)(nil)
)
