package model

import "time"

// MemberRole はキッチンメンバーの役割を表す。
type MemberRole string

const (
	// RoleOwner はキッチンを作成したユーザー。
	RoleOwner MemberRole = "owner"
	// RoleMember は共有によって追加されたユーザー。
	RoleMember MemberRole = "member"
)

// Kitchen は複数ユーザーで共有する買い物リスト・在庫リスト・カスタム商品の単位。
type Kitchen struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Membership はユーザーとキッチンのアクセス関係を表す。
type Membership struct {
	KitchenID string
	UserID    string
	Role      MemberRole
	CreatedAt time.Time
}

// GroceryItem は買い物リストの1項目。
// (KitchenID, ProductID) ごとに高々1件で、追加時は数量を加算する。
type GroceryItem struct {
	KitchenID string
	ProductID string
	Amount    int64
}

// InventoryItem は在庫リストの1項目。
// 同じ商品でも賞味期限（Unix秒）が異なれば別の項目として扱う。
type InventoryItem struct {
	KitchenID string
	ProductID string
	Expiry    int64
	Amount    int64
}

// CustomProduct はキッチン固有の商品。
// Barcodesの順序は保証しない。画像の有無はHasImageで判定する。
type CustomProduct struct {
	KitchenID string
	ProductID string
	Name      string
	Barcodes  []int64
	HasImage  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductImage はカスタム商品に紐づく画像データ。
type ProductImage struct {
	Data []byte
	MIME string
}

// RemovalPolicy は現在の数量を超える削除要求の扱いを表す。
type RemovalPolicy string

const (
	// RemovalClamp は数量を0で打ち止めて項目を削除する。
	RemovalClamp RemovalPolicy = "clamp"
	// RemovalReject は要求全体を拒否し、状態を変更しない。
	RemovalReject RemovalPolicy = "reject"
)

// ApplyResult はストアへの反映結果を表す。
type ApplyResult struct {
	// NotifyUserIDs はキッチンの接続に加えて通知すべきユーザー。
	// キッチン作成時の作成者や、共有で新たに追加されたメンバーが入る。
	NotifyUserIDs []string
	// SkippedEmails は共有時に解決できなかったメールアドレス。
	SkippedEmails []string
	// KitchenDeleted はキッチンが削除されたかどうか。
	KitchenDeleted bool
}
