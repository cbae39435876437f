// Package message はWebSocketで送受信するキッチン更新メッセージを定義する。
//
// ワイヤ上のJSONはkitchen_id、update_target、action、dataの4フィールドのみを持つ。
// 受信したフレームはValidatorで一度だけ検証され、(update_target, action)の
// 組み合わせごとの具象型に変換される。以降の処理は型スイッチで分岐する。
package message

// Target はメッセージの更新対象を表す。
type Target string

const (
	TargetKitchen   Target = "kitchen"
	TargetGrocery   Target = "grocery"
	TargetInventory Target = "inventory"
	TargetCustom    Target = "custom"
)

// Action は更新対象に対する操作を表す。
type Action string

const (
	ActionCreate         Action = "create"
	ActionRename         Action = "rename"
	ActionShare          Action = "share"
	ActionDelete         Action = "delete"
	ActionAdd            Action = "add"
	ActionRemove         Action = "remove"
	ActionUpdateImage    Action = "update_image"
	ActionUpdateBarcodes Action = "update_barcodes"
)

// Kind は(update_target, action)の組み合わせ。
type Kind struct {
	Target Target
	Action Action
}

// String は "target/action" 形式の文字列を返す。
func (k Kind) String() string {
	return string(k.Target) + "/" + string(k.Action)
}

var (
	KindKitchenCreate        = Kind{TargetKitchen, ActionCreate}
	KindKitchenRename        = Kind{TargetKitchen, ActionRename}
	KindKitchenShare         = Kind{TargetKitchen, ActionShare}
	KindKitchenDelete        = Kind{TargetKitchen, ActionDelete}
	KindGroceryAdd           = Kind{TargetGrocery, ActionAdd}
	KindGroceryRemove        = Kind{TargetGrocery, ActionRemove}
	KindInventoryAdd         = Kind{TargetInventory, ActionAdd}
	KindInventoryRemove      = Kind{TargetInventory, ActionRemove}
	KindCustomCreate         = Kind{TargetCustom, ActionCreate}
	KindCustomRename         = Kind{TargetCustom, ActionRename}
	KindCustomUpdateImage    = Kind{TargetCustom, ActionUpdateImage}
	KindCustomUpdateBarcodes = Kind{TargetCustom, ActionUpdateBarcodes}
	KindCustomDelete         = Kind{TargetCustom, ActionDelete}
)

// ServerOnly はクライアントからの送信を受け付けない組み合わせかどうかを返す。
func (k Kind) ServerOnly() bool {
	switch k {
	case KindKitchenCreate, KindCustomCreate, KindCustomUpdateImage:
		return true
	}
	return false
}

// Message は検証済みの更新メッセージ。
// このパッケージで定義した具象型のみが実装する。
type Message interface {
	// Kitchen は対象キッチンのIDを返す。
	Kitchen() string
	// Kind はメッセージの(update_target, action)を返す。
	Kind() Kind

	isMessage()
}

// Header は全メッセージ共通のフィールド。
type Header struct {
	KitchenID string
}

// Kitchen は対象キッチンのIDを返す。
func (h Header) Kitchen() string { return h.KitchenID }

func (Header) isMessage() {}

// KitchenCreate はキッチン作成の通知。サーバーのみが発行する。
type KitchenCreate struct {
	Header
	Name string
}

// KitchenRename はキッチン名の変更。
type KitchenRename struct {
	Header
	Name string
}

// KitchenShare はメールアドレスで指定したユーザーへのキッチン共有。
type KitchenShare struct {
	Header
	ShareWith []string
}

// KitchenDelete はキッチンと従属データ全ての削除。
type KitchenDelete struct {
	Header
}

// GroceryAdd は買い物リストへの追加。
type GroceryAdd struct {
	Header
	ProductID string
	Amount    int64
}

// GroceryRemove は買い物リストからの削除。
type GroceryRemove struct {
	Header
	ProductID string
	Amount    int64
}

// InventoryAdd は在庫リストへの追加。
type InventoryAdd struct {
	Header
	ProductID string
	Amount    int64
	Expiry    int64
}

// InventoryRemove は在庫リストからの削除。
type InventoryRemove struct {
	Header
	ProductID string
	Amount    int64
	Expiry    int64
}

// CustomCreate はカスタム商品の作成通知。サーバーのみが発行する。
type CustomCreate struct {
	Header
	ProductID string
	Name      string
	Barcodes  []int64
}

// CustomRename はカスタム商品名の変更。
type CustomRename struct {
	Header
	ProductID string
	Name      string
}

// CustomUpdateImage は商品画像が更新されたことの通知。サーバーのみが発行する。
// ストアの状態は変更しない。
type CustomUpdateImage struct {
	Header
	ProductID string
}

// CustomUpdateBarcodes はカスタム商品のバーコードの置き換え。
type CustomUpdateBarcodes struct {
	Header
	ProductID string
	Barcodes  []int64
}

// CustomDelete はカスタム商品の削除。
type CustomDelete struct {
	Header
	ProductID string
}

func (KitchenCreate) Kind() Kind        { return KindKitchenCreate }
func (KitchenRename) Kind() Kind        { return KindKitchenRename }
func (KitchenShare) Kind() Kind         { return KindKitchenShare }
func (KitchenDelete) Kind() Kind        { return KindKitchenDelete }
func (GroceryAdd) Kind() Kind           { return KindGroceryAdd }
func (GroceryRemove) Kind() Kind        { return KindGroceryRemove }
func (InventoryAdd) Kind() Kind         { return KindInventoryAdd }
func (InventoryRemove) Kind() Kind      { return KindInventoryRemove }
func (CustomCreate) Kind() Kind         { return KindCustomCreate }
func (CustomRename) Kind() Kind         { return KindCustomRename }
func (CustomUpdateImage) Kind() Kind    { return KindCustomUpdateImage }
func (CustomUpdateBarcodes) Kind() Kind { return KindCustomUpdateBarcodes }
func (CustomDelete) Kind() Kind         { return KindCustomDelete }
