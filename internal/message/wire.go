package message

import (
	"encoding/json"
	"fmt"
)

// Envelope はワイヤ上のフレーム形式。
type Envelope struct {
	KitchenID    string          `json:"kitchen_id"`
	UpdateTarget Target          `json:"update_target"`
	Action       Action          `json:"action"`
	Data         json.RawMessage `json:"data"`
}

type nameData struct {
	Name string `json:"name"`
}

type shareData struct {
	ShareWith []string `json:"share_with"`
}

type emptyData struct{}

type amountData struct {
	ProductID string `json:"product_id"`
	Amount    int64  `json:"amount"`
}

type expiryData struct {
	ProductID string `json:"product_id"`
	Amount    int64  `json:"amount"`
	Expiry    int64  `json:"expiry"`
}

type productData struct {
	ProductID string `json:"product_id"`
}

type productNameData struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
}

type barcodesData struct {
	ProductID string  `json:"product_id"`
	Barcodes  []int64 `json:"barcodes"`
}

type productCreateData struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Barcodes  []int64 `json:"barcodes"`
}

// Encode はメッセージを正規化されたフレームにエンコードする。
// ブロードキャスト時は一度だけエンコードし、同じバイト列を全接続に送る。
func Encode(m Message) ([]byte, error) {
	var data any
	switch v := m.(type) {
	case KitchenCreate:
		data = nameData{Name: v.Name}
	case KitchenRename:
		data = nameData{Name: v.Name}
	case KitchenShare:
		data = shareData{ShareWith: nonNilStrings(v.ShareWith)}
	case KitchenDelete:
		data = emptyData{}
	case GroceryAdd:
		data = amountData{ProductID: v.ProductID, Amount: v.Amount}
	case GroceryRemove:
		data = amountData{ProductID: v.ProductID, Amount: v.Amount}
	case InventoryAdd:
		data = expiryData{ProductID: v.ProductID, Amount: v.Amount, Expiry: v.Expiry}
	case InventoryRemove:
		data = expiryData{ProductID: v.ProductID, Amount: v.Amount, Expiry: v.Expiry}
	case CustomCreate:
		data = productCreateData{ProductID: v.ProductID, Name: v.Name, Barcodes: nonNilInts(v.Barcodes)}
	case CustomRename:
		data = productNameData{ProductID: v.ProductID, Name: v.Name}
	case CustomUpdateImage:
		data = productData{ProductID: v.ProductID}
	case CustomUpdateBarcodes:
		data = barcodesData{ProductID: v.ProductID, Barcodes: nonNilInts(v.Barcodes)}
	case CustomDelete:
		data = productData{ProductID: v.ProductID}
	default:
		return nil, fmt.Errorf("unsupported message type %T", m)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message data: %w", err)
	}

	kind := m.Kind()
	frame, err := json.Marshal(Envelope{
		KitchenID:    m.Kitchen(),
		UpdateTarget: kind.Target,
		Action:       kind.Action,
		Data:         raw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message frame: %w", err)
	}
	return frame, nil
}

// ErrorBody はエラーフレームのerrorフィールド。
type ErrorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// RequestRef はエラーの原因となったメッセージの識別情報。
type RequestRef struct {
	KitchenID    string `json:"kitchen_id,omitempty"`
	UpdateTarget Target `json:"update_target,omitempty"`
	Action       Action `json:"action,omitempty"`
}

// ErrorFrame は送信元の接続にのみ返すエラー通知。
type ErrorFrame struct {
	Error   ErrorBody   `json:"error"`
	Request *RequestRef `json:"request,omitempty"`
}

// EncodeError はエラーフレームをエンコードする。
func EncodeError(body ErrorBody, req *RequestRef) ([]byte, error) {
	frame, err := json.Marshal(ErrorFrame{Error: body, Request: req})
	if err != nil {
		return nil, fmt.Errorf("failed to encode error frame: %w", err)
	}
	return frame, nil
}

// RefOf はメッセージのRequestRefを返す。
func RefOf(m Message) *RequestRef {
	kind := m.Kind()
	return &RequestRef{KitchenID: m.Kitchen(), UpdateTarget: kind.Target, Action: kind.Action}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilInts(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}
