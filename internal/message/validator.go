package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrMalformed はフレームがJSONとして解析できないことを表す。
// プロトコル違反として接続を切断する。
var ErrMalformed = errors.New("malformed frame")

// DefaultMaxNameLength は名前フィールドの最大文字数のデフォルト値。
const DefaultMaxNameLength = 100

// maxIDLength はkitchen_idとproduct_idの最大バイト数。
const maxIDLength = 128

// ValidationError はスキーマ検証エラーを表す。
type ValidationError struct {
	Field  string
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ServerOnlyError はクライアントがサーバー専用の操作を送信したことを表す。
type ServerOnlyError struct {
	Kind      Kind
	KitchenID string
}

// Error はerrorインターフェースを実装する。
func (e *ServerOnlyError) Error() string {
	return fmt.Sprintf("%s is a server-only action", e.Kind)
}

// NameSanitizer は名前フィールドからマークアップを除去する。
type NameSanitizer interface {
	SanitizeName(s string) string
}

// Validator は受信フレームを検証し、Messageに変換する。
type Validator struct {
	names      NameSanitizer
	maxNameLen int
}

// NewValidator は新しいValidatorを生成する。
// namesがnilの場合は前後の空白除去のみを行う。
func NewValidator(names NameSanitizer, maxNameLen int) *Validator {
	if maxNameLen <= 0 {
		maxNameLen = DefaultMaxNameLength
	}
	return &Validator{names: names, maxNameLen: maxNameLen}
}

// ValidateClient はクライアントから受信したフレームを検証する。
// サーバー専用の操作は*ServerOnlyErrorで拒否する。
func (v *Validator) ValidateClient(raw []byte) (Message, error) {
	m, err := v.Validate(raw)
	if err != nil {
		return nil, err
	}
	if m.Kind().ServerOnly() {
		return nil, &ServerOnlyError{Kind: m.Kind(), KitchenID: m.Kitchen()}
	}
	return m, nil
}

// Validate はフレームを検証する。サーバー専用の操作も受け付ける。
//
// フレームはkitchen_id、update_target、action、dataの4フィールドを
// 過不足なく持つJSONオブジェクトでなければならない。dataの内容は
// (update_target, action)ごとのスキーマに厳密に一致する必要がある。
func (v *Validator) Validate(raw []byte) (Message, error) {
	if !json.Valid(raw) {
		return nil, ErrMalformed
	}

	var top fields
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return nil, &ValidationError{Reason: "frame must be a JSON object"}
	}
	if err := top.only("kitchen_id", "update_target", "action", "data"); err != nil {
		return nil, err
	}

	kitchenID, err := top.id("kitchen_id")
	if err != nil {
		return nil, err
	}
	target, err := top.str("update_target")
	if err != nil {
		return nil, err
	}
	action, err := top.str("action")
	if err != nil {
		return nil, err
	}

	kind := Kind{Target(target), Action(action)}
	decode, ok := decoders[kind]
	if !ok {
		return nil, &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown combination %s", kind)}
	}

	data, err := top.object("data")
	if err != nil {
		return nil, err
	}
	return decode(v, Header{KitchenID: kitchenID}, data)
}

type decoder func(v *Validator, h Header, f fields) (Message, error)

var decoders = map[Kind]decoder{
	KindKitchenCreate: func(v *Validator, h Header, f fields) (Message, error) {
		if err := f.only("name"); err != nil {
			return nil, err
		}
		name, err := v.name(f, "name")
		if err != nil {
			return nil, err
		}
		return KitchenCreate{Header: h, Name: name}, nil
	},
	KindKitchenRename: func(v *Validator, h Header, f fields) (Message, error) {
		if err := f.only("name"); err != nil {
			return nil, err
		}
		name, err := v.name(f, "name")
		if err != nil {
			return nil, err
		}
		return KitchenRename{Header: h, Name: name}, nil
	},
	KindKitchenShare: func(v *Validator, h Header, f fields) (Message, error) {
		if err := f.only("share_with"); err != nil {
			return nil, err
		}
		emails, err := f.emails("share_with")
		if err != nil {
			return nil, err
		}
		return KitchenShare{Header: h, ShareWith: emails}, nil
	},
	KindKitchenDelete: func(v *Validator, h Header, f fields) (Message, error) {
		if err := f.only(); err != nil {
			return nil, err
		}
		return KitchenDelete{Header: h}, nil
	},
	KindGroceryAdd: func(v *Validator, h Header, f fields) (Message, error) {
		id, amount, err := f.amountData()
		if err != nil {
			return nil, err
		}
		return GroceryAdd{Header: h, ProductID: id, Amount: amount}, nil
	},
	KindGroceryRemove: func(v *Validator, h Header, f fields) (Message, error) {
		id, amount, err := f.amountData()
		if err != nil {
			return nil, err
		}
		return GroceryRemove{Header: h, ProductID: id, Amount: amount}, nil
	},
	KindInventoryAdd: func(v *Validator, h Header, f fields) (Message, error) {
		id, amount, expiry, err := f.expiryData()
		if err != nil {
			return nil, err
		}
		return InventoryAdd{Header: h, ProductID: id, Amount: amount, Expiry: expiry}, nil
	},
	KindInventoryRemove: func(v *Validator, h Header, f fields) (Message, error) {
		id, amount, expiry, err := f.expiryData()
		if err != nil {
			return nil, err
		}
		return InventoryRemove{Header: h, ProductID: id, Amount: amount, Expiry: expiry}, nil
	},
	KindCustomCreate: func(v *Validator, h Header, f fields) (Message, error) {
		if err := f.only("product_id", "name", "barcodes"); err != nil {
			return nil, err
		}
		id, err := f.id("product_id")
		if err != nil {
			return nil, err
		}
		name, err := v.name(f, "name")
		if err != nil {
			return nil, err
		}
		barcodes, err := f.barcodes("barcodes")
		if err != nil {
			return nil, err
		}
		return CustomCreate{Header: h, ProductID: id, Name: name, Barcodes: barcodes}, nil
	},
	KindCustomRename: func(v *Validator, h Header, f fields) (Message, error) {
		if err := f.only("product_id", "name"); err != nil {
			return nil, err
		}
		id, err := f.id("product_id")
		if err != nil {
			return nil, err
		}
		name, err := v.name(f, "name")
		if err != nil {
			return nil, err
		}
		return CustomRename{Header: h, ProductID: id, Name: name}, nil
	},
	KindCustomUpdateImage: func(v *Validator, h Header, f fields) (Message, error) {
		if err := f.only("product_id"); err != nil {
			return nil, err
		}
		id, err := f.id("product_id")
		if err != nil {
			return nil, err
		}
		return CustomUpdateImage{Header: h, ProductID: id}, nil
	},
	KindCustomUpdateBarcodes: func(v *Validator, h Header, f fields) (Message, error) {
		if err := f.only("product_id", "barcodes"); err != nil {
			return nil, err
		}
		id, err := f.id("product_id")
		if err != nil {
			return nil, err
		}
		barcodes, err := f.barcodes("barcodes")
		if err != nil {
			return nil, err
		}
		return CustomUpdateBarcodes{Header: h, ProductID: id, Barcodes: barcodes}, nil
	},
	KindCustomDelete: func(v *Validator, h Header, f fields) (Message, error) {
		if err := f.only("product_id"); err != nil {
			return nil, err
		}
		id, err := f.id("product_id")
		if err != nil {
			return nil, err
		}
		return CustomDelete{Header: h, ProductID: id}, nil
	},
}

// CleanName は名前をサニタイズし、長さを検証する。
// サーバー側で生成するメッセージにも同じ規則を適用するために公開している。
func (v *Validator) CleanName(s string) (string, error) {
	if v.names != nil {
		s = v.names.SanitizeName(s)
	}
	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return "", &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if n > v.maxNameLen {
		return "", &ValidationError{Field: "name", Reason: fmt.Sprintf("must be at most %d characters", v.maxNameLen)}
	}
	return s, nil
}

func (v *Validator) name(f fields, key string) (string, error) {
	s, err := f.str(key)
	if err != nil {
		return "", err
	}
	return v.CleanName(s)
}

// fields はJSONオブジェクトのキーごとの生データ。
type fields map[string]json.RawMessage

var jsonNull = []byte("null")

// only は指定したキーが全て存在し、それ以外のキーがないことを検証する。
func (f fields) only(keys ...string) error {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
		if _, ok := f[k]; !ok {
			return &ValidationError{Field: k, Reason: "is required"}
		}
	}
	var unknown []string
	for k := range f {
		if _, ok := allowed[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &ValidationError{Field: unknown[0], Reason: "is not allowed"}
	}
	return nil
}

func (f fields) decode(key string, dst any, want string) error {
	raw, ok := f[key]
	if !ok {
		return &ValidationError{Field: key, Reason: "is required"}
	}
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return &ValidationError{Field: key, Reason: "must not be null"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Field: key, Reason: "must be " + want}
	}
	return nil
}

func (f fields) str(key string) (string, error) {
	var s string
	if err := f.decode(key, &s, "a string"); err != nil {
		return "", err
	}
	return s, nil
}

func (f fields) id(key string) (string, error) {
	s, err := f.str(key)
	if err != nil {
		return "", err
	}
	if err := CheckID(key, s); err != nil {
		return "", err
	}
	return s, nil
}

// CheckID はkitchen_idやproduct_idとして使える文字列かを検証する。
// URLパスから受け取るIDにも同じ規則を適用する。
func CheckID(field, s string) error {
	if strings.TrimSpace(s) == "" {
		return &ValidationError{Field: field, Reason: "must not be empty"}
	}
	if len(s) > maxIDLength {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %d bytes", maxIDLength)}
	}
	return nil
}

func (f fields) object(key string) (fields, error) {
	var obj fields
	if err := f.decode(key, &obj, "an object"); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = fields{}
	}
	return obj, nil
}

func (f fields) positive(key string) (int64, error) {
	var n int64
	if err := f.decode(key, &n, "an integer"); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, &ValidationError{Field: key, Reason: "must be positive"}
	}
	return n, nil
}

func (f fields) integer(key string) (int64, error) {
	var n int64
	if err := f.decode(key, &n, "an integer"); err != nil {
		return 0, err
	}
	return n, nil
}

func (f fields) barcodes(key string) ([]int64, error) {
	var codes []int64
	if err := f.decode(key, &codes, "an array of integers"); err != nil {
		return nil, err
	}
	if codes == nil {
		codes = []int64{}
	}
	return codes, nil
}

func (f fields) emails(key string) ([]string, error) {
	var list []string
	if err := f.decode(key, &list, "an array of strings"); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, &ValidationError{Field: key, Reason: "must not be empty"}
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		e = strings.TrimSpace(e)
		if e == "" || !strings.Contains(e, "@") || strings.ContainsAny(e, " \t\r\n") {
			return nil, &ValidationError{Field: key, Reason: fmt.Sprintf("invalid email %q", e)}
		}
		out = append(out, e)
	}
	return out, nil
}

func (f fields) amountData() (string, int64, error) {
	if err := f.only("product_id", "amount"); err != nil {
		return "", 0, err
	}
	id, err := f.id("product_id")
	if err != nil {
		return "", 0, err
	}
	amount, err := f.positive("amount")
	if err != nil {
		return "", 0, err
	}
	return id, amount, nil
}

func (f fields) expiryData() (string, int64, int64, error) {
	if err := f.only("product_id", "amount", "expiry"); err != nil {
		return "", 0, 0, err
	}
	id, err := f.id("product_id")
	if err != nil {
		return "", 0, 0, err
	}
	amount, err := f.positive("amount")
	if err != nil {
		return "", 0, 0, err
	}
	expiry, err := f.integer("expiry")
	if err != nil {
		return "", 0, 0, err
	}
	return id, amount, expiry, nil
}
