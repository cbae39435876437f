// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/kitchenhub/internal/message"
	"github.com/hitoshi/kitchenhub/internal/model"
)

// 反映処理で返されるエラー。呼び出し側はerrors.Isで判定する。
var (
	// ErrNotFound は更新対象の項目や商品が存在しないことを表す。
	ErrNotFound = errors.New("not found")
	// ErrConflict は作成しようとした商品IDが既に使われていることを表す。
	ErrConflict = errors.New("conflict")
	// ErrInsufficient はRemovalRejectで数量を超える削除を拒否したことを表す。
	ErrInsufficient = errors.New("insufficient amount")
	// ErrOverflow は加算後の数量がint64の範囲を超えることを表す。
	ErrOverflow = errors.New("amount overflow")
	// ErrKitchenNotFound はキッチン自体が存在しないことを表す。
	ErrKitchenNotFound = errors.New("kitchen not found")
)

// ItemError は反映に失敗した項目を特定する情報を付加する。
// KindはApplyが失敗したメッセージの種類を設定する。
type ItemError struct {
	Kind      message.Kind
	ProductID string
	Err       error
}

// Error はerrorインターフェースを実装する。
func (e *ItemError) Error() string {
	return e.ProductID + ": " + e.Err.Error()
}

// Unwrap は元のエラーを返す。
func (e *ItemError) Unwrap() error { return e.Err }

// SessionRepository はセッションデータの参照インターフェース。
// セッションの発行は外部の認証サービスが担う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れまたは存在しない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// UserRepository はユーザーデータの参照インターフェース。
type UserRepository interface {
	// FindByEmails はメールアドレスに一致するユーザーを返す。
	// 一致しないアドレスは結果に含まれない。
	FindByEmails(ctx context.Context, emails []string) ([]*model.User, error)
}

// MembershipRepository はキッチンのメンバーシップの永続化インターフェース。
type MembershipRepository interface {
	// IsMember はユーザーがキッチンのメンバーかどうかを返す。
	// キッチンが存在しない場合もfalseを返す。
	IsMember(ctx context.Context, kitchenID, userID string) (bool, error)
	// FindKitchen は指定IDのキッチンを取得する。見つからない場合はnilを返す。
	FindKitchen(ctx context.Context, kitchenID string) (*model.Kitchen, error)
	// RemoveMember はメンバーシップを削除する。メンバーでない場合はErrNotFoundを返す。
	RemoveMember(ctx context.Context, kitchenID, userID string) error
}

// KitchenStateRepository はキッチンの状態（リスト・商品・メンバー）の永続化インターフェース。
type KitchenStateRepository interface {
	// Apply はメッセージ群を1つのトランザクションで反映する。
	// いずれかが失敗した場合は何も反映しない。
	// actorIDはkitchen/createの所有者やメンバー追加の記録に使用する。
	Apply(ctx context.Context, actorID string, msgs []message.Message) (*model.ApplyResult, error)

	// SaveProductImage はカスタム商品の画像を保存する。商品がない場合はErrNotFoundを返す。
	SaveProductImage(ctx context.Context, kitchenID, productID string, img *model.ProductImage) error

	// FindProductImage はカスタム商品の画像を取得する。
	// 商品がない場合はErrNotFound、画像が未登録の場合はnilを返す。
	FindProductImage(ctx context.Context, kitchenID, productID string) (*model.ProductImage, error)

	// Ping はストアへの疎通を確認する。
	Ping(ctx context.Context) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
