// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// HTTPレスポンスとWebSocketのエラーフレームの両方で使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, kitchen, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeServerOnlyAction   = "SERVER_ONLY_ACTION"
	ErrCodeMalformedFrame     = "MALFORMED_FRAME"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeKitchenNotFound    = "KITCHEN_NOT_FOUND"
	ErrCodeProductNotFound    = "PRODUCT_NOT_FOUND"
	ErrCodeItemNotFound       = "ITEM_NOT_FOUND"
	ErrCodeImageNotFound      = "IMAGE_NOT_FOUND"
	ErrCodeProductConflict    = "PRODUCT_CONFLICT"
	ErrCodeInsufficientAmount = "INSUFFICIENT_AMOUNT"
	ErrCodeAmountOverflow     = "AMOUNT_OVERFLOW"
	ErrCodeApplyFailed        = "APPLY_FAILED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeImageTooLarge      = "IMAGE_TOO_LARGE"
	ErrCodeUnsupportedImage   = "UNSUPPORTED_IMAGE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryKitchen    = "kitchen"
	CategorySystem     = "system"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewValidationError はメッセージ検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("メッセージの形式が不正です: %s", reason),
		Category: CategoryValidation,
		Action:   "update_target、action、dataの組み合わせを確認してください。",
	}
}

// NewServerOnlyActionError はクライアントから送信できない操作を受信した場合のエラーを生成する。
func NewServerOnlyActionError(target, action string) *APIError {
	return &APIError{
		Code:     ErrCodeServerOnlyAction,
		Message:  fmt.Sprintf("この操作はサーバーからのみ発行できます: %s/%s", target, action),
		Category: CategoryValidation,
		Action:   "HTTP APIを使用してください。",
	}
}

// NewMalformedFrameError は解析できないフレームを受信した場合のエラーを生成する。
func NewMalformedFrameError() *APIError {
	return &APIError{
		Code:     ErrCodeMalformedFrame,
		Message:  "フレームをJSONとして解析できませんでした。",
		Category: CategoryValidation,
		Action:   "接続を再確立してください。",
	}
}

// NewForbiddenError はキッチンへのアクセス権がない場合のエラーを生成する。
func NewForbiddenError(kitchenID string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("このキッチンへのアクセス権がありません: %s", kitchenID),
		Category: CategoryKitchen,
		Action:   "キッチンのメンバーに共有を依頼してください。",
	}
}

// NewKitchenNotFoundError はキッチンが存在しない場合のエラーを生成する。
func NewKitchenNotFoundError(kitchenID string) *APIError {
	return &APIError{
		Code:     ErrCodeKitchenNotFound,
		Message:  fmt.Sprintf("指定されたキッチンが見つかりません: %s", kitchenID),
		Category: CategoryKitchen,
		Action:   "キッチンIDを確認してください。",
	}
}

// NewProductNotFoundError はカスタム商品が存在しない場合のエラーを生成する。
func NewProductNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定された商品が見つかりません: %s", productID),
		Category: CategoryKitchen,
		Action:   "商品IDを確認してください。",
	}
}

// NewItemNotFoundError は買い物リストまたは在庫リストに対象の項目がない場合のエラーを生成する。
func NewItemNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("リストに指定された商品がありません: %s", productID),
		Category: CategoryKitchen,
		Action:   "最新のリストを再読み込みしてください。",
	}
}

// NewImageNotFoundError は商品画像が存在しない場合のエラーを生成する。
func NewImageNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeImageNotFound,
		Message:  fmt.Sprintf("商品画像が登録されていません: %s", productID),
		Category: CategoryKitchen,
		Action:   "画像をアップロードしてください。",
	}
}

// NewProductConflictError は同じ商品IDのカスタム商品が既に存在する場合のエラーを生成する。
func NewProductConflictError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductConflict,
		Message:  fmt.Sprintf("この商品IDは既に使用されています: %s", productID),
		Category: CategoryKitchen,
		Action:   "別の商品IDを指定してください。",
	}
}

// NewInsufficientAmountError は在庫数を超える削除を拒否した場合のエラーを生成する。
func NewInsufficientAmountError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientAmount,
		Message:  fmt.Sprintf("リストの数量を超えて減らすことはできません: %s", productID),
		Category: CategoryKitchen,
		Action:   "現在の数量以下を指定してください。",
	}
}

// NewAmountOverflowError は加算後の数量が上限を超える場合のエラーを生成する。
func NewAmountOverflowError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeAmountOverflow,
		Message:  fmt.Sprintf("数量が上限を超えます: %s", productID),
		Category: CategoryKitchen,
		Action:   "追加する数量を減らしてください。",
	}
}

// NewApplyFailedError はストアへの反映が一時的に失敗した場合のエラーを生成する。
func NewApplyFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeApplyFailed,
		Message:  "変更を保存できませんでした。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitedError はメッセージ送信レートの上限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "メッセージの送信が多すぎます。",
		Category: CategorySystem,
		Action:   "少し待ってから再度お試しください。",
	}
}

// NewImageTooLargeError は画像サイズの上限を超えた場合のエラーを生成する。
func NewImageTooLargeError(maxBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodeImageTooLarge,
		Message:  fmt.Sprintf("画像サイズが上限（%dバイト）を超えています。", maxBytes),
		Category: CategoryValidation,
		Action:   "画像を縮小してから再度アップロードしてください。",
	}
}

// NewUnsupportedImageError は対応していない画像形式の場合のエラーを生成する。
func NewUnsupportedImageError(mime string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedImage,
		Message:  fmt.Sprintf("対応していない画像形式です: %s", mime),
		Category: CategoryValidation,
		Action:   "JPEGまたはPNG形式の画像を指定してください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: CategorySystem,
		Action:   "しばらく待ってから再度お試しください。",
	}
}
