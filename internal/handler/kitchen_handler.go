package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/kitchenhub/internal/middleware"
	"github.com/hitoshi/kitchenhub/internal/model"
)

// KitchenServiceInterface はキッチンハンドラーが必要とするサービスインターフェース。
// サーバーが発行するIDを伴う操作や、WebSocketでは送れないバイナリを扱う操作をまとめる。
type KitchenServiceInterface interface {
	// CreateKitchen はキッチンを作成し、作成者をオーナーとして登録する。
	CreateKitchen(ctx context.Context, userID, name string) (*model.Kitchen, error)
	// CreateCustomProduct はサーバー発行のIDでカスタム商品を作成する。
	CreateCustomProduct(ctx context.Context, userID, kitchenID, name string, barcodes []int64) (*model.CustomProduct, error)
	// UploadImage はカスタム商品の画像を保存する。
	UploadImage(ctx context.Context, userID, kitchenID, productID string, data []byte) error
	// GetImage はカスタム商品の画像を返す。
	GetImage(ctx context.Context, userID, kitchenID, productID string) (*model.ProductImage, error)
	// BuyGroceryItem は買い物リストの商品を在庫に移す。
	BuyGroceryItem(ctx context.Context, userID, kitchenID, productID string, amount, expiry int64) error
	// LeaveKitchen はキッチンから脱退する。
	LeaveKitchen(ctx context.Context, userID, kitchenID string) error
}

// KitchenHandler はキッチン操作のHTTPハンドラー。
type KitchenHandler struct {
	service      KitchenServiceInterface
	maxImageSize int64
}

// NewKitchenHandler はKitchenHandlerを生成する。
// maxImageSizeはリクエストボディの読み取り上限に使用する。
func NewKitchenHandler(service KitchenServiceInterface, maxImageSize int64) *KitchenHandler {
	return &KitchenHandler{
		service:      service,
		maxImageSize: maxImageSize,
	}
}

// --- リクエスト・レスポンス型 ---

type createKitchenRequest struct {
	Name string `json:"name"`
}

type kitchenResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

type createCustomProductRequest struct {
	Name     string  `json:"name"`
	Barcodes []int64 `json:"barcodes"`
}

type customProductResponse struct {
	KitchenID string  `json:"kitchen_id"`
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Barcodes  []int64 `json:"barcodes"`
	HasImage  bool    `json:"has_image"`
}

type buyGroceryItemRequest struct {
	Amount int64 `json:"amount"`
	Expiry int64 `json:"expiry"`
}

// CreateKitchen はキッチンを作成する。
// POST /api/kitchens
func (h *KitchenHandler) CreateKitchen(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createKitchenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	k, err := h.service.CreateKitchen(r.Context(), userID, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, kitchenResponse{
		ID:      k.ID,
		Name:    k.Name,
		OwnerID: k.OwnerID,
	})
}

// CreateCustomProduct はカスタム商品を作成する。
// POST /api/kitchens/:kitchenID/custom-products
func (h *KitchenHandler) CreateCustomProduct(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createCustomProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.service.CreateCustomProduct(r.Context(), userID, chi.URLParam(r, "kitchenID"), req.Name, req.Barcodes)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, customProductResponse{
		KitchenID: p.KitchenID,
		ProductID: p.ProductID,
		Name:      p.Name,
		Barcodes:  p.Barcodes,
		HasImage:  p.HasImage,
	})
}

// UploadImage はカスタム商品の画像をアップロードする。
// リクエストボディは画像のバイト列そのもの。
// PUT /api/kitchens/:kitchenID/custom-products/:productID/image
func (h *KitchenHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	// 上限を1バイト超えて読み、サイズ超過をサービス層で判定させる
	data, err := io.ReadAll(io.LimitReader(r.Body, h.maxImageSize+1))
	if err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("リクエストボディの読み取りに失敗しました。"))
		return
	}

	err = h.service.UploadImage(r.Context(), userID, chi.URLParam(r, "kitchenID"), chi.URLParam(r, "productID"), data)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetImage はカスタム商品の画像を返す。
// GET /api/kitchens/:kitchenID/custom-products/:productID/image
func (h *KitchenHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	img, err := h.service.GetImage(r.Context(), userID, chi.URLParam(r, "kitchenID"), chi.URLParam(r, "productID"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", img.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "private, no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}

// BuyGroceryItem は買い物リストの商品を購入済みとして在庫に移す。
// POST /api/kitchens/:kitchenID/grocery/:productID/buy
func (h *KitchenHandler) BuyGroceryItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req buyGroceryItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.service.BuyGroceryItem(r.Context(), userID,
		chi.URLParam(r, "kitchenID"), chi.URLParam(r, "productID"), req.Amount, req.Expiry)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LeaveKitchen はキッチンから脱退する。
// DELETE /api/kitchens/:kitchenID/members/me
func (h *KitchenHandler) LeaveKitchen(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.LeaveKitchen(r.Context(), userID, chi.URLParam(r, "kitchenID")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requireUserID はセッションミドルウェアが設定したユーザーIDを返す。
// 未認証の場合は401を書き込みfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// decodeJSON はリクエストボディをdstにデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		middleware.WriteAPIError(w, model.NewValidationError("リクエストボディの解析に失敗しました。"))
		return false
	}
	return true
}

// maxJSONBodySize はJSONリクエストボディの上限。
const maxJSONBodySize = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
