package kitchen

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/hitoshi/kitchenhub/internal/message"
	"github.com/hitoshi/kitchenhub/internal/model"
)

// DefaultMaxImageSize は商品画像のデフォルトの最大サイズ（5MB）。
const DefaultMaxImageSize int64 = 5 << 20

// 受け付ける画像形式
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Publisher はサーバー発行のメッセージをキッチンの直列化区間で反映し、配信する。
// Hubが実装する。返すエラーは*model.APIError。
type Publisher interface {
	// Publish はメンバーシップを確認せずに反映・配信する。kitchen/createで使用する。
	Publish(ctx context.Context, actorID string, msgs ...message.Message) error
	// PublishAsMember はuserIDがキッチンのメンバーであることを確認してから反映・配信する。
	PublishAsMember(ctx context.Context, userID string, msgs ...message.Message) error
	// Leave はキッチンの直列化区間でユーザーをメンバーから外し、その接続を配信対象から外す。
	Leave(ctx context.Context, userID, kitchenID string) error
}

// Service はHTTPのサイドチャネルから呼ばれるキッチン操作を提供する。
// 状態の変更は全てPublisher経由で行い、WebSocketと同じ順序付けを受ける。
type Service struct {
	oracle       *MembershipOracle
	store        *StateStore
	publisher    Publisher
	validator    *message.Validator
	maxImageSize int64
	newID        func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	oracle *MembershipOracle,
	store *StateStore,
	publisher Publisher,
	validator *message.Validator,
	maxImageSize int64,
) *Service {
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}
	return &Service{
		oracle:       oracle,
		store:        store,
		publisher:    publisher,
		validator:    validator,
		maxImageSize: maxImageSize,
		newID:        uuid.NewString,
	}
}

// CreateKitchen は新しいキッチンを作成し、作成者をオーナーとして登録する。
// 作成者の接続にkitchen/createが配信される。
func (s *Service) CreateKitchen(ctx context.Context, userID, name string) (*model.Kitchen, error) {
	clean, err := s.validator.CleanName(name)
	if err != nil {
		return nil, toValidationError(err)
	}

	id := s.newID()
	msg := message.KitchenCreate{Header: message.Header{KitchenID: id}, Name: clean}
	if err := s.publisher.Publish(ctx, userID, msg); err != nil {
		return nil, err
	}
	return &model.Kitchen{ID: id, Name: clean, OwnerID: userID}, nil
}

// CreateCustomProduct はキッチンにカスタム商品を追加し、custom/createを配信する。
func (s *Service) CreateCustomProduct(ctx context.Context, userID, kitchenID, name string, barcodes []int64) (*model.CustomProduct, error) {
	if err := s.oracle.CheckAccess(ctx, userID, kitchenID); err != nil {
		return nil, err
	}
	clean, err := s.validator.CleanName(name)
	if err != nil {
		return nil, toValidationError(err)
	}
	if barcodes == nil {
		barcodes = []int64{}
	}

	msg := message.CustomCreate{
		Header:    message.Header{KitchenID: kitchenID},
		ProductID: s.newID(),
		Name:      clean,
		Barcodes:  barcodes,
	}
	if err := s.publisher.PublishAsMember(ctx, userID, msg); err != nil {
		return nil, err
	}
	return &model.CustomProduct{
		KitchenID: kitchenID,
		ProductID: msg.ProductID,
		Name:      clean,
		Barcodes:  barcodes,
	}, nil
}

// UploadImage はカスタム商品の画像を保存し、custom/update_imageを配信する。
// JPEGとPNGのみ受け付け、形式は内容から判定する。
func (s *Service) UploadImage(ctx context.Context, userID, kitchenID, productID string, data []byte) error {
	if err := message.CheckID("product_id", productID); err != nil {
		return toValidationError(err)
	}
	if err := s.oracle.CheckAccess(ctx, userID, kitchenID); err != nil {
		return err
	}
	if int64(len(data)) > s.maxImageSize {
		return model.NewImageTooLargeError(s.maxImageSize)
	}
	mime := http.DetectContentType(data)
	if !allowedImageTypes[mime] {
		return model.NewUnsupportedImageError(mime)
	}

	if err := s.store.SaveImage(ctx, kitchenID, productID, &model.ProductImage{Data: data, MIME: mime}); err != nil {
		return err
	}

	msg := message.CustomUpdateImage{Header: message.Header{KitchenID: kitchenID}, ProductID: productID}
	return s.publisher.PublishAsMember(ctx, userID, msg)
}

// GetImage はカスタム商品の画像を返す。
func (s *Service) GetImage(ctx context.Context, userID, kitchenID, productID string) (*model.ProductImage, error) {
	if err := s.oracle.CheckAccess(ctx, userID, kitchenID); err != nil {
		return nil, err
	}
	return s.store.FindImage(ctx, kitchenID, productID)
}

// BuyGroceryItem は買い物リストの商品を在庫リストに移す。
// grocery/removeとinventory/addを1つの反映として扱い、両方を配信する。
func (s *Service) BuyGroceryItem(ctx context.Context, userID, kitchenID, productID string, amount, expiry int64) error {
	if err := message.CheckID("product_id", productID); err != nil {
		return toValidationError(err)
	}
	if amount <= 0 {
		return model.NewValidationError("amount: must be a positive integer")
	}
	if err := s.oracle.CheckAccess(ctx, userID, kitchenID); err != nil {
		return err
	}

	h := message.Header{KitchenID: kitchenID}
	return s.publisher.PublishAsMember(ctx, userID,
		message.GroceryRemove{Header: h, ProductID: productID, Amount: amount},
		message.InventoryAdd{Header: h, ProductID: productID, Amount: amount, Expiry: expiry},
	)
}

// LeaveKitchen はユーザーをキッチンから脱退させ、その接続への配信を止める。
// オーナーも脱退できる。キッチン自体は残る。
func (s *Service) LeaveKitchen(ctx context.Context, userID, kitchenID string) error {
	return s.publisher.Leave(ctx, userID, kitchenID)
}

// Ping はストアへの疎通を確認する。
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("ストアへの疎通確認に失敗しました: %w", err)
	}
	return nil
}

func toValidationError(err error) error {
	var ve *message.ValidationError
	if errors.As(err, &ve) {
		return model.NewValidationError(ve.Error())
	}
	return err
}
