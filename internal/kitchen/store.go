package kitchen

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/kitchenhub/internal/message"
	"github.com/hitoshi/kitchenhub/internal/model"
	"github.com/hitoshi/kitchenhub/internal/repository"
)

// StateStore はメッセージをリポジトリに反映し、失敗をAPIErrorに変換する。
// 同一キッチンへの呼び出しの直列化は呼び出し側（Hub）が保証する。
type StateStore struct {
	repo   repository.KitchenStateRepository
	logger *slog.Logger
}

// NewStateStore はStateStoreを生成する。
func NewStateStore(repo repository.KitchenStateRepository, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{repo: repo, logger: logger}
}

// Apply はメッセージ群を全て反映するか、何も反映しない。
// 返すエラーは常に*model.APIError。
func (s *StateStore) Apply(ctx context.Context, actorID string, msgs ...message.Message) (*model.ApplyResult, error) {
	if len(msgs) == 0 {
		return &model.ApplyResult{}, nil
	}

	result, err := s.repo.Apply(ctx, actorID, msgs)
	if err != nil {
		return nil, s.toAPIError(msgs[0], err)
	}
	if len(result.SkippedEmails) > 0 {
		s.logger.Info("share skipped unknown emails",
			slog.String("kitchen_id", msgs[0].Kitchen()),
			slog.Int("skipped", len(result.SkippedEmails)),
		)
	}
	return result, nil
}

func (s *StateStore) toAPIError(first message.Message, err error) *model.APIError {
	kitchenID := first.Kitchen()

	var itemErr *repository.ItemError
	productID := ""
	kind := first.Kind()
	if errors.As(err, &itemErr) {
		productID = itemErr.ProductID
		if itemErr.Kind != (message.Kind{}) {
			kind = itemErr.Kind
		}
	}

	switch {
	case errors.Is(err, repository.ErrKitchenNotFound):
		return model.NewKitchenNotFoundError(kitchenID)
	case errors.Is(err, repository.ErrConflict):
		return model.NewProductConflictError(productID)
	case errors.Is(err, repository.ErrInsufficient):
		return model.NewInsufficientAmountError(productID)
	case errors.Is(err, repository.ErrOverflow):
		return model.NewAmountOverflowError(productID)
	case errors.Is(err, repository.ErrNotFound):
		if kind.Target == message.TargetCustom {
			return model.NewProductNotFoundError(productID)
		}
		return model.NewItemNotFoundError(productID)
	}

	s.logger.Error("failed to apply kitchen update",
		slog.String("kitchen_id", kitchenID),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()),
	)
	return model.NewApplyFailedError()
}

// SaveImage はカスタム商品の画像を保存する。
func (s *StateStore) SaveImage(ctx context.Context, kitchenID, productID string, img *model.ProductImage) error {
	err := s.repo.SaveProductImage(ctx, kitchenID, productID, img)
	if err == nil {
		return nil
	}
	return s.imageError(kitchenID, productID, err)
}

// FindImage はカスタム商品の画像を取得する。画像が未登録の場合はIMAGE_NOT_FOUNDを返す。
func (s *StateStore) FindImage(ctx context.Context, kitchenID, productID string) (*model.ProductImage, error) {
	img, err := s.repo.FindProductImage(ctx, kitchenID, productID)
	if err != nil {
		return nil, s.imageError(kitchenID, productID, err)
	}
	if img == nil {
		return nil, model.NewImageNotFoundError(productID)
	}
	return img, nil
}

func (s *StateStore) imageError(kitchenID, productID string, err error) error {
	switch {
	case errors.Is(err, repository.ErrKitchenNotFound):
		return model.NewKitchenNotFoundError(kitchenID)
	case errors.Is(err, repository.ErrNotFound):
		return model.NewProductNotFoundError(productID)
	}
	s.logger.Error("failed to access product image",
		slog.String("kitchen_id", kitchenID),
		slog.String("product_id", productID),
		slog.String("error", err.Error()),
	)
	return model.NewInternalError()
}

// Ping はストアへの疎通を確認する。
func (s *StateStore) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
