// Package kitchen はキッチンのアクセス判定、状態反映、サーバー発行の操作を提供する。
package kitchen

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/kitchenhub/internal/model"
	"github.com/hitoshi/kitchenhub/internal/repository"
)

// MembershipOracle はユーザーがキッチンにアクセスできるかを判定する。
type MembershipOracle struct {
	repo repository.MembershipRepository
}

// NewMembershipOracle はMembershipOracleを生成する。
func NewMembershipOracle(repo repository.MembershipRepository) *MembershipOracle {
	return &MembershipOracle{repo: repo}
}

// IsMember はユーザーがキッチンのメンバーかどうかを返す。
// 存在しないキッチンに対してはエラーではなくfalseを返す。
func (o *MembershipOracle) IsMember(ctx context.Context, userID, kitchenID string) (bool, error) {
	ok, err := o.repo.IsMember(ctx, kitchenID, userID)
	if err != nil {
		return false, fmt.Errorf("メンバーシップの確認に失敗しました: %w", err)
	}
	return ok, nil
}

// CheckAccess はHTTP経由のアクセスを判定する。
// キッチンが存在しない場合はKITCHEN_NOT_FOUND、メンバーでない場合はFORBIDDENを返す。
func (o *MembershipOracle) CheckAccess(ctx context.Context, userID, kitchenID string) error {
	ok, err := o.IsMember(ctx, userID, kitchenID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	k, err := o.repo.FindKitchen(ctx, kitchenID)
	if err != nil {
		return fmt.Errorf("キッチンの取得に失敗しました: %w", err)
	}
	if k == nil {
		return model.NewKitchenNotFoundError(kitchenID)
	}
	return model.NewForbiddenError(kitchenID)
}

// Leave はユーザーをキッチンのメンバーから外す。
func (o *MembershipOracle) Leave(ctx context.Context, userID, kitchenID string) error {
	if err := o.CheckAccess(ctx, userID, kitchenID); err != nil {
		return err
	}
	err := o.repo.RemoveMember(ctx, kitchenID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewForbiddenError(kitchenID)
	}
	if err != nil {
		return fmt.Errorf("メンバーの削除に失敗しました: %w", err)
	}
	return nil
}
