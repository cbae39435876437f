package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/kitchenhub/internal/model"
)

// PostgresMembershipRepo はPostgreSQLを使用したメンバーシップリポジトリ。
type PostgresMembershipRepo struct {
	db *sql.DB
}

// NewPostgresMembershipRepo はPostgresMembershipRepoを生成する。
func NewPostgresMembershipRepo(db *sql.DB) *PostgresMembershipRepo {
	return &PostgresMembershipRepo{db: db}
}

// IsMember はユーザーがキッチンのメンバーかどうかを返す。
func (r *PostgresMembershipRepo) IsMember(ctx context.Context, kitchenID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM kitchen_members WHERE kitchen_id = $1 AND user_id::text = $2
		 )`,
		kitchenID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// FindKitchen は指定IDのキッチンを取得する。見つからない場合はnilを返す。
func (r *PostgresMembershipRepo) FindKitchen(ctx context.Context, kitchenID string) (*model.Kitchen, error) {
	k := &model.Kitchen{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at, updated_at FROM kitchens WHERE id = $1`,
		kitchenID,
	).Scan(&k.ID, &k.Name, &k.OwnerID, &k.CreatedAt, &k.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find kitchen: %w", err)
	}
	return k, nil
}

// RemoveMember はメンバーシップを削除する。メンバーでない場合はErrNotFoundを返す。
func (r *PostgresMembershipRepo) RemoveMember(ctx context.Context, kitchenID, userID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM kitchen_members WHERE kitchen_id = $1 AND user_id::text = $2`,
		kitchenID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// compile-time interface check
var _ MembershipRepository = (*PostgresMembershipRepo)(nil)
