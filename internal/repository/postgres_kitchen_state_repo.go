package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/kitchenhub/internal/message"
	"github.com/hitoshi/kitchenhub/internal/model"
)

// PostgreSQLのエラーコード
const (
	pgUniqueViolation   = "23505"
	pgNumericOutOfRange = "22003"
)

// PostgresKitchenStateRepo はPostgreSQLを使用したキッチン状態リポジトリ。
// 1回のApplyを1トランザクションで実行し、キッチン行をFOR UPDATEでロックする。
type PostgresKitchenStateRepo struct {
	db     *sql.DB
	policy model.RemovalPolicy
}

// NewPostgresKitchenStateRepo はPostgresKitchenStateRepoを生成する。
func NewPostgresKitchenStateRepo(db *sql.DB, policy model.RemovalPolicy) *PostgresKitchenStateRepo {
	if policy == "" {
		policy = model.RemovalClamp
	}
	return &PostgresKitchenStateRepo{db: db, policy: policy}
}

// Apply はメッセージ群を1つのトランザクションで反映する。
func (r *PostgresKitchenStateRepo) Apply(ctx context.Context, actorID string, msgs []message.Message) (*model.ApplyResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result := &model.ApplyResult{}
	now := time.Now().UTC()

	for _, m := range msgs {
		if err := r.applyOne(ctx, tx, actorID, m, now, result); err != nil {
			return nil, tagItemError(err, m)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

func (r *PostgresKitchenStateRepo) applyOne(ctx context.Context, tx *sql.Tx, actorID string, m message.Message, now time.Time, result *model.ApplyResult) error {
	kitchenID := m.Kitchen()

	if create, ok := m.(message.KitchenCreate); ok {
		return createKitchen(ctx, tx, kitchenID, create.Name, actorID, now, result)
	}

	if err := lockKitchen(ctx, tx, kitchenID); err != nil {
		return err
	}

	switch v := m.(type) {
	case message.KitchenRename:
		_, err := tx.ExecContext(ctx,
			`UPDATE kitchens SET name = $2, updated_at = $3 WHERE id = $1`,
			kitchenID, v.Name, now,
		)
		if err != nil {
			return fmt.Errorf("failed to rename kitchen: %w", err)
		}

	case message.KitchenShare:
		return shareKitchen(ctx, tx, kitchenID, v.ShareWith, now, result)

	case message.KitchenDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM kitchens WHERE id = $1`, kitchenID); err != nil {
			return fmt.Errorf("failed to delete kitchen: %w", err)
		}
		result.KitchenDeleted = true

	case message.GroceryAdd:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO grocery_items (kitchen_id, product_id, amount, updated_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (kitchen_id, product_id) DO UPDATE SET
			     amount = grocery_items.amount + EXCLUDED.amount,
			     updated_at = EXCLUDED.updated_at`,
			kitchenID, v.ProductID, v.Amount, now,
		)
		if isOutOfRange(err) {
			return &ItemError{ProductID: v.ProductID, Err: ErrOverflow}
		}
		if err != nil {
			return fmt.Errorf("failed to add grocery item: %w", err)
		}

	case message.GroceryRemove:
		return r.removeAmount(ctx, tx, v.ProductID, v.Amount, now,
			`SELECT amount FROM grocery_items WHERE kitchen_id = $1 AND product_id = $2 FOR UPDATE`,
			`UPDATE grocery_items SET amount = amount - $3, updated_at = $4 WHERE kitchen_id = $1 AND product_id = $2`,
			`DELETE FROM grocery_items WHERE kitchen_id = $1 AND product_id = $2`,
			kitchenID, v.ProductID,
		)

	case message.InventoryAdd:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO inventory_items (kitchen_id, product_id, expiry, amount, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (kitchen_id, product_id, expiry) DO UPDATE SET
			     amount = inventory_items.amount + EXCLUDED.amount,
			     updated_at = EXCLUDED.updated_at`,
			kitchenID, v.ProductID, v.Expiry, v.Amount, now,
		)
		if isOutOfRange(err) {
			return &ItemError{ProductID: v.ProductID, Err: ErrOverflow}
		}
		if err != nil {
			return fmt.Errorf("failed to add inventory item: %w", err)
		}

	case message.InventoryRemove:
		return r.removeAmount(ctx, tx, v.ProductID, v.Amount, now,
			`SELECT amount FROM inventory_items WHERE kitchen_id = $1 AND product_id = $2 AND expiry = $3 FOR UPDATE`,
			`UPDATE inventory_items SET amount = amount - $4, updated_at = $5 WHERE kitchen_id = $1 AND product_id = $2 AND expiry = $3`,
			`DELETE FROM inventory_items WHERE kitchen_id = $1 AND product_id = $2 AND expiry = $3`,
			kitchenID, v.ProductID, v.Expiry,
		)

	case message.CustomCreate:
		_, err := tx.ExecContext(ctx,
			`INSERT INTO custom_products (kitchen_id, product_id, name, barcodes, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $5)`,
			kitchenID, v.ProductID, v.Name, pq.Array(nonNilBarcodes(v.Barcodes)), now,
		)
		if isUniqueViolation(err) {
			return &ItemError{ProductID: v.ProductID, Err: ErrConflict}
		}
		if err != nil {
			return fmt.Errorf("failed to create custom product: %w", err)
		}

	case message.CustomRename:
		return updateProduct(ctx, tx, v.ProductID,
			`UPDATE custom_products SET name = $3, updated_at = $4 WHERE kitchen_id = $1 AND product_id = $2`,
			kitchenID, v.ProductID, v.Name, now,
		)

	case message.CustomUpdateBarcodes:
		return updateProduct(ctx, tx, v.ProductID,
			`UPDATE custom_products SET barcodes = $3, updated_at = $4 WHERE kitchen_id = $1 AND product_id = $2`,
			kitchenID, v.ProductID, pq.Array(nonNilBarcodes(v.Barcodes)), now,
		)

	case message.CustomUpdateImage:
		// 画像の保存はSaveProductImageで済んでいるため、存在確認のみ行う。
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM custom_products WHERE kitchen_id = $1 AND product_id = $2)`,
			kitchenID, v.ProductID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check custom product: %w", err)
		}
		if !exists {
			return &ItemError{ProductID: v.ProductID, Err: ErrNotFound}
		}

	case message.CustomDelete:
		return updateProduct(ctx, tx, v.ProductID,
			`DELETE FROM custom_products WHERE kitchen_id = $1 AND product_id = $2`,
			kitchenID, v.ProductID,
		)

	default:
		return fmt.Errorf("unsupported message type %T", m)
	}
	return nil
}

func createKitchen(ctx context.Context, tx *sql.Tx, kitchenID, name, ownerID string, now time.Time, result *model.ApplyResult) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO kitchens (id, name, owner_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		kitchenID, name, ownerID, now,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("kitchen %s: %w", kitchenID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create kitchen: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kitchen_members (kitchen_id, user_id, role, created_at)
		 VALUES ($1, $2, $3, $4)`,
		kitchenID, ownerID, model.RoleOwner, now,
	)
	if err != nil {
		return fmt.Errorf("failed to add kitchen owner: %w", err)
	}

	result.NotifyUserIDs = appendUnique(result.NotifyUserIDs, ownerID)
	return nil
}

func lockKitchen(ctx context.Context, tx *sql.Tx, kitchenID string) error {
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM kitchens WHERE id = $1 FOR UPDATE`,
		kitchenID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return ErrKitchenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock kitchen: %w", err)
	}
	return nil
}

func shareKitchen(ctx context.Context, tx *sql.Tx, kitchenID string, emails []string, now time.Time, result *model.ApplyResult) error {
	users, err := findUsersByEmails(ctx, tx, emails)
	if err != nil {
		return err
	}
	result.SkippedEmails = append(result.SkippedEmails, unresolvedEmails(emails, users)...)

	for _, u := range users {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO kitchen_members (kitchen_id, user_id, role, created_at)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (kitchen_id, user_id) DO NOTHING`,
			kitchenID, u.ID, model.RoleMember, now,
		)
		if err != nil {
			return fmt.Errorf("failed to add kitchen member: %w", err)
		}
		added, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if added > 0 {
			result.NotifyUserIDs = appendUnique(result.NotifyUserIDs, u.ID)
		}
	}
	return nil
}

// removeAmount は数量を減らし、0以下になった項目を削除する。
// argsは3つのクエリで共通の先頭パラメータ。updateQueryは続けて数量と更新日時を受け取る。
func (r *PostgresKitchenStateRepo) removeAmount(ctx context.Context, tx *sql.Tx, productID string, amount int64, now time.Time, selectQuery, updateQuery, deleteQuery string, args ...any) error {
	var current int64
	err := tx.QueryRowContext(ctx, selectQuery, args...).Scan(&current)
	if err == sql.ErrNoRows {
		return &ItemError{ProductID: productID, Err: ErrNotFound}
	}
	if err != nil {
		return fmt.Errorf("failed to read item amount: %w", err)
	}

	switch {
	case current > amount:
		updateArgs := append(append([]any{}, args...), amount, now)
		if _, err := tx.ExecContext(ctx, updateQuery, updateArgs...); err != nil {
			return fmt.Errorf("failed to decrement item: %w", err)
		}
	case current == amount || r.policy == model.RemovalClamp:
		if _, err := tx.ExecContext(ctx, deleteQuery, args...); err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
	default:
		return &ItemError{ProductID: productID, Err: ErrInsufficient}
	}
	return nil
}

// updateProduct は更新系クエリを実行し、対象がない場合はErrNotFoundを返す。
func updateProduct(ctx context.Context, tx *sql.Tx, productID, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update custom product: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return &ItemError{ProductID: productID, Err: ErrNotFound}
	}
	return nil
}

// SaveProductImage はカスタム商品の画像を保存する。
func (r *PostgresKitchenStateRepo) SaveProductImage(ctx context.Context, kitchenID, productID string, img *model.ProductImage) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE custom_products
		 SET image_data = $3, image_mime = $4, updated_at = $5
		 WHERE kitchen_id = $1 AND product_id = $2`,
		kitchenID, productID, img.Data, img.MIME, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save product image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return &ItemError{ProductID: productID, Err: ErrNotFound}
	}
	return nil
}

// FindProductImage はカスタム商品の画像を取得する。画像が未登録の場合はnilを返す。
func (r *PostgresKitchenStateRepo) FindProductImage(ctx context.Context, kitchenID, productID string) (*model.ProductImage, error) {
	var data []byte
	var mime sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT image_data, image_mime FROM custom_products WHERE kitchen_id = $1 AND product_id = $2`,
		kitchenID, productID,
	).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, &ItemError{ProductID: productID, Err: ErrNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product image: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return &model.ProductImage{Data: data, MIME: mime.String}, nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresKitchenStateRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

func isOutOfRange(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgNumericOutOfRange
}

func nonNilBarcodes(codes []int64) []int64 {
	if codes == nil {
		return []int64{}
	}
	return codes
}

// compile-time interface check
var _ KitchenStateRepository = (*PostgresKitchenStateRepo)(nil)
