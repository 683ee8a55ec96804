// Package adapters はウォッチリストのリポジトリ実装を提供します。
package adapters

import (
	"context"
	"errors"
	"fmt"

	"twstock_backend/internal/feature/symbollist/domain/entity"
	"twstock_backend/internal/feature/symbollist/usecase"

	"gorm.io/gorm"
)

// symbolGorm はSymbolRepositoryインターフェースのgorm実装です（sqlite / postgres）。
type symbolGorm struct {
	db *gorm.DB
}

var _ usecase.SymbolRepository = (*symbolGorm)(nil)

func NewSymbolRepository(db *gorm.DB) *symbolGorm {
	return &symbolGorm{db: db}
}

// ListActive はsort_key順にすべてのアクティブな銘柄を返します。
func (r *symbolGorm) ListActive(ctx context.Context) ([]entity.Symbol, error) {
	var symbols []entity.Symbol
	if err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_key ASC").
		Find(&symbols).Error; err != nil {
		return nil, err
	}
	return symbols, nil
}

// ListActiveCodes はsort_key順にアクティブな銘柄のコードのみを返します。
func (r *symbolGorm) ListActiveCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := r.db.WithContext(ctx).
		Model(&entity.Symbol{}).
		Where("is_active = ?", true).
		Order("sort_key ASC").
		Pluck("code", &codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

// Upsert は銘柄を登録または再有効化します。
// 新規登録時に SortKey が 0 なら末尾に追加します。既存銘柄の空の Name / Market は上書きしません。
func (r *symbolGorm) Upsert(ctx context.Context, s entity.Symbol) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing entity.Symbol
		err := tx.Where("code = ?", s.Code).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if s.SortKey == 0 {
				var maxKey int
				if err := tx.Model(&entity.Symbol{}).Select("COALESCE(MAX(sort_key), 0)").Row().Scan(&maxKey); err != nil {
					return fmt.Errorf("next sort key: %w", err)
				}
				s.SortKey = maxKey + 1
			}
			s.ID = 0
			s.IsActive = true
			return tx.Create(&s).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]any{"is_active": true}
		if s.Name != "" {
			updates["name"] = s.Name
		}
		if s.Market != "" {
			updates["market"] = s.Market
		}
		if s.SortKey != 0 {
			updates["sort_key"] = s.SortKey
		}
		return tx.Model(&existing).Updates(updates).Error
	})
}

// Deactivate はウォッチリストから外します。行は削除しません。
func (r *symbolGorm) Deactivate(ctx context.Context, code string) error {
	res := r.db.WithContext(ctx).
		Model(&entity.Symbol{}).
		Where("code = ? AND is_active = ?", code, true).
		Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", usecase.ErrSymbolNotFound, code)
	}
	return nil
}
