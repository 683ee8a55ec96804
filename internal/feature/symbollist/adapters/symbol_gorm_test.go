package adapters

import (
	"context"
	"testing"

	"twstock_backend/internal/feature/symbollist/domain/entity"
	"twstock_backend/internal/feature/symbollist/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupTestDB はテスト用のインメモリSQLiteデータベースを準備します。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to initialize test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&entity.Symbol{}), "failed to migrate table")
	return db
}

// seedSymbol はテスト用の銘柄データをデータベースに作成します。
func seedSymbol(t *testing.T, db *gorm.DB, code, name string, isActive bool, sortKey int) *entity.Symbol {
	t.Helper()

	symbol := &entity.Symbol{Code: code, Name: name, Market: entity.MarketTWSE, IsActive: true, SortKey: sortKey}
	require.NoError(t, db.Create(symbol).Error, "failed to seed symbol")

	// default:true のため false は作成後に更新する
	if !isActive {
		require.NoError(t, db.Model(symbol).Update("is_active", false).Error)
	}
	return symbol
}

// TestSymbolGorm_ListActive はListActiveメソッドの各種シナリオをテーブル駆動テストで検証します。
func TestSymbolGorm_ListActive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		setupFunc     func(t *testing.T, db *gorm.DB)
		expectedCodes []string
	}{
		{
			name: "success: returns active symbols sorted by sort_key",
			setupFunc: func(t *testing.T, db *gorm.DB) {
				seedSymbol(t, db, "0050", "元大台灣50", true, 2)
				seedSymbol(t, db, "2330", "台積電", true, 1)
				seedSymbol(t, db, "00878", "國泰永續高股息", true, 3)
			},
			expectedCodes: []string{"2330", "0050", "00878"},
		},
		{
			name: "success: excludes inactive symbols",
			setupFunc: func(t *testing.T, db *gorm.DB) {
				seedSymbol(t, db, "2330", "台積電", true, 1)
				seedSymbol(t, db, "2317", "鴻海", false, 2)
				seedSymbol(t, db, "0050", "元大台灣50", true, 3)
			},
			expectedCodes: []string{"2330", "0050"},
		},
		{
			name:          "success: returns empty list when no symbols",
			setupFunc:     func(t *testing.T, db *gorm.DB) {},
			expectedCodes: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db := setupTestDB(t)
			tt.setupFunc(t, db)
			repo := NewSymbolRepository(db)

			symbols, err := repo.ListActive(context.Background())
			require.NoError(t, err)
			codes := make([]string, 0, len(symbols))
			for _, s := range symbols {
				codes = append(codes, s.Code)
			}
			assert.Equal(t, tt.expectedCodes, codes)

			plucked, err := repo.ListActiveCodes(context.Background())
			require.NoError(t, err)
			if len(tt.expectedCodes) == 0 {
				assert.Empty(t, plucked)
			} else {
				assert.Equal(t, tt.expectedCodes, plucked)
			}
		})
	}
}

// TestSymbolGorm_Upsert は新規登録・再有効化・空フィールドの保持を検証します。
func TestSymbolGorm_Upsert(t *testing.T) {
	t.Parallel()

	t.Run("success: new symbols are appended", func(t *testing.T) {
		t.Parallel()
		db := setupTestDB(t)
		repo := NewSymbolRepository(db)
		ctx := context.Background()

		seedSymbol(t, db, "2330", "台積電", true, 5)
		require.NoError(t, repo.Upsert(ctx, entity.Symbol{Code: "0050"}))

		var got entity.Symbol
		require.NoError(t, db.Where("code = ?", "0050").Take(&got).Error)
		assert.Equal(t, 6, got.SortKey)
		assert.True(t, got.IsActive)
	})

	t.Run("success: first symbol gets sort key 1", func(t *testing.T) {
		t.Parallel()
		db := setupTestDB(t)
		repo := NewSymbolRepository(db)

		require.NoError(t, repo.Upsert(context.Background(), entity.Symbol{Code: "2330"}))

		var got entity.Symbol
		require.NoError(t, db.Where("code = ?", "2330").Take(&got).Error)
		assert.Equal(t, 1, got.SortKey)
	})

	t.Run("success: re-activates and keeps name when empty", func(t *testing.T) {
		t.Parallel()
		db := setupTestDB(t)
		repo := NewSymbolRepository(db)
		ctx := context.Background()

		seedSymbol(t, db, "2317", "鴻海", false, 3)
		require.NoError(t, repo.Upsert(ctx, entity.Symbol{Code: "2317"}))

		var got entity.Symbol
		require.NoError(t, db.Where("code = ?", "2317").Take(&got).Error)
		assert.True(t, got.IsActive)
		assert.Equal(t, "鴻海", got.Name)
		assert.Equal(t, 3, got.SortKey)

		var count int64
		require.NoError(t, db.Model(&entity.Symbol{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("success: updates name and market", func(t *testing.T) {
		t.Parallel()
		db := setupTestDB(t)
		repo := NewSymbolRepository(db)

		seedSymbol(t, db, "6488", "", true, 1)
		require.NoError(t, repo.Upsert(context.Background(), entity.Symbol{Code: "6488", Name: "環球晶", Market: entity.MarketTPEx}))

		var got entity.Symbol
		require.NoError(t, db.Where("code = ?", "6488").Take(&got).Error)
		assert.Equal(t, "環球晶", got.Name)
		assert.Equal(t, entity.MarketTPEx, got.Market)
	})
}

// TestSymbolGorm_Deactivate はウォッチリストからの除外と未登録時のエラーを検証します。
func TestSymbolGorm_Deactivate(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	repo := NewSymbolRepository(db)
	ctx := context.Background()
	seedSymbol(t, db, "2330", "台積電", true, 1)

	require.NoError(t, repo.Deactivate(ctx, "2330"))
	codes, err := repo.ListActiveCodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, codes)

	assert.ErrorIs(t, repo.Deactivate(ctx, "2330"), usecase.ErrSymbolNotFound)
	assert.ErrorIs(t, repo.Deactivate(ctx, "9999"), usecase.ErrSymbolNotFound)
}
