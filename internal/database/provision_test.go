package database

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openRawDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("開啟測試資料庫失敗: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	db := openRawDB(t)

	if err := EnsureSchema(db, zap.NewNop()); err != nil {
		t.Fatalf("第一次 EnsureSchema: %v", err)
	}
	if err := EnsureSchema(db, zap.NewNop()); err != nil {
		t.Fatalf("第二次 EnsureSchema: %v", err)
	}

	for _, table := range []string{"user", "materials", "category", "in_record", "out_record"} {
		if !db.Migrator().HasTable(table) {
			t.Errorf("缺少資料表 %s", table)
		}
	}
}

// 舊資料庫缺欄位時，補齊欄位但不動既有資料。
func TestEnsureSchemaAddsMissingColumns(t *testing.T) {
	db := openRawDB(t)

	// 模擬舊版 schema：materials 缺 safety_stock 與 barcode 欄位
	if err := db.Exec(`CREATE TABLE materials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id TEXT,
		name TEXT,
		unit TEXT,
		category TEXT,
		current_stock INTEGER,
		notes TEXT
	)`).Error; err != nil {
		t.Fatalf("建立舊版資料表失敗: %v", err)
	}
	if err := db.Exec(
		`INSERT INTO materials (item_id, name, unit, category, current_stock, notes)
		 VALUES ('M0001', '電阻', '個', '電子零件', 10, '')`).Error; err != nil {
		t.Fatalf("寫入舊資料失敗: %v", err)
	}

	if err := EnsureSchema(db, zap.NewNop()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	for _, col := range []string{"safety_stock", "barcode"} {
		if !db.Migrator().HasColumn("materials", col) {
			t.Errorf("缺少欄位 materials.%s", col)
		}
	}

	// 既有資料必須還在
	var count int64
	if err := db.Table("materials").Where("item_id = ?", "M0001").Count(&count).Error; err != nil {
		t.Fatalf("查詢舊資料失敗: %v", err)
	}
	if count != 1 {
		t.Errorf("既有資料遺失: count = %d", count)
	}
}
