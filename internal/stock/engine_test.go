package stock

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/FSVS-ISD/materials-management/internal/database"
	"github.com/FSVS-ISD/materials-management/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stock_test.db")
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
	if err := database.EnsureSchema(db, zap.NewNop()); err != nil {
		t.Fatalf("初始化測試資料庫失敗: %v", err)
	}
	return db
}

func seedMaterial(t *testing.T, db *gorm.DB, itemID string) *models.Material {
	t.Helper()
	barcode := "BC-00" + itemID
	m := &models.Material{
		ItemID:   itemID,
		Name:     "測試物料 " + itemID,
		Unit:     "個",
		Category: "測試分類",
		Barcode:  &barcode,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("建立測試物料失敗: %v", err)
	}
	return m
}

func currentStock(t *testing.T, db *gorm.DB, itemID string) int {
	t.Helper()
	var m models.Material
	if err := db.Where("item_id = ?", itemID).First(&m).Error; err != nil {
		t.Fatalf("查詢物料失敗: %v", err)
	}
	return m.CurrentStock
}

func TestRecordInThenOut(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(zap.NewNop())
	seedMaterial(t, db, "M0001")

	material, record, err := engine.RecordIn(db, "M0001", InInput{Quantity: 10, Source: "採購", Handler: "王小明"})
	if err != nil {
		t.Fatalf("RecordIn: %v", err)
	}
	if material.CurrentStock != 10 {
		t.Errorf("入庫後庫存 = %d, want 10", material.CurrentStock)
	}
	if record.Quantity != 10 || record.Source != "採購" {
		t.Errorf("入庫紀錄內容錯誤: %+v", record)
	}
	if record.Barcode == "" {
		t.Error("入庫紀錄應帶有條碼快照")
	}

	material, _, err = engine.RecordOut(db, "M0001", OutInput{Quantity: 3, User: "dep1", Department: "資訊科", Purpose: "實習課"})
	if err != nil {
		t.Fatalf("RecordOut: %v", err)
	}
	if material.CurrentStock != 7 {
		t.Errorf("出庫後庫存 = %d, want 7", material.CurrentStock)
	}
}

func TestRecordOutInsufficientStock(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(zap.NewNop())
	seedMaterial(t, db, "M0001")

	if _, _, err := engine.RecordIn(db, "M0001", InInput{Quantity: 5}); err != nil {
		t.Fatalf("RecordIn: %v", err)
	}

	_, _, err := engine.RecordOut(db, "M0001", OutInput{Quantity: 6})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("err = %v, want ErrInsufficientStock", err)
	}

	// 被拒絕的出庫不能留下任何紀錄，也不能動到庫存
	if got := currentStock(t, db, "M0001"); got != 5 {
		t.Errorf("庫存 = %d, want 5", got)
	}
	var count int64
	db.Model(&models.OutRecord{}).Count(&count)
	if count != 0 {
		t.Errorf("出庫紀錄數 = %d, want 0", count)
	}
}

func TestRecordMaterialNotFound(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(zap.NewNop())

	if _, _, err := engine.RecordIn(db, "M9999", InInput{Quantity: 1}); !errors.Is(err, ErrMaterialNotFound) {
		t.Errorf("RecordIn err = %v, want ErrMaterialNotFound", err)
	}
	if _, _, err := engine.RecordOut(db, "M9999", OutInput{Quantity: 1}); !errors.Is(err, ErrMaterialNotFound) {
		t.Errorf("RecordOut err = %v, want ErrMaterialNotFound", err)
	}
}

func TestDeleteInRecomputesStock(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(zap.NewNop())
	seedMaterial(t, db, "M0001")

	_, record, err := engine.RecordIn(db, "M0001", InInput{Quantity: 10})
	if err != nil {
		t.Fatalf("RecordIn: %v", err)
	}
	if _, _, err := engine.RecordOut(db, "M0001", OutInput{Quantity: 3}); err != nil {
		t.Fatalf("RecordOut: %v", err)
	}

	// 刪掉唯一的入庫紀錄：帳面剩 -3，庫存必須校正為 0
	material, err := engine.DeleteIn(db, record.ID)
	if err != nil {
		t.Fatalf("DeleteIn: %v", err)
	}
	if material.CurrentStock != 0 {
		t.Errorf("刪除入庫後庫存 = %d, want 0 (負值需校正)", material.CurrentStock)
	}
}

func TestDeleteOutRestoresStock(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(zap.NewNop())
	seedMaterial(t, db, "M0001")

	if _, _, err := engine.RecordIn(db, "M0001", InInput{Quantity: 10}); err != nil {
		t.Fatalf("RecordIn: %v", err)
	}
	_, record, err := engine.RecordOut(db, "M0001", OutInput{Quantity: 3})
	if err != nil {
		t.Fatalf("RecordOut: %v", err)
	}

	material, err := engine.DeleteOut(db, record.ID)
	if err != nil {
		t.Fatalf("DeleteOut: %v", err)
	}
	if material.CurrentStock != 10 {
		t.Errorf("刪除出庫後庫存 = %d, want 10", material.CurrentStock)
	}
}

func TestDeleteRecordNotFound(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(zap.NewNop())

	if _, err := engine.DeleteIn(db, 12345); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("DeleteIn err = %v, want ErrRecordNotFound", err)
	}
	if _, err := engine.DeleteOut(db, 12345); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("DeleteOut err = %v, want ErrRecordNotFound", err)
	}
}

func TestRecomputeMissingMaterial(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(zap.NewNop())

	found, err := engine.Recompute(db, "M9999")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if found {
		t.Error("不存在的物料應回傳 found=false")
	}
}

// 併發出庫不能讓庫存變成負的。
func TestConcurrentOutNeverOverdraws(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(zap.NewNop())
	seedMaterial(t, db, "M0001")

	if _, _, err := engine.RecordIn(db, "M0001", InInput{Quantity: 10}); err != nil {
		t.Fatalf("RecordIn: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := engine.RecordOut(db, "M0001", OutInput{Quantity: 3})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientStock) {
				t.Errorf("非預期錯誤: %v", err)
			}
		}()
	}
	wg.Wait()

	// 10 個庫存，每次出 3：最多成功 3 次
	if succeeded != 3 {
		t.Errorf("成功出庫次數 = %d, want 3", succeeded)
	}
	if got := currentStock(t, db, "M0001"); got != 10-succeeded*3 {
		t.Errorf("庫存 = %d, want %d", got, 10-succeeded*3)
	}
}

// 每筆帳動完後，庫存必須等於 max(0, 總入庫 − 總出庫)。
func TestStockAlwaysMatchesLedger(t *testing.T) {
	db := newTestDB(t)
	engine := NewEngine(zap.NewNop())
	seedMaterial(t, db, "M0001")

	steps := []struct {
		in   int
		out  int
		want int
	}{
		{in: 20, want: 20},
		{out: 5, want: 15},
		{in: 3, want: 18},
		{out: 18, want: 0},
		{in: 7, want: 7},
	}

	for i, s := range steps {
		var err error
		if s.in > 0 {
			_, _, err = engine.RecordIn(db, "M0001", InInput{Quantity: s.in})
		} else {
			_, _, err = engine.RecordOut(db, "M0001", OutInput{Quantity: s.out})
		}
		if err != nil {
			t.Fatalf("步驟 %d: %v", i, err)
		}
		if got := currentStock(t, db, "M0001"); got != s.want {
			t.Errorf("步驟 %d: 庫存 = %d, want %d", i, got, s.want)
		}
	}
}
