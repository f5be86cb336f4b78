package stock

import (
	"errors"
	"sync"
	"time"

	"github.com/FSVS-ISD/materials-management/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrMaterialNotFound 找不到物料
	ErrMaterialNotFound = errors.New("material not found")
	// ErrRecordNotFound 找不到出入庫紀錄
	ErrRecordNotFound = errors.New("record not found")
	// ErrInsufficientStock 庫存不足，無法出庫
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Engine keeps the derived current_stock of every material consistent with
// the append-only in/out ledger. A single process-wide mutex serializes every
// ledger insert/delete together with its recompute, which closes the window
// where two concurrent out-records could both pass the sufficiency check on
// the same stale stock value. Each operation additionally runs in one SQL
// transaction so a failure rolls back the ledger write and the recompute
// together.
type Engine struct {
	mu  sync.Mutex
	log *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	return &Engine{log: log}
}

// InInput 入庫參數
type InInput struct {
	Quantity int
	Source   string
	Handler  string
}

// OutInput 出庫參數
type OutInput struct {
	Quantity   int
	User       string
	Department string
	Purpose    string
	Source     string
	Handler    string
}

// Recompute recalculates current_stock for the material identified by itemID
// as max(0, sum(in) - sum(out)) and writes it within the caller's
// transaction. It never commits or rolls back; that stays with the caller so
// the recompute is atomic with the ledger write that triggered it.
//
// Returns found=false (logged, not an error) when the material does not
// exist — that signals a caller bug, not a storage failure.
func (e *Engine) Recompute(tx *gorm.DB, itemID string) (bool, error) {
	var material models.Material
	if err := tx.Where("item_id = ?", itemID).First(&material).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			e.log.Warn("嘗試更新不存在的物料庫存", zap.String("item_id", itemID))
			return false, nil
		}
		return false, err
	}

	totalIn, totalOut, err := ledgerTotals(tx, material.ID)
	if err != nil {
		return false, err
	}

	newStock := totalIn - totalOut
	if newStock < 0 {
		e.log.Warn("物料計算後庫存為負，已校正為 0",
			zap.String("item_id", itemID),
			zap.Int("computed", newStock))
		newStock = 0
	}

	if err := tx.Model(&material).Update("current_stock", newStock).Error; err != nil {
		return false, err
	}
	e.log.Debug("物料庫存已更新",
		zap.String("item_id", itemID),
		zap.Int("current_stock", newStock))
	return true, nil
}

func ledgerTotals(tx *gorm.DB, materialID uint) (totalIn, totalOut int, err error) {
	if err = tx.Model(&models.InRecord{}).
		Where("material_id = ?", materialID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&totalIn).Error; err != nil {
		return 0, 0, err
	}
	if err = tx.Model(&models.OutRecord{}).
		Where("material_id = ?", materialID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&totalOut).Error; err != nil {
		return 0, 0, err
	}
	return totalIn, totalOut, nil
}

// RecordIn appends an in-record for the material and recomputes its stock in
// the same transaction. Returns the refreshed material and the new record.
func (e *Engine) RecordIn(db *gorm.DB, itemID string, in InInput) (*models.Material, *models.InRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var material models.Material
	var record models.InRecord

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", itemID).First(&material).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMaterialNotFound
			}
			return err
		}

		record = models.InRecord{
			Date:       time.Now().UTC(),
			MaterialID: material.ID,
			Quantity:   in.Quantity,
			Source:     in.Source,
			Handler:    in.Handler,
			Barcode:    material.BarcodeValue(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		_, err := e.Recompute(tx, itemID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if err := db.Where("item_id = ?", itemID).First(&material).Error; err != nil {
		return nil, nil, err
	}
	e.log.Info("入庫紀錄新增成功",
		zap.String("item_id", itemID),
		zap.Int("quantity", in.Quantity),
		zap.Int("current_stock", material.CurrentStock))
	return &material, &record, nil
}

// RecordOut appends an out-record after checking the current stock is
// sufficient. The check, the insert and the recompute all happen under the
// engine mutex and inside one transaction, so concurrent out-records cannot
// overdraw the same material.
func (e *Engine) RecordOut(db *gorm.DB, itemID string, out OutInput) (*models.Material, *models.OutRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var material models.Material
	var record models.OutRecord

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", itemID).First(&material).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMaterialNotFound
			}
			return err
		}
		if material.CurrentStock < out.Quantity {
			return ErrInsufficientStock
		}

		record = models.OutRecord{
			Date:       time.Now().UTC(),
			MaterialID: material.ID,
			Quantity:   out.Quantity,
			User:       out.User,
			Department: out.Department,
			Purpose:    out.Purpose,
			Source:     out.Source,
			Handler:    out.Handler,
			Barcode:    material.BarcodeValue(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		_, err := e.Recompute(tx, itemID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if err := db.Where("item_id = ?", itemID).First(&material).Error; err != nil {
		return nil, nil, err
	}
	e.log.Info("出庫紀錄新增成功",
		zap.String("item_id", itemID),
		zap.Int("quantity", out.Quantity),
		zap.Int("current_stock", material.CurrentStock))
	return &material, &record, nil
}

// DeleteIn removes an in-record and recomputes the affected material's stock
// in the same transaction.
func (e *Engine) DeleteIn(db *gorm.DB, recordID uint) (*models.Material, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var material models.Material
	err := db.Transaction(func(tx *gorm.DB) error {
		var record models.InRecord
		if err := tx.First(&record, recordID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return err
		}
		if err := tx.First(&material, record.MaterialID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMaterialNotFound
			}
			return err
		}
		if err := tx.Delete(&record).Error; err != nil {
			return err
		}
		_, err := e.Recompute(tx, material.ItemID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := db.First(&material, material.ID).Error; err != nil {
		return nil, err
	}
	e.log.Info("入庫紀錄刪除成功", zap.Uint("record_id", recordID))
	return &material, nil
}

// DeleteOut removes an out-record and recomputes the affected material's
// stock in the same transaction.
func (e *Engine) DeleteOut(db *gorm.DB, recordID uint) (*models.Material, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var material models.Material
	err := db.Transaction(func(tx *gorm.DB) error {
		var record models.OutRecord
		if err := tx.First(&record, recordID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRecordNotFound
			}
			return err
		}
		if err := tx.First(&material, record.MaterialID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMaterialNotFound
			}
			return err
		}
		if err := tx.Delete(&record).Error; err != nil {
			return err
		}
		_, err := e.Recompute(tx, material.ItemID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := db.First(&material, material.ID).Error; err != nil {
		return nil, err
	}
	e.log.Info("出庫紀錄刪除成功", zap.Uint("record_id", recordID))
	return &material, nil
}
