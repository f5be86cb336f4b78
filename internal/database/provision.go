package database

import (
	"fmt"
	"sync"

	"github.com/FSVS-ISD/materials-management/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// schemaModels lists every declared entity. Provisioning creates the table
// when absent and otherwise adds any column the live table is missing.
var schemaModels = []interface{}{
	&models.User{},
	&models.Material{},
	&models.Category{},
	&models.InRecord{},
	&models.OutRecord{},
}

var parseCache sync.Map

// EnsureSchema creates every declared table if absent, then compares each
// existing table's live column set against the model and additively applies
// missing columns (ALTER TABLE ... ADD COLUMN). Alterations are applied one
// at a time and logged. Never drops or renames anything, and is safe to call
// repeatedly.
func EnsureSchema(db *gorm.DB, log *zap.Logger) error {
	migrator := db.Migrator()

	for _, model := range schemaModels {
		s, err := schema.Parse(model, &parseCache, db.NamingStrategy)
		if err != nil {
			return fmt.Errorf("parse model schema: %w", err)
		}

		if !migrator.HasTable(model) {
			if err := migrator.CreateTable(model); err != nil {
				return fmt.Errorf("create table %s: %w", s.Table, err)
			}
			log.Info("資料表已建立", zap.String("table", s.Table))
			continue
		}

		// 舊資料庫檔案：補齊缺少的欄位
		for _, field := range s.Fields {
			if field.DBName == "" {
				continue
			}
			if migrator.HasColumn(model, field.DBName) {
				continue
			}
			if err := migrator.AddColumn(model, field.DBName); err != nil {
				return fmt.Errorf("add column %s.%s: %w", s.Table, field.DBName, err)
			}
			log.Info("資料表欄位不存在，已自動新增",
				zap.String("table", s.Table),
				zap.String("column", field.DBName))
		}
	}

	return nil
}
