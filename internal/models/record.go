package models

import "time"

// InRecord 入庫紀錄，寫入後不修改，只能刪除。
type InRecord struct {
	ID         uint      `gorm:"primaryKey"`
	Date       time.Time `gorm:"index"` // UTC，預設為寫入時間
	MaterialID uint      `gorm:"index;not null"`
	Quantity   int       `gorm:"not null"`
	Source     string    `gorm:"size:100"`
	Handler    string    `gorm:"size:50"`
	Barcode    string    `gorm:"size:100"` // 寫入當下的物料條碼快照
}

func (InRecord) TableName() string { return "in_record" }

// OutRecord 出庫紀錄，寫入後不修改，只能刪除。
type OutRecord struct {
	ID         uint      `gorm:"primaryKey"`
	Date       time.Time `gorm:"index"`
	MaterialID uint      `gorm:"index;not null"`
	Quantity   int       `gorm:"not null"`
	User       string    `gorm:"size:50"`
	Department string    `gorm:"size:50"`
	Purpose    string    `gorm:"size:100"`
	Barcode    string    `gorm:"size:100"`
	Source     string    `gorm:"size:100"`
	Handler    string    `gorm:"size:50"`
}

func (OutRecord) TableName() string { return "out_record" }
