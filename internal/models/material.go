package models

// Material represents a tracked material.
// CurrentStock is derived from the in/out ledger and is never set by callers
// directly; the stock engine recomputes it inside the same transaction as
// every ledger write.
type Material struct {
	ID           uint    `gorm:"primaryKey"`
	ItemID       string  `gorm:"size:50;uniqueIndex;not null"` // 物料編號，格式 M####
	Name         string  `gorm:"size:100;not null"`
	Unit         string  `gorm:"size:20;not null"`
	Category     string  `gorm:"size:50;index;not null"` // 分類名稱（自由文字，比對時忽略大小寫與空白）
	SafetyStock  int     `gorm:"default:0"`
	CurrentStock int     `gorm:"default:0"`
	Notes        string  `gorm:"type:text"`
	Barcode      *string `gorm:"size:100;uniqueIndex"` // 可為空，空值不參與唯一性

	InRecords  []InRecord  `gorm:"foreignKey:MaterialID;constraint:OnDelete:CASCADE"`
	OutRecords []OutRecord `gorm:"foreignKey:MaterialID;constraint:OnDelete:CASCADE"`
}

func (Material) TableName() string { return "materials" }

// BarcodeValue returns the barcode or "" when unset.
func (m *Material) BarcodeValue() string {
	if m.Barcode == nil {
		return ""
	}
	return *m.Barcode
}
