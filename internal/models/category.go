package models

// Category 物料分類，名稱唯一（忽略大小寫與前後空白）。
type Category struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:50;uniqueIndex;not null"`
}

func (Category) TableName() string { return "category" }
