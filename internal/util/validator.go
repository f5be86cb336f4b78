package util

import (
	"fmt"
	"regexp"
	"time"
)

var itemIDRe = regexp.MustCompile(`^M\d{4}$`)

// ValidateQuantity 驗證數量（必須為正整數且不超過上限）
func ValidateQuantity(quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	if quantity >= 1000000 { // 單筆上限一百萬
		return fmt.Errorf("quantity too large, got %d", quantity)
	}
	return nil
}

// ValidateDate 驗證日期格式（必須為 YYYY-MM-DD）
func ValidateDate(dateStr string) error {
	if dateStr == "" {
		return fmt.Errorf("date is empty")
	}
	_, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return fmt.Errorf("invalid date format: %w", err)
	}
	return nil
}

// ValidateItemID 驗證物料編號格式（M + 4 位數字）
func ValidateItemID(itemID string) error {
	if itemID == "" {
		return fmt.Errorf("item id is empty")
	}
	if !itemIDRe.MatchString(itemID) {
		return fmt.Errorf("invalid item id format: %q", itemID)
	}
	return nil
}

// ValidateCategoryName 驗證分類名稱（不能為空且長度合理）
func ValidateCategoryName(name string) error {
	if name == "" {
		return fmt.Errorf("category name is empty")
	}
	if len([]rune(name)) > 50 {
		return fmt.Errorf("category name too long, max 50 characters")
	}
	return nil
}
