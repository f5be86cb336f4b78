package models

import (
	"time"

	"github.com/FSVS-ISD/materials-management/internal/util"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User represents an application account. Every tenant database carries its
// own user table, but login verification always runs against the primary
// database.
type User struct {
	ID                  uint       `gorm:"primaryKey"`
	Username            string     `gorm:"size:50;uniqueIndex;not null"`
	PasswordHash        string     `gorm:"size:256;not null"`
	PasswordLastChanged *time.Time // 密碼最後修改時間
	Role                string     `gorm:"size:20;default:user"`
}

func (User) TableName() string { return "user" }

// SetPassword 將明文密碼加密並存入，更新密碼修改時間。
func (u *User) SetPassword(password string) error {
	hash, err := util.HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	now := time.Now().UTC()
	u.PasswordLastChanged = &now
	return nil
}

// CheckPassword 驗證明文密碼是否與密碼雜湊相符。
func (u *User) CheckPassword(password string) bool {
	return util.CheckPassword(password, u.PasswordHash)
}
