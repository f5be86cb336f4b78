// 在主資料庫中建立各科別的預設帳號。
// 一般帳號 dep1..dep9（密碼 pass1..pass9）與教師帳號 dep1T..dep9T（密碼 FSVS）。
package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/FSVS-ISD/materials-management/internal/config"
	"github.com/FSVS-ISD/materials-management/internal/database"
	"github.com/FSVS-ISD/materials-management/internal/logging"
	"github.com/FSVS-ISD/materials-management/internal/models"

	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("載入設定檔失敗: %v", err)
	}

	logger, err := logging.Init(cfg.Log, cfg.Server.Mode)
	if err != nil {
		log.Fatalf("初始化日誌失敗: %v", err)
	}
	defer logger.Sync()

	registry := database.NewRegistry(cfg.Database, logger)
	defer registry.Close()

	if err := registry.EnsureProvisioned(database.DefaultDatabase); err != nil {
		log.Fatalf("初始化主資料庫失敗: %v", err)
	}

	db, err := registry.Get(database.DefaultDatabase)
	if err != nil {
		log.Fatalf("開啟主資料庫失敗: %v", err)
	}

	created, skipped := 0, 0
	for i := 1; i <= 9; i++ {
		accounts := []struct {
			username string
			password string
			role     string
		}{
			{fmt.Sprintf("dep%d", i), fmt.Sprintf("pass%d", i), models.RoleUser},
			{fmt.Sprintf("dep%dT", i), "FSVS", models.RoleAdmin},
		}
		for _, a := range accounts {
			ok, err := createUser(db, a.username, a.password, a.role)
			if err != nil {
				log.Fatalf("建立帳號 %s 失敗: %v", a.username, err)
			}
			if ok {
				fmt.Printf("已建立帳號: %s (%s)\n", a.username, a.role)
				created++
			} else {
				fmt.Printf("帳號已存在，略過: %s\n", a.username)
				skipped++
			}
		}
	}

	fmt.Printf("完成：建立 %d 個帳號，略過 %d 個。\n", created, skipped)
}

// createUser 建立單一帳號，已存在則略過並回傳 false。
func createUser(db *gorm.DB, username, password, role string) (bool, error) {
	var existing models.User
	err := db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	user := models.User{Username: username, Role: role}
	if err := user.SetPassword(password); err != nil {
		return false, err
	}
	if err := db.Create(&user).Error; err != nil {
		return false, err
	}
	return true, nil
}
