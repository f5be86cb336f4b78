package main

import (
	"fmt"
	"log"
	"time"

	"github.com/FSVS-ISD/materials-management/internal/config"
	"github.com/FSVS-ISD/materials-management/internal/database"
	"github.com/FSVS-ISD/materials-management/internal/logging"
	"github.com/FSVS-ISD/materials-management/internal/router"
	"github.com/FSVS-ISD/materials-management/internal/service"
	"github.com/FSVS-ISD/materials-management/internal/stock"

	"go.uber.org/zap"
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

	// 主資料庫在啟動時就先建好結構，科別資料庫則於首次使用時建立。
	if err := registry.EnsureProvisioned(database.DefaultDatabase); err != nil {
		logger.Fatal("初始化主資料庫失敗", zap.Error(err))
	}

	engine := stock.NewEngine(logger)
	loginState := service.NewLoginState(logger)

	// 定期檢查使用者是否閒置逾時，逾時則自動釋出登入權
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			loginState.CheckInactivity()
		}
	}()

	r := router.New(cfg, logger, registry, loginState, engine)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	logger.Info("伺服器啟動", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		logger.Fatal("伺服器停止", zap.Error(err))
	}
}
