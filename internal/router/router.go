package router

import (
	"time"

	"github.com/FSVS-ISD/materials-management/internal/config"
	"github.com/FSVS-ISD/materials-management/internal/database"
	"github.com/FSVS-ISD/materials-management/internal/handler"
	"github.com/FSVS-ISD/materials-management/internal/middleware"
	"github.com/FSVS-ISD/materials-management/internal/service"
	"github.com/FSVS-ISD/materials-management/internal/stock"
	"github.com/FSVS-ISD/materials-management/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// New 建立 HTTP 路由。
func New(cfg *config.Config, log *zap.Logger, registry *database.Registry,
	loginState *service.LoginState, engine *stock.Engine) *gin.Engine {

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())

	// 前端以 fetch + credentials 跨來源呼叫，無法使用 AllowAllOrigins。
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Chrome 對私有網路位址的預檢要求
	r.Use(func(c *gin.Context) {
		if c.Request.Header.Get("Access-Control-Request-Private-Network") == "true" {
			c.Header("Access-Control-Allow-Private-Network", "true")
		}
		c.Next()
	})

	authHandler := handler.NewAuthHandler(registry, loginState, cfg.JWT.Secret, cfg.JWT.ExpireHours, log)
	materialHandler := handler.NewMaterialHandler(log)
	categoryHandler := handler.NewCategoryHandler(log)
	recordHandler := handler.NewRecordHandler(engine, log)
	reportHandler := handler.NewReportHandler(cfg.Report, log)
	backupHandler := handler.NewBackupHandler(registry, log)
	fontHandler := handler.NewFontHandler(cfg.Report, log)

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			util.Success(c, util.Response{"status": "ok"})
		})

		api.POST("/login", authHandler.Login)
		api.POST("/register", authHandler.Register)
		api.GET("/get-db-uri", authHandler.GetDBURI)
		api.GET("/auto-auth", authHandler.AutoAuth)
	}

	auth := api.Group("")
	auth.Use(middleware.TenantSession(registry, cfg.JWT.Secret, log))
	{
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/userinfo", authHandler.UserInfo)
		auth.GET("/users", authHandler.ListUsers)
		auth.POST("/user/change-password", authHandler.ChangePassword)

		auth.GET("/materials", materialHandler.List)
		auth.POST("/materials", materialHandler.Create)
		auth.PUT("/materials/:item_id", materialHandler.Update)
		auth.DELETE("/materials/:item_id", materialHandler.Delete)
		auth.GET("/materials/barcode/:barcode", materialHandler.GetByBarcode)
		auth.GET("/materials/summary", materialHandler.Summary)

		auth.GET("/categories", categoryHandler.List)
		auth.POST("/categories", categoryHandler.Create)
		auth.PUT("/categories/:id", categoryHandler.Update)
		auth.DELETE("/categories/:id", categoryHandler.Delete)

		auth.GET("/in-records", recordHandler.ListIn)
		auth.POST("/in-records", recordHandler.CreateIn)
		auth.DELETE("/in-records/:id", recordHandler.DeleteIn)
		auth.GET("/out-records", recordHandler.ListOut)
		auth.POST("/out-records", recordHandler.CreateOut)
		auth.DELETE("/out-records/:id", recordHandler.DeleteOut)
		auth.POST("/barcode/record", recordHandler.BarcodeRecord)

		auth.GET("/report/preview", reportHandler.PreviewPDF)
		auth.GET("/report/export_excel", reportHandler.ExportExcel)

		auth.GET("/backup", backupHandler.Download)
		auth.GET("/font/noto_sans_tc", fontHandler.NotoSansTC)
	}

	return r
}
