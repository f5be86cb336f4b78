package handler

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FSVS-ISD/materials-management/internal/config"
	"github.com/FSVS-ISD/materials-management/internal/database"
	"github.com/FSVS-ISD/materials-management/internal/middleware"
	"github.com/FSVS-ISD/materials-management/internal/stock"
	"github.com/FSVS-ISD/materials-management/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSecret = "handler-test-secret"
	testDBID   = "materials_1.db"
)

// testEnv 提供掛好認證中介層的測試路由與可直接塞資料的資料庫。
type testEnv struct {
	router *gin.Engine
	db     *gorm.DB
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := database.NewRegistry(config.DatabaseConfig{Dir: t.TempDir()}, zap.NewNop())
	t.Cleanup(registry.Close)
	if err := registry.EnsureProvisioned(testDBID); err != nil {
		t.Fatalf("EnsureProvisioned: %v", err)
	}
	db, err := registry.Get(testDBID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	token, err := util.GenerateToken(testSecret, "dep1", testDBID, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	engine := stock.NewEngine(zap.NewNop())
	materialHandler := NewMaterialHandler(zap.NewNop())
	categoryHandler := NewCategoryHandler(zap.NewNop())
	recordHandler := NewRecordHandler(engine, zap.NewNop())

	r := gin.New()
	api := r.Group("/api")
	api.Use(middleware.TenantSession(registry, testSecret, zap.NewNop()))
	{
		api.GET("/materials", materialHandler.List)
		api.POST("/materials", materialHandler.Create)
		api.PUT("/materials/:item_id", materialHandler.Update)
		api.DELETE("/materials/:item_id", materialHandler.Delete)
		api.GET("/materials/barcode/:barcode", materialHandler.GetByBarcode)
		api.GET("/materials/summary", materialHandler.Summary)

		api.GET("/categories", categoryHandler.List)
		api.POST("/categories", categoryHandler.Create)
		api.PUT("/categories/:id", categoryHandler.Update)
		api.DELETE("/categories/:id", categoryHandler.Delete)

		api.POST("/in-records", recordHandler.CreateIn)
		api.POST("/out-records", recordHandler.CreateOut)
		api.POST("/barcode/record", recordHandler.BarcodeRecord)
	}

	return &testEnv{router: r, db: db, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, want, w.Body.String())
	}
}
