package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FSVS-ISD/materials-management/internal/config"
	"github.com/FSVS-ISD/materials-management/internal/database"
	"github.com/FSVS-ISD/materials-management/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T) (*gin.Engine, *database.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := database.NewRegistry(config.DatabaseConfig{Dir: t.TempDir()}, zap.NewNop())
	t.Cleanup(registry.Close)

	r := gin.New()
	r.GET("/protected", TenantSession(registry, testSecret, zap.NewNop()), func(c *gin.Context) {
		claims := CurrentClaims(c)
		if Session(c) == nil {
			t.Error("session 不應為 nil")
		}
		util.Success(c, util.Response{"username": claims.Username, "db_id": claims.DBID})
	})
	return r, registry
}

func doRequest(r *gin.Engine, header, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected"+query, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTenantSessionMissingToken(t *testing.T) {
	r, _ := newTestRouter(t)
	if w := doRequest(r, "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("無 token: status = %d, want 401", w.Code)
	}
}

func TestTenantSessionInvalidToken(t *testing.T) {
	r, _ := newTestRouter(t)
	if w := doRequest(r, "Bearer not.a.token", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("無效 token: status = %d, want 401", w.Code)
	}
}

func TestTenantSessionExpiredToken(t *testing.T) {
	r, _ := newTestRouter(t)
	token, err := util.GenerateToken(testSecret, "dep1", "materials_1.db", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if w := doRequest(r, "Bearer "+token, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("過期 token: status = %d, want 401", w.Code)
	}
}

// token 缺少 db_id claim 時回傳與一般驗證失敗不同的 400。
func TestTenantSessionMissingDBID(t *testing.T) {
	r, _ := newTestRouter(t)
	token, err := util.GenerateToken(testSecret, "dep1", "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if w := doRequest(r, "Bearer "+token, ""); w.Code != http.StatusBadRequest {
		t.Errorf("缺 db_id: status = %d, want 400", w.Code)
	}
}

func TestTenantSessionBindsDatabase(t *testing.T) {
	r, _ := newTestRouter(t)
	token, err := util.GenerateToken(testSecret, "dep3", "materials_3.db", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if w := doRequest(r, "Bearer "+token, ""); w.Code != http.StatusOK {
		t.Errorf("有效 token: status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
}

// token 也可以由查詢參數提供（下載場景）。
func TestTenantSessionTokenFromQuery(t *testing.T) {
	r, _ := newTestRouter(t)
	token, err := util.GenerateToken(testSecret, "dep3", "materials_3.db", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if w := doRequest(r, "", "?token="+token); w.Code != http.StatusOK {
		t.Errorf("query token: status = %d, want 200", w.Code)
	}
}
