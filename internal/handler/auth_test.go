package handler

import (
	"net/http"
	"testing"

	"github.com/FSVS-ISD/materials-management/internal/config"
	"github.com/FSVS-ISD/materials-management/internal/database"
	"github.com/FSVS-ISD/materials-management/internal/middleware"
	"github.com/FSVS-ISD/materials-management/internal/models"
	"github.com/FSVS-ISD/materials-management/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type authTestEnv struct {
	*testEnv
	loginState *service.LoginState
	primary    *gorm.DB
}

func newAuthTestEnv(t *testing.T) *authTestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := database.NewRegistry(config.DatabaseConfig{Dir: t.TempDir()}, zap.NewNop())
	t.Cleanup(registry.Close)
	if err := registry.EnsureProvisioned(database.DefaultDatabase); err != nil {
		t.Fatalf("EnsureProvisioned: %v", err)
	}
	primary, err := registry.Get(database.DefaultDatabase)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	loginState := service.NewLoginState(zap.NewNop())
	authHandler := NewAuthHandler(registry, loginState, testSecret, 8, zap.NewNop())

	r := gin.New()
	api := r.Group("/api")
	{
		api.POST("/login", authHandler.Login)
		api.POST("/register", authHandler.Register)
		api.GET("/get-db-uri", authHandler.GetDBURI)
		api.GET("/auto-auth", authHandler.AutoAuth)
	}
	auth := api.Group("")
	auth.Use(middleware.TenantSession(registry, testSecret, zap.NewNop()))
	{
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/userinfo", authHandler.UserInfo)
		auth.GET("/users", authHandler.ListUsers)
		auth.POST("/user/change-password", authHandler.ChangePassword)
	}

	return &authTestEnv{
		testEnv:    &testEnv{router: r},
		loginState: loginState,
		primary:    primary,
	}
}

func (e *authTestEnv) seedUser(t *testing.T, username, password, role string) {
	t.Helper()
	user := models.User{Username: username, Role: role}
	if err := user.SetPassword(password); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	if err := e.primary.Create(&user).Error; err != nil {
		t.Fatalf("建立使用者失敗: %v", err)
	}
}

func (e *authTestEnv) login(t *testing.T, username, password string) map[string]interface{} {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/login", map[string]string{
		"username": username, "password": password,
	})
	wantStatus(t, w, http.StatusOK)
	return e.decode(t, w)["data"].(map[string]interface{})
}

func TestRegisterAndLogin(t *testing.T) {
	env := newAuthTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/register", map[string]string{
		"username": "dep3", "password": "pass3",
	})
	wantStatus(t, w, http.StatusCreated)

	// 重複註冊
	w = env.do(t, http.MethodPost, "/api/register", map[string]string{
		"username": "dep3", "password": "other",
	})
	wantStatus(t, w, http.StatusConflict)

	data := env.login(t, "dep3", "pass3")
	if data["access_token"] == "" {
		t.Error("登入應回傳 access_token")
	}
	if data["role"] != models.RoleUser {
		t.Errorf("role = %v, want user", data["role"])
	}
}

func TestLoginWrongPassword(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "dep1", "pass1", models.RoleUser)

	w := env.do(t, http.MethodPost, "/api/login", map[string]string{
		"username": "dep1", "password": "wrong",
	})
	wantStatus(t, w, http.StatusUnauthorized)

	w = env.do(t, http.MethodPost, "/api/login", map[string]string{
		"username": "nobody", "password": "pass1",
	})
	wantStatus(t, w, http.StatusUnauthorized)
}

// 單人登入：第二位使用者登入被擋並排入佇列。
func TestLoginSingleUserGate(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "dep1", "pass1", models.RoleUser)
	env.seedUser(t, "dep2", "pass2", models.RoleUser)

	env.login(t, "dep1", "pass1")

	w := env.do(t, http.MethodPost, "/api/login", map[string]string{
		"username": "dep2", "password": "pass2",
	})
	wantStatus(t, w, http.StatusConflict)

	// dep1 重複登入仍可成功
	env.login(t, "dep1", "pass1")

	// dep1 登出後 dep2 遞補為目前使用者
	env.loginState.NotifyLogout("dep1")
	if env.loginState.ActiveUser() != "dep2" {
		t.Errorf("ActiveUser = %q, want dep2", env.loginState.ActiveUser())
	}
}

func TestLogoutReleasesGate(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "dep1", "pass1", models.RoleUser)

	data := env.login(t, "dep1", "pass1")
	env.token = data["access_token"].(string)

	w := env.do(t, http.MethodPost, "/api/logout", nil)
	wantStatus(t, w, http.StatusOK)
	if env.loginState.ActiveUser() != "" {
		t.Errorf("登出後 ActiveUser = %q, want 空", env.loginState.ActiveUser())
	}
}

func TestGetDBURI(t *testing.T) {
	env := newAuthTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/get-db-uri?username=dep3", nil)
	wantStatus(t, w, http.StatusOK)
	data := env.decode(t, w)["data"].(map[string]interface{})
	if data["db_id"] != "materials_3.db" {
		t.Errorf("db_id = %v, want materials_3.db", data["db_id"])
	}

	w = env.do(t, http.MethodGet, "/api/get-db-uri?username=alice", nil)
	wantStatus(t, w, http.StatusOK)
	data = env.decode(t, w)["data"].(map[string]interface{})
	if data["db_id"] != database.DefaultDatabase {
		t.Errorf("db_id = %v, want %s", data["db_id"], database.DefaultDatabase)
	}

	w = env.do(t, http.MethodGet, "/api/get-db-uri", nil)
	wantStatus(t, w, http.StatusBadRequest)
}

func TestUserInfo(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "dep1", "pass1", models.RoleUser)

	data := env.login(t, "dep1", "pass1")
	env.token = data["access_token"].(string)

	w := env.do(t, http.MethodGet, "/api/userinfo", nil)
	wantStatus(t, w, http.StatusOK)
	info := env.decode(t, w)["data"].(map[string]interface{})
	if info["username"] != "dep1" {
		t.Errorf("username = %v, want dep1", info["username"])
	}
}

func TestListUsersAdminOnly(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "dep1", "pass1", models.RoleUser)
	env.seedUser(t, "dep1T", "FSVS", models.RoleAdmin)

	data := env.login(t, "dep1", "pass1")
	env.token = data["access_token"].(string)
	w := env.do(t, http.MethodGet, "/api/users", nil)
	wantStatus(t, w, http.StatusForbidden)

	env.loginState.NotifyLogout("dep1")
	data = env.login(t, "dep1T", "FSVS")
	env.token = data["access_token"].(string)
	w = env.do(t, http.MethodGet, "/api/users", nil)
	wantStatus(t, w, http.StatusOK)
	users := env.decode(t, w)["data"].(map[string]interface{})["users"].([]interface{})
	if len(users) != 2 {
		t.Errorf("使用者數 = %d, want 2", len(users))
	}
}

func TestChangePasswordRules(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "dep1", "pass1", models.RoleUser)
	env.seedUser(t, "dep2", "pass2", models.RoleUser)
	env.seedUser(t, "dep1T", "FSVS", models.RoleAdmin)

	data := env.login(t, "dep1", "pass1")
	env.token = data["access_token"].(string)

	// 一般使用者不能改別人的密碼
	w := env.do(t, http.MethodPost, "/api/user/change-password", map[string]string{
		"username": "dep2", "new_password": "hacked",
	})
	wantStatus(t, w, http.StatusForbidden)

	// 改自己但舊密碼錯誤
	w = env.do(t, http.MethodPost, "/api/user/change-password", map[string]string{
		"username": "dep1", "old_password": "wrong", "new_password": "newpass",
	})
	wantStatus(t, w, http.StatusBadRequest)

	// 改自己且舊密碼正確
	w = env.do(t, http.MethodPost, "/api/user/change-password", map[string]string{
		"username": "dep1", "old_password": "pass1", "new_password": "newpass",
	})
	wantStatus(t, w, http.StatusOK)

	var user models.User
	if err := env.primary.Where("username = ?", "dep1").First(&user).Error; err != nil {
		t.Fatalf("查詢使用者失敗: %v", err)
	}
	if !user.CheckPassword("newpass") {
		t.Error("新密碼應生效")
	}
	if user.PasswordLastChanged == nil {
		t.Error("password_last_changed 應被更新")
	}

	// 管理員可不帶舊密碼改他人密碼
	env.loginState.NotifyLogout("dep1")
	data = env.login(t, "dep1T", "FSVS")
	env.token = data["access_token"].(string)
	w = env.do(t, http.MethodPost, "/api/user/change-password", map[string]string{
		"username": "dep2", "new_password": "reset123",
	})
	wantStatus(t, w, http.StatusOK)

	user = models.User{}
	if err := env.primary.Where("username = ?", "dep2").First(&user).Error; err != nil {
		t.Fatalf("查詢使用者失敗: %v", err)
	}
	if !user.CheckPassword("reset123") {
		t.Error("管理員重設的密碼應生效")
	}
}

func TestAutoAuth(t *testing.T) {
	env := newAuthTestEnv(t)

	env.token = "some-token-value"
	w := env.do(t, http.MethodGet, "/api/auto-auth", nil)
	wantStatus(t, w, http.StatusOK)
	data := env.decode(t, w)["data"].(map[string]interface{})
	if data["access_token"] != "some-token-value" {
		t.Errorf("access_token = %v, want 原樣回傳", data["access_token"])
	}
}
