package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/FSVS-ISD/materials-management/internal/database"
	"github.com/FSVS-ISD/materials-management/internal/middleware"
	"github.com/FSVS-ISD/materials-management/internal/models"
	"github.com/FSVS-ISD/materials-management/internal/service"
	"github.com/FSVS-ISD/materials-management/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthHandler 負責登入/註冊/使用者管理相關接口。
// 登入驗證一律在預設（主）資料庫的 user 表進行；登入成功時把 Tenant
// Resolver 算出的 db_id 放進 JWT claims，之後的請求直接信任它。
type AuthHandler struct {
	Registry   *database.Registry
	LoginState *service.LoginState
	JWTSecret  string
	TokenTTL   time.Duration
	Log        *zap.Logger
}

func NewAuthHandler(registry *database.Registry, loginState *service.LoginState, jwtSecret string, ttlHours int, log *zap.Logger) *AuthHandler {
	if ttlHours <= 0 {
		ttlHours = 8
	}
	return &AuthHandler{
		Registry:   registry,
		LoginState: loginState,
		JWTSecret:  jwtSecret,
		TokenTTL:   time.Duration(ttlHours) * time.Hour,
		Log:        log,
	}
}

func (h *AuthHandler) primaryDB(c *gin.Context) (*gorm.DB, error) {
	return h.Registry.Session(c.Request.Context(), database.DefaultDatabase)
}

// ---------- 註冊 ----------

type registerReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "username and password required")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "username and password required")
		return
	}

	db, err := h.primaryDB(c)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "資料庫連線未建立")
		return
	}

	var count int64
	if err := db.Model(&models.User{}).
		Where("username = ?", req.Username).
		Count(&count).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查詢使用者失敗")
		return
	}
	if count > 0 {
		util.Error(c, http.StatusConflict, util.CodeConflict, "Username exists")
		return
	}

	user := models.User{Username: req.Username, Role: models.RoleUser}
	if err := user.SetPassword(req.Password); err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "密碼加密失敗")
		return
	}
	if err := db.Create(&user).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "Registration failed")
		return
	}

	h.Log.Info("使用者註冊成功", zap.String("username", user.Username))
	util.SuccessWithStatus(c, http.StatusCreated, util.Response{
		"message": "Registered",
	})
}

// ---------- 登入 ----------

type loginReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "Missing username or password")
		return
	}

	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "Missing username or password")
		return
	}

	db, err := h.primaryDB(c)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "資料庫連線未建立")
		return
	}

	var user models.User
	if err := db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "帳號或密碼錯誤")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查詢使用者失敗")
		}
		return
	}

	if !user.CheckPassword(password) {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "帳號或密碼錯誤")
		return
	}

	// 閒置逾時的使用者先被踢掉，再嘗試取得登入權限
	h.LoginState.CheckInactivity()
	if !h.LoginState.TryLogin(user.Username) {
		util.Error(c, http.StatusConflict, util.CodeConflict, "目前已有其他使用者登入中，已加入等待佇列，請稍候再試")
		return
	}

	// 登入成功，決定資料庫識別並放入 JWT claims
	dbID := database.ResolveDatabase(user.Username)
	token, err := util.GenerateToken(h.JWTSecret, user.Username, dbID, h.TokenTTL)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "生成 token 失敗")
		return
	}

	h.Log.Info("使用者登入成功",
		zap.String("username", user.Username),
		zap.String("db", dbID))
	util.Success(c, util.Response{
		"access_token": token,
		"role":         user.Role,
	})
}

// Logout 釋放單人登入權限。
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.CurrentClaims(c)
	h.LoginState.NotifyLogout(claims.Username)
	util.Success(c, util.Response{
		"message": "已登出",
	})
}

// ---------- 其他公開接口 ----------

// GetDBURI 根據 username 回傳對應資料庫識別與路徑。
func (h *AuthHandler) GetDBURI(c *gin.Context) {
	username := c.Query("username")
	if username == "" {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "Missing username parameter")
		return
	}
	dbID := database.ResolveDatabase(username)
	util.Success(c, util.Response{
		"db_id":  dbID,
		"db_uri": h.Registry.Path(dbID),
	})
}

// AutoAuth 公開路由：前端帶 Authorization header 時原樣回傳 token，
// 避免資料庫不一致問題。
func (h *AuthHandler) AutoAuth(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "No Authorization header provided")
		return
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		util.Error(c, http.StatusUnauthorized, util.CodeAuth, "Invalid Authorization header format")
		return
	}

	util.Success(c, util.Response{
		"access_token": parts[1],
	})
}

// ---------- 使用者管理（走主資料庫） ----------

// UserInfo 返回當前登入使用者的資訊。
func (h *AuthHandler) UserInfo(c *gin.Context) {
	claims := middleware.CurrentClaims(c)
	h.LoginState.Touch(claims.Username)

	db, err := h.primaryDB(c)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "資料庫連線未建立")
		return
	}

	var user models.User
	if err := db.Where("username = ?", claims.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "使用者不存在")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查詢使用者失敗")
		}
		return
	}

	util.Success(c, util.Response{
		"username":              user.Username,
		"role":                  user.Role,
		"password_last_changed": user.PasswordLastChanged,
	})
}

// ListUsers 列出所有使用者（僅限 admin）。
func (h *AuthHandler) ListUsers(c *gin.Context) {
	claims := middleware.CurrentClaims(c)

	db, err := h.primaryDB(c)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "資料庫連線未建立")
		return
	}

	var current models.User
	if err := db.Where("username = ?", claims.Username).First(&current).Error; err != nil {
		util.Error(c, http.StatusNotFound, util.CodeNotFound, "User not found")
		return
	}
	if current.Role != models.RoleAdmin {
		util.Error(c, http.StatusForbidden, util.CodeForbidden, "Permission denied")
		return
	}

	var users []models.User
	if err := db.Order("username").Find(&users).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查詢使用者失敗")
		return
	}

	items := make([]gin.H, 0, len(users))
	for _, u := range users {
		items = append(items, gin.H{"username": u.Username, "role": u.Role})
	}
	util.Success(c, util.Response{
		"users": items,
	})
}

// ---------- 修改密碼 ----------

type changePasswordReq struct {
	Username    string `json:"username" binding:"required"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword 修改密碼。管理員可無需舊密碼修改任何帳號密碼；
// 一般使用者只能修改自己密碼，且須提供舊密碼。
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	claims := middleware.CurrentClaims(c)

	var req changePasswordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "Username and new password are required")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.OldPassword = strings.TrimSpace(req.OldPassword)
	req.NewPassword = strings.TrimSpace(req.NewPassword)
	if req.Username == "" || req.NewPassword == "" {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "Username and new password are required")
		return
	}

	db, err := h.primaryDB(c)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "資料庫連線未建立")
		return
	}

	var current models.User
	if err := db.Where("username = ?", claims.Username).First(&current).Error; err != nil {
		util.Error(c, http.StatusNotFound, util.CodeNotFound, "Current user not found")
		return
	}

	var user models.User
	if err := db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "User not found")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查詢使用者失敗")
		}
		return
	}

	// 管理員修改他人密碼不需驗證舊密碼，其餘情況只能改自己且須提供舊密碼
	adminOverride := current.Role == models.RoleAdmin && req.Username != claims.Username
	if !adminOverride {
		if req.Username != claims.Username {
			util.Error(c, http.StatusForbidden, util.CodeForbidden, "Permission denied: cannot change other users' passwords")
			return
		}
		if req.OldPassword == "" {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "Old password is required")
			return
		}
		if !user.CheckPassword(req.OldPassword) {
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "Old password is incorrect")
			return
		}
	}

	if err := user.SetPassword(req.NewPassword); err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "密碼加密失敗")
		return
	}
	if err := db.Model(&user).
		Updates(map[string]interface{}{
			"password_hash":         user.PasswordHash,
			"password_last_changed": user.PasswordLastChanged,
		}).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "更新密碼失敗")
		return
	}

	h.Log.Info("密碼修改成功",
		zap.String("target", req.Username),
		zap.String("by", claims.Username))
	util.Success(c, util.Response{
		"message": "Password for user '" + req.Username + "' updated successfully.",
	})
}
