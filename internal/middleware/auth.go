package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/FSVS-ISD/materials-management/internal/database"
	"github.com/FSVS-ISD/materials-management/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sessionKey = "dbSession"
	claimsKey  = "authClaims"
)

// TenantSession 校驗 JWT、依 token 內的 db_id claim 綁定對應租戶的資料庫
// session 到請求上。流程：驗 token（失敗即拒絕，不碰資料庫）→ 取 db_id
// claim（缺少時回傳獨立的 400，代表舊版 token）→ 首次遇到的資料庫先建表補
// 欄位 → 將 session 放入 gin context。session 只活在這個請求內，連線在請求
// 結束後歸還連線池，引擎不會被關閉。
func TenantSession(registry *database.Registry, jwtSecret string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenStr string

		// 1) Header: Authorization: Bearer xxx
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenStr = parts[1]
			}
		}

		// 2) URL 查詢參數 ?token=xxx（用於下載等無法自定義 Header 的場景）
		if tokenStr == "" {
			tokenStr = c.Query("token")
		}

		// 3) Cookie mm_token
		if tokenStr == "" {
			if cookie, err := c.Cookie("mm_token"); err == nil {
				tokenStr = cookie
			}
		}

		if tokenStr == "" {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "未登入")
			c.Abort()
			return
		}

		claims, err := util.ParseToken(jwtSecret, tokenStr)
		if err != nil || claims.ExpiresAt == nil || claims.ExpiresAt.Before(time.Now()) {
			util.Error(c, http.StatusUnauthorized, util.CodeAuth, "登入已失效，請重新登入")
			c.Abort()
			return
		}

		if claims.DBID == "" {
			// token 缺少 db_id claim，代表由不相容的舊版簽發
			log.Warn("token 缺少 db_id claim", zap.String("username", claims.Username))
			util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "Token is missing necessary information")
			c.Abort()
			return
		}

		if err := registry.EnsureProvisioned(claims.DBID); err != nil {
			log.Error("資料庫初始化失敗",
				zap.String("db", claims.DBID),
				zap.Error(err))
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "資料庫連線未建立")
			c.Abort()
			return
		}

		session, err := registry.Session(c.Request.Context(), claims.DBID)
		if err != nil {
			log.Error("取得資料庫 session 失敗",
				zap.String("db", claims.DBID),
				zap.Error(err))
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "資料庫連線未建立")
			c.Abort()
			return
		}

		c.Set(sessionKey, session)
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Session returns the request-scoped database handle bound by TenantSession.
func Session(c *gin.Context) *gorm.DB {
	return c.MustGet(sessionKey).(*gorm.DB)
}

// CurrentClaims returns the verified JWT claims for the request.
func CurrentClaims(c *gin.Context) *util.Claims {
	return c.MustGet(claimsKey).(*util.Claims)
}
