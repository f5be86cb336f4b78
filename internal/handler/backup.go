package handler

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/FSVS-ISD/materials-management/internal/database"
	"github.com/FSVS-ISD/materials-management/internal/middleware"
	"github.com/FSVS-ISD/materials-management/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BackupHandler 提供資料庫檔案備份下載。
type BackupHandler struct {
	Registry *database.Registry
	Log      *zap.Logger
}

func NewBackupHandler(registry *database.Registry, log *zap.Logger) *BackupHandler {
	return &BackupHandler{Registry: registry, Log: log}
}

// Download 將目前使用者所屬科別的資料庫檔案打包下載。
// 先複製一份快照再傳送，避免下載期間資料庫被寫入。
func (h *BackupHandler) Download(c *gin.Context) {
	claims := middleware.CurrentClaims(c)

	src := h.Registry.Path(claims.DBID)
	if _, err := os.Stat(src); err != nil {
		h.Log.Error("備份失敗：找不到資料庫檔案", zap.String("path", src), zap.Error(err))
		util.Error(c, http.StatusNotFound, util.CodeNotFound, "找不到資料庫檔案")
		return
	}

	snapshotName := fmt.Sprintf("%s_backup_%s_%s.db",
		claims.Username,
		time.Now().Format("20060102_150405"),
		uuid.NewString()[:8])
	snapshot := filepath.Join(os.TempDir(), snapshotName)

	if err := copyFile(src, snapshot); err != nil {
		h.Log.Error("備份失敗：複製資料庫檔案失敗", zap.Error(err))
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "備份失敗")
		return
	}
	defer func() {
		if err := os.Remove(snapshot); err != nil {
			h.Log.Warn("刪除備份暫存檔失敗", zap.String("path", snapshot), zap.Error(err))
		}
	}()

	h.Log.Info("使用者下載資料庫備份",
		zap.String("username", claims.Username),
		zap.String("db_id", claims.DBID))
	c.FileAttachment(snapshot, snapshotName)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
