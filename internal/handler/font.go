package handler

import (
	"encoding/base64"
	"net/http"
	"os"

	"github.com/FSVS-ISD/materials-management/internal/config"
	"github.com/FSVS-ISD/materials-management/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FontHandler 提供前端列印用的中文字型。
type FontHandler struct {
	Cfg config.ReportConfig
	Log *zap.Logger
}

func NewFontHandler(cfg config.ReportConfig, log *zap.Logger) *FontHandler {
	return &FontHandler{Cfg: cfg, Log: log}
}

// NotoSansTC 以 base64 回傳字型檔內容，供前端 jsPDF 嵌入使用。
func (h *FontHandler) NotoSansTC(c *gin.Context) {
	data, err := os.ReadFile(h.Cfg.FontPath)
	if err != nil {
		h.Log.Error("讀取字型檔失敗", zap.String("font_path", h.Cfg.FontPath), zap.Error(err))
		util.Error(c, http.StatusNotFound, util.CodeNotFound, "找不到字型檔")
		return
	}

	util.Success(c, util.Response{
		"font": base64.StdEncoding.EncodeToString(data),
	})
}
