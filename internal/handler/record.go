package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/FSVS-ISD/materials-management/internal/middleware"
	"github.com/FSVS-ISD/materials-management/internal/models"
	"github.com/FSVS-ISD/materials-management/internal/stock"
	"github.com/FSVS-ISD/materials-management/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecordHandler 負責出入庫紀錄接口。所有寫入都交給 stock.Engine，
// 確保庫存重算與紀錄寫入在同一筆交易內完成。
type RecordHandler struct {
	Engine *stock.Engine
	Log    *zap.Logger
}

func NewRecordHandler(engine *stock.Engine, log *zap.Logger) *RecordHandler {
	return &RecordHandler{Engine: engine, Log: log}
}

func materialBrief(m *models.Material) gin.H {
	return gin.H{
		"item_id":       m.ItemID,
		"name":          m.Name,
		"category":      m.Category,
		"current_stock": m.CurrentStock,
		"unit":          m.Unit,
		"barcode":       m.BarcodeValue(),
	}
}

func (h *RecordHandler) writeError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, stock.ErrMaterialNotFound):
		util.Error(c, http.StatusNotFound, util.CodeNotFound, "找不到物料")
	case errors.Is(err, stock.ErrRecordNotFound):
		util.Error(c, http.StatusNotFound, util.CodeNotFound, "找不到該紀錄")
	case errors.Is(err, stock.ErrInsufficientStock):
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "庫存不足，無法出庫")
	default:
		h.Log.Error(action+"失敗", zap.Error(err))
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, action+"失敗")
	}
}

// ---------- 入庫 ----------

type inRecordRow struct {
	ID           uint      `json:"id"`
	Date         time.Time `json:"date"`
	ItemID       string    `json:"material_id"`
	MaterialName string    `json:"material_name"`
	Category     string    `json:"category"`
	Quantity     int       `json:"quantity"`
	Source       string    `json:"source"`
	Handler      string    `json:"handler"`
	Barcode      string    `json:"barcode"`
}

func (h *RecordHandler) ListIn(c *gin.Context) {
	db := middleware.Session(c)

	query := db.Model(&models.InRecord{}).
		Select("in_record.id, in_record.date, in_record.quantity, in_record.source, in_record.handler, in_record.barcode, " +
			"materials.item_id, materials.name AS material_name, materials.category").
		Joins("JOIN materials ON materials.id = in_record.material_id")

	category := c.Query("category")
	if category != "" && !strings.EqualFold(category, "all") {
		clean := strings.ToLower(strings.TrimSpace(category))
		query = query.Where("LOWER(TRIM(materials.category)) = ?", clean)
	}

	var rows []inRecordRow
	if err := query.Order("in_record.date DESC").Scan(&rows).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "讀取入庫資料失敗")
		return
	}

	util.Success(c, util.Response{
		"records": rows,
	})
}

type createInReq struct {
	MaterialID string `json:"material_id" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,gt=0"`
	Source     string `json:"source"`
	Handler    string `json:"handler"`
}

func (h *RecordHandler) CreateIn(c *gin.Context) {
	db := middleware.Session(c)

	var req createInReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "material_id 與 quantity 必填，且數量必須大於 0")
		return
	}
	if err := util.ValidateQuantity(req.Quantity); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "數量格式錯誤")
		return
	}

	material, record, err := h.Engine.RecordIn(db, req.MaterialID, stock.InInput{
		Quantity: req.Quantity,
		Source:   req.Source,
		Handler:  req.Handler,
	})
	if err != nil {
		h.writeError(c, err, "新增入庫紀錄")
		return
	}

	util.SuccessWithStatus(c, http.StatusCreated, util.Response{
		"message":  "入庫紀錄新增成功",
		"stock":    material.CurrentStock,
		"material": materialBrief(material),
		"record":   gin.H{"id": record.ID, "quantity": record.Quantity},
	})
}

func (h *RecordHandler) DeleteIn(c *gin.Context) {
	db := middleware.Session(c)

	recordID, err := strconv.Atoi(c.Param("id"))
	if err != nil || recordID <= 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "ID 不合法")
		return
	}

	if _, err := h.Engine.DeleteIn(db, uint(recordID)); err != nil {
		h.writeError(c, err, "刪除入庫紀錄")
		return
	}

	util.Success(c, util.Response{
		"message": "入庫紀錄刪除成功",
	})
}

// ---------- 出庫 ----------

type outRecordRow struct {
	ID           uint      `json:"id"`
	Date         time.Time `json:"date"`
	ItemID       string    `json:"material_id"`
	MaterialName string    `json:"material_name"`
	Category     string    `json:"category"`
	Quantity     int       `json:"quantity"`
	User         string    `json:"user"`
	Department   string    `json:"department"`
	Purpose      string    `json:"purpose"`
	Barcode      string    `json:"barcode"`
	Source       string    `json:"source"`
	Handler      string    `json:"handler"`
}

func (h *RecordHandler) ListOut(c *gin.Context) {
	db := middleware.Session(c)

	query := db.Model(&models.OutRecord{}).
		Select("out_record.id, out_record.date, out_record.quantity, out_record.user, out_record.department, "+
			"out_record.purpose, out_record.barcode, out_record.source, out_record.handler, "+
			"materials.item_id, materials.name AS material_name, materials.category").
		Joins("JOIN materials ON materials.id = out_record.material_id")

	category := c.Query("category")
	if category != "" && !strings.EqualFold(category, "all") {
		clean := strings.ToLower(strings.TrimSpace(category))
		query = query.Where("LOWER(TRIM(materials.category)) = ?", clean)
	}

	var rows []outRecordRow
	if err := query.Order("out_record.date DESC").Scan(&rows).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "讀取出庫資料失敗")
		return
	}

	util.Success(c, util.Response{
		"records": rows,
	})
}

type createOutReq struct {
	MaterialID string `json:"material_id" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,gt=0"`
	User       string `json:"user"`
	Department string `json:"department"`
	Purpose    string `json:"purpose"`
	Source     string `json:"source"`
	Handler    string `json:"handler"`
}

func (h *RecordHandler) CreateOut(c *gin.Context) {
	db := middleware.Session(c)

	var req createOutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "material_id 與 quantity 必填，且數量必須大於 0")
		return
	}
	if err := util.ValidateQuantity(req.Quantity); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "數量格式錯誤")
		return
	}

	material, record, err := h.Engine.RecordOut(db, req.MaterialID, stock.OutInput{
		Quantity:   req.Quantity,
		User:       req.User,
		Department: req.Department,
		Purpose:    req.Purpose,
		Source:     req.Source,
		Handler:    req.Handler,
	})
	if err != nil {
		h.writeError(c, err, "新增出庫紀錄")
		return
	}

	util.SuccessWithStatus(c, http.StatusCreated, util.Response{
		"message":  "出庫紀錄新增成功",
		"stock":    material.CurrentStock,
		"material": materialBrief(material),
		"record":   gin.H{"id": record.ID, "quantity": record.Quantity},
	})
}

func (h *RecordHandler) DeleteOut(c *gin.Context) {
	db := middleware.Session(c)

	recordID, err := strconv.Atoi(c.Param("id"))
	if err != nil || recordID <= 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "ID 不合法")
		return
	}

	if _, err := h.Engine.DeleteOut(db, uint(recordID)); err != nil {
		h.writeError(c, err, "刪除出庫紀錄")
		return
	}

	util.Success(c, util.Response{
		"message": "出庫紀錄刪除成功",
	})
}

// ---------- 掃碼快速出入庫 ----------

type barcodeRecordReq struct {
	ItemID     string `json:"item_id" binding:"required"`
	Type       string `json:"type" binding:"required,oneof=in out"`
	Quantity   int    `json:"quantity" binding:"required,gt=0"`
	ScanMode   bool   `json:"scan_mode"`
	Source     string `json:"source"`
	Handler    string `json:"handler"`
	User       string `json:"user"`
	Department string `json:"department"`
	Purpose    string `json:"purpose"`
}

// BarcodeRecord 掃碼模式下，來源與經手人缺省時帶入「掃碼」與目前登入者。
func (h *RecordHandler) BarcodeRecord(c *gin.Context) {
	db := middleware.Session(c)
	claims := middleware.CurrentClaims(c)

	var req barcodeRecordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "item_id, type, quantity 必填")
		return
	}
	if err := util.ValidateQuantity(req.Quantity); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "數量必須大於 0")
		return
	}

	source := req.Source
	handler := req.Handler
	if req.ScanMode {
		if source == "" {
			source = "掃碼"
		}
		if handler == "" {
			handler = claims.Username
		}
	}

	var material *models.Material
	var err error

	if req.Type == "in" {
		material, _, err = h.Engine.RecordIn(db, req.ItemID, stock.InInput{
			Quantity: req.Quantity,
			Source:   source,
			Handler:  handler,
		})
	} else {
		user := req.User
		if req.ScanMode && user == "" {
			user = claims.Username
		}
		material, _, err = h.Engine.RecordOut(db, req.ItemID, stock.OutInput{
			Quantity:   req.Quantity,
			User:       user,
			Department: req.Department,
			Purpose:    req.Purpose,
			Source:     source,
			Handler:    handler,
		})
	}
	if err != nil {
		h.writeError(c, err, "新增出入庫紀錄")
		return
	}

	util.SuccessWithStatus(c, http.StatusCreated, util.Response{
		"success":  true,
		"record":   gin.H{"type": req.Type, "quantity": req.Quantity},
		"material": materialBrief(material),
	})
}
