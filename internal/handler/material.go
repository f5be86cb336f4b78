package handler

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/FSVS-ISD/materials-management/internal/middleware"
	"github.com/FSVS-ISD/materials-management/internal/models"
	"github.com/FSVS-ISD/materials-management/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MaterialHandler 負責物料相關接口
type MaterialHandler struct {
	mu  sync.Mutex // 序列化編號產生，避免兩筆新增拿到同一個編號
	Log *zap.Logger
}

func NewMaterialHandler(log *zap.Logger) *MaterialHandler {
	return &MaterialHandler{Log: log}
}

type materialResp struct {
	ItemID       string `json:"item_id"`
	Barcode      string `json:"barcode"`
	Name         string `json:"name"`
	Unit         string `json:"unit"`
	Category     string `json:"category"`
	SafetyStock  int    `json:"safety_stock"`
	CurrentStock int    `json:"current_stock"`
	Notes        string `json:"notes"`
}

func toMaterialResp(m *models.Material) materialResp {
	return materialResp{
		ItemID:       m.ItemID,
		Barcode:      m.BarcodeValue(),
		Name:         m.Name,
		Unit:         m.Unit,
		Category:     m.Category,
		SafetyStock:  m.SafetyStock,
		CurrentStock: m.CurrentStock,
		Notes:        m.Notes,
	}
}

var itemIDNumRe = regexp.MustCompile(`^M(\d{4})$`)

// generateNewItemID 取目前最大的 M#### 編號加一；沒有任何物料時從 M0001 開始。
func generateNewItemID(db *gorm.DB) (string, error) {
	var last models.Material
	err := db.Where("item_id LIKE 'M____'").
		Order("item_id DESC").
		First(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "M0001", nil
		}
		return "", err
	}

	newNum := 1
	if m := itemIDNumRe.FindStringSubmatch(last.ItemID); m != nil {
		fmt.Sscanf(m[1], "%d", &newNum)
		newNum++
	}
	return fmt.Sprintf("M%04d", newNum), nil
}

// ---------- 新增物料 ----------

type createMaterialReq struct {
	Name        string `json:"name" binding:"required"`
	Unit        string `json:"unit" binding:"required"`
	Category    string `json:"category" binding:"required"`
	SafetyStock int    `json:"safety_stock"`
	Notes       string `json:"notes"`
}

func (h *MaterialHandler) Create(c *gin.Context) {
	db := middleware.Session(c)

	var req createMaterialReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "缺少必填欄位：name, unit, category")
		return
	}
	if req.SafetyStock < 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "安全庫存不可為負數")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	itemID, err := generateNewItemID(db)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "新增物料失敗")
		return
	}
	barcode := "BC-00" + itemID

	var count int64
	if err := db.Model(&models.Material{}).
		Where("barcode = ?", barcode).
		Count(&count).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "新增物料失敗")
		return
	}
	if count > 0 {
		util.Error(c, http.StatusConflict, util.CodeConflict, "條碼已存在")
		return
	}

	material := models.Material{
		ItemID:       itemID,
		Name:         req.Name,
		Unit:         req.Unit,
		Category:     req.Category,
		SafetyStock:  req.SafetyStock,
		CurrentStock: 0,
		Notes:        req.Notes,
		Barcode:      &barcode,
	}
	if err := db.Create(&material).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "新增物料失敗")
		return
	}

	h.Log.Info("物料新增成功", zap.String("item_id", material.ItemID))
	util.SuccessWithStatus(c, http.StatusCreated, util.Response{
		"message": "物料新增成功",
		"item_id": material.ItemID,
		"barcode": barcode,
	})
}

// ---------- 查詢物料列表 ----------

func (h *MaterialHandler) List(c *gin.Context) {
	db := middleware.Session(c)

	query := db.Model(&models.Material{})
	category := c.Query("category")
	if category != "" && !strings.EqualFold(category, "all") {
		clean := strings.ToLower(strings.TrimSpace(category))
		query = query.Where("LOWER(TRIM(category)) = ?", clean)
	}

	var materials []models.Material
	if err := query.Order("item_id").Find(&materials).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "讀取物料資料失敗，請稍後再試。")
		return
	}

	items := make([]materialResp, 0, len(materials))
	for i := range materials {
		items = append(items, toMaterialResp(&materials[i]))
	}
	util.Success(c, util.Response{
		"materials": items,
	})
}

// ---------- 更新物料 ----------

type updateMaterialReq struct {
	Name        *string `json:"name"`
	Unit        *string `json:"unit"`
	Category    *string `json:"category"`
	SafetyStock *int    `json:"safety_stock"`
	Notes       *string `json:"notes"`
	Barcode     *string `json:"barcode"`
}

func (h *MaterialHandler) Update(c *gin.Context) {
	db := middleware.Session(c)
	itemID := c.Param("item_id")

	var material models.Material
	if err := db.Where("item_id = ?", itemID).First(&material).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "物料不存在")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查詢物料失敗")
		}
		return
	}

	var req updateMaterialReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "缺少更新資料")
		return
	}

	if req.Name != nil && *req.Name == "" {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "名稱不可為空")
		return
	}
	if req.Unit != nil && *req.Unit == "" {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "單位不可為空")
		return
	}
	if req.Category != nil && *req.Category == "" {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "分類不可為空")
		return
	}
	if req.SafetyStock != nil && *req.SafetyStock < 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "安全庫存不可為負數")
		return
	}

	if req.Barcode != nil {
		newBarcode := strings.TrimSpace(*req.Barcode)
		if newBarcode != "" {
			var existing int64
			if err := db.Model(&models.Material{}).
				Where("LOWER(TRIM(barcode)) = ? AND item_id <> ?", strings.ToLower(newBarcode), itemID).
				Count(&existing).Error; err != nil {
				util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "更新物料失敗")
				return
			}
			if existing > 0 {
				util.Error(c, http.StatusConflict, util.CodeConflict, "條碼已存在")
				return
			}
			material.Barcode = &newBarcode
		} else {
			material.Barcode = nil
		}
	}

	if req.Name != nil {
		material.Name = *req.Name
	}
	if req.Unit != nil {
		material.Unit = *req.Unit
	}
	if req.Category != nil {
		material.Category = *req.Category
	}
	if req.SafetyStock != nil {
		material.SafetyStock = *req.SafetyStock
	}
	if req.Notes != nil {
		material.Notes = *req.Notes
	}

	if err := db.Save(&material).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "更新物料失敗")
		return
	}

	h.Log.Info("物料更新成功", zap.String("item_id", itemID))
	util.Success(c, util.Response{
		"message": "物料更新成功",
	})
}

// ---------- 刪除物料 ----------

// Delete 刪除物料；出入庫紀錄由外鍵 CASCADE 一併刪除。
func (h *MaterialHandler) Delete(c *gin.Context) {
	db := middleware.Session(c)
	itemID := c.Param("item_id")

	var material models.Material
	if err := db.Where("item_id = ?", itemID).First(&material).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "物料不存在")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查詢物料失敗")
		}
		return
	}

	if err := db.Delete(&material).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "刪除物料失敗")
		return
	}

	h.Log.Info("物料刪除成功", zap.String("item_id", itemID))
	util.Success(c, util.Response{
		"message": "物料刪除成功",
	})
}

// ---------- 條碼查詢 ----------

func (h *MaterialHandler) GetByBarcode(c *gin.Context) {
	db := middleware.Session(c)
	barcode := strings.TrimSpace(c.Param("barcode"))

	var material models.Material
	if err := db.Where("LOWER(TRIM(barcode)) = ?", strings.ToLower(barcode)).
		First(&material).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			h.Log.Warn("找不到條碼", zap.String("barcode", barcode))
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "找不到對應的物料資料")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "查詢物料失敗")
		}
		return
	}

	resp := toMaterialResp(&material)
	util.Success(c, util.Response{
		"material": resp,
	})
}

// ---------- 儀表板統計 ----------

func (h *MaterialHandler) Summary(c *gin.Context) {
	db := middleware.Session(c)

	var total int64
	if err := db.Model(&models.Material{}).Count(&total).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "獲取統計數據失敗")
		return
	}

	var lowStock int64
	if err := db.Model(&models.Material{}).
		Where("current_stock < safety_stock AND safety_stock > 0").
		Count(&lowStock).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "獲取統計數據失敗")
		return
	}

	util.Success(c, util.Response{
		"total":    total,
		"lowStock": lowStock,
	})
}
