package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/FSVS-ISD/materials-management/internal/middleware"
	"github.com/FSVS-ISD/materials-management/internal/models"
	"github.com/FSVS-ISD/materials-management/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CategoryHandler 負責分類相關接口
type CategoryHandler struct {
	mu  sync.Mutex
	Log *zap.Logger
}

func NewCategoryHandler(log *zap.Logger) *CategoryHandler {
	return &CategoryHandler{Log: log}
}

type categoryReq struct {
	Name string `json:"name" binding:"required"`
}

func (h *CategoryHandler) List(c *gin.Context) {
	db := middleware.Session(c)

	var categories []models.Category
	if err := db.Order("name").Find(&categories).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "讀取分類資料失敗")
		return
	}

	items := make([]gin.H, 0, len(categories))
	for _, cat := range categories {
		items = append(items, gin.H{"id": cat.ID, "name": cat.Name})
	}
	util.Success(c, util.Response{
		"categories": items,
	})
}

func (h *CategoryHandler) Create(c *gin.Context) {
	db := middleware.Session(c)

	var req categoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "分類名稱必填")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "分類名稱不可為空白")
		return
	}
	if err := util.ValidateCategoryName(name); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "分類名稱過長")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var existing int64
	if err := db.Model(&models.Category{}).
		Where("LOWER(TRIM(name)) = ?", strings.ToLower(name)).
		Count(&existing).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "新增分類失敗")
		return
	}
	if existing > 0 {
		util.Error(c, http.StatusConflict, util.CodeConflict, "分類名稱已存在")
		return
	}

	category := models.Category{Name: name}
	if err := db.Create(&category).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "新增分類失敗")
		return
	}

	h.Log.Info("分類新增成功", zap.String("name", name))
	util.SuccessWithStatus(c, http.StatusCreated, util.Response{
		"message": "分類新增成功",
		"id":      category.ID,
	})
}

func (h *CategoryHandler) Update(c *gin.Context) {
	db := middleware.Session(c)

	catID, err := strconv.Atoi(c.Param("id"))
	if err != nil || catID <= 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "ID 不合法")
		return
	}

	var req categoryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "分類名稱必填")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "分類名稱不可為空白")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var category models.Category
	if err := db.First(&category, catID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "找不到該分類")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "更新分類失敗")
		}
		return
	}

	var existing int64
	if err := db.Model(&models.Category{}).
		Where("LOWER(TRIM(name)) = ? AND id <> ?", strings.ToLower(name), catID).
		Count(&existing).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "更新分類失敗")
		return
	}
	if existing > 0 {
		util.Error(c, http.StatusConflict, util.CodeConflict, "分類名稱已存在")
		return
	}

	if err := db.Model(&category).Update("name", name).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "更新分類失敗")
		return
	}

	h.Log.Info("分類更新成功", zap.Int("id", catID), zap.String("name", name))
	util.Success(c, util.Response{
		"message": "分類更新成功",
	})
}

// Delete 刪除分類。仍有物料使用該分類時（忽略大小寫與空白）拒絕刪除，
// 分類與物料都保持原狀。
func (h *CategoryHandler) Delete(c *gin.Context) {
	db := middleware.Session(c)

	catID, err := strconv.Atoi(c.Param("id"))
	if err != nil || catID <= 0 {
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, "ID 不合法")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var category models.Category
	if err := db.First(&category, catID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			util.Error(c, http.StatusNotFound, util.CodeNotFound, "找不到該分類")
		} else {
			util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "刪除分類失敗")
		}
		return
	}

	inUse, err := categoryInUse(db, category.Name)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "刪除分類失敗")
		return
	}
	if inUse {
		util.Error(c, http.StatusBadRequest, util.CodeConflict, "該分類內有物料，無法刪除")
		return
	}

	if err := db.Delete(&category).Error; err != nil {
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "刪除分類失敗")
		return
	}

	h.Log.Info("分類刪除成功", zap.Int("id", catID))
	util.Success(c, util.Response{
		"message": "分類刪除成功",
	})
}

// categoryInUse 檢查是否有物料使用此分類（忽略大小寫與空白）。
func categoryInUse(db *gorm.DB, name string) (bool, error) {
	clean := strings.ToLower(strings.TrimSpace(name))
	var count int64
	err := db.Model(&models.Material{}).
		Where("LOWER(TRIM(category)) = ?", clean).
		Count(&count).Error
	return count > 0, err
}
