package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/FSVS-ISD/materials-management/internal/config"
	"github.com/FSVS-ISD/materials-management/internal/middleware"
	"github.com/FSVS-ISD/materials-management/internal/models"
	"github.com/FSVS-ISD/materials-management/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReportHandler 負責報表預覽（PDF）與匯出（Excel）。
type ReportHandler struct {
	Cfg config.ReportConfig
	Log *zap.Logger
}

func NewReportHandler(cfg config.ReportConfig, log *zap.Logger) *ReportHandler {
	return &ReportHandler{Cfg: cfg, Log: log}
}

var reportTypeNames = map[string]string{
	"stock_summary":   "庫存摘要報表",
	"in_records":      "入庫明細查詢",
	"out_records":     "出庫明細查詢",
	"low_stock_alert": "低庫存警示報表",
}

type reportParams struct {
	ReportType string
	QueryMode  string
	Category   string
	ItemID     string
	SchoolDept string
	Start      time.Time
	End        time.Time
	Year       int
	Month      time.Month
}

func (h *ReportHandler) parseParams(c *gin.Context) (reportParams, error) {
	p := reportParams{
		ReportType: c.DefaultQuery("report_type", "stock_summary"),
		QueryMode:  c.DefaultQuery("query_mode", "daterange"),
		Category:   c.Query("category"),
		ItemID:     c.Query("item_id"),
		SchoolDept: c.DefaultQuery("school_dept", h.Cfg.SchoolDept),
	}

	if _, ok := reportTypeNames[p.ReportType]; !ok {
		return p, fmt.Errorf("未知的報表類型: %s", p.ReportType)
	}

	// 低庫存警示報表不需要查詢期間
	if p.ReportType == "low_stock_alert" {
		return p, nil
	}

	if p.QueryMode == "month" {
		yearStr := c.Query("year")
		monthStr := c.Query("month")
		if yearStr == "" || monthStr == "" {
			return p, fmt.Errorf("在月份模式下，必須提供年份與月份。")
		}
		t, err := time.Parse("2006-1", yearStr+"-"+monthStr)
		if err != nil {
			return p, fmt.Errorf("年份或月份格式錯誤")
		}
		p.Year, p.Month = t.Year(), t.Month()
		p.Start = time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
		p.End = p.Start.AddDate(0, 1, 0).Add(-time.Second)
	} else {
		startStr := c.Query("start_date")
		endStr := c.Query("end_date")
		if startStr == "" || endStr == "" {
			return p, fmt.Errorf("在日期範圍模式下，必須提供開始與結束日期。")
		}
		start, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return p, fmt.Errorf("開始日期格式錯誤，應為 YYYY-MM-DD")
		}
		end, err := time.Parse("2006-01-02", endStr)
		if err != nil {
			return p, fmt.Errorf("結束日期格式錯誤，應為 YYYY-MM-DD")
		}
		p.Start = start
		p.End = end.Add(24*time.Hour - time.Second)
		p.Year, p.Month = p.End.Year(), p.End.Month()
	}

	return p, nil
}

func (p reportParams) title() string {
	name := reportTypeNames[p.ReportType]
	if p.ReportType == "low_stock_alert" {
		return fmt.Sprintf("%s  %s", p.SchoolDept, name)
	}
	var period string
	if p.QueryMode == "month" {
		period = fmt.Sprintf("%d年%d月", p.Year, int(p.Month))
	} else {
		period = fmt.Sprintf("%s - %s", p.Start.Format("2006/01/02"), p.End.Format("2006/01/02"))
	}
	return fmt.Sprintf("%s  %s  （查詢期間：%s）", p.SchoolDept, name, period)
}

// ---------- 報表資料查詢 ----------

// stockAtDate 計算某物料在指定日期之前的庫存（期初庫存）。
func stockAtDate(db *gorm.DB, materialID uint, before time.Time) (int, error) {
	var totalIn, totalOut int
	if err := db.Model(&models.InRecord{}).
		Where("material_id = ? AND date < ?", materialID, before).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&totalIn).Error; err != nil {
		return 0, err
	}
	if err := db.Model(&models.OutRecord{}).
		Where("material_id = ? AND date < ?", materialID, before).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&totalOut).Error; err != nil {
		return 0, err
	}
	return totalIn - totalOut, nil
}

// monthlyIO 計算某物料在指定月份內的入庫與出庫總量。
func monthlyIO(db *gorm.DB, materialID uint, year int, month time.Month) (in, out int, err error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	if err = db.Model(&models.InRecord{}).
		Where("material_id = ? AND date >= ? AND date < ?", materialID, start, end).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&in).Error; err != nil {
		return 0, 0, err
	}
	if err = db.Model(&models.OutRecord{}).
		Where("material_id = ? AND date >= ? AND date < ?", materialID, start, end).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&out).Error; err != nil {
		return 0, 0, err
	}
	return in, out, nil
}

func applyMaterialFilter(query *gorm.DB, p reportParams) *gorm.DB {
	if p.Category != "" && p.Category != "all" {
		query = query.Where("category = ?", p.Category)
	}
	if p.ItemID != "" && p.ItemID != "all" {
		query = query.Where("item_id = ?", p.ItemID)
	}
	return query
}

type stockSummaryRow struct {
	ItemID      string
	Category    string
	Name        string
	Unit        string
	PrevStock   int
	MonthlyIn   int
	MonthlyOut  int
	EndStock    int
	SafetyStock int
	Notes       string
	LowStock    bool
}

func buildStockSummary(db *gorm.DB, p reportParams) ([]stockSummaryRow, error) {
	var materials []models.Material
	if err := applyMaterialFilter(db.Model(&models.Material{}), p).
		Order("item_id").Find(&materials).Error; err != nil {
		return nil, err
	}

	startOfMonth := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]stockSummaryRow, 0, len(materials))
	for i := range materials {
		m := &materials[i]
		prev, err := stockAtDate(db, m.ID, startOfMonth)
		if err != nil {
			return nil, err
		}
		in, out, err := monthlyIO(db, m.ID, p.Year, p.Month)
		if err != nil {
			return nil, err
		}
		endStock := prev + in - out

		notes := m.Notes
		lowStock := m.SafetyStock > 0 && endStock <= m.SafetyStock
		if lowStock {
			if notes == "" {
				notes = "低庫存"
			} else {
				notes = "低庫存; " + notes
			}
		}

		rows = append(rows, stockSummaryRow{
			ItemID:      m.ItemID,
			Category:    m.Category,
			Name:        m.Name,
			Unit:        m.Unit,
			PrevStock:   prev,
			MonthlyIn:   in,
			MonthlyOut:  out,
			EndStock:    endStock,
			SafetyStock: m.SafetyStock,
			Notes:       notes,
			LowStock:    lowStock,
		})
	}
	return rows, nil
}

type recordReportRow struct {
	Date     string
	ItemID   string
	Name     string
	Category string
	Quantity int
	ColSix   string // 來源（入庫）/部門（出庫）
	ColSeven string // 經手人（入庫）/用途（出庫)
}

func buildRecordReport(db *gorm.DB, p reportParams) ([]recordReportRow, error) {
	isIn := p.ReportType == "in_records"
	table := "out_record"
	if isIn {
		table = "in_record"
	}

	type rawRow struct {
		Date       time.Time
		ItemID     string
		Name       string
		Category   string
		Quantity   int
		Source     string
		Handler    string
		Department string
		Purpose    string
	}

	extraCols := table + ".department, " + table + ".purpose"
	if isIn {
		extraCols = table + ".source, " + table + ".handler"
	}
	query := db.Table(table).
		Select(table+".date, "+table+".quantity, "+extraCols+", "+
			"materials.item_id, materials.name, materials.category").
		Joins("JOIN materials ON materials.id = " + table + ".material_id").
		Where(table+".date >= ? AND "+table+".date <= ?", p.Start, p.End)
	if p.Category != "" && p.Category != "all" {
		query = query.Where("materials.category = ?", p.Category)
	}
	if p.ItemID != "" && p.ItemID != "all" {
		query = query.Where("materials.item_id = ?", p.ItemID)
	}

	var raw []rawRow
	if err := query.Order(table + ".date DESC").Scan(&raw).Error; err != nil {
		return nil, err
	}

	rows := make([]recordReportRow, 0, len(raw))
	for _, r := range raw {
		row := recordReportRow{
			Date:     r.Date.Format("2006-01-02"),
			ItemID:   r.ItemID,
			Name:     r.Name,
			Category: r.Category,
			Quantity: r.Quantity,
		}
		if isIn {
			row.ColSix, row.ColSeven = r.Source, r.Handler
		} else {
			row.ColSix, row.ColSeven = r.Department, r.Purpose
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func buildLowStockAlert(db *gorm.DB, p reportParams) ([]models.Material, error) {
	var materials []models.Material
	query := db.Model(&models.Material{}).
		Where("safety_stock > 0 AND current_stock <= safety_stock")
	if err := applyMaterialFilter(query, p).
		Order("item_id").Find(&materials).Error; err != nil {
		return nil, err
	}
	return materials, nil
}

// ---------- PDF 預覽 ----------

// PreviewPDF 產生報表 PDF，直接輸出於瀏覽器預覽。
func (h *ReportHandler) PreviewPDF(c *gin.Context) {
	db := middleware.Session(c)

	p, err := h.parseParams(c)
	if err != nil {
		h.Log.Error("PDF 報表參數錯誤", zap.Error(err))
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	fontName := "Arial"
	if h.Cfg.FontPath != "" {
		if _, statErr := os.Stat(h.Cfg.FontPath); statErr == nil {
			pdf.AddUTF8Font("ChineseFont", "", h.Cfg.FontPath)
			fontName = "ChineseFont"
		} else {
			h.Log.Error("找不到字型檔，PDF 報表中的中文可能無法正常顯示",
				zap.String("font_path", h.Cfg.FontPath))
		}
	}

	pdf.AddPage()
	pdf.SetFont(fontName, "", 14)
	pdf.CellFormat(0, 10, p.title(), "", 1, "C", false, 0, "")
	pdf.Ln(4)
	pdf.SetFont(fontName, "", 9)

	switch p.ReportType {
	case "stock_summary":
		err = h.pdfStockSummary(pdf, db, p)
	case "in_records", "out_records":
		err = h.pdfRecordReport(pdf, db, p)
	case "low_stock_alert":
		err = h.pdfLowStockAlert(pdf, db, p)
	}
	if err != nil {
		h.Log.Error("產生 PDF 報表失敗", zap.Error(err))
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "產生報表失敗")
		return
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		h.Log.Error("輸出 PDF 失敗", zap.Error(err))
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "產生報表失敗")
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=\"%s_preview.pdf\"", p.ReportType))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

func pdfTableHeader(pdf *fpdf.Fpdf, headers []string, widths []float64) {
	pdf.SetFillColor(217, 217, 217)
	for i, htext := range headers {
		pdf.CellFormat(widths[i], 8, htext, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
}

func (h *ReportHandler) pdfStockSummary(pdf *fpdf.Fpdf, db *gorm.DB, p reportParams) error {
	rows, err := buildStockSummary(db, p)
	if err != nil {
		return err
	}

	headers := []string{"物料編號", "分類", "名稱", "單位", "上月庫存", "本月入庫", "本月出庫", "實際庫存", "安全庫存", "備註/存放點"}
	widths := []float64{24, 28, 52, 14, 24, 24, 24, 24, 24, 32}
	pdfTableHeader(pdf, headers, widths)

	for _, r := range rows {
		pdf.CellFormat(widths[0], 7, r.ItemID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, r.Category, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 7, r.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 7, r.Unit, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[4], 7, fmt.Sprint(r.PrevStock), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[5], 7, fmt.Sprint(r.MonthlyIn), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[6], 7, fmt.Sprint(r.MonthlyOut), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[7], 7, fmt.Sprint(r.EndStock), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[8], 7, fmt.Sprint(r.SafetyStock), "1", 0, "R", false, 0, "")
		if r.LowStock {
			pdf.SetTextColor(255, 0, 0)
		}
		pdf.CellFormat(widths[9], 7, r.Notes, "1", 0, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(-1)
	}

	// 簽核欄
	pdf.Ln(16)
	footer := []string{"製表人:", "科主任:", "實習組長:", "實習主任:",
		"製表日期: " + time.Now().Format("2006-01-02")}
	for _, cell := range footer {
		pdf.CellFormat(54, 8, cell, "", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)
	return nil
}

func (h *ReportHandler) pdfRecordReport(pdf *fpdf.Fpdf, db *gorm.DB, p reportParams) error {
	rows, err := buildRecordReport(db, p)
	if err != nil {
		return err
	}

	headers := []string{"日期", "物料編號", "名稱", "分類", "數量", "來源/部門", "經手人/用途"}
	widths := []float64{30, 28, 70, 40, 24, 40, 40}
	pdfTableHeader(pdf, headers, widths)

	for _, r := range rows {
		pdf.CellFormat(widths[0], 7, r.Date, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, r.ItemID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 7, r.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 7, r.Category, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[4], 7, fmt.Sprint(r.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[5], 7, r.ColSix, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[6], 7, r.ColSeven, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}
	return nil
}

func (h *ReportHandler) pdfLowStockAlert(pdf *fpdf.Fpdf, db *gorm.DB, p reportParams) error {
	materials, err := buildLowStockAlert(db, p)
	if err != nil {
		return err
	}

	headers := []string{"物料編號", "分類", "名稱", "單位", "安全庫存", "目前庫存", "庫存差距"}
	widths := []float64{30, 36, 70, 20, 30, 30, 30}
	pdfTableHeader(pdf, headers, widths)

	for i := range materials {
		m := &materials[i]
		gap := m.SafetyStock - m.CurrentStock
		pdf.CellFormat(widths[0], 7, m.ItemID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, m.Category, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 7, m.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 7, m.Unit, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[4], 7, fmt.Sprint(m.SafetyStock), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[5], 7, fmt.Sprint(m.CurrentStock), "1", 0, "R", false, 0, "")
		pdf.SetTextColor(255, 0, 0)
		pdf.CellFormat(widths[6], 7, fmt.Sprint(gap), "1", 0, "R", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(-1)
	}
	return nil
}

// ---------- Excel 匯出 ----------

// ExportExcel 匯出報表為 XLSX 附件下載。
func (h *ReportHandler) ExportExcel(c *gin.Context) {
	db := middleware.Session(c)

	p, err := h.parseParams(c)
	if err != nil {
		h.Log.Error("Excel 報表參數錯誤", zap.Error(err))
		util.Error(c, http.StatusBadRequest, util.CodeInvalidParam, err.Error())
		return
	}

	f := excelize.NewFile()
	sheet := reportTypeNames[p.ReportType]
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"D9D9D9"}, Pattern: 1},
	})
	redStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "FF0000"},
	})

	f.SetCellValue(sheet, "A1", p.title())

	switch p.ReportType {
	case "stock_summary":
		err = h.excelStockSummary(f, sheet, headerStyle, redStyle, db, p)
	case "in_records", "out_records":
		err = h.excelRecordReport(f, sheet, headerStyle, db, p)
	case "low_stock_alert":
		err = h.excelLowStockAlert(f, sheet, headerStyle, redStyle, db, p)
	}
	if err != nil {
		h.Log.Error("產生 Excel 報表失敗", zap.Error(err))
		util.Error(c, http.StatusInternalServerError, util.CodeServerErr, "產生報表失敗")
		return
	}

	filename := fmt.Sprintf("%s_report_%s.xlsx", p.ReportType, time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))

	if err := f.Write(c.Writer); err != nil {
		h.Log.Error("匯出 Excel 失敗", zap.Error(err))
	}
}

func setHeaderRow(f *excelize.File, sheet string, row int, headers []string, style int) {
	for i, htext := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		f.SetCellValue(sheet, cell, htext)
		f.SetCellStyle(sheet, cell, cell, style)
	}
}

func (h *ReportHandler) excelStockSummary(f *excelize.File, sheet string, headerStyle, redStyle int, db *gorm.DB, p reportParams) error {
	rows, err := buildStockSummary(db, p)
	if err != nil {
		return err
	}

	headers := []string{"物料編號", "分類", "名稱", "單位", "上月庫存", "本月入庫", "本月出庫", "實際庫存", "安全庫存", "備註/存放點"}
	setHeaderRow(f, sheet, 3, headers, headerStyle)

	for i, r := range rows {
		rowIdx := i + 4
		values := []interface{}{r.ItemID, r.Category, r.Name, r.Unit,
			r.PrevStock, r.MonthlyIn, r.MonthlyOut, r.EndStock, r.SafetyStock, r.Notes}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx)
			f.SetCellValue(sheet, cell, v)
		}
		if r.LowStock {
			cell, _ := excelize.CoordinatesToCellName(10, rowIdx)
			f.SetCellStyle(sheet, cell, cell, redStyle)
		}
	}

	// 簽核欄
	footerRow := len(rows) + 7
	f.SetCellValue(sheet, fmt.Sprintf("A%d", footerRow), "製表人:")
	f.SetCellValue(sheet, fmt.Sprintf("C%d", footerRow), "科主任:")
	f.SetCellValue(sheet, fmt.Sprintf("E%d", footerRow), "實習組長:")
	f.SetCellValue(sheet, fmt.Sprintf("G%d", footerRow), "實習主任:")
	f.SetCellValue(sheet, fmt.Sprintf("A%d", footerRow+2),
		"製表日期: "+time.Now().Format("2006-01-02"))

	f.SetColWidth(sheet, "A", "A", 12)
	f.SetColWidth(sheet, "B", "B", 14)
	f.SetColWidth(sheet, "C", "C", 26)
	f.SetColWidth(sheet, "D", "J", 12)
	return nil
}

func (h *ReportHandler) excelRecordReport(f *excelize.File, sheet string, headerStyle int, db *gorm.DB, p reportParams) error {
	rows, err := buildRecordReport(db, p)
	if err != nil {
		return err
	}

	headers := []string{"日期", "物料編號", "名稱", "分類", "數量", "來源/部門", "經手人/用途"}
	setHeaderRow(f, sheet, 3, headers, headerStyle)

	for i, r := range rows {
		rowIdx := i + 4
		values := []interface{}{r.Date, r.ItemID, r.Name, r.Category, r.Quantity, r.ColSix, r.ColSeven}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx)
			f.SetCellValue(sheet, cell, v)
		}
	}

	f.SetColWidth(sheet, "A", "B", 14)
	f.SetColWidth(sheet, "C", "C", 26)
	f.SetColWidth(sheet, "D", "G", 14)
	return nil
}

func (h *ReportHandler) excelLowStockAlert(f *excelize.File, sheet string, headerStyle, redStyle int, db *gorm.DB, p reportParams) error {
	materials, err := buildLowStockAlert(db, p)
	if err != nil {
		return err
	}

	headers := []string{"物料編號", "分類", "名稱", "單位", "安全庫存", "目前庫存", "庫存差距"}
	setHeaderRow(f, sheet, 3, headers, headerStyle)

	for i := range materials {
		m := &materials[i]
		rowIdx := i + 4
		values := []interface{}{m.ItemID, m.Category, m.Name, m.Unit,
			m.SafetyStock, m.CurrentStock, m.SafetyStock - m.CurrentStock}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx)
			f.SetCellValue(sheet, cell, v)
		}
		gapCell, _ := excelize.CoordinatesToCellName(7, rowIdx)
		f.SetCellStyle(sheet, gapCell, gapCell, redStyle)
	}

	f.SetColWidth(sheet, "A", "B", 14)
	f.SetColWidth(sheet, "C", "C", 26)
	f.SetColWidth(sheet, "D", "G", 12)
	return nil
}
