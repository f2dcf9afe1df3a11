package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"everactive/internal/model"
	"everactive/internal/service"
)

// ManagerHandler serves the operator dashboard projections
type ManagerHandler struct {
	userData *service.UserDataService
}

// NewManagerHandler creates a new manager handler
func NewManagerHandler(userData *service.UserDataService) *ManagerHandler {
	return &ManagerHandler{userData: userData}
}

// GetUserData returns the per-user dashboard projection
// @Summary All user data
// @Description Per user: live state snapshot, latest rule statuses, group membership
// @Tags Manager
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.UserDataResponse
// @Failure 403 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /manager/user-data [get]
func (h *ManagerHandler) GetUserData(c *gin.Context) {
	users, err := h.userData.GetAllUserData(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.UserDataResponse{Users: users})
}

// ListRuleEvents returns a page of the rule transition audit log
// @Summary Rule event log
// @Tags Manager
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Limit" default(100)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} map[string]interface{}
// @Router /manager/rule-events [get]
func (h *ManagerHandler) ListRuleEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, total, err := h.userData.ListRuleEvents(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  events,
		"total": total,
	})
}

// ExportRuleEvents downloads the rule transition audit log as an xlsx sheet
// @Summary Export rule events
// @Tags Manager
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Success 200 {file} binary
// @Router /manager/rule-events/export [get]
func (h *ManagerHandler) ExportRuleEvents(c *gin.Context) {
	events, _, err := h.userData.ListRuleEvents(c.Request.Context(), 1000, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := "RuleEvents"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"ID", "Rule ID", "User ID", "Timestamp", "Violated"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, header)
	}

	for i, ev := range events {
		row := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), ev.ID)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), ev.RuleID)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), ev.UserID)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), ev.Timestamp.Format(time.RFC3339))
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), ev.IsFailed)
	}

	filename := fmt.Sprintf("rule-events-%s.xlsx", time.Now().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")

	if err := f.Write(c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
