package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"parking-sensor-service/internal/http/middleware"
	"parking-sensor-service/internal/repository"
)

const exportSheet = "Events"

// exportEvents streams the filtered event history as an xlsx
// workbook. Same filters as the JSON listing.
func (h *Handler) exportEvents(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	filter, err := h.eventFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if filter.Limit == 0 {
		filter.Limit = 5000
	}

	events, err := h.management.FindEvents(c.Request.Context(), principal, filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	workbook, err := buildEventsWorkbook(events)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to build events workbook")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	defer workbook.Close()

	filename := fmt.Sprintf("parking-events-%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")

	if _, err := workbook.WriteTo(c.Writer); err != nil {
		h.log.Error().Err(err).Msg("failed to write events workbook")
	}
}

func buildEventsWorkbook(events []repository.ParkingEvent) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}

	headers := []string{
		"Detected At", "Lot ID", "Spot", "Event Type",
		"Left (cm)", "Center (cm)", "Right (cm)",
		"Parking Status", "Quality Score", "Warnings",
	}
	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			return nil, err
		}
	}

	for row, event := range events {
		status, score, warnings := summarizeSensorData(event.SensorData)
		values := []interface{}{
			event.DetectedAt.Format(time.RFC3339),
			event.LotID.String(),
			event.SpotNumber,
			event.EventType,
			event.LeftDistance,
			event.CenterDistance,
			event.RightDistance,
			status,
			score,
			warnings,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(exportSheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	return f, nil
}

func summarizeSensorData(raw []byte) (status string, score float64, warnings string) {
	var data struct {
		ParkingStatus string `json:"parking_status"`
		Analysis      struct {
			QualityScore float64  `json:"quality_score"`
			Warnings     []string `json:"warnings"`
		} `json:"analysis"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", 0, ""
	}
	status = data.ParkingStatus
	score = data.Analysis.QualityScore
	for i, w := range data.Analysis.Warnings {
		if i > 0 {
			warnings += "; "
		}
		warnings += w
	}
	return status, score, warnings
}
