package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"SRL-GEN/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const xlsxMimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type NumberHandler struct {
	numbering *services.NumberingService
	log       *zap.Logger
	now       func() time.Time
}

func NewNumberHandler(numbering *services.NumberingService, log *zap.Logger) *NumberHandler {
	return &NumberHandler{numbering: numbering, log: log, now: time.Now}
}

type UpdateNumberRequest struct {
	LetterNumber string `json:"letter_number" binding:"required"`
}

// Commit assigns the next number of the current month, or returns the one
// the application already holds.
func (h *NumberHandler) Commit(c *gin.Context) {
	result, err := h.numbering.GenerateNumber(c.Request.Context(), c.Param("applicationId"), c.Query("type"), h.now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, numberResponse(result))
}

func (h *NumberHandler) Update(c *gin.Context) {
	var req UpdateNumberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "letter_number is required"})
		return
	}

	result, err := h.numbering.UpdateLetterNumber(c.Request.Context(), c.Param("applicationId"), req.LetterNumber)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, numberResponse(result))
}

func (h *NumberHandler) Preview(c *gin.Context) {
	now := h.now()
	year, err := intQuery(c, "year", now.Year())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	month, err := intQuery(c, "month", int(now.Month()))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	result, err := h.numbering.PreviewNextNumber(c.Request.Context(), c.Query("type"), year, month)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"letter_number": result.Number, "sequence": result.Sequence, "year": year, "month": month})
}

func (h *NumberHandler) Validate(c *gin.Context) {
	number := strings.TrimSpace(c.Query("number"))
	parsed, err := h.numbering.ParseNumber(number)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"letter_number": number, "valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"letter_number": number,
		"valid":         true,
		"sequence":      parsed.Sequence,
		"month":         parsed.Month,
		"year":          parsed.Year,
	})
}

func (h *NumberHandler) Check(c *gin.Context) {
	number := strings.TrimSpace(c.Query("number"))
	if number == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "number is required"})
		return
	}
	inUse, err := h.numbering.IsInUse(c.Request.Context(), number, c.Query("exclude"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"letter_number": number, "in_use": inUse})
}

func (h *NumberHandler) Summary(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "year must be a number"})
		return
	}

	summary, err := h.numbering.YearSummary(c.Request.Context(), c.Query("type"), year)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	if strings.EqualFold(c.Query("format"), "xlsx") {
		data, err := services.ExportYearSummary(summary)
		if err != nil {
			respondError(c, h.log, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="ringkasan_surat_%d.xlsx"`, year))
		c.Data(http.StatusOK, xlsxMimeType, data)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func numberResponse(result *services.NumberResult) gin.H {
	response := gin.H{"letter_number": result.Number, "sequence": result.Sequence}
	if result.Verification != nil {
		response["verification_code"] = result.Verification.Code
	}
	return response
}

func intQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &services.ValidationError{Field: name, Message: "must be a number"}
	}
	return value, nil
}
