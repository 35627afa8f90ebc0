package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"SRL-GEN/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LetterHandler struct {
	generation *services.GenerationService
	letters    *services.LetterService
	log        *zap.Logger
}

func NewLetterHandler(generation *services.GenerationService, letters *services.LetterService, log *zap.Logger) *LetterHandler {
	return &LetterHandler{generation: generation, letters: letters, log: log}
}

type GenerateRequest struct {
	TemplateID   string         `json:"template_id"`
	Form         map[string]any `json:"form"`
	LetterNumber string         `json:"letter_number"`
	AssignNumber bool           `json:"assign_number"`
	Signature    string         `json:"signature"`
	Stamp        string         `json:"stamp"`
	Format       string         `json:"format"`
	KeepLogID    string         `json:"keep_log_id"`
}

func (h *LetterHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	result, err := h.generation.Generate(c.Request.Context(), services.GenerationRequest{
		ApplicationID: c.Param("applicationId"),
		TemplateID:    req.TemplateID,
		Form:          req.Form,
		LetterNumber:  req.LetterNumber,
		AssignNumber:  req.AssignNumber,
		Signature:     req.Signature,
		Stamp:         req.Stamp,
		Format:        req.Format,
		KeepLogID:     req.KeepLogID,
	})
	if err != nil {
		if result != nil && result.Log != nil {
			c.Header("X-Generation-Id", result.Log.ID)
		}
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"generation_id":     result.Log.ID,
		"status":            result.Log.Status,
		"format":            result.Log.Format,
		"file_size":         result.Log.FileSize,
		"duration_ms":       result.Log.DurationMs,
		"letter_number":     result.LetterNumber,
		"verification_code": result.VerificationCode,
		"verification_url":  result.VerificationURL,
		"message":           "Letter generated successfully",
	})
}

func (h *LetterHandler) Download(c *gin.Context) {
	artifact, err := h.generation.Open(c.Request.Context(), c.Param("applicationId"), c.DefaultQuery("format", "docx"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.DataFromReader(http.StatusOK, artifact.Size, artifact.ContentType, artifact.Body, map[string]string{
		"Content-Description":       "File Transfer",
		"Content-Transfer-Encoding": "binary",
		"Content-Disposition":       fmt.Sprintf(`attachment; filename="%s"`, artifact.Filename),
	})
	if err := artifact.Body.Close(); err != nil {
		h.log.Warn("Failed to close letter file", zap.Error(err))
	}
}

func (h *LetterHandler) Publish(c *gin.Context) {
	letter, err := h.letters.Publish(c.Request.Context(), c.Param("applicationId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, letter)
}

func (h *LetterHandler) Complete(c *gin.Context) {
	letter, err := h.letters.Complete(c.Request.Context(), c.Param("applicationId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, letter)
}

func (h *LetterHandler) Get(c *gin.Context) {
	letter, err := h.letters.Get(c.Request.Context(), c.Param("applicationId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, letter)
}

// Logs lists generation attempts of one application, newest first.
func (h *LetterHandler) Logs(c *gin.Context) {
	applicationID := c.Param("applicationId")
	logs, err := h.generation.Logs(c.Request.Context(), applicationID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	response := gin.H{"application_id": applicationID, "logs": logs, "total": len(logs)}
	if latest, err := h.generation.Latest(c.Request.Context(), applicationID); err == nil {
		response["latest_id"] = latest.ID
	} else if !errors.Is(err, services.ErrNotFound) {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response)
}
