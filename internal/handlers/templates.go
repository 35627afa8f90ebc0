package handlers

import (
	"net/http"
	"path/filepath"
	"strings"

	"SRL-GEN/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TemplateHandler struct {
	templates *services.TemplateService
	log       *zap.Logger
}

func NewTemplateHandler(templates *services.TemplateService, log *zap.Logger) *TemplateHandler {
	return &TemplateHandler{templates: templates, log: log}
}

type PlaceholderResponse struct {
	TemplateID   string   `json:"template_id"`
	Placeholders []string `json:"placeholders"`
}

// Upload stores a repaired copy of the uploaded template.
func (h *TemplateHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("template")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".docx") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only .docx files are supported"})
		return
	}

	info, err := h.templates.Upload(c.Request.Context(), c.PostForm("template_id"), file)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"template_id":  info.ID,
		"size":         info.Size,
		"placeholders": info.Placeholders,
		"repaired":     info.Repaired,
		"message":      "Template uploaded successfully",
	})
}

func (h *TemplateHandler) Placeholders(c *gin.Context) {
	templateID := c.Param("templateId")
	placeholders, err := h.templates.Placeholders(c.Request.Context(), templateID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, PlaceholderResponse{TemplateID: templateID, Placeholders: placeholders})
}

func (h *TemplateHandler) Delete(c *gin.Context) {
	if err := h.templates.Delete(c.Request.Context(), c.Param("templateId")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
