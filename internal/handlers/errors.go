package handlers

import (
	"errors"
	"net/http"

	"SRL-GEN/internal/processor"
	"SRL-GEN/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError maps service errors onto status codes. Anything unrecognised
// is logged and reported as a 500 without its details.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	var (
		validation  *services.ValidationError
		validations services.ValidationErrors
		conflict    *services.ConflictError
		template    *processor.TemplateError
	)

	switch {
	case errors.As(err, &validations):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields", "fields": validations})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.Is(err, services.ErrArtifactMissing):
		c.JSON(http.StatusNotFound, gin.H{"error": "Generated letter file is missing", "regenerate": true})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error(), "letter_number": conflict.Number})
	case errors.Is(err, services.ErrSequenceExhausted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &template):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Template contains invalid placeholders", "issues": template.Issues})
	case errors.Is(err, services.ErrExternalToolUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "PDF conversion is not available"})
	case errors.Is(err, services.ErrConversionTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "PDF conversion timed out"})
	default:
		log.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
