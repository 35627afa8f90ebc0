package handlers

import (
	"errors"
	"net/http"

	"SRL-GEN/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type VerifyHandler struct {
	verification *services.VerificationService
	log          *zap.Logger
}

func NewVerifyHandler(verification *services.VerificationService, log *zap.Logger) *VerifyHandler {
	return &VerifyHandler{verification: verification, log: log}
}

// Verify is the public endpoint behind the QR code.
func (h *VerifyHandler) Verify(c *gin.Context) {
	result, err := h.verification.Resolve(c.Request.Context(), c.Param("code"))
	if errors.Is(err, services.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"valid": false, "error": "Verification code not found"})
		return
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Get shows the verification record of an application with the URL its QR
// code points at. It does not count as a verification.
func (h *VerifyHandler) Get(c *gin.Context) {
	record, err := h.verification.Get(c.Request.Context(), c.Param("applicationId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"verification":     record,
		"verification_url": h.verification.VerificationURL(record.Code),
	})
}
